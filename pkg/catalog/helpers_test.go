package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"rawdat/pkg/archive"
	"rawdat/pkg/core"
	"rawdat/pkg/sample"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// setupTestRepo 构建隔离的测试环境
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	catalogDB := NewWithConn(db)
	require.NoError(t, catalogDB.AutoMigrate(Models()...))
	return NewRepository(catalogDB)
}

// mustArchive 写入一个归档并以读模式打开
func mustArchive(t *testing.T, objects map[string]core.Object, order ...string) *archive.Archive {
	t.Helper()
	name := filepath.Join(t.TempDir(), "catalog.rawdat")
	w, err := archive.Create(name)
	require.NoError(t, err)
	for _, p := range order {
		require.NoError(t, w.AddObject(objects[p], p))
	}
	require.NoError(t, w.Finalize())

	a, err := archive.Open(name, archive.WithRegistry(sample.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// mustIndex 强制索引，失败则终止
func mustIndex(t *testing.T, repo *Repository, name string, a *archive.Archive, msgAndArgs ...any) *ArchiveModel {
	t.Helper()
	m, err := repo.IndexArchive(context.Background(), name, a, 1024)
	require.NoError(t, err, msgAndArgs...)
	return m
}
