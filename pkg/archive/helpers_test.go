package archive

import (
	"os"
	"path/filepath"
	"testing"

	"rawdat/pkg/core"
	"rawdat/pkg/sample"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 辅助工具
// -----------------------------------------------------------------------------

type item struct {
	path string
	obj  core.Object
}

// mustWriteArchive 把 items 按顺序写入新归档并 finalize，返回文件路径
func mustWriteArchive(t *testing.T, items []item, opts ...Option) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "test.rawdat")

	a, err := Create(name, opts...)
	require.NoError(t, err)
	for _, it := range items {
		require.NoError(t, a.AddObject(it.obj, it.path), "add %s", it.path)
	}
	require.NoError(t, a.Finalize())
	return name
}

// mustOpen 以读模式打开，测试结束时自动关闭
func mustOpen(t *testing.T, name string, opts ...Option) *Archive {
	t.Helper()
	opts = append([]Option{WithRegistry(sample.NewRegistry())}, opts...)
	a, err := Open(name, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// mustGet 加载并断言类型
func mustGet[T core.Object](t *testing.T, a *Archive, path string) T {
	t.Helper()
	l, err := a.GetObject(path)
	require.NoError(t, err, "get %s", path)
	typed, err := core.Cast[T](l)
	require.NoError(t, err)
	obj, err := typed.Get()
	require.NoError(t, err)
	return obj
}

// rewrite 读出文件，交给 fn 修改后写到新文件
func rewrite(t *testing.T, name string, fn func(b []byte) []byte) string {
	t.Helper()
	data, err := os.ReadFile(name)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "modified.rawdat")
	require.NoError(t, os.WriteFile(out, fn(data), 0644))
	return out
}

func leaf(v int64, label string) *sample.Leaf {
	return &sample.Leaf{Value: v, Label: label}
}
