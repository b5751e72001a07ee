package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"rawdat/pkg/archive"
	"rawdat/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrArchiveNotFound  = errors.New("archive not found in catalog")
	ErrEntryNotFound    = errors.New("entry not found in catalog")
	ErrConcurrentUpdate = errors.New("concurrent update detected (CAS failed)")
)

// Source 是可以被索引的归档视图；*archive.Archive 满足它
type Source interface {
	Entries() []archive.TableEntry
	PathString(id types.ObjectID) string
	Directories() []types.ObjectID
	ChildrenOf(id types.ObjectID) []types.ObjectID
	ClassName(id types.ObjectID) string
}

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. 索引 (Indexing)
// -----------------------------------------------------------------------------

// IndexArchive 把归档的表和层级索引“投影”到 SQL 数据库
// 重复索引同一个归档会替换旧的条目，并通过 Version 做 CAS，
// 两个进程同时重新索引时后到者得到 ErrConcurrentUpdate。
func (r *Repository) IndexArchive(ctx context.Context, name string, src Source, size int64) (*ArchiveModel, error) {
	entries := src.Entries()

	// 1. 构造条目和类统计
	classes := make(map[string]int)
	rows := make([]EntryModel, 0, len(entries))
	for _, e := range entries {
		class := src.ClassName(e.Class)
		classes[class]++
		rows = append(rows, EntryModel{
			ArchiveKey: name,
			ObjectID:   e.Path.String(),
			Path:       src.PathString(e.Path),
			Class:      class,
			Offset:     e.Offset,
			Length:     e.Length,
		})
	}
	classesJSON, err := json.Marshal(classes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classes: %w", err)
	}

	dirs := src.Directories()
	dirRows := make([]DirectoryModel, 0, len(dirs))
	for _, d := range dirs {
		kids := src.ChildrenOf(d)
		ids := make([]string, len(kids))
		for i, k := range kids {
			ids[i] = k.String()
		}
		childrenJSON, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal children: %w", err)
		}
		dirRows = append(dirRows, DirectoryModel{
			ArchiveKey: name,
			DirID:      d.String(),
			Children:   datatypes.JSON(childrenJSON),
		})
	}

	// 2. 事务内替换
	err = r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ArchiveModel
		err := tx.Where("name = ?", name).First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// 场景 A: 第一次索引
			model := ArchiveModel{
				Name:        name,
				Objects:     len(rows),
				Directories: len(dirRows),
				SizeBytes:   size,
				Classes:     datatypes.JSON(classesJSON),
				Version:     1,
			}
			if err := tx.Create(&model).Error; err != nil {
				// 兼容性: 处理不同数据库 (PG 与 SQLite) 的唯一约束错误
				if errors.Is(err, gorm.ErrDuplicatedKey) ||
					strings.Contains(err.Error(), "UNIQUE constraint failed") {
					return ErrConcurrentUpdate
				}
				return fmt.Errorf("failed to create archive: %w", err)
			}

		case err != nil:
			return err

		default:
			// 场景 B: 重新索引 (CAS)
			result := tx.Model(&ArchiveModel{}).
				Where("name = ? AND version = ?", name, existing.Version).
				Updates(map[string]any{
					"objects":     len(rows),
					"directories": len(dirRows),
					"size_bytes":  size,
					"classes":     datatypes.JSON(classesJSON),
					"version":     gorm.Expr("version + 1"),
					"updated_at":  time.Now(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrConcurrentUpdate
			}
			if err := tx.Where("archive_key = ?", name).Delete(&EntryModel{}).Error; err != nil {
				return err
			}
			if err := tx.Where("archive_key = ?", name).Delete(&DirectoryModel{}).Error; err != nil {
				return err
			}
		}

		// 3. 批量写入 (空切片时 GORM 会报错，需要跳过)
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return fmt.Errorf("failed to index entries: %w", err)
			}
		}
		if len(dirRows) > 0 {
			if err := tx.CreateInBatches(dirRows, 500).Error; err != nil {
				return fmt.Errorf("failed to index directories: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetArchive(ctx, name)
}

// DeleteArchive 移除归档及其全部条目
func (r *Repository) DeleteArchive(ctx context.Context, name string) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("name = ?", name).Delete(&ArchiveModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrArchiveNotFound
		}
		if err := tx.Where("archive_key = ?", name).Delete(&EntryModel{}).Error; err != nil {
			return err
		}
		return tx.Where("archive_key = ?", name).Delete(&DirectoryModel{}).Error
	})
}

// -----------------------------------------------------------------------------
// 2. 查询 (Queries)
// -----------------------------------------------------------------------------

func (r *Repository) GetArchive(ctx context.Context, name string) (*ArchiveModel, error) {
	var model ArchiveModel
	err := r.db.GetConn().WithContext(ctx).
		Where("name = ?", name).
		First(&model).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// ListArchives 按名字排序列出所有归档
func (r *Repository) ListArchives(ctx context.Context) ([]ArchiveModel, error) {
	var models []ArchiveModel
	err := r.db.GetConn().WithContext(ctx).Order("name").Find(&models).Error
	return models, err
}

// FindEntries 查找某个路径所在的全部归档条目
func (r *Repository) FindEntries(ctx context.Context, path string) ([]EntryModel, error) {
	var rows []EntryModel
	err := r.db.GetConn().WithContext(ctx).
		Where("object_id = ? AND path = ?", types.NewObjectID(path).String(), path).
		Order("archive_key").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, path)
	}
	return rows, nil
}

// FindByPrefix 按路径前缀搜索，结果按 (归档, 路径) 排序
// 使用 substr 而不是 LIKE：SQLite 的 LIKE 对 ASCII 不区分大小写
func (r *Repository) FindByPrefix(ctx context.Context, prefix string, limit int) ([]EntryModel, error) {
	q := r.db.GetConn().WithContext(ctx).Model(&EntryModel{})
	if prefix != "" {
		q = q.Where("substr(path, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []EntryModel
	err := q.Order("archive_key").Order("path").Find(&rows).Error
	return rows, err
}

// Children 返回归档中 path 的直接子节点 (写入顺序)
func (r *Repository) Children(ctx context.Context, name, path string) ([]types.ObjectID, error) {
	var dir DirectoryModel
	err := r.db.GetConn().WithContext(ctx).
		Where("archive_key = ? AND dir_id = ?", name, types.NewObjectID(path).String()).
		First(&dir).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var hexIDs []string
	if err := json.Unmarshal(dir.Children, &hexIDs); err != nil {
		return nil, fmt.Errorf("corrupt children column for %s in %s: %w", path, name, err)
	}
	ids := make([]types.ObjectID, len(hexIDs))
	for i, h := range hexIDs {
		if ids[i], err = types.ParseObjectID(h); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// ClassCounts 解码 Classes 列
func (m *ArchiveModel) ClassCounts() (map[string]int, error) {
	counts := make(map[string]int)
	if len(m.Classes) == 0 {
		return counts, nil
	}
	if err := json.Unmarshal(m.Classes, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}
