package catalog

import (
	"time"

	"gorm.io/datatypes"
)

// ArchiveModel 是一个已索引归档的摘要
// Name 与 storage.Store 中的 key (或本地文件路径) 一致
type ArchiveModel struct {
	Name string `gorm:"primaryKey;type:varchar(512)"`

	Objects     int
	Directories int
	SizeBytes   int64

	// Classes: 类名 -> 对象数量，例如 {"sample.Leaf": 12}
	Classes datatypes.JSON

	// Version 用于乐观锁并发控制 (CAS)，每次重新索引 +1
	Version int64 `gorm:"default:1"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ArchiveModel) TableName() string {
	return "archives"
}

// EntryModel 是 TableEntry 在关系型数据库中的投影
// 用于跨归档按路径或前缀搜索对象
type EntryModel struct {
	ID uint `gorm:"primaryKey"`

	ArchiveKey string `gorm:"type:varchar(512);not null;uniqueIndex:idx_entry_archive_object"`
	ObjectID   string `gorm:"type:char(16);not null;index;uniqueIndex:idx_entry_archive_object"`

	Path  string `gorm:"type:text;index"`
	Class string `gorm:"type:varchar(255);index"`

	Offset uint32
	Length uint32
}

func (EntryModel) TableName() string {
	return "entries"
}

// DirectoryModel 保存一个父节点的子节点列表
// Children 是 ObjectID 十六进制字符串数组，保持写入顺序
type DirectoryModel struct {
	ID uint `gorm:"primaryKey"`

	ArchiveKey string `gorm:"type:varchar(512);not null;uniqueIndex:idx_dir_archive_dir"`
	DirID      string `gorm:"type:char(16);not null;uniqueIndex:idx_dir_archive_dir"`

	Children datatypes.JSON
}

func (DirectoryModel) TableName() string {
	return "directories"
}
