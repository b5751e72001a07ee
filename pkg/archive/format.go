package archive

import (
	"encoding/binary"
	"fmt"

	"rawdat/pkg/types"
)

// 文件布局 (全部小端序):
//
//	0   8 字节  magic "RAWDAT-L"
//	8   4 字节  table_offset (finalize 时回填)
//	12  ...     对象数据，按 AddObject 顺序首尾相接
//	@table_offset:
//	    u32 object_count
//	    object_count * TableEntry (24 字节)
//	    u32 path_toc_size
//	    u32 n_paths, u32 n_directories
//	    n_directories * { ObjectID parent, u32 child_count, child_count * ObjectID }
//	    n_paths * 以 NUL 结尾的路径字符串 (表顺序)
const (
	magicPrefix     = "RAWDAT-"
	byteOrderLittle = 'L'
	byteOrderBig    = 'B'

	magicSize        = 8
	tableOffsetField = 8
	headerSize       = 12

	// EntrySize 是 TableEntry 的固定长度
	EntrySize = 4 + 4 + types.ObjectIDSize + types.ObjectIDSize

	// MaxObjects 是对象数量的合理上限，超过视为损坏
	MaxObjects = 100000
)

// magic 返回写入的文件头；我们始终写小端序
func magic() []byte {
	return append([]byte(magicPrefix), byteOrderLittle)
}

// TableEntry 定位一个对象的数据并记录它的类型
type TableEntry struct {
	Offset uint32
	Length uint32
	Class  types.ObjectID
	Path   types.ObjectID
}

func (e TableEntry) appendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, e.Offset)
	b = binary.LittleEndian.AppendUint32(b, e.Length)
	b = e.Class.AppendBinary(b)
	return e.Path.AppendBinary(b)
}

func readEntry(b []byte) TableEntry {
	return TableEntry{
		Offset: binary.LittleEndian.Uint32(b[0:4]),
		Length: binary.LittleEndian.Uint32(b[4:8]),
		Class:  types.ReadObjectID(b[8:16]),
		Path:   types.ReadObjectID(b[16:24]),
	}
}

// cursor 在内存中解析表和 TOC，越界时返回带阶段名的损坏错误
type cursor struct {
	b     []byte
	off   int
	stage string
}

func (c *cursor) remaining() int { return len(c.b) - c.off }

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || n > c.remaining() {
		return nil, corrupt(c.stage, fmt.Errorf("need %d bytes at %d, have %d", n, c.off, c.remaining()))
	}
	b := c.b[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) uint32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) id() (types.ObjectID, error) {
	b, err := c.take(types.ObjectIDSize)
	if err != nil {
		return types.NullID, err
	}
	return types.ReadObjectID(b), nil
}

// cstring 读取以 NUL 结尾的字符串
func (c *cursor) cstring() (string, error) {
	for i := c.off; i < len(c.b); i++ {
		if c.b[i] == 0 {
			s := string(c.b[c.off:i])
			c.off = i + 1
			return s, nil
		}
	}
	return "", corrupt(c.stage, fmt.Errorf("unterminated path string at %d", c.off))
}
