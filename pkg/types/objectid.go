// pkg/types/objectid.go
package types

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ObjectIDSize 是 ObjectID 的二进制长度 (两个 uint32)
const ObjectIDSize = 8

var ErrInvalidObjectID = errors.New("invalid object id")

// ObjectID 代表一个路径的 64 位哈希 (PathHash)
// 由两个 32 位字组成，A 为高位，B 为低位。
// 这是一个“值对象”，可以直接作为 map 的 key。
type ObjectID struct {
	A uint32
	B uint32
}

var (
	// NullID 表示“空路径”
	NullID = ObjectID{}
	// AnonymousID 是 Link 编码中“内联匿名对象”的哨兵值
	AnonymousID = ObjectID{A: 0xffffffff, B: 0xffffffff}
	// RootID 是层级索引的根 (空字符串 "" 的哈希)
	RootID = NewObjectID("")
)

// NewObjectID 根据路径字符串计算 ObjectID
// 只依赖字节内容 (xxHash64)，跨进程、跨机器结果一致
func NewObjectID(path string) ObjectID {
	return FromUint64(xxhash.Sum64String(path))
}

// FromUint64 将 64 位整数拆成两个字
func FromUint64(v uint64) ObjectID {
	return ObjectID{A: uint32(v >> 32), B: uint32(v)}
}

func (id ObjectID) Uint64() uint64 { return uint64(id.A)<<32 | uint64(id.B) }

func (id ObjectID) IsNull() bool      { return id == NullID }
func (id ObjectID) IsAnonymous() bool { return id == AnonymousID }

// String 渲染为 16 位小写十六进制
func (id ObjectID) String() string {
	return fmt.Sprintf("%08x%08x", id.A, id.B)
}

// Compare 提供全序 (用于排序输出)
func (id ObjectID) Compare(other ObjectID) int {
	switch {
	case id.A < other.A:
		return -1
	case id.A > other.A:
		return 1
	case id.B < other.B:
		return -1
	case id.B > other.B:
		return 1
	}
	return 0
}

func (id ObjectID) Less(other ObjectID) bool { return id.Compare(other) < 0 }

// PutBinary 以小端序写入 8 字节 (A 在前)
func (id ObjectID) PutBinary(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], id.A)
	binary.LittleEndian.PutUint32(b[4:8], id.B)
}

// AppendBinary 追加 8 字节编码
func (id ObjectID) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, id.A)
	return binary.LittleEndian.AppendUint32(b, id.B)
}

// ReadObjectID 从 8 字节中解析 ObjectID
func ReadObjectID(b []byte) ObjectID {
	return ObjectID{
		A: binary.LittleEndian.Uint32(b[0:4]),
		B: binary.LittleEndian.Uint32(b[4:8]),
	}
}

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ObjectID) UnmarshalText(text []byte) error {
	parsed, err := ParseObjectID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseObjectID 解析 String() 的输出
func ParseObjectID(s string) (ObjectID, error) {
	if len(s) != 2*ObjectIDSize {
		return NullID, fmt.Errorf("%w: %q", ErrInvalidObjectID, s)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return NullID, fmt.Errorf("%w: %v", ErrInvalidObjectID, err)
	}
	return ObjectID{
		A: binary.BigEndian.Uint32(raw[0:4]),
		B: binary.BigEndian.Uint32(raw[4:8]),
	}, nil
}
