package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"rawdat/pkg/types"
)

var (
	// ErrUnderflow 表示反序列化试图读取超出缓冲区的数据
	ErrUnderflow = errors.New("read past end of buffer")
	// ErrOverflow 表示反序列化结束后缓冲区还有未消费的字节
	ErrOverflow = errors.New("unconsumed bytes after deserialize")
)

// Reader 是对象反序列化时使用的游标
// 它绑定一个 DecodeContext，嵌套的 Link 通过它找到“正在反序列化它的归档”
type Reader struct {
	buf []byte
	off int
	err error
	ctx *DecodeContext
}

// NewReader 创建 Reader；ctx 为 nil 时只能读取不含路径链接的数据
func NewReader(buf []byte, ctx *DecodeContext) *Reader {
	if ctx == nil {
		ctx = &DecodeContext{}
	}
	return &Reader{buf: buf, ctx: ctx}
}

func (r *Reader) Context() *DecodeContext { return r.ctx }

// Remaining 返回未读字节数
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Err 返回第一个读取错误
func (r *Reader) Err() error { return r.err }

// Fail 允许对象自己的反序列化代码报告错误 (例如字段校验失败)
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Finish 检查缓冲区是否被恰好消费完
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if n := r.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d bytes left", ErrOverflow, n)
	}
	return nil
}

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Remaining() {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrUnderflow, n, r.off, r.Remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) Uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

func (r *Reader) Uint64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) Float32() float32 { return math.Float32frombits(r.Uint32()) }

func (r *Reader) Float64() float64 { return math.Float64frombits(r.Uint64()) }

// Bytes 读取带长度前缀的字节串
// 返回的是副本：底层缓冲区来自归档的缓冲池，调用结束后会被复用
func (r *Reader) Bytes() []byte {
	n := r.Uint32()
	b := r.next(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *Reader) String() string {
	n := r.Uint32()
	b := r.next(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *Reader) ID() types.ObjectID {
	b := r.next(types.ObjectIDSize)
	if b == nil {
		return types.NullID
	}
	return types.ReadObjectID(b)
}

// Value 解码 Writer.Value 写入的 CBOR 值
func (r *Reader) Value(v any) {
	n := r.Uint32()
	b := r.next(int(n))
	if b == nil {
		return
	}
	if err := DecodeValue(b, v); err != nil {
		r.Fail(fmt.Errorf("decode value: %w", err))
	}
}

// Link 读取一个引用
// chained 模式下路径链接会立即解析；否则只记录路径和 resolver，首次 Get 时再加载
func (r *Reader) Link() LinkBase {
	id := r.ID()
	if r.err != nil {
		return LinkBase{}
	}

	switch {
	case id.IsNull():
		return LinkBase{}
	case id.IsAnonymous():
		return r.anonymous()
	}

	p := types.PathFromID(id)
	if r.ctx.Chained && r.ctx.Resolver != nil {
		l, err := r.ctx.Resolver.Resolve(r.ctx, p)
		if err != nil {
			r.Fail(err)
			return LinkBase{}
		}
		r.ctx.adopt(l)
		return l
	}
	return LinkBase{path: p, resolver: r.ctx.Resolver}
}

// anonymous 解码内联的匿名子对象
func (r *Reader) anonymous() LinkBase {
	classID := r.ID()
	n := r.Uint32()
	data := r.next(int(n))
	if r.err != nil {
		return LinkBase{}
	}

	obj, iface, err := r.ctx.Registry.Create(classID)
	if err != nil {
		r.Fail(fmt.Errorf("anonymous object: %w", err))
		return LinkBase{}
	}

	sub := NewReader(data, r.ctx)
	if err := obj.Deserialize(sub); err != nil {
		r.Fail(fmt.Errorf("anonymous %s: %w", iface.Name, err))
		return LinkBase{}
	}
	if err := sub.Finish(); err != nil {
		r.Fail(fmt.Errorf("anonymous %s: %w", iface.Name, err))
		return LinkBase{}
	}

	if r.ctx.Chained {
		if pc, ok := obj.(PostCreator); ok {
			if err := pc.PostCreate(); err != nil {
				r.Fail(fmt.Errorf("anonymous %s post-create: %w", iface.Name, err))
				return LinkBase{}
			}
		}
	}
	return LinkBase{obj: obj}
}

// ReadLink 读取并检查类型的 Link[T]
func ReadLink[T Object](r *Reader) Link[T] {
	base := r.Link()
	l, err := Cast[T](base)
	if err != nil {
		r.Fail(err)
		return Link[T]{}
	}
	return l
}
