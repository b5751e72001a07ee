package core

import (
	"encoding/binary"
	"fmt"
	"math"

	"rawdat/pkg/types"
)

// Writer 收集一个对象的序列化字节
// 所有多字节字段统一小端序；第一个错误会被记住 (sticky)，后续写入全部忽略
type Writer struct {
	buf []byte
	err error
}

func NewWriter() *Writer {
	return &Writer{}
}

// Data 返回已写入的字节
func (w *Writer) Data() []byte { return w.buf }

// Len 返回已写入的字节数
func (w *Writer) Len() int { return len(w.buf) }

// Err 返回第一个写入错误
func (w *Writer) Err() error { return w.err }

// Reset 清空缓冲区，便于复用
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) Uint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

func (w *Writer) Uint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

func (w *Writer) Uint64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

func (w *Writer) Float32(v float32) { w.Uint32(math.Float32bits(v)) }

func (w *Writer) Float64(v float64) { w.Uint64(math.Float64bits(v)) }

// Bytes 写入带 u32 长度前缀的字节串
func (w *Writer) Bytes(b []byte) {
	if w.err != nil {
		return
	}
	if uint64(len(b)) > math.MaxUint32 {
		w.fail(fmt.Errorf("byte field too large: %d", len(b)))
		return
	}
	w.Uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) String(s string) { w.Bytes([]byte(s)) }

// ID 写入 8 字节 ObjectID
func (w *Writer) ID(id types.ObjectID) {
	if w.err != nil {
		return
	}
	w.buf = id.AppendBinary(w.buf)
}

// Value 以 CBOR 编码任意复合值 (带长度前缀)
func (w *Writer) Value(v any) {
	if w.err != nil {
		return
	}
	data, err := EncodeValue(v)
	if err != nil {
		w.fail(err)
		return
	}
	w.Bytes(data)
}

// Link 写入一个引用
//   - 空链接: 8 字节 NullID
//   - 有路径: 8 字节目标 ObjectID
//   - 只有对象 (匿名): AnonymousID + classhash + u32 长度 + 内联对象字节
func (w *Writer) Link(l LinkBase) {
	if w.err != nil {
		return
	}
	switch {
	case !l.path.IsNull():
		w.ID(l.path.ID())
	case l.obj != nil:
		sub := NewWriter()
		if err := l.obj.Serialize(sub); err != nil {
			w.fail(fmt.Errorf("serialize anonymous %T: %w", l.obj, err))
			return
		}
		if err := sub.Err(); err != nil {
			w.fail(fmt.Errorf("serialize anonymous %T: %w", l.obj, err))
			return
		}
		w.ID(types.AnonymousID)
		w.ID(l.obj.ClassID())
		w.Bytes(sub.Data())
	default:
		w.ID(types.NullID)
	}
}
