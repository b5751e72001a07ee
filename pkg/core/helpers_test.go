package core

import (
	"testing"

	"rawdat/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 辅助工具
// -----------------------------------------------------------------------------

const (
	pointClassName = "test.Point"
	boxClassName   = "test.Box"
)

// point 是最小的定长对象
type point struct {
	X, Y int32
	hook int
}

func (p *point) ClassID() types.ObjectID { return ClassID(pointClassName) }

func (p *point) Serialize(w *Writer) error {
	w.Int32(p.X)
	w.Int32(p.Y)
	return w.Err()
}

func (p *point) Deserialize(r *Reader) error {
	p.X = r.Int32()
	p.Y = r.Int32()
	return r.Err()
}

func (p *point) PostCreate() error {
	p.hook++
	return nil
}

// box 持有一个指向 point 的链接
type box struct {
	Label string
	Item  Link[*point]
}

func (b *box) ClassID() types.ObjectID { return ClassID(boxClassName) }

func (b *box) Serialize(w *Writer) error {
	w.String(b.Label)
	w.Link(b.Item.LinkBase)
	return w.Err()
}

func (b *box) Deserialize(r *Reader) error {
	b.Label = r.String()
	b.Item = ReadLink[*point](r)
	return r.Err()
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	_, err := reg.Register(pointClassName, false, func() Object { return &point{} })
	require.NoError(t, err)
	_, err = reg.Register(boxClassName, false, func() Object { return &box{} })
	require.NoError(t, err)
	return reg
}

// mapResolver 用内存 map 模拟归档
type mapResolver struct {
	objects map[types.ObjectID]Object
	calls   int
	lastDC  *DecodeContext
}

func (m *mapResolver) Resolve(dc *DecodeContext, p types.Path) (LinkBase, error) {
	m.calls++
	m.lastDC = dc
	obj, ok := m.objects[p.ID()]
	if !ok {
		return LinkBase{}, ErrUnresolved
	}
	return BoundLink(p, obj), nil
}

// mustEncode 序列化对象，失败直接终止测试
func mustEncode(t *testing.T, obj Object) []byte {
	t.Helper()
	w := NewWriter()
	require.NoError(t, obj.Serialize(w))
	return w.Data()
}
