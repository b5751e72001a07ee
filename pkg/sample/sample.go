// Package sample 提供一组可归档的示例类
// 测试、打包工具和命令行都用它们来演示 Link、匿名对象和静态缓存
package sample

import (
	"fmt"

	"rawdat/pkg/core"
	"rawdat/pkg/types"
)

const (
	LeafClassName     = "sample.Leaf"
	GroupClassName    = "sample.Group"
	BlobClassName     = "sample.Blob"
	MaterialClassName = "sample.Material"
	MeshClassName     = "sample.Mesh"
	NodeClassName     = "sample.Node"
)

var (
	LeafClass     = core.ClassID(LeafClassName)
	GroupClass    = core.ClassID(GroupClassName)
	BlobClass     = core.ClassID(BlobClassName)
	MaterialClass = core.ClassID(MaterialClassName)
	MeshClass     = core.ClassID(MeshClassName)
	NodeClass     = core.ClassID(NodeClassName)
)

// Register 把所有示例类注册到 reg
func Register(reg *core.Registry) error {
	classes := []struct {
		name   string
		static bool
		fn     func() core.Object
	}{
		{LeafClassName, false, func() core.Object { return &Leaf{} }},
		{GroupClassName, false, func() core.Object { return &Group{} }},
		{BlobClassName, false, func() core.Object { return &Blob{} }},
		{MaterialClassName, true, func() core.Object { return &Material{} }},
		{MeshClassName, false, func() core.Object { return &Mesh{} }},
		{NodeClassName, false, func() core.Object { return &Node{} }},
	}
	for _, c := range classes {
		if _, err := reg.Register(c.name, c.static, c.fn); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry 返回已注册全部示例类的注册表
func NewRegistry() *core.Registry {
	reg := core.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

// Leaf 是最简单的标量对象
type Leaf struct {
	Value int64
	Label string

	// 不参与序列化：PostCreate 被调用的次数
	Created int
}

func (l *Leaf) ClassID() types.ObjectID { return LeafClass }

func (l *Leaf) Serialize(w *core.Writer) error {
	w.Int64(l.Value)
	w.String(l.Label)
	return w.Err()
}

func (l *Leaf) Deserialize(r *core.Reader) error {
	l.Value = r.Int64()
	l.Label = r.String()
	return r.Err()
}

func (l *Leaf) PostCreate() error {
	l.Created++
	return nil
}

// Group 引用一组 Leaf，成员既可以是归档路径也可以是内联的匿名对象
type Group struct {
	Name    string
	Members []core.Link[*Leaf]
	Best    core.Link[*Leaf]
}

func (g *Group) ClassID() types.ObjectID { return GroupClass }

func (g *Group) Serialize(w *core.Writer) error {
	w.String(g.Name)
	w.Uint32(uint32(len(g.Members)))
	for _, m := range g.Members {
		w.Link(m.LinkBase)
	}
	w.Link(g.Best.LinkBase)
	return w.Err()
}

func (g *Group) Deserialize(r *core.Reader) error {
	g.Name = r.String()
	n := r.Uint32()
	if int(n) > r.Remaining()/8 {
		return fmt.Errorf("%w: group member count %d", core.ErrUnderflow, n)
	}
	g.Members = make([]core.Link[*Leaf], n)
	for i := range g.Members {
		g.Members[i] = core.ReadLink[*Leaf](r)
	}
	g.Best = core.ReadLink[*Leaf](r)
	return r.Err()
}

// Blob 携带任意字节和 CBOR 编码的元数据
type Blob struct {
	Data []byte
	Meta map[string]string
}

func (b *Blob) ClassID() types.ObjectID { return BlobClass }

func (b *Blob) Serialize(w *core.Writer) error {
	w.Bytes(b.Data)
	w.Value(b.Meta)
	return w.Err()
}

func (b *Blob) Deserialize(r *core.Reader) error {
	b.Data = r.Bytes()
	r.Value(&b.Meta)
	return r.Err()
}

// Material 是静态类：不可变，可以在多次加载间共享同一个实例
type Material struct {
	Name  string
	Color [3]float32
}

func (m *Material) ClassID() types.ObjectID { return MaterialClass }

func (m *Material) Serialize(w *core.Writer) error {
	w.String(m.Name)
	for _, c := range m.Color {
		w.Float32(c)
	}
	return w.Err()
}

func (m *Material) Deserialize(r *core.Reader) error {
	m.Name = r.String()
	for i := range m.Color {
		m.Color[i] = r.Float32()
	}
	return r.Err()
}

// Mesh 引用一个静态 Material
type Mesh struct {
	Name     string
	Vertices []float64
	Material core.Link[*Material]
}

func (m *Mesh) ClassID() types.ObjectID { return MeshClass }

func (m *Mesh) Serialize(w *core.Writer) error {
	w.String(m.Name)
	w.Uint32(uint32(len(m.Vertices)))
	for _, v := range m.Vertices {
		w.Float64(v)
	}
	w.Link(m.Material.LinkBase)
	return w.Err()
}

func (m *Mesh) Deserialize(r *core.Reader) error {
	m.Name = r.String()
	n := r.Uint32()
	if int(n) > r.Remaining()/8 {
		return fmt.Errorf("%w: mesh vertex count %d", core.ErrUnderflow, n)
	}
	m.Vertices = make([]float64, n)
	for i := range m.Vertices {
		m.Vertices[i] = r.Float64()
	}
	m.Material = core.ReadLink[*Material](r)
	return r.Err()
}

// Node 持有一个无类型链接，用于构造任意图 (包括环)
type Node struct {
	Name string
	Next core.LinkBase
}

func (n *Node) ClassID() types.ObjectID { return NodeClass }

func (n *Node) Serialize(w *core.Writer) error {
	w.String(n.Name)
	w.Link(n.Next)
	return w.Err()
}

func (n *Node) Deserialize(r *core.Reader) error {
	n.Name = r.String()
	n.Next = r.Link()
	return r.Err()
}
