package packer

import (
	"fmt"

	"rawdat/pkg/core"
	"rawdat/pkg/sample"

	"gopkg.in/yaml.v3"
)

// DecodeFunc 把清单中的 fields 节点转换为对象
type DecodeFunc func(fields *yaml.Node) (core.Object, error)

// registerSamples 注册示例类的清单格式
func (p *Packer) registerSamples() {
	p.Register(sample.LeafClassName, decodeLeaf)
	p.Register(sample.GroupClassName, decodeGroup)
	p.Register(sample.BlobClassName, decodeBlob)
	p.Register(sample.MaterialClassName, decodeMaterial)
	p.Register(sample.MeshClassName, decodeMesh)
	p.Register(sample.NodeClassName, decodeNode)
}

type leafFields struct {
	Value int64  `yaml:"value"`
	Label string `yaml:"label"`
}

func decodeLeaf(n *yaml.Node) (core.Object, error) {
	var f leafFields
	if err := decodeFields(n, &f); err != nil {
		return nil, err
	}
	return &sample.Leaf{Value: f.Value, Label: f.Label}, nil
}

// Group 成员可以是路径 (标量) 或内联 Leaf (映射)
//
//	members:
//	  - items.alpha
//	  - {value: 3, label: inline}
type groupFields struct {
	Name    string      `yaml:"name"`
	Members []yaml.Node `yaml:"members"`
	Best    string      `yaml:"best"`
}

func decodeGroup(n *yaml.Node) (core.Object, error) {
	var f groupFields
	if err := decodeFields(n, &f); err != nil {
		return nil, err
	}
	g := &sample.Group{Name: f.Name, Best: leafLink(f.Best)}
	for i := range f.Members {
		m := &f.Members[i]
		switch m.Kind {
		case yaml.ScalarNode:
			g.Members = append(g.Members, leafLink(m.Value))
		case yaml.MappingNode:
			obj, err := decodeLeaf(m)
			if err != nil {
				return nil, fmt.Errorf("member %d: %w", i, err)
			}
			g.Members = append(g.Members, core.To(obj.(*sample.Leaf)))
		default:
			return nil, fmt.Errorf("member %d (line %d): expected a path or a mapping", i, m.Line)
		}
	}
	return g, nil
}

type blobFields struct {
	Data string            `yaml:"data"`
	Meta map[string]string `yaml:"meta"`
}

func decodeBlob(n *yaml.Node) (core.Object, error) {
	var f blobFields
	if err := decodeFields(n, &f); err != nil {
		return nil, err
	}
	return &sample.Blob{Data: []byte(f.Data), Meta: f.Meta}, nil
}

type materialFields struct {
	Name  string    `yaml:"name"`
	Color []float32 `yaml:"color"`
}

func decodeMaterial(n *yaml.Node) (core.Object, error) {
	var f materialFields
	if err := decodeFields(n, &f); err != nil {
		return nil, err
	}
	m := &sample.Material{Name: f.Name}
	if len(f.Color) != 0 && len(f.Color) != len(m.Color) {
		return nil, fmt.Errorf("color needs %d components, got %d", len(m.Color), len(f.Color))
	}
	copy(m.Color[:], f.Color)
	return m, nil
}

type meshFields struct {
	Name     string    `yaml:"name"`
	Vertices []float64 `yaml:"vertices"`
	Material string    `yaml:"material"`
}

func decodeMesh(n *yaml.Node) (core.Object, error) {
	var f meshFields
	if err := decodeFields(n, &f); err != nil {
		return nil, err
	}
	m := &sample.Mesh{Name: f.Name, Vertices: f.Vertices}
	if f.Material != "" {
		m.Material = core.LinkTo[*sample.Material](f.Material)
	}
	return m, nil
}

type nodeFields struct {
	Name string `yaml:"name"`
	Next string `yaml:"next"`
}

func decodeNode(n *yaml.Node) (core.Object, error) {
	var f nodeFields
	if err := decodeFields(n, &f); err != nil {
		return nil, err
	}
	obj := &sample.Node{Name: f.Name}
	if f.Next != "" {
		obj.Next = core.LinkTo[*sample.Node](f.Next).LinkBase
	}
	return obj, nil
}

func leafLink(path string) core.Link[*sample.Leaf] {
	if path == "" {
		return core.Link[*sample.Leaf]{}
	}
	return core.LinkTo[*sample.Leaf](path)
}

// decodeFields 允许 fields 缺省 (全部取零值)
func decodeFields(n *yaml.Node, v any) error {
	if n == nil || n.Kind == 0 {
		return nil
	}
	if err := n.Decode(v); err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	return nil
}
