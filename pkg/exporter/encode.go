package exporter

import (
	"fmt"

	"rawdat/pkg/core"
	"rawdat/pkg/sample"
)

// 字段名与 packer 的清单格式一致

type leafFields struct {
	Value int64  `yaml:"value,omitempty"`
	Label string `yaml:"label,omitempty"`
}

type groupFields struct {
	Name    string `yaml:"name,omitempty"`
	Members []any  `yaml:"members,omitempty"`
	Best    string `yaml:"best,omitempty"`
}

type blobFields struct {
	Data string            `yaml:"data,omitempty"`
	Meta map[string]string `yaml:"meta,omitempty"`
}

type materialFields struct {
	Name  string     `yaml:"name,omitempty"`
	Color [3]float32 `yaml:"color,flow"`
}

type meshFields struct {
	Name     string    `yaml:"name,omitempty"`
	Vertices []float64 `yaml:"vertices,omitempty,flow"`
	Material string    `yaml:"material,omitempty"`
}

type nodeFields struct {
	Name string `yaml:"name,omitempty"`
	Next string `yaml:"next,omitempty"`
}

func (e *Exporter) registerSamples() {
	e.Register(sample.LeafClassName, encodeLeaf)
	e.Register(sample.GroupClassName, encodeGroup)
	e.Register(sample.BlobClassName, encodeBlob)
	e.Register(sample.MaterialClassName, encodeMaterial)
	e.Register(sample.MeshClassName, encodeMesh)
	e.Register(sample.NodeClassName, encodeNode)
}

func asType[T core.Object](obj core.Object) (T, error) {
	v, ok := obj.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %T is not %T", core.ErrObjectTypeMismatch, obj, zero)
	}
	return v, nil
}

func encodeLeaf(_ *Exporter, obj core.Object) (any, error) {
	l, err := asType[*sample.Leaf](obj)
	if err != nil {
		return nil, err
	}
	return leafFields{Value: l.Value, Label: l.Label}, nil
}

func encodeGroup(e *Exporter, obj core.Object) (any, error) {
	g, err := asType[*sample.Group](obj)
	if err != nil {
		return nil, err
	}
	f := groupFields{Name: g.Name}
	for i, m := range g.Members {
		// 匿名成员内联为映射
		if m.IsAnonymous() {
			leaf := m.Object().(*sample.Leaf)
			f.Members = append(f.Members, leafFields{Value: leaf.Value, Label: leaf.Label})
			continue
		}
		name, err := e.LinkName(m.LinkBase)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		f.Members = append(f.Members, name)
	}
	if f.Best, err = e.LinkName(g.Best.LinkBase); err != nil {
		return nil, fmt.Errorf("best: %w", err)
	}
	return f, nil
}

func encodeBlob(_ *Exporter, obj core.Object) (any, error) {
	b, err := asType[*sample.Blob](obj)
	if err != nil {
		return nil, err
	}
	return blobFields{Data: string(b.Data), Meta: b.Meta}, nil
}

func encodeMaterial(_ *Exporter, obj core.Object) (any, error) {
	m, err := asType[*sample.Material](obj)
	if err != nil {
		return nil, err
	}
	return materialFields{Name: m.Name, Color: m.Color}, nil
}

func encodeMesh(e *Exporter, obj core.Object) (any, error) {
	m, err := asType[*sample.Mesh](obj)
	if err != nil {
		return nil, err
	}
	mat, err := e.LinkName(m.Material.LinkBase)
	if err != nil {
		return nil, fmt.Errorf("material: %w", err)
	}
	return meshFields{Name: m.Name, Vertices: m.Vertices, Material: mat}, nil
}

func encodeNode(e *Exporter, obj core.Object) (any, error) {
	n, err := asType[*sample.Node](obj)
	if err != nil {
		return nil, err
	}
	next, err := e.LinkName(n.Next)
	if err != nil {
		return nil, fmt.Errorf("next: %w", err)
	}
	return nodeFields{Name: n.Name, Next: next}, nil
}
