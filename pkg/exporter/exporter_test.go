package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"rawdat/pkg/archive"
	"rawdat/pkg/core"
	"rawdat/pkg/packer"
	"rawdat/pkg/sample"
	"rawdat/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSample(t *testing.T) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "src.rawdat")
	w, err := archive.Create(name)
	require.NoError(t, err)

	add := func(obj core.Object, path string) { require.NoError(t, w.AddObject(obj, path)) }
	add(&sample.Leaf{Value: 1, Label: "alpha"}, "items.alpha")
	add(&sample.Leaf{Value: 2, Label: "beta"}, "items.beta")
	add(&sample.Group{
		Name: "all",
		Members: []core.Link[*sample.Leaf]{
			core.LinkTo[*sample.Leaf]("items.alpha"),
			core.To(&sample.Leaf{Value: 3, Label: "inline"}),
			{},
		},
		Best: core.LinkTo[*sample.Leaf]("items.beta"),
	}, "groups.all")
	add(&sample.Material{Name: "steel", Color: [3]float32{0.5, 0.25, 1}}, "mat.steel")
	add(&sample.Mesh{Name: "hull", Vertices: []float64{1, 2, 3}, Material: core.LinkTo[*sample.Material]("mat.steel")}, "deep.nested.hull")
	add(&sample.Blob{Data: []byte{0xff, 0x00, 0x10}, Meta: map[string]string{"k": "v"}}, "blobs.bin")
	add(&sample.Node{Name: "loop", Next: core.LinkTo[*sample.Node]("nodes.loop").LinkBase}, "nodes.loop")
	require.NoError(t, w.Finalize())
	return name
}

func openExporter(t *testing.T, name string) *Exporter {
	t.Helper()
	r, err := archive.Open(name, archive.WithRegistry(sample.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return New(r)
}

func TestExportYAML_RepacksIdentically(t *testing.T) {
	src := writeSample(t)
	e := openExporter(t, src)

	// 1. 导出为清单
	dir := t.TempDir()
	var buf bytes.Buffer
	n, err := e.ExportYAML(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "objects.yaml"), buf.Bytes(), 0644))

	// 2. 重新打包
	out := filepath.Join(t.TempDir(), "repacked.rawdat")
	_, err = packer.New().Pack(context.Background(), dir, out)
	require.NoError(t, err)

	// 3. 逐个对象比较载荷字节
	a, err := os.ReadFile(src)
	require.NoError(t, err)
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same objects in the same order must produce the same file")
}

func TestExportYAML_NoEncoder(t *testing.T) {
	e := openExporter(t, writeSample(t))
	delete(e.encoders, sample.BlobClassName)

	_, err := e.ExportYAML(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNoEncoder)
	assert.Contains(t, err.Error(), "blobs.bin")
}

func TestWriteIndex_JSON(t *testing.T) {
	e := openExporter(t, writeSample(t))

	var buf bytes.Buffer
	require.NoError(t, e.WriteIndex(&buf, "json"))

	var idx Index
	require.NoError(t, json.Unmarshal(buf.Bytes(), &idx))
	require.Len(t, idx.Objects, 7)
	assert.Equal(t, "items.alpha", idx.Objects[0].Path)
	assert.Equal(t, types.NewObjectID("items.alpha").String(), idx.Objects[0].ID)
	assert.Equal(t, sample.LeafClassName, idx.Objects[0].Class)
	assert.Equal(t, uint32(12), idx.Objects[0].Offset)
	assert.NotContains(t, buf.String(), "Link")

	// 中间目录也有可读路径
	byPath := make(map[string][]string)
	for _, d := range idx.Directories {
		byPath[d.Path] = d.Children
	}
	assert.Equal(t, []string{"items", "groups", "mat", "deep", "blobs", "nodes"}, byPath[""])
	assert.Equal(t, []string{"deep.nested"}, byPath["deep"])
	assert.Equal(t, []string{"deep.nested.hull"}, byPath["deep.nested"])
}

func TestExporter_Learn(t *testing.T) {
	dir := t.TempDir()
	mk := func(file string, obj core.Object, path string) *archive.Archive {
		name := filepath.Join(dir, file)
		w, err := archive.Create(name)
		require.NoError(t, err)
		require.NoError(t, w.AddObject(obj, path))
		require.NoError(t, w.Finalize())
		r, err := archive.Open(name, archive.WithRegistry(sample.NewRegistry()))
		require.NoError(t, err)
		t.Cleanup(func() { r.Close() })
		return r
	}
	level := mk("level.rawdat", &sample.Mesh{Name: "hull", Material: core.LinkTo[*sample.Material]("mat.steel")}, "hull")
	base := mk("base.rawdat", &sample.Material{Name: "steel"}, "mat.steel")

	e := New(level)
	_, err := e.ExportYAML(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnnamedLink)

	e.Learn(base)
	var buf bytes.Buffer
	_, err = e.ExportYAML(context.Background(), &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "material: mat.steel")
	assert.Equal(t, "mat", e.Name(types.NewObjectID("mat")))
}

func TestWriteIndex_CBOR(t *testing.T) {
	e := openExporter(t, writeSample(t))

	var buf bytes.Buffer
	require.NoError(t, e.WriteIndex(&buf, "cbor"))

	idx, err := ReadIndex(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, idx.Objects, 7)
	for _, o := range idx.Objects {
		// tag 42 解码为只有 id 的路径链接
		assert.Equal(t, types.NewObjectID(o.Path), o.Link.Path().ID())
		assert.False(t, o.Link.IsResolved())
	}

	assert.ErrorIs(t, e.WriteIndex(&buf, "xml"), ErrUnknownFormat)
}

func TestPrintObject(t *testing.T) {
	e := openExporter(t, writeSample(t))

	tests := []struct {
		path string
		want []string
	}{
		{"items.alpha", []string{"Class:   sample.Leaf", `label  "alpha"`}},
		{"groups.all", []string{"members[0]  -> items.alpha", "members[1]  (inline sample.Leaf)", "members[2]  -", "best        -> items.beta"}},
		{"mat.steel", []string{"Static:  yes", "color  [0.5 0.25 1]"}},
		{"deep.nested.hull", []string{"vertices  3", "material  -> mat.steel"}},
		{"blobs.bin", []string{"data    ff 00 10", `meta.k  "v"`}},
		{"nodes.loop", []string{"next  -> nodes.loop"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, e.PrintObject(&buf, tt.path))
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
		})
	}

	err := e.PrintObject(&bytes.Buffer{}, "missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestPrintChildren(t *testing.T) {
	e := openExporter(t, writeSample(t))

	var buf bytes.Buffer
	require.NoError(t, e.PrintChildren(&buf, "deep"))
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "deep.nested")
	assert.Contains(t, out, "-   ") // 中间目录没有类

	buf.Reset()
	require.NoError(t, e.PrintList(&buf))
	assert.Contains(t, buf.String(), "sample.Mesh")
	assert.Contains(t, buf.String(), "deep.nested.hull")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "(empty)", preview(nil))
	assert.Equal(t, `"hi"`, preview([]byte("hi")))
	assert.Equal(t, "ff 00", preview([]byte{0xff, 0x00}))

	long := bytes.Repeat([]byte("a"), 2000)
	assert.Contains(t, preview(long), "... (2.0KB)")
}
