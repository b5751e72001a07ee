package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"rawdat/pkg/core"
	"rawdat/pkg/sample"
	"rawdat/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 1. 基本场景
// -----------------------------------------------------------------------------

func TestArchive_ItemsScenario(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"items.alpha", leaf(1, "alpha")},
		{"items.beta", leaf(2, "beta")},
	})

	a := mustOpen(t, name)

	assert.Equal(t, int64(1), mustGet[*sample.Leaf](t, a, "items.alpha").Value)
	assert.Equal(t, int64(2), mustGet[*sample.Leaf](t, a, "items.beta").Value)

	// 子节点顺序与写入顺序一致
	assert.Equal(t,
		[]types.ObjectID{types.NewObjectID("items.alpha"), types.NewObjectID("items.beta")},
		a.Children("items"))
	assert.Equal(t, []types.ObjectID{types.NewObjectID("items")}, a.ChildrenOf(types.RootID))

	assert.False(t, a.HasObject("items.gamma"))
	assert.True(t, a.HasObject("items.alpha"))
	assert.False(t, a.HasObject("items"), "intermediate directories are not objects")

	_, err := a.GetObject("items.gamma")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_Introspection(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"b.x", leaf(1, "")},
		{"a", leaf(2, "")},
		{"b.y.z", leaf(3, "")},
	})
	a := mustOpen(t, name)

	assert.Equal(t, 3, a.Len())
	assert.Equal(t, []string{"b.x", "a", "b.y.z"}, a.AllPathStrings())
	assert.Equal(t, []types.ObjectID{
		types.NewObjectID("b.x"), types.NewObjectID("a"), types.NewObjectID("b.y.z"),
	}, a.AllObjects())

	assert.Equal(t, "b.y.z", a.PathString(types.NewObjectID("b.y.z")))
	assert.Equal(t, "", a.PathString(types.NewObjectID("nope")))

	assert.Equal(t, []types.ObjectID{types.NewObjectID("b"), types.NewObjectID("a")}, a.ChildrenOf(types.RootID))
	assert.Equal(t, []types.ObjectID{types.NewObjectID("b.x"), types.NewObjectID("b.y")}, a.Children("b"))
	assert.Equal(t, []types.ObjectID{types.NewObjectID("b.y.z")}, a.Children("b.y"))
	assert.Nil(t, a.Children("a"))

	entry, ok := a.Entry(types.NewObjectID("a"))
	require.True(t, ok)
	assert.Equal(t, sample.LeafClass, entry.Class)
	assert.Equal(t, uint32(8+4), entry.Length) // int64 + 空字符串长度前缀

	assert.False(t, a.IsWrite())
	assert.Len(t, a.Entries(), 3)
}

func TestArchive_ChildrenMatchWriteModeIndex(t *testing.T) {
	name := filepath.Join(t.TempDir(), "c.rawdat")
	w, err := Create(name)
	require.NoError(t, err)

	// 目录节点之后再写入同名对象，不应重复挂接
	require.NoError(t, w.AddObject(leaf(1, ""), "a.b.c"))
	require.NoError(t, w.AddObject(leaf(2, ""), "a.b"))
	require.NoError(t, w.AddObject(leaf(3, ""), "a.d"))

	written := map[string][]types.ObjectID{
		"":    w.Children(""),
		"a":   w.Children("a"),
		"a.b": w.Children("a.b"),
	}
	assert.Equal(t, []types.ObjectID{types.NewObjectID("a.b"), types.NewObjectID("a.d")}, written["a"])
	require.NoError(t, w.Close())

	r := mustOpen(t, name)
	for path, kids := range written {
		assert.Equal(t, kids, r.Children(path), "children of %q after reopen", path)
	}
	assert.Equal(t, w.Directories(), r.Directories())
}

// -----------------------------------------------------------------------------
// 2. Round-trip 与链接
// -----------------------------------------------------------------------------

func TestArchive_RoundTrip_Graph(t *testing.T) {
	anon := leaf(99, "inline")
	group := &sample.Group{
		Name: "crew",
		Members: []core.Link[*sample.Leaf]{
			core.LinkTo[*sample.Leaf]("crew.pilot"),
			core.To(anon),
		},
		Best: core.LinkTo[*sample.Leaf]("crew.pilot"),
	}
	blob := &sample.Blob{Data: []byte("payload"), Meta: map[string]string{"k": "v"}}

	name := mustWriteArchive(t, []item{
		{"crew.pilot", leaf(7, "pilot")},
		{"crew", group},
		{"data.blob", blob},
	})
	a := mustOpen(t, name)

	g := mustGet[*sample.Group](t, a, "crew")
	assert.Equal(t, "crew", g.Name)
	require.Len(t, g.Members, 2)

	// 路径成员是惰性的：首次 Get 时才加载
	assert.False(t, g.Members[0].IsResolved())
	pilot, err := g.Members[0].Get()
	require.NoError(t, err)
	assert.Equal(t, int64(7), pilot.Value)
	assert.True(t, g.Members[0].IsResolved())

	// 匿名成员随父对象一起内联解码
	assert.True(t, g.Members[1].IsAnonymous())
	inline, err := g.Members[1].Get()
	require.NoError(t, err)
	assert.Equal(t, anon.Value, inline.Value)
	assert.Equal(t, anon.Label, inline.Label)

	best, err := g.Best.Get()
	require.NoError(t, err)
	assert.Equal(t, "pilot", best.Label)

	b := mustGet[*sample.Blob](t, a, "data.blob")
	assert.Equal(t, blob.Data, b.Data)
	assert.Equal(t, blob.Meta, b.Meta)
}

func TestArchive_NullLinkAndTypeMismatch(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"mat.steel", &sample.Material{Name: "steel"}},
		// Best 指向一个 Material，类型不符
		{"g", &sample.Group{Name: "g", Best: core.LinkTo[*sample.Leaf]("mat.steel")}},
		{"empty", &sample.Group{Name: "empty"}},
	})
	a := mustOpen(t, name)

	g := mustGet[*sample.Group](t, a, "g")
	_, err := g.Best.Get()
	assert.ErrorIs(t, err, ErrObjectTypeMismatch)

	e := mustGet[*sample.Group](t, a, "empty")
	assert.True(t, e.Best.IsNull())
	got, err := e.Best.Get()
	require.NoError(t, err)
	assert.Nil(t, got)

	l, err := a.GetObject("mat.steel")
	require.NoError(t, err)
	_, err = core.Cast[*sample.Leaf](l)
	assert.ErrorIs(t, err, ErrObjectTypeMismatch)
}

func TestArchive_NonStaticReturnsDistinctInstances(t *testing.T) {
	name := mustWriteArchive(t, []item{{"x", leaf(5, "x")}})
	a := mustOpen(t, name)

	l1 := mustGet[*sample.Leaf](t, a, "x")
	l2 := mustGet[*sample.Leaf](t, a, "x")
	assert.NotSame(t, l1, l2)
	assert.Equal(t, l1, l2)
	assert.Equal(t, 0, a.StaticCount())
}

// -----------------------------------------------------------------------------
// 3. 静态对象缓存
// -----------------------------------------------------------------------------

func TestArchive_StaticIdentityAndCleanStatic(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"mat.steel", &sample.Material{Name: "steel", Color: [3]float32{0.5, 0.5, 0.6}}},
		{"mesh.hull", &sample.Mesh{Name: "hull", Vertices: []float64{1, 2, 3}, Material: core.LinkTo[*sample.Material]("mat.steel")}},
	})
	a := mustOpen(t, name)

	h1, err := a.GetObject("mat.steel")
	require.NoError(t, err)
	h2, err := a.GetObject("mat.steel")
	require.NoError(t, err)
	assert.Same(t, h1.Object(), h2.Object(), "static objects must be shared")
	assert.True(t, h1.IsShared())
	assert.Equal(t, 1, a.StaticCount())

	// 通过 Link 解析同样命中缓存
	mesh := mustGet[*sample.Mesh](t, a, "mesh.hull")
	mat, err := mesh.Material.Get()
	require.NoError(t, err)
	assert.Same(t, h1.Object(), core.Object(mat))

	// 仍有持有者时不回收
	h1.Release()
	h2.Release()
	assert.Equal(t, 0, a.CleanStatic(), "mesh still holds the material")

	mesh.Material.Release()
	assert.Equal(t, 1, a.CleanStatic())
	assert.Equal(t, 0, a.StaticCount())

	// 回收后重新加载得到新的实例，值相同
	h3, err := a.GetObject("mat.steel")
	require.NoError(t, err)
	assert.NotSame(t, h1.Object(), h3.Object())
	assert.Equal(t, h1.Object(), h3.Object())
}

func staticMeshArchive(t *testing.T) string {
	t.Helper()
	return mustWriteArchive(t, []item{
		{"mat.steel", &sample.Material{Name: "steel"}},
		{"mesh.hull", &sample.Mesh{Name: "hull", Material: core.LinkTo[*sample.Material]("mat.steel")}},
	})
}

func TestArchive_ChainedReleaseFreesNestedStatic(t *testing.T) {
	a := mustOpen(t, staticMeshArchive(t), WithChained(true))

	// 1. 加载 mesh 时材质经由嵌套链接进入缓存
	l, err := a.GetObject("mesh.hull")
	require.NoError(t, err)
	assert.False(t, l.IsShared())
	assert.Equal(t, 1, a.StaticCount())
	assert.Equal(t, 0, a.CleanStatic(), "mesh handle still holds the material")

	// 2. 释放 mesh 句柄后材质可以回收
	l.Release()
	assert.Equal(t, 1, a.CleanStatic())
	assert.Equal(t, 0, a.StaticCount())
}

func TestArchive_DroppedHandleFreesNestedStatic(t *testing.T) {
	a := mustOpen(t, staticMeshArchive(t), WithChained(true))

	// 1. 加载后直接丢弃句柄，不调用 Release
	func() {
		_, err := a.GetObject("mesh.hull")
		require.NoError(t, err)
	}()
	require.Equal(t, 1, a.StaticCount())

	// 2. GC 之后引用被归还
	assert.Eventually(t, func() bool {
		runtime.GC()
		return a.CleanStatic() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, a.StaticCount())
}

func TestArchive_SharedNestedStaticNeedsAllHolders(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"mat.base", &sample.Material{Name: "base"}},
		{"mesh.trim", &sample.Mesh{Name: "trim", Material: core.LinkTo[*sample.Material]("mat.base")}},
		{"mesh.hull", &sample.Mesh{Name: "hull", Material: core.LinkTo[*sample.Material]("mat.base")}},
	})
	a := mustOpen(t, name, WithChained(true))

	// 1. 两个 mesh 共享同一个材质
	trim, err := a.GetObject("mesh.trim")
	require.NoError(t, err)
	hull, err := a.GetObject("mesh.hull")
	require.NoError(t, err)
	assert.Equal(t, 1, a.StaticCount())

	// 2. 只要还有一个持有者就不回收
	trim.Release()
	assert.Equal(t, 0, a.CleanStatic())
	hull.Release()
	assert.Equal(t, 1, a.CleanStatic())
}

func TestArchive_PathCollisionOnRead(t *testing.T) {
	a := mustOpen(t, mustWriteArchive(t, []item{{"one", leaf(1, "one")}}))
	id := types.NewObjectID("one")

	// 1. 模拟另一个路径与 "one" 哈希碰撞：表中的 id 不变，存储的字符串不同
	// 文件层面的篡改会在 Open 时被 "Path table entry." 拒绝，这里直接改索引
	a.pathMap[id] = "other"

	_, err := a.GetObject("one")
	assert.ErrorIs(t, err, ErrPathCollision)

	// 2. 只用 id 查找时没有字符串可比较，照常返回
	l, err := a.GetObjectByID(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.Object().(*sample.Leaf).Value)
}

// -----------------------------------------------------------------------------
// 4. 写模式约束
// -----------------------------------------------------------------------------

func TestArchive_WriteModeRules(t *testing.T) {
	name := filepath.Join(t.TempDir(), "w.rawdat")
	a, err := Create(name)
	require.NoError(t, err)
	assert.True(t, a.IsWrite())
	assert.False(t, a.IsFinalized())

	require.NoError(t, a.AddObject(leaf(1, ""), "one"))
	assert.ErrorIs(t, a.AddObject(leaf(2, ""), "one"), ErrDuplicatePath)
	assert.ErrorIs(t, a.AddObject(leaf(2, ""), ""), ErrInvalidPath)
	assert.ErrorIs(t, a.AddObject(leaf(2, ""), "bad\x00path"), ErrInvalidPath)

	_, err = a.GetObject("one")
	assert.ErrorIs(t, err, ErrWriteOnly)

	// 写模式下内存索引同样可查
	assert.True(t, a.HasObject("one"))
	assert.Equal(t, "one", a.PathString(types.NewObjectID("one")))

	require.NoError(t, a.Finalize())
	assert.True(t, a.IsFinalized())
	require.NoError(t, a.Finalize(), "finalize must be idempotent")
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.AddObject(leaf(3, ""), "two"), ErrFinalized)

	r := mustOpen(t, name)
	assert.ErrorIs(t, r.AddObject(leaf(3, ""), "two"), ErrReadOnly)
	assert.ErrorIs(t, r.Finalize(), ErrReadOnly)
	assert.Equal(t, 1, r.Len())
}

func TestArchive_EmptyArchive(t *testing.T) {
	name := mustWriteArchive(t, nil)
	a := mustOpen(t, name)
	assert.Equal(t, 0, a.Len())
	assert.Empty(t, a.AllPathStrings())
	assert.Nil(t, a.ChildrenOf(types.RootID))
}

func TestArchive_OpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.rawdat"))
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = OpenMode(filepath.Join(t.TempDir(), "no", "such", "dir.rawdat"), ModeWrite)
	assert.ErrorIs(t, err, ErrIO)
}

// -----------------------------------------------------------------------------
// 5. 文件头与损坏检测
// -----------------------------------------------------------------------------

func TestArchive_BadMagic(t *testing.T) {
	name := mustWriteArchive(t, []item{{"x", leaf(1, "")}})
	bad := rewrite(t, name, func(b []byte) []byte {
		b[0] = 'X'
		return b
	})
	_, err := Open(bad)
	assert.ErrorIs(t, err, ErrBadMagic)
	assert.NotErrorIs(t, err, ErrCorruptArchive)

	// 完全不相关的短文件
	short := filepath.Join(t.TempDir(), "short")
	require.NoError(t, os.WriteFile(short, []byte("PK"), 0644))
	_, err = Open(short)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestArchive_BadByteOrder(t *testing.T) {
	name := mustWriteArchive(t, []item{{"x", leaf(1, "")}})
	big := rewrite(t, name, func(b []byte) []byte {
		b[7] = 'B'
		return b
	})
	_, err := Open(big)
	assert.ErrorIs(t, err, ErrBadByteOrder)

	unknown := rewrite(t, name, func(b []byte) []byte {
		b[7] = 'Q'
		return b
	})
	_, err = Open(unknown)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestArchive_TruncationIsCorrupt(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"items.alpha", leaf(1, "alpha")},
		{"items.beta", leaf(2, "beta")},
		{"other", &sample.Material{Name: "m"}},
	})
	data, err := os.ReadFile(name)
	require.NoError(t, err)

	dir := t.TempDir()
	for cut := 0; cut < len(data); cut++ {
		p := filepath.Join(dir, "cut.rawdat")
		require.NoError(t, os.WriteFile(p, data[:cut], 0644))

		_, err := Open(p)
		require.Error(t, err, "truncated at %d", cut)
		assert.ErrorIs(t, err, ErrCorruptArchive, "truncated at %d: %v", cut, err)
	}
}

func TestArchive_CorruptIndex(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"items.alpha", leaf(1, "alpha")},
		{"items.beta", leaf(2, "beta")},
	})
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	tableOffset := binary.LittleEndian.Uint32(data[8:12])

	tests := []struct {
		name  string
		stage string
		patch func(b []byte) []byte
	}{
		{"Unfinalized header", "Lookup table offset.", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:12], 0)
			return b
		}},
		{"Offset past end", "Lookup table offset.", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:12], uint32(len(b)+1))
			return b
		}},
		{"Huge object count", "Object count.", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[tableOffset:], MaxObjects+1)
			return b
		}},
		{"Entry outside data region", "Lookup table.", func(b []byte) []byte {
			// 第一个表项的 length
			binary.LittleEndian.PutUint32(b[tableOffset+8:], 1<<20)
			return b
		}},
		{"Path string mismatch", "Path table entry.", func(b []byte) []byte {
			i := bytes.LastIndex(b, []byte("items.beta"))
			b[i] = 'X'
			return b
		}},
		{"Trailing TOC bytes", "Path table of contents.", func(b []byte) []byte {
			// 放大 path_toc_size，并补上对应的字节
			sizeAt := int(tableOffset) + 4 + 2*EntrySize
			size := binary.LittleEndian.Uint32(b[sizeAt:])
			binary.LittleEndian.PutUint32(b[sizeAt:], size+3)
			return append(b, 1, 2, 3)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := rewrite(t, name, func(b []byte) []byte { return tt.patch(b) })
			_, err := Open(bad)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorruptArchive)

			var ce *CorruptError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.stage, ce.Stage)
		})
	}
}

// -----------------------------------------------------------------------------
// 6. 加载失败不影响后续调用
// -----------------------------------------------------------------------------

func TestArchive_MissingInterface(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"known", leaf(1, "")},
		{"unknown", &sample.Blob{Data: []byte{1}}},
	})

	// 注册表里只有 Leaf
	reg := core.NewRegistry()
	reg.MustRegister(sample.LeafClassName, false, func() core.Object { return &sample.Leaf{} })
	a := mustOpen(t, name, WithRegistry(reg))

	_, err := a.GetObject("unknown")
	assert.ErrorIs(t, err, ErrMissingInterface)

	assert.Equal(t, int64(1), mustGet[*sample.Leaf](t, a, "known").Value)
	assert.Equal(t, 0, a.PoolStats().InUse)
}

// greedyLeaf 比写入时多读一个字段
type greedyLeaf struct{ sample.Leaf }

func (g *greedyLeaf) Deserialize(r *core.Reader) error {
	g.Value = r.Int64()
	g.Label = r.String()
	_ = r.Uint64()
	return r.Err()
}

// lazyLeaf 少读一个字段
type lazyLeaf struct{ sample.Leaf }

func (l *lazyLeaf) Deserialize(r *core.Reader) error {
	l.Value = r.Int64()
	return r.Err()
}

func TestArchive_DeserializeSizeMismatch(t *testing.T) {
	name := mustWriteArchive(t, []item{{"x", leaf(1, "abc")}})

	tests := []struct {
		name string
		fn   func() core.Object
	}{
		{"Underflow", func() core.Object { return &greedyLeaf{} }},
		{"Overflow", func() core.Object { return &lazyLeaf{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := core.NewRegistry()
			reg.MustRegister(sample.LeafClassName, false, tt.fn)
			a := mustOpen(t, name, WithRegistry(reg))

			_, err := a.GetObject("x")
			assert.ErrorIs(t, err, ErrCorruptArchive)
			assert.Contains(t, err.Error(), sample.LeafClassName)

			// 之后的调用仍然正常
			assert.True(t, a.HasObject("x"))
			assert.Equal(t, 0, a.PoolStats().InUse)
			_, err = a.GetObject("x")
			assert.ErrorIs(t, err, ErrCorruptArchive)
		})
	}
}

// -----------------------------------------------------------------------------
// 7. 缓冲池透明性
// -----------------------------------------------------------------------------

func TestArchive_BufferPoolTransparency(t *testing.T) {
	small := &sample.Blob{Data: bytes.Repeat([]byte{0xab}, 16)}
	large := &sample.Blob{Data: bytes.Repeat([]byte{0xcd}, 3*DefaultBufferSize)}
	name := mustWriteArchive(t, []item{
		{"small", small},
		{"large", large},
	})

	a := mustOpen(t, name)
	assert.Equal(t, small.Data, mustGet[*sample.Blob](t, a, "small").Data)
	assert.Equal(t, large.Data, mustGet[*sample.Blob](t, a, "large").Data)

	stats := a.PoolStats()
	assert.Equal(t, DefaultPoolBuffers, stats.Buffers)
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 0, stats.InUse)

	// 没有池的归档结果相同
	nopool := mustOpen(t, name, WithBufferPool(0, 0))
	assert.Equal(t, small.Data, mustGet[*sample.Blob](t, nopool, "small").Data)
	assert.Equal(t, large.Data, mustGet[*sample.Blob](t, nopool, "large").Data)
	assert.Equal(t, 2, nopool.PoolStats().Misses)
}

func TestArchive_PooledBufferNotRetained(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"a", &sample.Blob{Data: []byte("first")}},
		{"b", &sample.Blob{Data: []byte("second!")}},
	})
	a := mustOpen(t, name, WithBufferPool(1, 64))

	first := mustGet[*sample.Blob](t, a, "a")
	_ = mustGet[*sample.Blob](t, a, "b") // 复用同一个槽位
	assert.Equal(t, []byte("first"), first.Data)
}

// -----------------------------------------------------------------------------
// 8. Chained 模式
// -----------------------------------------------------------------------------

func TestArchive_ChainedResolvesEagerly(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"crew.pilot", leaf(7, "pilot")},
		{"crew", &sample.Group{
			Name:    "crew",
			Members: []core.Link[*sample.Leaf]{core.LinkTo[*sample.Leaf]("crew.pilot"), core.To(leaf(1, "anon"))},
		}},
	})

	a := mustOpen(t, name, WithChained(true))
	assert.True(t, a.IsChained())

	g := mustGet[*sample.Group](t, a, "crew")
	require.Len(t, g.Members, 2)
	for _, m := range g.Members {
		assert.True(t, m.IsResolved())
		l, err := m.Get()
		require.NoError(t, err)
		assert.Equal(t, 1, l.Created, "post-create hook runs once per object")
	}

	// 非 chained 模式不调用钩子
	lazy := mustOpen(t, name)
	assert.Equal(t, 0, mustGet[*sample.Leaf](t, lazy, "crew.pilot").Created)
}

func TestArchive_ChainedMissingTarget(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"g", &sample.Group{Name: "g", Best: core.LinkTo[*sample.Leaf]("nowhere")}},
	})
	a := mustOpen(t, name, WithChained(true))
	_, err := a.GetObject("g")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_CycleDetection(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"graph.a", &sample.Node{Name: "a", Next: core.PathLink(types.NewPath("graph.b"))}},
		{"graph.b", &sample.Node{Name: "b", Next: core.PathLink(types.NewPath("graph.a"))}},
	})

	chained := mustOpen(t, name, WithChained(true))
	_, err := chained.GetObject("graph.a")
	assert.ErrorIs(t, err, core.ErrCyclicLink)
	assert.Equal(t, 0, chained.PoolStats().InUse)

	// 惰性模式下可以逐步走环，每一步都是新的实例
	lazy := mustOpen(t, name)
	a := mustGet[*sample.Node](t, lazy, "graph.a")
	require.NoError(t, a.Next.Resolve())
	b := a.Next.Object().(*sample.Node)
	assert.Equal(t, "b", b.Name)
	require.NoError(t, b.Next.Resolve())
	again := b.Next.Object().(*sample.Node)
	assert.Equal(t, "a", again.Name)
	assert.NotSame(t, a, again)
}

func TestArchive_DepthLimit(t *testing.T) {
	var items []item
	n := core.MaxLinkDepth + 5
	for i := 0; i < n; i++ {
		next := core.LinkBase{}
		if i+1 < n {
			next = core.PathLink(types.NewPath(nodePath(i + 1)))
		}
		items = append(items, item{nodePath(i), &sample.Node{Name: nodePath(i), Next: next}})
	}
	name := mustWriteArchive(t, items)

	a := mustOpen(t, name, WithChained(true))
	_, err := a.GetObject(nodePath(0))
	assert.ErrorIs(t, err, core.ErrLinkDepth)

	// 从接近链尾的位置开始则可以完整解析
	tail := mustGet[*sample.Node](t, a, nodePath(n-3))
	assert.True(t, tail.Next.IsResolved())
}

func nodePath(i int) string {
	return "chain.n" + string(rune('a'+i/26)) + string(rune('a'+i%26))
}

// -----------------------------------------------------------------------------
// 9. Manager 兜底
// -----------------------------------------------------------------------------

type stubManager struct {
	calls []string
	from  *Archive
	obj   core.Object
}

func (m *stubManager) GetObject(_ *core.DecodeContext, p types.Path, pathStr string, from *Archive) (core.LinkBase, error) {
	m.calls = append(m.calls, pathStr)
	m.from = from
	if m.obj == nil {
		return core.LinkBase{}, ErrNotFound
	}
	return core.BoundLink(p, m.obj), nil
}

func TestArchive_ManagerFallback(t *testing.T) {
	name := mustWriteArchive(t, []item{{"local", leaf(1, "")}})
	a := mustOpen(t, name)

	m := &stubManager{obj: leaf(42, "remote")}
	a.SetManager(m)

	l, err := a.GetObject("elsewhere")
	require.NoError(t, err)
	assert.Equal(t, int64(42), l.Object().(*sample.Leaf).Value)
	assert.Equal(t, []string{"elsewhere"}, m.calls)
	assert.Same(t, a, m.from)

	// 本地命中不走 Manager
	_ = mustGet[*sample.Leaf](t, a, "local")
	assert.Len(t, m.calls, 1)

	a.SetManager(nil)
	_, err = a.GetObject("elsewhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

// -----------------------------------------------------------------------------
// 10. 诊断输出与关闭
// -----------------------------------------------------------------------------

func TestArchive_Dump(t *testing.T) {
	name := mustWriteArchive(t, []item{
		{"items.alpha", leaf(1, "alpha")},
		{"mat", &sample.Material{Name: "m"}},
	})
	a := mustOpen(t, name)

	var buf bytes.Buffer
	require.NoError(t, a.Dump(&buf))
	out := buf.String()

	assert.Contains(t, out, "Objects: 2")
	assert.Contains(t, out, "items.alpha")
	assert.Contains(t, out, sample.LeafClassName)
	assert.Contains(t, out, sample.MaterialClassName)
	assert.Contains(t, out, types.NewObjectID("mat").String())
}

func TestArchive_ClosedRead(t *testing.T) {
	name := mustWriteArchive(t, []item{{"x", leaf(1, "")}})
	a, err := Open(name, WithRegistry(sample.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.GetObject("x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, a.HasObject("x"), "index stays available after close")
}
