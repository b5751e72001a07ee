package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"rawdat/pkg/core"
	"rawdat/pkg/types"
)

// Open 以只读模式打开归档，立即解析整张表和 TOC
// 对象数据只在 GetObject 时按需解码
func Open(name string, opts ...Option) (*Archive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, ioError("open", name, err)
	}

	a := newArchive(name, ModeRead, opts)
	a.f = f
	if err := a.readIndex(); err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	a.log.Debug("archive opened", slog.Int("objects", len(a.table)), slog.Int("dirs", len(a.dirs)))
	return a, nil
}

func (a *Archive) readIndex() error {
	st, err := a.f.Stat()
	if err != nil {
		return ioError("stat", a.name, err)
	}
	size := st.Size()

	// 1. 文件头
	header := make([]byte, headerSize)
	n, err := io.ReadFull(a.f, header)
	prefix := min(n, len(magicPrefix))
	if !bytes.Equal(header[:prefix], []byte(magicPrefix)[:prefix]) {
		return fmt.Errorf("%w: %q", ErrBadMagic, header[:prefix])
	}
	if err != nil {
		return corrupt("Archive header.", err)
	}
	switch header[magicSize-1] {
	case byteOrderLittle:
	case byteOrderBig:
		return fmt.Errorf("%w: archive is big-endian", ErrBadByteOrder)
	default:
		return fmt.Errorf("%w: unknown byte order tag %q", ErrBadMagic, header[magicSize-1])
	}

	// 2. table_offset
	c := &cursor{b: header[tableOffsetField:], stage: "Lookup table offset."}
	tableOffset, _ := c.uint32()
	if int64(tableOffset) < headerSize || int64(tableOffset) > size {
		return corrupt("Lookup table offset.", fmt.Errorf("offset %d outside file of %d bytes", tableOffset, size))
	}

	// 3. 读取表区域 (到文件尾)
	tail := make([]byte, size-int64(tableOffset))
	if _, err := a.f.ReadAt(tail, int64(tableOffset)); err != nil && !errors.Is(err, io.EOF) {
		return ioError("read table", a.name, err)
	}

	c = &cursor{b: tail, stage: "Object count."}
	count, err := c.uint32()
	if err != nil {
		return err
	}
	if count > MaxObjects {
		return corrupt("Object count.", fmt.Errorf("%d objects exceeds limit %d", count, MaxObjects))
	}

	c.stage = "Lookup table."
	raw, err := c.take(int(count) * EntrySize)
	if err != nil {
		return err
	}
	a.table = make([]TableEntry, count)
	for i := range a.table {
		e := readEntry(raw[i*EntrySize:])
		if int64(e.Offset) < headerSize || int64(e.Offset)+int64(e.Length) > int64(tableOffset) {
			return corrupt("Lookup table.", fmt.Errorf("entry %d spans [%d,+%d) outside data region", i, e.Offset, e.Length))
		}
		if _, dup := a.tableMap[e.Path]; dup {
			return corrupt("Lookup table.", fmt.Errorf("entry %d duplicates id %s", i, e.Path))
		}
		a.table[i] = e
		a.tableMap[e.Path] = i
	}

	// 4. 路径 TOC
	c.stage = "Path table of contents."
	tocSize, err := c.uint32()
	if err != nil {
		return err
	}
	blob, err := c.take(int(tocSize))
	if err != nil {
		return err
	}
	return a.readTOC(blob)
}

func (a *Archive) readTOC(blob []byte) error {
	const stage = "Path table of contents."
	c := &cursor{b: blob, stage: stage}

	nPaths, err := c.uint32()
	if err != nil {
		return err
	}
	nDirs, err := c.uint32()
	if err != nil {
		return err
	}
	if int(nPaths) != len(a.table) {
		return corrupt(stage, fmt.Errorf("%d paths for %d objects", nPaths, len(a.table)))
	}
	// 每个父节点至少占 12 字节，先用剩余长度卡住明显错误的计数
	if int64(nDirs)*12 > int64(c.remaining()) {
		return corrupt(stage, fmt.Errorf("%d directories cannot fit in %d bytes", nDirs, c.remaining()))
	}

	// 子节点要么是对象路径，要么是中间目录
	limit := int(nPaths) + int(nDirs)
	total := 0
	a.dirs = make([]types.ObjectID, 0, nDirs)
	for i := 0; i < int(nDirs); i++ {
		dir, err := c.id()
		if err != nil {
			return err
		}
		n, err := c.uint32()
		if err != nil {
			return err
		}
		total += int(n)
		if total > limit {
			return corrupt(stage, fmt.Errorf("%d children exceed %d declared paths and directories", total, limit))
		}
		if _, dup := a.children[dir]; dup {
			return corrupt(stage, fmt.Errorf("directory %s listed twice", dir))
		}
		kids := make([]types.ObjectID, n)
		for j := range kids {
			if kids[j], err = c.id(); err != nil {
				return err
			}
		}
		a.dirs = append(a.dirs, dir)
		a.children[dir] = kids
	}

	a.paths = make([]string, nPaths)
	for i := range a.paths {
		p, err := c.cstring()
		if err != nil {
			return err
		}
		// 路径字符串必须与表项哈希一致，顺带检测碰撞和错位
		if id := types.NewObjectID(p); id != a.table[i].Path {
			return corrupt("Path table entry.", fmt.Errorf("path %q hashes to %s, table has %s", p, id, a.table[i].Path))
		}
		a.paths[i] = p
		a.pathMap[a.table[i].Path] = p
	}

	if c.remaining() != 0 {
		return corrupt(stage, fmt.Errorf("%d trailing bytes", c.remaining()))
	}
	return nil
}

// GetObject 按可读路径加载对象
func (a *Archive) GetObject(path string) (core.LinkBase, error) {
	return a.get(nil, types.NewPath(path))
}

// GetObjectByID 按 ObjectID 加载对象
func (a *Archive) GetObjectByID(id types.ObjectID) (core.LinkBase, error) {
	return a.get(nil, types.PathFromID(id))
}

// GetPath 按 Path 加载对象
func (a *Archive) GetPath(p types.Path) (core.LinkBase, error) {
	return a.get(nil, p)
}

// Resolve 实现 core.Resolver：嵌套链接通过它回调归档
func (a *Archive) Resolve(dc *core.DecodeContext, p types.Path) (core.LinkBase, error) {
	return a.get(dc, p)
}

func (a *Archive) get(dc *core.DecodeContext, p types.Path) (core.LinkBase, error) {
	if a.mode != ModeRead {
		return core.LinkBase{}, ErrWriteOnly
	}
	if a.f == nil {
		return core.LinkBase{}, ErrClosed
	}
	if p.IsNull() {
		return core.LinkBase{}, fmt.Errorf("%w: null path", ErrInvalidPath)
	}

	// 1. 解析 id
	id := p.ID()

	// 2. 静态缓存命中：不做 I/O，返回同一个实例
	if e, ok := a.static[id]; ok {
		e.ref.Acquire()
		return core.SharedLink(a.pathOf(id), e.obj, e.ref).WithResolver(a), nil
	}

	// 3. 查表；未命中交给 Manager
	idx, ok := a.tableMap[id]
	if !ok {
		if a.manager != nil {
			a.log.Debug("lookup miss, delegating to manager", slog.String("path", p.String()))
			return a.manager.GetObject(dc, p, p.Raw(), a)
		}
		return core.LinkBase{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if p.HasString() && a.pathMap[id] != p.Raw() {
		return core.LinkBase{}, fmt.Errorf("%w: %q resolves to stored path %q", ErrPathCollision, p.Raw(), a.pathMap[id])
	}

	obj, iface, deps, err := a.load(dc, id, a.table[idx])
	if err != nil {
		return core.LinkBase{}, err
	}

	// 11. 静态类进入缓存，嵌套持有归缓存条目
	path := a.pathOf(id)
	if iface.Static {
		e := &staticEntry{obj: obj, ref: &core.Ref{}, class: iface.Name, deps: deps}
		a.static[id] = e
		e.ref.Acquire()
		return core.SharedLink(path, obj, e.ref).WithResolver(a), nil
	}

	// 12. 返回句柄
	return core.BoundLink(path, obj).Holding(deps).WithResolver(a), nil
}

// load 执行构造 + 读取 + 反序列化，失败时不修改任何索引
// 返回的 deps 是解码期间经由嵌套链接获得的静态引用
func (a *Archive) load(dc *core.DecodeContext, id types.ObjectID, entry TableEntry) (core.Object, *core.Interface, core.Deps, error) {
	path := a.pathOf(id)

	// 4. 类注册
	iface, ok := a.registry.Lookup(entry.Class)
	if !ok {
		return nil, nil, core.Deps{}, fmt.Errorf("%w: class %s for %s", ErrMissingInterface, entry.Class, path)
	}

	// 与调用方 (可能是链中的另一个归档) 共享环检测和深度
	dc = dc.For(a, a.registry, a.chained)
	if err := dc.Enter(id); err != nil {
		return nil, nil, core.Deps{}, fmt.Errorf("load %s: %w", path, err)
	}
	obj, err := a.decode(dc, path.String(), iface, entry)
	deps := dc.Leave(id)
	if err != nil {
		deps.Release()
		return nil, nil, core.Deps{}, err
	}
	return obj, iface, deps, nil
}

func (a *Archive) decode(dc *core.DecodeContext, path string, iface *core.Interface, entry TableEntry) (core.Object, error) {
	// 5. 空实例
	obj := iface.New()

	// 6. 缓冲区
	buf, release := a.pool.get(int(entry.Length))
	defer release()

	// 7. 读取数据
	if _, err := a.f.ReadAt(buf, int64(entry.Offset)); err != nil {
		return nil, corrupt("Object data.", fmt.Errorf("%s: %w", path, err))
	}

	// 8. 反序列化
	r := core.NewReader(buf, dc)
	if err := obj.Deserialize(r); err != nil {
		if errors.Is(err, core.ErrUnderflow) {
			return nil, corrupt(fmt.Sprintf("Deserialize %s.", iface.Name), fmt.Errorf("%s: %w", path, err))
		}
		return nil, fmt.Errorf("deserialize %s (%s): %w", path, iface.Name, err)
	}

	// 9. 必须恰好消费完
	if err := r.Finish(); err != nil {
		if errors.Is(err, core.ErrUnderflow) || errors.Is(err, core.ErrOverflow) {
			return nil, corrupt(fmt.Sprintf("Deserialize %s.", iface.Name), fmt.Errorf("%s: %w", path, err))
		}
		return nil, fmt.Errorf("deserialize %s (%s): %w", path, iface.Name, err)
	}

	// 10. chained 模式的构造后钩子
	if a.chained {
		if pc, ok := obj.(core.PostCreator); ok {
			if err := pc.PostCreate(); err != nil {
				return nil, fmt.Errorf("post-create %s (%s): %w", path, iface.Name, err)
			}
		}
	}
	return obj, nil
}
