package archive

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"rawdat/pkg/core"
	"rawdat/pkg/types"
)

// Create 创建 (或截断) 一个写模式归档
func Create(name string, opts ...Option) (*Archive, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, ioError("create", name, err)
	}

	a := newArchive(name, ModeWrite, opts)
	a.f = f

	// 文件头：magic + 占位的 table_offset
	header := make([]byte, headerSize)
	copy(header, magic())
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return nil, ioError("write header", name, err)
	}
	a.offset = headerSize

	a.log.Debug("archive created")
	return a, nil
}

// AddObject 序列化对象并记录表项
// 表本身在 Finalize 时才写入。同一路径重复写入会被拒绝 (ErrDuplicatePath)。
func (a *Archive) AddObject(obj core.Object, path string) error {
	// 1. 前置条件
	if a.mode != ModeWrite {
		return ErrReadOnly
	}
	if a.finalized {
		return ErrFinalized
	}
	if err := validatePath(path); err != nil {
		return err
	}

	id := types.NewObjectID(path)
	if _, exists := a.tableMap[id]; exists {
		if prev := a.pathMap[id]; prev != path {
			return fmt.Errorf("%w: %q and %q both hash to %s", ErrPathCollision, prev, path, id)
		}
		return fmt.Errorf("%w: %s", ErrDuplicatePath, path)
	}

	// 2. 序列化
	w := core.NewWriter()
	if err := obj.Serialize(w); err != nil {
		return fmt.Errorf("serialize %s: %w", path, err)
	}
	if err := w.Err(); err != nil {
		return fmt.Errorf("serialize %s: %w", path, err)
	}
	data := w.Data()

	// 3. 偏移必须能放进 u32
	if a.offset+int64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("%w: adding %s", ErrTooLarge, path)
	}

	// 4. 写入数据 (WriteAt 保证失败时不会弄乱后续偏移)
	if _, err := a.f.WriteAt(data, a.offset); err != nil {
		return ioError("write object", a.name, err)
	}

	// 5. 更新内存索引
	a.table = append(a.table, TableEntry{
		Offset: uint32(a.offset),
		Length: uint32(len(data)),
		Class:  obj.ClassID(),
		Path:   id,
	})
	a.tableMap[id] = len(a.table) - 1
	a.paths = append(a.paths, path)
	a.pathMap[id] = path
	a.addChild(path)
	a.offset += int64(len(data))

	a.log.Debug("object added",
		slog.String("path", path),
		slog.Int("size", len(data)),
	)
	return nil
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.IndexByte(path, 0) >= 0 {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidPath, path)
	}
	return nil
}

// addChild 沿点分路径向上挂接，直到遇到已经挂接过的节点或到达根
// "a.b.c" -> children[a.b] += a.b.c, children[a] += a.b, children[root] += a
func (a *Archive) addChild(path string) {
	child := path
	for child != "" {
		cid := types.NewObjectID(child)
		if a.linked[cid] {
			return
		}
		a.linked[cid] = true

		parent := types.ParentPath(child)
		pid := types.NewObjectID(parent)
		if _, ok := a.children[pid]; !ok {
			a.dirs = append(a.dirs, pid)
		}
		a.children[pid] = append(a.children[pid], cid)
		child = parent
	}
}

// Finalize 写出表和 TOC，回填文件头中的 table_offset，然后关闭文件
// 重复调用是空操作
func (a *Archive) Finalize() error {
	if a.mode != ModeWrite {
		return ErrReadOnly
	}
	if a.finalized {
		return nil
	}
	a.finalized = true
	defer func() {
		a.f.Close()
		a.f = nil
	}()

	tableOffset := a.offset
	buf := a.encodeTable()
	if tableOffset+int64(len(buf)) > math.MaxUint32 {
		return fmt.Errorf("%w: table does not fit", ErrTooLarge)
	}

	// 1. 追加表和 TOC
	if _, err := a.f.WriteAt(buf, tableOffset); err != nil {
		return ioError("write table", a.name, err)
	}

	// 2. 回填 table_offset
	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(tableOffset))
	if _, err := a.f.WriteAt(field[:], tableOffsetField); err != nil {
		return ioError("patch header", a.name, err)
	}

	if err := a.f.Sync(); err != nil {
		return ioError("sync", a.name, err)
	}

	a.log.Info("archive finalized",
		slog.Int("objects", len(a.table)),
		slog.Int("dirs", len(a.dirs)),
		slog.Int64("table_offset", tableOffset),
	)
	return nil
}

// encodeTable 编码 object_count + 表项 + TOC
func (a *Archive) encodeTable() []byte {
	buf := make([]byte, 0, 4+len(a.table)*EntrySize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.table)))
	for _, e := range a.table {
		buf = e.appendBinary(buf)
	}

	toc := a.encodeTOC()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(toc)))
	return append(buf, toc...)
}

func (a *Archive) encodeTOC() []byte {
	var toc []byte
	toc = binary.LittleEndian.AppendUint32(toc, uint32(len(a.paths)))
	toc = binary.LittleEndian.AppendUint32(toc, uint32(len(a.dirs)))
	for _, dir := range a.dirs {
		kids := a.children[dir]
		toc = dir.AppendBinary(toc)
		toc = binary.LittleEndian.AppendUint32(toc, uint32(len(kids)))
		for _, kid := range kids {
			toc = kid.AppendBinary(toc)
		}
	}
	for _, p := range a.paths {
		toc = append(toc, p...)
		toc = append(toc, 0)
	}
	return toc
}
