// Package exporter turns an opened archive back into portable forms: a YAML
// manifest stream the packer can rebuild from, a CBOR or JSON index of the
// lookup table and hierarchy, and human readable listings.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"rawdat/pkg/archive"
	"rawdat/pkg/core"
	"rawdat/pkg/types"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrNoEncoder     = errors.New("no manifest encoder for class")
	ErrUnnamedLink   = errors.New("link target has no path in this archive")
)

// EncodeFunc 把对象转换为清单中的 fields 值
type EncodeFunc func(e *Exporter, obj core.Object) (any, error)

type Exporter struct {
	a        *archive.Archive
	names    map[types.ObjectID]string
	encoders map[string]EncodeFunc
	log      *slog.Logger
}

// New 包装一个读模式归档
func New(a *archive.Archive) *Exporter {
	e := &Exporter{
		a:        a,
		names:    make(map[types.ObjectID]string),
		encoders: make(map[string]EncodeFunc),
		log:      slog.Default(),
	}

	e.Learn(a)
	e.names[types.RootID] = ""

	e.registerSamples()
	return e
}

// Learn 记录另一个归档的路径名，跨归档链接导出时才能写成路径
func (e *Exporter) Learn(a *archive.Archive) {
	// 对象路径及其全部祖先 (中间目录只以哈希形式存储)
	for _, p := range a.AllPathStrings() {
		if _, ok := e.names[types.NewObjectID(p)]; !ok {
			e.names[types.NewObjectID(p)] = p
		}
		for _, anc := range types.Ancestors(p) {
			e.names[types.NewObjectID(anc)] = anc
		}
	}
}

// Register 为类名注册 (或替换) 清单编码器
func (e *Exporter) Register(class string, fn EncodeFunc) {
	e.encoders[class] = fn
}

// Name 返回 id 的可读路径；未知时返回十六进制 id
func (e *Exporter) Name(id types.ObjectID) string {
	if s, ok := e.names[id]; ok {
		return s
	}
	return id.String()
}

// LinkName 返回链接目标的路径
// 空链接返回 ""；匿名链接或未知目标返回 ErrUnnamedLink
func (e *Exporter) LinkName(l core.LinkBase) (string, error) {
	if l.IsNull() {
		return "", nil
	}
	p := l.Path()
	if p.IsNull() {
		return "", fmt.Errorf("%w: anonymous object", ErrUnnamedLink)
	}
	if p.HasString() {
		return p.Raw(), nil
	}
	if s, ok := e.names[p.ID()]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnnamedLink, p.ID())
}

type document struct {
	Path   string `yaml:"path"`
	Class  string `yaml:"class"`
	Fields any    `yaml:"fields,omitempty"`
}

// ExportYAML 以多文档 YAML 写出全部对象 (表顺序)
// 输出可以直接交给 packer 重建等价的归档
func (e *Exporter) ExportYAML(ctx context.Context, w io.Writer) (int, error) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	n := 0
	for _, entry := range e.a.Entries() {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		class := e.a.ClassName(entry.Class)
		path := e.a.PathString(entry.Path)

		// 用匿名函数限定 Release 的作用域
		err := func() error {
			l, err := e.a.GetObjectByID(entry.Path)
			if err != nil {
				return err
			}
			defer l.Release()

			fn, ok := e.encoders[class]
			if !ok {
				return fmt.Errorf("%w %q", ErrNoEncoder, class)
			}
			fields, err := fn(e, l.Object())
			if err != nil {
				return err
			}
			return enc.Encode(document{Path: path, Class: class, Fields: fields})
		}()
		if err != nil {
			return n, fmt.Errorf("export %s: %w", path, err)
		}
		n++
	}

	e.a.CleanStatic()
	if err := enc.Close(); err != nil {
		return n, err
	}
	e.log.Debug("manifest exported", slog.String("archive", e.a.Name()), slog.Int("objects", n))
	return n, nil
}

// Index 是查找表和层级结构的可移植快照
type Index struct {
	Archive     string       `json:"archive" cbor:"1,keyasint"`
	Objects     []IndexEntry `json:"objects" cbor:"2,keyasint"`
	Directories []IndexDir   `json:"directories" cbor:"3,keyasint"`
}

type IndexEntry struct {
	Path   string `json:"path" cbor:"1,keyasint"`
	ID     string `json:"id" cbor:"2,keyasint"`
	Class  string `json:"class" cbor:"3,keyasint"`
	Offset uint32 `json:"offset" cbor:"4,keyasint"`
	Length uint32 `json:"length" cbor:"5,keyasint"`

	// 只出现在 CBOR 中：tag 42 链接，解码后是一个惰性路径链接
	Link core.LinkBase `json:"-" cbor:"6,keyasint"`
}

type IndexDir struct {
	Path     string   `json:"path" cbor:"1,keyasint"`
	ID       string   `json:"id" cbor:"2,keyasint"`
	Children []string `json:"children" cbor:"3,keyasint"`
}

// BuildIndex 收集表项与目录 (不加载任何对象)
func (e *Exporter) BuildIndex() *Index {
	idx := &Index{Archive: e.a.Name()}
	for _, entry := range e.a.Entries() {
		path := e.a.PathString(entry.Path)
		idx.Objects = append(idx.Objects, IndexEntry{
			Path:   path,
			ID:     entry.Path.String(),
			Class:  e.a.ClassName(entry.Class),
			Offset: entry.Offset,
			Length: entry.Length,
			Link:   core.PathLink(types.NewPath(path)),
		})
	}
	for _, dir := range e.a.Directories() {
		d := IndexDir{Path: e.Name(dir), ID: dir.String()}
		for _, kid := range e.a.ChildrenOf(dir) {
			d.Children = append(d.Children, e.Name(kid))
		}
		idx.Directories = append(idx.Directories, d)
	}
	return idx
}

// WriteIndex 以 "json" 或 "cbor" 写出索引
func (e *Exporter) WriteIndex(w io.Writer, format string) error {
	idx := e.BuildIndex()
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(idx)
	case "cbor":
		data, err := core.EncodeValue(idx)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ReadIndex 解码 WriteIndex(..., "cbor") 的输出
func ReadIndex(data []byte) (*Index, error) {
	var idx Index
	if err := core.DecodeValue(data, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}
