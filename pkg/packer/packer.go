// Package packer builds RAWDAT archives from a directory of YAML manifests.
//
// Every *.yaml / *.yml file may hold several documents, each describing one
// object:
//
//	path: items.alpha
//	class: sample.Leaf
//	fields:
//	  value: 1
//	  label: alpha
//
// When path is omitted it is derived from the file location, so
// "items/alpha.yaml" becomes "items.alpha". Files matched by the .rawignore
// rules are skipped. Other files are packed as raw blobs when WithRawBlobs is
// set.
package packer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"rawdat/pkg/archive"
	"rawdat/pkg/core"
	"rawdat/pkg/ignore"
	"rawdat/pkg/sample"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownClass = errors.New("no manifest decoder for class")
	ErrBadManifest  = errors.New("bad manifest")
)

// Manifest 是一个已解析、尚未转换为对象的清单文档
type Manifest struct {
	Path   string
	Class  string
	Source string // 相对于源目录的文件路径
	Line   int
	Raw    bool // 原始文件，整个文件内容即 Blob 数据
	Fields yaml.Node
}

type document struct {
	Path   string    `yaml:"path"`
	Class  string    `yaml:"class"`
	Fields yaml.Node `yaml:"fields"`
}

// Result 汇总一次打包
type Result struct {
	Out     string
	Objects int
	Files   int
	Skipped []string // 被忽略规则跳过的文件
	Classes map[string]int
}

type Option func(*Packer)

func WithLogger(l *slog.Logger) Option {
	return func(p *Packer) { p.log = l }
}

// WithRawBlobs 把非 YAML 文件作为 sample.Blob 打包
func WithRawBlobs(on bool) Option {
	return func(p *Packer) { p.rawBlobs = on }
}

// WithExcludes 追加忽略规则 (gitignore 语法)，优先级低于源目录中的 .rawignore
func WithExcludes(patterns ...string) Option {
	return func(p *Packer) { p.excludes = append(p.excludes, patterns...) }
}

// WithArchiveOptions 透传给 archive.Create
func WithArchiveOptions(opts ...archive.Option) Option {
	return func(p *Packer) { p.archiveOpts = append(p.archiveOpts, opts...) }
}

type Packer struct {
	decoders    map[string]DecodeFunc
	rawBlobs    bool
	excludes    []string
	archiveOpts []archive.Option
	log         *slog.Logger
}

// New 返回已注册示例类解码器的 Packer
func New(opts ...Option) *Packer {
	p := &Packer{
		decoders: make(map[string]DecodeFunc),
		log:      slog.Default(),
	}
	p.registerSamples()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register 为类名注册 (或替换) 清单解码器
func (p *Packer) Register(class string, fn DecodeFunc) {
	p.decoders[class] = fn
}

// Classes 返回已注册的类名 (有序)
func (p *Packer) Classes() []string {
	names := make([]string, 0, len(p.decoders))
	for name := range p.decoders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Scan 遍历源目录并解析所有清单
// 返回顺序稳定：文件按字典序，同一文件内按文档顺序
func (p *Packer) Scan(ctx context.Context, root string) ([]Manifest, []string, error) {
	matcher, err := ignore.NewMatcher(root, p.excludes...)
	if err != nil {
		return nil, nil, fmt.Errorf("load ignore rules: %w", err)
	}
	p.log.Debug("ignore rules", slog.Any("rules", matcher.Rules()))

	var manifests []Manifest
	var skipped []string

	// WalkDir 按字典序访问，结果天然有序
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher.Matches(rel) {
			skipped = append(skipped, rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || rel == ignore.FileName {
			return nil
		}

		switch {
		case isManifest(rel):
			docs, err := parseFile(path, rel)
			if err != nil {
				return err
			}
			manifests = append(manifests, docs...)
		case p.rawBlobs:
			manifests = append(manifests, Manifest{
				Path:   rawPath(rel),
				Class:  sample.BlobClassName,
				Source: rel,
				Raw:    true,
			})
		default:
			p.log.Debug("not a manifest, skipped", slog.String("file", rel))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return manifests, skipped, nil
}

// Pack 把 root 下的清单写成归档 out
// 任何一个对象失败都会删除未完成的输出文件
func (p *Packer) Pack(ctx context.Context, root, out string) (res *Result, err error) {
	// 1. 先完整解析，避免写出半个归档
	manifests, skipped, err := p.Scan(ctx, root)
	if err != nil {
		return nil, err
	}
	objs := make([]core.Object, len(manifests))
	for i := range manifests {
		if objs[i], err = p.decode(root, &manifests[i]); err != nil {
			return nil, err
		}
	}

	// 2. 写入
	w, err := archive.Create(out, p.archiveOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			w.Close()
			os.Remove(out)
		}
	}()

	res = &Result{Out: out, Skipped: skipped, Classes: make(map[string]int)}
	files := make(map[string]bool)
	for i, m := range manifests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := w.AddObject(objs[i], m.Path); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", m.Source, m.Line, err)
		}
		res.Objects++
		res.Classes[m.Class]++
		files[m.Source] = true
	}
	res.Files = len(files)

	// 3. 写出索引
	if err := w.Finalize(); err != nil {
		return nil, err
	}

	p.log.Info("archive packed",
		slog.String("out", out),
		slog.Int("objects", res.Objects),
		slog.Int("skipped", len(skipped)),
	)
	return res, nil
}

func (p *Packer) decode(root string, m *Manifest) (core.Object, error) {
	// 原始文件：读入字节
	if m.Raw {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(m.Source)))
		if err != nil {
			return nil, err
		}
		return &sample.Blob{Data: data, Meta: map[string]string{"source": m.Source}}, nil
	}

	fn, ok := p.decoders[m.Class]
	if !ok {
		return nil, fmt.Errorf("%s:%d: %w %q", m.Source, m.Line, ErrUnknownClass, m.Class)
	}
	obj, err := fn(&m.Fields)
	if err != nil {
		return nil, fmt.Errorf("%s:%d: %s: %w", m.Source, m.Line, m.Path, err)
	}
	return obj, nil
}

// parseFile 读取一个多文档 YAML 文件
func parseFile(path, rel string) ([]Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)

	var out []Manifest
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrBadManifest, rel, err)
		}
		body := &node
		if body.Kind == yaml.DocumentNode {
			if len(body.Content) == 0 {
				continue
			}
			body = body.Content[0]
		}
		if body.Kind == yaml.ScalarNode && body.Tag == "!!null" {
			continue // 空文档
		}
		if err := checkKeys(body); err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrBadManifest, rel, body.Line, err)
		}

		var doc document
		if err := body.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrBadManifest, rel, body.Line, err)
		}
		if doc.Class == "" {
			return nil, fmt.Errorf("%w: %s:%d: missing class", ErrBadManifest, rel, body.Line)
		}
		if doc.Path == "" {
			doc.Path = manifestPath(rel)
		}
		out = append(out, Manifest{
			Path:   doc.Path,
			Class:  doc.Class,
			Source: rel,
			Line:   body.Line,
			Fields: doc.Fields,
		})
	}
	return out, nil
}

// checkKeys 拒绝未知的顶层键 (通常是拼写错误)
func checkKeys(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		switch k := n.Content[i].Value; k {
		case "path", "class", "fields":
		default:
			return fmt.Errorf("unknown key %q", k)
		}
	}
	return nil
}

func isManifest(rel string) bool {
	ext := strings.ToLower(filepath.Ext(rel))
	return ext == ".yaml" || ext == ".yml"
}

// manifestPath: "items/alpha.yaml" -> "items.alpha"
func manifestPath(rel string) string {
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(rel, "/", ".")
}

// rawPath: "data/logo.png" -> "data.logo_png"
func rawPath(rel string) string {
	dir, base := "", rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		dir, base = rel[:i], rel[i+1:]
	}
	base = strings.ReplaceAll(base, ".", "_")
	if dir == "" {
		return base
	}
	return strings.ReplaceAll(dir, "/", ".") + "." + base
}
