// Package archive implements the RAWDAT object archive: a single binary file
// holding serialized objects indexed by hashed dotted paths, with a lookup
// table and a path table of contents appended at finalize time.
//
// An archive is opened either for writing (Create) or for reading (Open) and
// never switches mode. Readers parse the whole index eagerly and decode
// object payloads lazily, one GetObject call at a time. An Archive is not
// safe for concurrent use; give each goroutine its own read handle.
package archive

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"rawdat/pkg/core"
	"rawdat/pkg/types"
)

// Mode 在打开时确定，之后不再改变
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Manager 是本地表未命中时的兜底查找 (例如多个归档组成的链)
// from 是发起查找的归档，便于管理器跳过它；
// dc 是当前的解码上下文 (顶层查找为 nil)，必须原样交给目标归档的 Resolve，
// 否则跨归档的环和深度无法被发现
type Manager interface {
	GetObject(dc *core.DecodeContext, p types.Path, pathStr string, from *Archive) (core.LinkBase, error)
}

type options struct {
	registry    *core.Registry
	chained     bool
	poolBuffers int
	bufferSize  int
	logger      *slog.Logger
}

// Option 用于配置 Open/Create
type Option func(*options)

// WithRegistry 指定类注册表 (读取时必需)
func WithRegistry(r *core.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithChained 开启 chained 模式：嵌套链接立即解析，并调用 PostCreate
func WithChained(chained bool) Option {
	return func(o *options) { o.chained = chained }
}

// WithBufferPool 配置解码缓冲池
func WithBufferPool(buffers, size int) Option {
	return func(o *options) {
		o.poolBuffers = buffers
		o.bufferSize = size
	}
}

// WithLogger 指定日志输出，默认 slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Archive 是一个打开的 RAWDAT 文件
type Archive struct {
	name      string
	mode      Mode
	f         *os.File
	finalized bool
	chained   bool
	registry  *core.Registry
	log       *slog.Logger

	// 写入位置 (仅写模式)
	offset int64

	table    []TableEntry
	tableMap map[types.ObjectID]int

	// 层级索引：父 -> 子 (按首次出现顺序)；dirs 记录父节点的插入顺序
	children map[types.ObjectID][]types.ObjectID
	dirs     []types.ObjectID
	linked   map[types.ObjectID]bool

	paths   []string
	pathMap map[types.ObjectID]string

	pool    *bufferPool
	static  map[types.ObjectID]*staticEntry
	manager Manager
}

func newArchive(name string, mode Mode, opts []Option) *Archive {
	o := options{
		poolBuffers: DefaultPoolBuffers,
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = core.NewRegistry()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Archive{
		name:     name,
		mode:     mode,
		chained:  o.chained,
		registry: o.registry,
		log:      o.logger.With(slog.String("archive", name), slog.String("mode", mode.String())),
		tableMap: make(map[types.ObjectID]int),
		children: make(map[types.ObjectID][]types.ObjectID),
		linked:   make(map[types.ObjectID]bool),
		pathMap:  make(map[types.ObjectID]string),
		pool:     newBufferPool(o.poolBuffers, o.bufferSize),
		static:   make(map[types.ObjectID]*staticEntry),
	}
}

// OpenMode 以指定模式打开归档
func OpenMode(name string, mode Mode, opts ...Option) (*Archive, error) {
	if mode == ModeWrite {
		return Create(name, opts...)
	}
	return Open(name, opts...)
}

// Name 返回文件名
func (a *Archive) Name() string { return a.name }

// IsWrite 报告归档是否以写模式打开
func (a *Archive) IsWrite() bool { return a.mode == ModeWrite }

// IsFinalized 报告写模式归档是否已经写出查找表
func (a *Archive) IsFinalized() bool { return a.finalized }

// IsChained 报告读取时是否立即解析嵌套链接
func (a *Archive) IsChained() bool { return a.chained }

// Registry 返回归档使用的类注册表
func (a *Archive) Registry() *core.Registry { return a.registry }

// SetManager 挂接 (或用 nil 摘除) 兜底管理器，同一时间最多一个
func (a *Archive) SetManager(m Manager) { a.manager = m }

// Len 返回对象数量
func (a *Archive) Len() int { return len(a.table) }

// HasObject 报告路径是否在本地表中
func (a *Archive) HasObject(path string) bool {
	return a.HasID(types.NewObjectID(path))
}

// HasID 报告查找表中是否有该 id，不触发加载
func (a *Archive) HasID(id types.ObjectID) bool {
	_, ok := a.tableMap[id]
	return ok
}

// Entry 返回 id 对应的表项
func (a *Archive) Entry(id types.ObjectID) (TableEntry, bool) {
	idx, ok := a.tableMap[id]
	if !ok {
		return TableEntry{}, false
	}
	return a.table[idx], true
}

// Entries 返回表项副本 (写入顺序)
func (a *Archive) Entries() []TableEntry {
	return slices.Clone(a.table)
}

// Children 返回点分路径的直接子节点
func (a *Archive) Children(path string) []types.ObjectID {
	return a.ChildrenOf(types.NewObjectID(path))
}

// ChildrenOf 是 Children 的 id 版本
func (a *Archive) ChildrenOf(id types.ObjectID) []types.ObjectID {
	return slices.Clone(a.children[id])
}

// Directories 返回所有父节点 (插入顺序)
func (a *Archive) Directories() []types.ObjectID {
	return slices.Clone(a.dirs)
}

// PathString 返回可读路径；未知 id 返回空字符串
func (a *Archive) PathString(id types.ObjectID) string {
	return a.pathMap[id]
}

// AllObjects 按写入顺序列出所有对象 id
func (a *Archive) AllObjects() []types.ObjectID {
	out := make([]types.ObjectID, len(a.table))
	for i, e := range a.table {
		out[i] = e.Path
	}
	return out
}

// AllPathStrings 按写入顺序列出所有路径
func (a *Archive) AllPathStrings() []string {
	return slices.Clone(a.paths)
}

// ClassName 借助注册表渲染类名
func (a *Archive) ClassName(id types.ObjectID) string {
	return a.registry.ClassName(id)
}

// PoolStats 返回缓冲池统计
func (a *Archive) PoolStats() PoolStats {
	return PoolStats{
		Buffers:    len(a.pool.slots),
		BufferSize: a.pool.size,
		Hits:       a.pool.hits,
		Misses:     a.pool.misses,
		InUse:      a.pool.inUse(),
	}
}

// Close 写模式下等价于 Finalize；读模式下释放文件句柄和静态缓存
func (a *Archive) Close() error {
	if a.mode == ModeWrite {
		return a.Finalize()
	}
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	for _, e := range a.static {
		e.deps.Release()
	}
	clear(a.static)
	if err != nil {
		return ioError("close", a.name, err)
	}
	return nil
}

// pathOf 构造带可读字符串的 Path (用于返回给调用方和错误信息)
func (a *Archive) pathOf(id types.ObjectID) types.Path {
	if s, ok := a.pathMap[id]; ok {
		return types.NewPath(s)
	}
	return types.PathFromID(id)
}

func (a *Archive) String() string {
	return fmt.Sprintf("archive(%s, %s, %d objects)", a.name, a.mode, len(a.table))
}
