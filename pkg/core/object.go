package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rawdat/pkg/types"
)

var (
	ErrMissingInterface = errors.New("missing interface")
	ErrDuplicateClass   = errors.New("class already registered")
)

// Object 是所有可归档对象的通用接口
// 字段级别的序列化完全由对象自己实现，归档层只负责定位和调度
type Object interface {
	// ClassID 返回对象所属类的哈希 (写入 TableEntry.classhash)
	ClassID() types.ObjectID

	// Serialize 把字段写入 Writer
	Serialize(w *Writer) error

	// Deserialize 从 Reader 读回字段
	// Reader 携带 DecodeContext，嵌套的 Link 会通过它回调归档
	Deserialize(r *Reader) error
}

// PostCreator 是可选的构造后钩子，只在 chained 模式下调用
type PostCreator interface {
	PostCreate() error
}

// ClassID 计算类名对应的哈希
func ClassID(name string) types.ObjectID {
	return types.NewObjectID(name)
}

// Interface 描述一个已注册的类：如何构造空实例，以及是否可共享 (static)
type Interface struct {
	Name   string
	ID     types.ObjectID
	Static bool
	New    func() Object
}

func (i *Interface) String() string {
	return i.Name
}

// Registry 是 classhash -> Interface 的映射
// 通常在 init 阶段注册，之后被多个归档并发读取
type Registry struct {
	mu   sync.RWMutex
	byID map[types.ObjectID]*Interface
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[types.ObjectID]*Interface)}
}

// Register 注册一个类
// static=true 表示该类的实例不可变，可以在多次加载之间共享
func (r *Registry) Register(name string, static bool, fn func() Object) (*Interface, error) {
	iface := &Interface{
		Name:   name,
		ID:     ClassID(name),
		Static: static,
		New:    fn,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[iface.ID]; ok {
		return nil, fmt.Errorf("%w: %s (id %s, held by %s)", ErrDuplicateClass, name, iface.ID, prev.Name)
	}
	r.byID[iface.ID] = iface
	return iface, nil
}

// MustRegister 用于包级初始化，注册失败直接 panic
func (r *Registry) MustRegister(name string, static bool, fn func() Object) *Interface {
	iface, err := r.Register(name, static, fn)
	if err != nil {
		panic(err)
	}
	return iface
}

// Lookup 根据 classhash 查找
func (r *Registry) Lookup(id types.ObjectID) (*Interface, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.byID[id]
	return iface, ok
}

// ClassName 返回可读类名，未知时返回十六进制 id
func (r *Registry) ClassName(id types.ObjectID) string {
	if iface, ok := r.Lookup(id); ok {
		return iface.Name
	}
	return id.String()
}

// Names 列出所有已注册的类名 (排序后)
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byID))
	for _, iface := range r.byID {
		names = append(names, iface.Name)
	}
	sort.Strings(names)
	return names
}

// Create 构造一个空实例
func (r *Registry) Create(id types.ObjectID) (Object, *Interface, error) {
	iface, ok := r.Lookup(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: class %s", ErrMissingInterface, id)
	}
	return iface.New(), iface, nil
}
