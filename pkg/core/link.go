package core

import (
	"errors"
	"fmt"

	"rawdat/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

var ErrObjectTypeMismatch = errors.New("object type mismatch")

// LinkBase 代表对象之间的一条边
// 它可以:
//   - 只绑定内存中的对象 (没有路径，序列化时作为匿名对象内联)
//   - 只绑定路径 (一个“承诺”，首次解引用时通过 resolver 加载)
//   - 两者都有
type LinkBase struct {
	path     types.Path
	obj      Object
	resolver Resolver
	ref      *Ref  // 非空表示目标是静态缓存中的对象
	hold     *hold // 该句柄持有的引用 (自己的 ref 以及加载时嵌套获得的)
}

// NewLink 直接绑定一个内存对象
func NewLink(obj Object) LinkBase {
	return LinkBase{obj: obj}
}

// PathLink 只绑定路径，需要 resolver 才能解引用
func PathLink(p types.Path) LinkBase {
	return LinkBase{path: p}
}

// BoundLink 同时绑定路径和对象
func BoundLink(p types.Path, obj Object) LinkBase {
	return LinkBase{path: p, obj: obj}
}

// SharedLink 绑定静态缓存中的对象，调用方已经为它 Acquire 了一次 ref
// 句柄被 Release 或者所有副本都不可达时归还这次引用
func SharedLink(p types.Path, obj Object, ref *Ref) LinkBase {
	return LinkBase{path: p, obj: obj, ref: ref, hold: newHold([]*Ref{ref}, nil)}
}

// Holding 返回接管 deps 的副本：Release 该句柄时一并归还
// 只用于非共享句柄，共享对象的 deps 由缓存条目保管
func (l LinkBase) Holding(deps Deps) LinkBase {
	if l.hold == nil {
		l.hold = newHold(nil, deps.states)
	}
	return l
}

func (l LinkBase) Path() types.Path { return l.path }
func (l LinkBase) Object() Object   { return l.obj }
func (l LinkBase) IsNull() bool     { return l.path.IsNull() && l.obj == nil }
func (l LinkBase) IsResolved() bool { return l.obj != nil }

// IsAnonymous 报告该链接是否为内联的匿名对象
func (l LinkBase) IsAnonymous() bool { return l.path.IsNull() && l.obj != nil }

// IsShared 报告该链接是否持有静态缓存的引用
func (l LinkBase) IsShared() bool { return l.ref != nil }

// WithResolver 返回绑定了 resolver 的副本
func (l LinkBase) WithResolver(r Resolver) LinkBase {
	l.resolver = r
	return l
}

// Resolve 在需要时加载目标对象 (惰性绑定)
func (l *LinkBase) Resolve() error {
	if l.obj != nil || l.path.IsNull() {
		return nil
	}
	if l.resolver == nil {
		return fmt.Errorf("%w: %s", ErrUnresolved, l.path)
	}
	got, err := l.resolver.Resolve(nil, l.path)
	if err != nil {
		return err
	}
	l.obj = got.obj
	l.ref = got.ref
	l.hold = got.hold
	return nil
}

// Release 放弃该句柄对静态对象的引用 (包括加载时经由嵌套链接获得的)，
// 之后 CleanStatic 才能回收它们。对象本身仍可访问。
// 没有显式 Release 的句柄在不可达后由 GC 归还引用。
func (l *LinkBase) Release() {
	if l.hold != nil {
		l.hold.st.release()
		l.hold = nil
	}
	l.ref = nil
}

const linkTagNumber = 42

// MarshalCBOR 用于清单导出：Tag 42, Content = [0x00, id...]
// 只编码路径，匿名对象没有可引用的身份
func (l LinkBase) MarshalCBOR() ([]byte, error) {
	if l.path.IsNull() {
		if l.obj != nil {
			return nil, fmt.Errorf("cannot encode anonymous link as cbor reference")
		}
		return em.Marshal(nil)
	}
	content := append([]byte{0x00}, l.path.ID().AppendBinary(nil)...)
	return em.Marshal(cbor.Tag{
		Number:  linkTagNumber,
		Content: content,
	})
}

// UnmarshalCBOR 实现自定义反序列化逻辑
func (l *LinkBase) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := dm.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*l = LinkBase{}
		return nil
	}

	tag, ok := raw.(cbor.Tag)
	if !ok {
		return fmt.Errorf("link must be a cbor tag, got %T", raw)
	}
	// 1. 校验 Tag Number
	if tag.Number != linkTagNumber {
		return fmt.Errorf("expected tag 42 for Link, got %d", tag.Number)
	}
	// 2. 获取内容字节
	bytes, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("link content must be byte string")
	}
	// 3. 严格校验前缀和长度
	if len(bytes) != 1+types.ObjectIDSize {
		return fmt.Errorf("invalid link: content length %d", len(bytes))
	}
	if bytes[0] != 0x00 {
		return fmt.Errorf("invalid link: missing 0x00 prefix")
	}

	*l = LinkBase{path: types.PathFromID(types.ReadObjectID(bytes[1:]))}
	return nil
}

// Link 是带类型的引用
// 从 LinkBase 赋值时会做检查过的向下转换，类型不符返回 ErrObjectTypeMismatch
type Link[T Object] struct {
	LinkBase
}

// To 绑定一个已知类型的内存对象
func To[T Object](obj T) Link[T] {
	return Link[T]{LinkBase: NewLink(obj)}
}

// LinkTo 构造一个指向路径的承诺
func LinkTo[T Object](path string) Link[T] {
	return Link[T]{LinkBase: PathLink(types.NewPath(path))}
}

// Cast 把 LinkBase 转换为 Link[T]
// 未解析的链接无法检查，推迟到 Get 时检查
func Cast[T Object](b LinkBase) (Link[T], error) {
	if b.obj != nil {
		if _, ok := b.obj.(T); !ok {
			var zero T
			return Link[T]{}, fmt.Errorf("%w: %s holds %T, want %T", ErrObjectTypeMismatch, b.path, b.obj, zero)
		}
	}
	return Link[T]{LinkBase: b}, nil
}

// Assign 是 Cast 的原地版本，失败时 l 保持不变
func (l *Link[T]) Assign(b LinkBase) error {
	cast, err := Cast[T](b)
	if err != nil {
		return err
	}
	*l = cast
	return nil
}

// Get 解引用；未解析时先通过 resolver 加载
// 空链接返回零值和 nil 错误
func (l *Link[T]) Get() (T, error) {
	var zero T
	if err := l.Resolve(); err != nil {
		return zero, err
	}
	if l.obj == nil {
		return zero, nil
	}
	v, ok := l.obj.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T, want %T", ErrObjectTypeMismatch, l.path, l.obj, zero)
	}
	return v, nil
}

// MustGet 用于测试和已知安全的场景
func (l *Link[T]) MustGet() T {
	v, err := l.Get()
	if err != nil {
		panic(err)
	}
	return v
}
