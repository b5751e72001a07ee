package core

import (
	"errors"
	"fmt"

	"rawdat/pkg/types"
)

// MaxLinkDepth 限制 chained 模式下嵌套解析的深度 (跨归档累计)
const MaxLinkDepth = 64

var (
	ErrCyclicLink = errors.New("cyclic link")
	ErrLinkDepth  = errors.New("link nesting too deep")
	ErrUnresolved = errors.New("link has no resolver")
)

// Resolver 能把一个 Path 解析为已加载的对象 (通常就是归档本身)
// dc 为 nil 表示一次全新的顶层加载
type Resolver interface {
	Resolve(dc *DecodeContext, p types.Path) (LinkBase, error)
}

// DecodeContext 是一次反序列化调用链的显式上下文
// 它取代了全局的“默认归档”指针：谁在反序列化、是否 chained、递归有多深
//
// Resolver/Registry/Chained 描述当前正在解码的归档；
// 正在加载的 id 集合和深度由 For 派生出的所有上下文共享，
// 所以经由 Manager 跨归档的环同样会被发现。
type DecodeContext struct {
	Resolver Resolver
	Registry *Registry
	Chained  bool

	shared *decodeState
}

type activeKey struct {
	owner Resolver
	id    types.ObjectID
}

type decodeState struct {
	depth  int
	active map[activeKey]struct{}
	// 每个正在加载的对象一帧，收集解码期间获得的持有
	frames [][]*holdState
}

func (dc *DecodeContext) state() *decodeState {
	if dc.shared == nil {
		dc.shared = &decodeState{active: make(map[activeKey]struct{})}
	}
	return dc.shared
}

// For 派生一个在 r 中解码的上下文，与 dc 共享环检测和深度
// dc 为 nil 时开始一次新的加载
func (dc *DecodeContext) For(r Resolver, reg *Registry, chained bool) *DecodeContext {
	next := &DecodeContext{Resolver: r, Registry: reg, Chained: chained}
	if dc != nil {
		next.shared = dc.state()
	}
	return next
}

// Depth 返回当前嵌套深度 (顶层对象为 1)
func (dc *DecodeContext) Depth() int {
	if dc.shared == nil {
		return 0
	}
	return dc.shared.depth
}

// Enter 标记开始在当前 Resolver 中加载 id；检测环和深度
func (dc *DecodeContext) Enter(id types.ObjectID) error {
	st := dc.state()
	key := activeKey{owner: dc.Resolver, id: id}
	if _, ok := st.active[key]; ok {
		return fmt.Errorf("%w: %s is already being loaded", ErrCyclicLink, id)
	}
	if st.depth >= MaxLinkDepth {
		return fmt.Errorf("%w: %d", ErrLinkDepth, st.depth)
	}
	st.active[key] = struct{}{}
	st.depth++
	st.frames = append(st.frames, nil)
	return nil
}

// Leave 与 Enter 配对，返回该对象解码期间收集到的持有
// 成功时它们归属于新对象的句柄；失败时调用方应 Release
func (dc *DecodeContext) Leave(id types.ObjectID) Deps {
	st := dc.state()
	delete(st.active, activeKey{owner: dc.Resolver, id: id})
	st.depth--

	var deps Deps
	if n := len(st.frames); n > 0 {
		deps = Deps{states: st.frames[n-1]}
		st.frames = st.frames[:n-1]
	}
	return deps
}

// adopt 把嵌套链接的持有记到当前正在加载的对象上
func (dc *DecodeContext) adopt(l LinkBase) {
	if l.hold == nil || dc.shared == nil {
		return
	}
	st := dc.shared
	if n := len(st.frames); n > 0 {
		st.frames[n-1] = append(st.frames[n-1], l.hold.st)
	}
}
