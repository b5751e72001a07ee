package core

import (
	"runtime"
	"sync/atomic"
)

// Ref 是静态对象缓存的引用计数
// 缓存自身不计数；计数为 0 表示除缓存之外已没有持有者
type Ref struct {
	n atomic.Int32
}

func (r *Ref) Acquire() { r.n.Add(1) }

func (r *Ref) Release() {
	if r.n.Add(-1) < 0 {
		r.n.Store(0)
	}
}

// Count 返回外部持有者数量
func (r *Ref) Count() int32 { return r.n.Load() }

// hold 是一个句柄 (及其全部副本) 对静态引用的持有
// 显式 Release 或者所有副本都不可达之后，引用被归还；两者只生效一次
type hold struct {
	st *holdState
}

// holdState 不引用 hold 本身，GC 回收 hold 时作为清理参数使用
type holdState struct {
	refs     []*Ref
	deps     []*holdState
	released atomic.Bool
}

func (s *holdState) release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	for _, r := range s.refs {
		r.Release()
	}
	for _, d := range s.deps {
		d.release()
	}
}

func newHold(refs []*Ref, deps []*holdState) *hold {
	if len(refs) == 0 && len(deps) == 0 {
		return nil
	}
	h := &hold{st: &holdState{refs: refs, deps: deps}}
	runtime.AddCleanup(h, (*holdState).release, h.st)
	return h
}

// Deps 是加载一个对象时通过嵌套链接获得的持有
// 交给对象的句柄 (LinkBase.Holding) 或者由静态缓存条目保管
type Deps struct {
	states []*holdState
}

// Len 返回持有数量
func (d Deps) Len() int { return len(d.states) }

// Release 归还全部持有，可重复调用
func (d Deps) Release() {
	for _, s := range d.states {
		s.release()
	}
}
