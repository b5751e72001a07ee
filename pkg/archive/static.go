package archive

import (
	"log/slog"

	"rawdat/pkg/core"
)

// staticEntry 是静态缓存中的一个共享对象
type staticEntry struct {
	obj   core.Object
	ref   *core.Ref
	class string
	// 加载该对象时经由嵌套链接获得的持有，回收时归还
	deps core.Deps
}

// CleanStatic 回收所有只剩缓存自己持有的静态对象，返回回收数量
// 仍被外部 Link 持有的对象保留，下一次 GetObject 可以立即命中。
// 被丢弃但没有 Release 的句柄要等 GC 之后才算归还。
// 这是一次显式的清扫，由调用方决定时机 (例如两个加载阶段之间)。
func (a *Archive) CleanStatic() int {
	evicted := 0
	for id, e := range a.static {
		if e.ref.Count() > 0 {
			continue
		}
		delete(a.static, id)
		e.deps.Release()
		evicted++
	}
	if evicted > 0 {
		a.log.Debug("static cache cleaned",
			slog.Int("evicted", evicted),
			slog.Int("remaining", len(a.static)),
		)
	}
	return evicted
}

// StaticCount 返回当前缓存中的静态对象数量
func (a *Archive) StaticCount() int { return len(a.static) }
