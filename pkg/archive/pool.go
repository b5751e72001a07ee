package archive

const (
	DefaultPoolBuffers = 10
	DefaultBufferSize  = 4096
)

// bufferPool 是一小组可复用的解码缓冲区
// 纯粹的性能优化：大量小对象循环加载时避免反复分配。
// 嵌套加载 (chained 模式) 会同时占用多个槽位，所以用 busy 标记而不是单个缓冲。
type bufferPool struct {
	size  int
	slots [][]byte
	busy  []bool

	hits   int
	misses int
}

func newBufferPool(n, size int) *bufferPool {
	if n < 0 {
		n = 0
	}
	return &bufferPool{
		size:  size,
		slots: make([][]byte, n),
		busy:  make([]bool, n),
	}
}

// get 返回长度为 n 的缓冲区和归还函数
// 超过槽位大小或槽位耗尽时临时分配，归还后由 GC 回收
func (p *bufferPool) get(n int) ([]byte, func()) {
	if n <= p.size {
		for i := range p.slots {
			if p.busy[i] {
				continue
			}
			if p.slots[i] == nil {
				p.slots[i] = make([]byte, p.size)
			}
			p.busy[i] = true
			p.hits++
			return p.slots[i][:n], func() { p.busy[i] = false }
		}
	}
	p.misses++
	return make([]byte, n), func() {}
}

func (p *bufferPool) inUse() int {
	n := 0
	for _, b := range p.busy {
		if b {
			n++
		}
	}
	return n
}

// PoolStats 报告缓冲池的使用情况 (诊断用)
type PoolStats struct {
	Buffers    int
	BufferSize int
	Hits       int
	Misses     int
	InUse      int
}
