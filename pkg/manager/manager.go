// Package manager 把多个只读归档串成一条查找链
// 任何成员归档本地未命中的路径，都会在其余成员中继续查找。
package manager

import (
	"errors"
	"fmt"
	"log/slog"

	"rawdat/pkg/archive"
	"rawdat/pkg/core"
	"rawdat/pkg/types"
)

var ErrNotMember = errors.New("archive is not a member of the chain")

// Chain 实现 archive.Manager
// 与 Archive 一样不是并发安全的：一个 goroutine 一条链
type Chain struct {
	members []*archive.Archive
	byName  map[string]*archive.Archive
	locator Locator
	log     *slog.Logger
}

var _ archive.Manager = (*Chain)(nil)

type Option func(*Chain)

// WithLocator 记住每个 id 最后在哪个成员中找到
func WithLocator(l Locator) Option {
	return func(c *Chain) { c.locator = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) { c.log = l }
}

func NewChain(opts ...Option) *Chain {
	c := &Chain{
		byName: make(map[string]*archive.Archive),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open 以读模式打开 names 中的每个归档并加入链
// 任意一个失败时关闭已经打开的归档
func Open(names []string, archiveOpts []archive.Option, opts ...Option) (*Chain, error) {
	c := NewChain(opts...)
	for _, name := range names {
		a, err := archive.Open(name, archiveOpts...)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Add(a)
	}
	return c, nil
}

// Add 把归档加入链尾，并把自己挂为它的 Manager
func (c *Chain) Add(a *archive.Archive) {
	c.members = append(c.members, a)
	c.byName[a.Name()] = a
	a.SetManager(c)
}

// Remove 把归档移出链并摘除 Manager
func (c *Chain) Remove(a *archive.Archive) error {
	for i, m := range c.members {
		if m != a {
			continue
		}
		c.members = append(c.members[:i], c.members[i+1:]...)
		delete(c.byName, a.Name())
		a.SetManager(nil)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotMember, a.Name())
}

// Members 返回成员 (加入顺序)
func (c *Chain) Members() []*archive.Archive {
	out := make([]*archive.Archive, len(c.members))
	copy(out, c.members)
	return out
}

// Lookup 从第一个成员开始按可读路径查找
func (c *Chain) Lookup(path string) (core.LinkBase, error) {
	return c.GetObject(nil, types.NewPath(path), path, nil)
}

// GetObject 实现 archive.Manager：跳过发起查找的 from
// dc 原样交给成员，跨归档的环和深度在整条链上累计
func (c *Chain) GetObject(dc *core.DecodeContext, p types.Path, pathStr string, from *archive.Archive) (core.LinkBase, error) {
	id := p.ID()

	// 1. Locator 命中时直接去对应成员
	if c.locator != nil {
		name, ok, err := c.locator.Lookup(id)
		if err != nil {
			c.log.Warn("locator lookup failed", slog.String("path", pathStr), slog.String("error", err.Error()))
		} else if ok {
			if m := c.byName[name]; m != nil && m != from && m.HasID(id) {
				return m.Resolve(dc, p)
			}
		}
	}

	// 2. 按顺序扫描成员；HasID 先行判断，成员自己不会再回调链
	for _, m := range c.members {
		if m == from || !m.HasID(id) {
			continue
		}
		l, err := m.Resolve(dc, p)
		if err != nil {
			return core.LinkBase{}, err
		}
		if c.locator != nil {
			if err := c.locator.Remember(id, m.Name()); err != nil {
				c.log.Warn("locator remember failed", slog.String("path", pathStr), slog.String("error", err.Error()))
			}
		}
		c.log.Debug("resolved through chain",
			slog.String("path", pathStr),
			slog.String("archive", m.Name()),
		)
		return l, nil
	}

	return core.LinkBase{}, fmt.Errorf("%w: %s (searched %d archives)", archive.ErrNotFound, p, len(c.members))
}

// Close 关闭全部成员，返回第一个错误
func (c *Chain) Close() error {
	var first error
	for _, m := range c.members {
		m.SetManager(nil)
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.members = nil
	clear(c.byName)
	return first
}
