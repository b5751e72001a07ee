// Package verify loads every object of an archive and reports the ones that
// fail to decode.
//
// Archives are not safe for concurrent use, so each worker opens its own
// read handle on the same file and works through a slice of the table.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"rawdat/pkg/archive"
	"rawdat/pkg/core"
	"rawdat/pkg/types"

	"golang.org/x/sync/errgroup"
)

// Failure 描述一个无法加载的对象
type Failure struct {
	Path  string
	ID    types.ObjectID
	Class string
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s (%s): %v", f.Path, f.Class, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report 是一次校验的结果；Failures 按路径排序
type Report struct {
	Archive  string
	Objects  int
	Verified int
	Failures []Failure
}

// OK 报告是否所有对象都通过
func (r *Report) OK() bool { return len(r.Failures) == 0 }

// Err 把全部失败合并为一个 error；全部通过时返回 nil
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return fmt.Errorf("%s: %d of %d objects failed: %w", r.Archive, len(r.Failures), r.Objects, errors.Join(errs...))
}

type options struct {
	workers     int
	roundTrip   bool
	archiveOpts []archive.Option
	log         *slog.Logger
}

type Option func(*options)

// WithWorkers 设置并发的读句柄数量 (默认 GOMAXPROCS)
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRoundTrip 额外检查重新序列化后的长度与表项一致
func WithRoundTrip(on bool) Option {
	return func(o *options) { o.roundTrip = on }
}

// WithArchiveOptions 透传给每个 archive.Open (必须包含注册表)
func WithArchiveOptions(opts ...archive.Option) Option {
	return func(o *options) { o.archiveOpts = append(o.archiveOpts, opts...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Archive 校验一个归档文件
// 返回的 error 只表示校验本身无法进行 (打不开文件、ctx 取消)；
// 对象级的问题记录在 Report.Failures 中
func Archive(ctx context.Context, name string, opts ...Option) (*Report, error) {
	o := options{workers: runtime.GOMAXPROCS(0), log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	// 1. 读索引，拿到全部表项
	index, err := archive.Open(name, o.archiveOpts...)
	if err != nil {
		return nil, err
	}
	entries := index.Entries()
	paths := make([]string, len(entries))
	classes := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = index.PathString(e.Path)
		classes[i] = index.ClassName(e.Class)
	}
	index.Close()

	report := &Report{Archive: name, Objects: len(entries)}
	if len(entries) == 0 {
		return report, nil
	}

	// 2. 分片：每个 worker 一个连续区间
	workers := max(1, min(o.workers, len(entries)))
	per := (len(entries) + workers - 1) / workers
	results := make([][]Failure, workers)
	verified := make([]int, workers)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo, hi := w*per, min((w+1)*per, len(entries))
		if lo >= hi {
			break
		}
		g.Go(func() error {
			r, err := archive.Open(name, o.archiveOpts...)
			if err != nil {
				return err
			}
			defer r.Close()

			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := check(r, entries[i], o.roundTrip); err != nil {
					results[w] = append(results[w], Failure{
						Path:  paths[i],
						ID:    entries[i].Path,
						Class: classes[i],
						Err:   err,
					})
					continue
				}
				verified[w]++

				// 长时间运行时释放不再需要的静态对象
				r.CleanStatic()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 3. 汇总
	for w := range results {
		report.Verified += verified[w]
		report.Failures = append(report.Failures, results[w]...)
	}
	slices.SortFunc(report.Failures, func(a, b Failure) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})

	o.log.Info("archive verified",
		slog.String("archive", name),
		slog.Int("objects", report.Objects),
		slog.Int("failures", len(report.Failures)),
	)
	return report, nil
}

func check(r *archive.Archive, e archive.TableEntry, roundTrip bool) error {
	l, err := r.GetObjectByID(e.Path)
	if err != nil {
		return err
	}
	defer l.Release()

	if !roundTrip {
		return nil
	}
	w := core.NewWriter()
	if err := l.Object().Serialize(w); err != nil {
		return fmt.Errorf("re-serialize: %w", err)
	}
	if w.Len() != int(e.Length) {
		return fmt.Errorf("re-serialized to %d bytes, stored %d", w.Len(), e.Length)
	}
	return nil
}
