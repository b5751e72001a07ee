// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"rawdat/pkg/archive"
	"rawdat/pkg/catalog"
	"rawdat/pkg/core"
	"rawdat/pkg/manager"
	"rawdat/pkg/sample"
	"rawdat/pkg/storage"
	"rawdat/pkg/storage/cache"
	"rawdat/pkg/storage/disk"
	"rawdat/pkg/storage/s3"

	"github.com/spf13/viper"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 存储、目录数据库和定位库都是按需初始化的：
// 只读本地归档的命令 (dump/cat) 不需要连接 S3 或打开数据库
type App struct {
	Registry *core.Registry
	Log      *slog.Logger

	store   storage.Store
	catalog *catalog.Repository
	locator manager.Locator

	closers []io.Closer
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	reg := core.NewRegistry()
	if err := sample.Register(reg); err != nil {
		return nil, fmt.Errorf("register classes: %w", err)
	}
	return &App{Registry: reg, Log: log}, nil
}

// ArchiveOptions 把 archive.* 配置转换为打开选项
func (a *App) ArchiveOptions() []archive.Option {
	return []archive.Option{
		archive.WithRegistry(a.Registry),
		archive.WithChained(viper.GetBool("archive.chained")),
		archive.WithBufferPool(viper.GetInt("archive.pool_buffers"), viper.GetInt("archive.buffer_size")),
		archive.WithLogger(a.Log),
	}
}

// Open 以读模式打开本地归档
func (a *App) Open(name string) (*archive.Archive, error) {
	return archive.Open(name, a.ArchiveOptions()...)
}

// OpenChain 打开一组归档并串成链，跨归档链接由定位库加速
func (a *App) OpenChain(names []string) (*manager.Chain, error) {
	loc, err := a.Locator()
	if err != nil {
		return nil, err
	}
	return manager.Open(names, a.ArchiveOptions(), manager.WithLocator(loc), manager.WithLogger(a.Log))
}

// Store 返回 (必要时初始化) 归档存储
func (a *App) Store(ctx context.Context) (storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := initStore(ctx, a.Log)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.store = store
	return store, nil
}

// initStore 根据 storage.type 选择后端，cache.redis_url 非空时套上 Redis 缓存
func initStore(ctx context.Context, log *slog.Logger) (storage.Store, error) {
	var store storage.Store

	storeType := viper.GetString("storage.type")
	switch storeType {
	case "", "disk":
		path := viper.GetString("storage.path")
		if path == "" {
			return nil, fmt.Errorf("storage.path is required for disk storage")
		}
		adapter, err := disk.NewAdapter(path)
		if err != nil {
			return nil, fmt.Errorf("failed to init disk storage: %w", err)
		}
		store = adapter

	case "s3":
		cfg := s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			Prefix:          viper.GetString("storage.s3.prefix"),
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
		}
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("storage.s3.bucket is required for s3 storage")
		}
		adapter, err := s3.NewAdapter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 storage: %w", err)
		}
		store = adapter

	default:
		return nil, fmt.Errorf("unsupported storage type: %q", storeType)
	}

	if url := viper.GetString("cache.redis_url"); url != "" {
		cached, err := cache.NewCachedStore(store, cache.Config{
			RedisURL: url,
			TTL:      viper.GetDuration("cache.ttl"),
			Logger:   log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init redis cache: %w", err)
		}
		store = cached
	}

	log.Debug("storage initialized", slog.String("type", storeType))
	return store, nil
}

// Catalog 返回 (必要时打开) 目录数据库
func (a *App) Catalog(ctx context.Context) (*catalog.Repository, error) {
	if a.catalog != nil {
		return a.catalog, nil
	}

	cfg := catalog.Config{
		Driver: viper.GetString("catalog.driver"),
		DSN:    viper.GetString("catalog.dsn"),
		Debug:  viper.GetString("log.level") == "debug",
	}
	if cfg.Driver == "" || cfg.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
			return nil, err
		}
	}
	db, err := catalog.NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)
	a.catalog = catalog.NewRepository(db)
	return a.catalog, nil
}

// Locator 返回跨归档定位库；manager.locator_path 为空时只在内存中记录
func (a *App) Locator() (manager.Locator, error) {
	if a.locator != nil {
		return a.locator, nil
	}

	path := viper.GetString("manager.locator_path")
	if path == "" {
		a.locator = manager.NewMemoryLocator()
		return a.locator, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	loc, err := manager.OpenLevelLocator(path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, loc)
	a.locator = loc
	return loc, nil
}

// Push 校验本地归档后上传到存储，index 为 true 时同时写入目录
func (a *App) Push(ctx context.Context, file, key string, index bool) (*catalog.ArchiveModel, error) {
	// 1. 只接受能被完整解析的归档
	r, err := a.Open(file)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// 2. 上传
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := store.Put(ctx, key, f); err != nil {
		return nil, fmt.Errorf("push %s: %w", key, err)
	}
	a.Log.Info("archive pushed",
		slog.String("key", key),
		slog.Int64("size", stat.Size()),
		slog.Duration("duration", time.Since(start)),
	)

	if !index {
		return nil, nil
	}

	// 3. 投影到目录数据库
	repo, err := a.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return repo.IndexArchive(ctx, key, r, stat.Size())
}

// Pull 从存储下载归档到 dest，写完后校验能被打开
// 失败时不会留下不完整的文件
func (a *App) Pull(ctx context.Context, key, dest string) (err error) {
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}
	rc, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".pull-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, rc); err != nil {
		return fmt.Errorf("pull %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	r, err := a.Open(tmp.Name())
	if err != nil {
		return fmt.Errorf("pulled %s is not a valid archive: %w", key, err)
	}
	r.Close()

	return os.Rename(tmp.Name(), dest)
}

// Close 关闭所有按需打开的资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
