package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"rawdat/pkg/storage"

	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，为底层 storage.Store 添加 Redis 存在性缓存
// 只缓存“某个归档存在”这一事实，归档内容本身不进 Redis
type CachedStore struct {
	backend storage.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client
	ttl     time.Duration
	log     *slog.Logger
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
	Logger   *slog.Logger
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		log:     log,
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(key string) string {
	return "rawdat:archive:" + key
}

// Has 优先查 Redis
func (s *CachedStore) Has(ctx context.Context, key string) (bool, error) {
	ck := s.cacheKey(key)

	// 1. 查 Redis；Redis 故障时降级为直接查底层存储
	val, err := s.client.Exists(ctx, ck).Result()
	if err != nil {
		s.log.Warn("redis exists failed, falling back to backend",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	} else if val > 0 {
		return true, nil
	}

	// 2. 缓存未命中，查底层存储
	found, err := s.backend.Has(ctx, key)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填：异步写入，不阻塞主流程
	if found {
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.client.Set(fillCtx, ck, "1", s.ttl)
		}()
	}

	return found, nil
}

// Put 写穿：先写底层存储，成功后再标记缓存
// 归档可以被覆盖，所以这里不做存在性短路
func (s *CachedStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := s.backend.Put(ctx, key, r); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.cacheKey(key), "1", s.ttl).Err(); err != nil {
		s.log.Warn("redis set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// Get 透传：归档可能很大，Redis 只存元数据
func (s *CachedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// List 透传
func (s *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.backend.List(ctx, prefix)
}

// Close 关闭 Redis 连接
func (s *CachedStore) Close() error {
	return s.client.Close()
}
