package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrNotFound   = errors.New("archive not found")
	ErrInvalidKey = errors.New("invalid archive key")
)

// Store 保存已经 finalize 的归档文件
// key 是以 "/" 分隔的相对名字，例如 "levels/alpha.rawdat"
type Store interface {
	// Put 把 r 的全部内容保存到 key
	// 同名对象会被覆盖：归档文件不是内容寻址的
	Put(ctx context.Context, key string, r io.Reader) error

	// Get 返回归档内容
	// 返回 io.ReadCloser 而不是 []byte，大文件可以流式拷贝到本地
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Has 检查归档是否存在
	Has(ctx context.Context, key string) (bool, error)

	// List 列出以 prefix 开头的所有 key (按字典序)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ValidateKey 拒绝空 key、绝对路径以及 ".." 段
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
