package archive

import (
	"errors"
	"fmt"

	"rawdat/pkg/core"
)

var (
	// ErrIO 表示底层文件无法以请求的模式打开或读写
	ErrIO = errors.New("archive i/o error")
	// ErrBadMagic 文件头不是 RAWDAT-
	ErrBadMagic = errors.New("bad archive magic")
	// ErrBadByteOrder 字节序标记与约定的小端序不符
	ErrBadByteOrder = errors.New("bad archive byte order")
	// ErrCorruptArchive 表结构或对象数据不一致，通常以 *CorruptError 的形式出现
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrNotFound 本地表中没有该路径 (可由 Manager 兜底)
	ErrNotFound = errors.New("object not found in archive")

	ErrMissingInterface   = core.ErrMissingInterface
	ErrObjectTypeMismatch = core.ErrObjectTypeMismatch

	ErrReadOnly      = errors.New("archive is opened for reading")
	ErrWriteOnly     = errors.New("archive is opened for writing")
	ErrFinalized     = errors.New("archive is finalized")
	ErrClosed        = errors.New("archive is closed")
	ErrDuplicatePath = errors.New("path already written")
	ErrPathCollision = errors.New("path hash collision")
	ErrInvalidPath   = errors.New("invalid object path")
	ErrTooLarge      = errors.New("archive exceeds 4GiB offset range")
)

// CorruptError 描述在哪个阶段发现了损坏
// errors.Is(err, ErrCorruptArchive) 对它成立
type CorruptError struct {
	Stage string
	Err   error
}

func (e *CorruptError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("corrupt archive: %s", e.Stage)
	}
	return fmt.Sprintf("corrupt archive: %s: %v", e.Stage, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Is(target error) bool { return target == ErrCorruptArchive }

func corrupt(stage string, err error) error {
	return &CorruptError{Stage: stage, Err: err}
}

func ioError(op, name string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, name, err)
}
