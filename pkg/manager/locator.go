package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"rawdat/pkg/types"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Locator 记录某个 ObjectID 在哪个归档里被找到
type Locator interface {
	Lookup(id types.ObjectID) (name string, ok bool, err error)
	Remember(id types.ObjectID, name string) error
}

// MemoryLocator 只在进程内有效
type MemoryLocator struct {
	mu sync.Mutex
	m  map[types.ObjectID]string
}

func NewMemoryLocator() *MemoryLocator {
	return &MemoryLocator{m: make(map[types.ObjectID]string)}
}

func (l *MemoryLocator) Lookup(id types.ObjectID) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.m[id]
	return name, ok, nil
}

func (l *MemoryLocator) Remember(id types.ObjectID, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m[id] = name
	return nil
}

const keyPrefixLoc = "LOC" // 后接 16 位十六进制 ObjectID

var ErrLocatorCorrupted = errors.New("locator record corrupted")

// locRecord 是 LevelDB 中保存的值 (CBOR)
type locRecord struct {
	ID      types.ObjectID `cbor:"1,keyasint"`
	Archive string         `cbor:"2,keyasint"`
}

// LevelLocator 把定位结果持久化到 LevelDB，跨进程复用
type LevelLocator struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

func keyFromID(id types.ObjectID) []byte {
	return append([]byte(keyPrefixLoc), id.String()...)
}

// OpenLevelLocator 打开或创建数据库；损坏时尝试恢复
func OpenLevelLocator(path string) (*LevelLocator, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	db, err := leveldb.OpenFile(path, opts)
	if lerrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open locator %s: %w", path, err)
	}

	slog.Debug("locator opened", slog.String("path", path))
	return &LevelLocator{path: path, db: db}, nil
}

func (l *LevelLocator) Lookup(id types.ObjectID) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.db.Get(keyFromID(id), nil)
	if errors.Is(err, lerrors.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var rec locRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrLocatorCorrupted, err)
	}
	// 键和值里的 id 必须一致
	if rec.ID != id {
		return "", false, fmt.Errorf("%w: key %s holds %s", ErrLocatorCorrupted, id, rec.ID)
	}
	return rec.Archive, true, nil
}

func (l *LevelLocator) Remember(id types.ObjectID, name string) error {
	raw, err := cbor.Marshal(locRecord{ID: id, Archive: name})
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Put(keyFromID(id), raw, nil)
}

// Forget 删除所有指向 name 的记录 (例如归档被删除或重建之后)
func (l *LevelLocator) Forget(name string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixLoc)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		var rec locRecord
		if err := cbor.Unmarshal(iter.Value(), &rec); err != nil || rec.Archive != name {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return batch.Len(), nil
}

func (l *LevelLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
