package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// MemoryStore keeps values in memory. With a snapshot path every mutation
// is written to disk and the snapshot is loaded on construction.
type MemoryStore struct {
	logger *zap.Logger
	cache  *cache.Cache
	path   string

	mu sync.Mutex
}

func NewMemoryStore(logger *zap.Logger, path string) (*MemoryStore, error) {
	s := &MemoryStore{
		logger: logger,
		cache:  cache.New(cache.NoExpiration, 0),
		path:   path,
	}

	if path == "" {
		return s, nil
	}

	err := s.cache.LoadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, ierr.New(ierr.ErrorCodeInternal, err)
	}

	logger.Debug("storage snapshot loaded", zap.String("path", path), zap.Int("items", s.cache.ItemCount()))

	return s, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, found := s.cache.Get(key)
	if !found {
		return "", false, nil
	}

	value, ok := v.(string)
	if !ok {
		return "", false, ierr.Newf(ierr.ErrorCodeInternal, "unexpected value type %T for key %s", v, key)
	}

	return value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value string) error {
	s.cache.Set(key, value, cache.NoExpiration)

	return s.persist()
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.cache.Delete(key)

	return s.persist()
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.cache.Flush()

	return s.persist()
}

func (s *MemoryStore) persist() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := s.cache.SaveFile(tmp); err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	return nil
}
