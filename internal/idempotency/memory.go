package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store backend for unit tests. It never
// touches a database and carries no network dependency.
type MemoryStore struct {
	cfg Config

	mu      sync.Mutex
	records map[string]memoryRecord
	locks   map[string]time.Time
}

type memoryRecord struct {
	Record
	expiresAt time.Time
}

func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:     cfg,
		records: make(map[string]memoryRecord),
		locks:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) Get(ctx context.Context, method, path, key string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[lockKey(method, path, key)]
	if !ok || rec.expiresAt.Before(time.Now()) {
		return nil, false, nil
	}
	r := rec.Record
	return &r, true, nil
}

func (s *MemoryStore) TryLock(ctx context.Context, method, path, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := lockKey(method, path, key)
	now := time.Now()
	if expiry, ok := s.locks[k]; ok && expiry.After(now) {
		return false, nil
	}
	s.locks[k] = now.Add(s.cfg.LockTTL)
	return true, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, method, path, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, lockKey(method, path, key))
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, method, path, key string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[lockKey(method, path, key)] = memoryRecord{
		Record:    record,
		expiresAt: time.Now().Add(s.cfg.ResponseTTL),
	}
	return nil
}
