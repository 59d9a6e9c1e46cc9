package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/repository"
)

// PostgresStore is the durable response cache. Its in-progress lock is
// a local in-memory map, which is correct for a single-instance
// deployment but not across a fleet — RedisStore exists for that case.
type PostgresStore struct {
	repo   repository.IdempotencyRepository
	pool   *pgxpool.Pool
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]time.Time
}

func NewPostgresStore(pool *pgxpool.Pool, logger zerolog.Logger, cfg Config) *PostgresStore {
	return &PostgresStore{
		repo:   repository.NewPostgresIdempotencyRepository(pool, logger),
		pool:   pool,
		cfg:    cfg,
		logger: logger.With().Str("component", "idempotency_postgres_store").Logger(),
		locks:  make(map[string]time.Time),
	}
}

func lockKey(method, path, key string) string {
	return method + "\x00" + path + "\x00" + key
}

func (s *PostgresStore) Get(ctx context.Context, method, path, key string) (*Record, bool, error) {
	rec, err := s.repo.Get(ctx, method, path, key)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	return &Record{
		RequestHash:  rec.RequestHash,
		ResponseCode: rec.ResponseCode,
		ResponseBody: rec.ResponseBody,
	}, true, nil
}

func (s *PostgresStore) TryLock(ctx context.Context, method, path, key string) (bool, error) {
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

func (s *PostgresStore) ReleaseLock(ctx context.Context, method, path, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, lockKey(method, path, key))
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, method, path, key string, record Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin idempotency put: %w", err)
	}
	defer tx.Rollback(ctx)

	rec := &models.IdempotencyRecord{
		Method:       method,
		Path:         path,
		Key:          key,
		RequestHash:  record.RequestHash,
		ResponseCode: record.ResponseCode,
		ResponseBody: record.ResponseBody,
		ExpiresAt:    time.Now().Add(s.cfg.ResponseTTL),
	}
	if err := s.repo.Put(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
