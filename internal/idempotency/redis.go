package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/repository"
)

// RedisStore fronts a PostgresStore's durable response cache with a
// distributed in-progress lock, suitable for a multi-instance
// deployment where PostgresStore's process-local lock map would let
// two instances race. The response cache itself stays in Postgres;
// Redis only ever holds the short-lived lock key.
type RedisStore struct {
	repo   repository.IdempotencyRepository
	pool   *pgxpool.Pool
	rdb    *redis.Client
	cfg    Config
	logger zerolog.Logger
}

func NewRedisStore(pool *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger, cfg Config) *RedisStore {
	return &RedisStore{
		repo:   repository.NewPostgresIdempotencyRepository(pool, logger),
		pool:   pool,
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With().Str("component", "idempotency_redis_store").Logger(),
	}
}

func (s *RedisStore) Get(ctx context.Context, method, path, key string) (*Record, bool, error) {
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

func (s *RedisStore) TryLock(ctx context.Context, method, path, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, "idempotency:lock:"+lockKey(method, path, key), "1", s.cfg.LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx idempotency lock: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, method, path, key string) error {
	if err := s.rdb.Del(ctx, "idempotency:lock:"+lockKey(method, path, key)).Err(); err != nil {
		return fmt.Errorf("redis del idempotency lock: %w", err)
	}
	return nil
}

func (s *RedisStore) Put(ctx context.Context, method, path, key string, record Record) error {
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
