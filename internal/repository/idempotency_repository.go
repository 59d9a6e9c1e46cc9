package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
)

// IdempotencyRepository is the durable half of the idempotency layer:
// it stores the cached response for a (method, path, key) triple.
// The in-progress lock (preventing two concurrent requests under the
// same key from both executing) is a separate, swappable concern —
// see internal/idempotency — because it needs a much shorter TTL and,
// in production, benefits from a faster backend than Postgres.
type IdempotencyRepository interface {
	// Get returns the cached record for (method, path, key) if present
	// and unexpired.
	Get(ctx context.Context, method, path, key string) (*models.IdempotencyRecord, error)

	// Put stores the response in tx. The idempotency stores call it in a
	// transaction of their own, opened after the business mutation has
	// committed, so a crash between the two leaves the mutation applied
	// with no cached response.
	// MUST be called within a transaction.
	Put(ctx context.Context, tx pgx.Tx, record *models.IdempotencyRecord) error

	// CleanupExpired deletes expired records.
	CleanupExpired(ctx context.Context) (int64, error)
}

type PostgresIdempotencyRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresIdempotencyRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresIdempotencyRepository {
	return &PostgresIdempotencyRepository{pool: pool, logger: logger.With().Str("component", "postgres_idempotency_repository").Logger()}
}

func (r *PostgresIdempotencyRepository) Get(ctx context.Context, method, path, key string) (*models.IdempotencyRecord, error) {
	query := `
		SELECT method, path, key, request_hash, response_code, response_body, created_at, expires_at
		FROM idempotency_records
		WHERE method = $1 AND path = $2 AND key = $3 AND expires_at > NOW()
	`
	var rec models.IdempotencyRecord
	err := r.pool.QueryRow(ctx, query, method, path, key).Scan(
		&rec.Method, &rec.Path, &rec.Key, &rec.RequestHash, &rec.ResponseCode,
		&rec.ResponseBody, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error().Err(err).Str("key", key).Msg("failed to look up idempotency record")
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &rec, nil
}

func (r *PostgresIdempotencyRepository) Put(ctx context.Context, tx pgx.Tx, record *models.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_records (method, path, key, request_hash, response_code, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
		ON CONFLICT (method, path, key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_code = EXCLUDED.response_code,
		    response_body = EXCLUDED.response_body,
		    expires_at = EXCLUDED.expires_at
	`
	_, err := tx.Exec(ctx, query,
		record.Method, record.Path, record.Key, record.RequestHash,
		record.ResponseCode, record.ResponseBody, record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}

func (r *PostgresIdempotencyRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired idempotency records: %w", err)
	}
	n := result.RowsAffected()
	if n > 0 {
		r.logger.Info().Int64("deleted_count", n).Msg("cleaned up expired idempotency records")
	}
	return n, nil
}

// ComputeRequestHash computes a SHA-256 hash of the request body for
// consistent comparison across repeated calls under the same key.
func ComputeRequestHash(requestData interface{}) (string, error) {
	requestJSON, err := json.Marshal(requestData)
	if err != nil {
		return "", fmt.Errorf("marshal request data: %w", err)
	}
	hash := sha256.Sum256(requestJSON)
	return hex.EncodeToString(hash[:]), nil
}
