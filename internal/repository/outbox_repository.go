package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/reqcontext"
)

// OutboxRepository defines data access for the transactional outbox.
type OutboxRepository interface {
	// Create inserts a new outbox event. MUST be called within the
	// same transaction as the business mutation it represents.
	Create(ctx context.Context, tx pgx.Tx, event *models.OutboxEvent) error

	// ClaimBatch atomically claims up to limit pending (or
	// available-again) rows for dispatch, moving them to Processing,
	// using SELECT ... FOR UPDATE SKIP LOCKED so concurrent dispatcher
	// instances never contend on the same rows.
	ClaimBatch(ctx context.Context, limit int) ([]*models.OutboxEvent, error)

	// MarkDelivered transitions a claimed row to Delivered.
	MarkDelivered(ctx context.Context, eventID uuid.UUID) error

	// MarkFailed records a failed dispatch attempt. If attempts has
	// reached maxAttempts the row moves to Failed; otherwise it goes
	// back to Pending with availableAt pushed out by the backoff
	// delay the caller computed.
	MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string, availableAt time.Time, maxAttempts int) error

	// ResetStuckProcessing resets rows stuck in Processing past
	// staleAfter back to Pending, recovering from a dispatcher crash
	// mid-delivery.
	ResetStuckProcessing(ctx context.Context, staleAfter time.Duration) (int64, error)

	// ListByStatus supports the admin listing endpoint.
	ListByStatus(ctx context.Context, status models.OutboxStatus, limit, offset int) ([]*models.OutboxEvent, error)

	// Retry resets one Failed row back to Pending for immediate redispatch.
	Retry(ctx context.Context, eventID uuid.UUID) error

	// CleanupDelivered deletes delivered rows older than olderThan.
	CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error)
}

type PostgresOutboxRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresOutboxRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool, logger: logger.With().Str("component", "postgres_outbox_repository").Logger()}
}

func (r *PostgresOutboxRepository) Create(ctx context.Context, tx pgx.Tx, event *models.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = models.OutboxStatusPending
	}
	if event.AvailableAt.IsZero() {
		event.AvailableAt = time.Now()
	}
	if event.Metadata == nil {
		meta, err := json.Marshal(models.WireMetadata{
			CorrelationID: reqcontext.CorrelationID(ctx),
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("marshal outbox metadata: %w", err)
		}
		event.Metadata = meta
	}
	query := `
		INSERT INTO outbox_events (
			id, aggregate_type, aggregate_id, event_type, payload, status,
			attempts, available_at, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`
	_, err := tx.Exec(ctx, query,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.Status, event.Attempts, event.AvailableAt, event.Metadata,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", event.EventType).Msg("failed to create outbox event")
		return fmt.Errorf("create outbox event: %w", err)
	}
	return nil
}

const selectOutboxQuery = `
	SELECT id, aggregate_type, aggregate_id, event_type, payload, status,
	       attempts, available_at, created_at, updated_at, error_message, metadata
	FROM outbox_events
`

// ClaimBatch runs its own transaction: select candidate rows FOR
// UPDATE SKIP LOCKED, flip them to Processing, and return the claimed
// set. A competing dispatcher process simply skips locked rows rather
// than blocking on them.
func (r *PostgresOutboxRepository) ClaimBatch(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim batch: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, selectOutboxQuery+`
		WHERE status = $1 AND available_at <= NOW()
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, models.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query claimable outbox events: %w", err)
	}
	events, err := r.scanEvents(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
		e.Status = models.OutboxStatusProcessing
	}
	if _, err := tx.Exec(ctx, `
		UPDATE outbox_events SET status = $1, updated_at = NOW() WHERE id = ANY($2)
	`, models.OutboxStatusProcessing, ids); err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim batch: %w", err)
	}
	return events, nil
}

func (r *PostgresOutboxRepository) MarkDelivered(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET status = $1, updated_at = NOW() WHERE id = $2
	`, models.OutboxStatusDelivered, eventID)
	if err != nil {
		return fmt.Errorf("mark outbox event delivered: %w", err)
	}
	return nil
}

func (r *PostgresOutboxRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string, availableAt time.Time, maxAttempts int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    error_message = $1,
		    available_at = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE $5 END,
		    updated_at = NOW()
		WHERE id = $6
	`, errMsg, availableAt, maxAttempts, models.OutboxStatusFailed, models.OutboxStatusPending, eventID)
	if err != nil {
		return fmt.Errorf("mark outbox event failed: %w", err)
	}
	return nil
}

func (r *PostgresOutboxRepository) ResetStuckProcessing(ctx context.Context, staleAfter time.Duration) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < NOW() - $3::interval
	`, models.OutboxStatusPending, models.OutboxStatusProcessing, staleAfter.String())
	if err != nil {
		return 0, fmt.Errorf("reset stuck outbox events: %w", err)
	}
	n := result.RowsAffected()
	if n > 0 {
		r.logger.Warn().Int64("count", n).Msg("reset stuck outbox events back to pending")
	}
	return n, nil
}

func (r *PostgresOutboxRepository) ListByStatus(ctx context.Context, status models.OutboxStatus, limit, offset int) ([]*models.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx, selectOutboxQuery+`
		WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	defer rows.Close()
	return r.scanEvents(rows)
}

func (r *PostgresOutboxRepository) Retry(ctx context.Context, eventID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, available_at = NOW(), error_message = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.OutboxStatusPending, eventID, models.OutboxStatusFailed)
	if err != nil {
		return fmt.Errorf("retry outbox event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrOutboxEventNotFound
	}
	return nil
}

func (r *PostgresOutboxRepository) CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE status = $1 AND updated_at < NOW() - $2::interval
	`, models.OutboxStatusDelivered, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup delivered outbox events: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresOutboxRepository) scanEvents(rows pgx.Rows) ([]*models.OutboxEvent, error) {
	var events []*models.OutboxEvent
	for rows.Next() {
		var e models.OutboxEvent
		if err := rows.Scan(
			&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.Status,
			&e.Attempts, &e.AvailableAt, &e.CreatedAt, &e.UpdatedAt, &e.ErrorMessage, &e.Metadata,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
