package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
)

// ReturnRepository defines data access for the Return aggregate and
// its owned ReturnItems.
type ReturnRepository interface {
	Create(ctx context.Context, tx pgx.Tx, ret *models.Return, items []*models.ReturnItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Return, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Return, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.ReturnStatus, version int64) error
	GetItems(ctx context.Context, returnID uuid.UUID) ([]*models.ReturnItem, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*models.Return, error)
}

type PostgresReturnRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresReturnRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresReturnRepository {
	return &PostgresReturnRepository{pool: pool, logger: logger.With().Str("component", "postgres_return_repository").Logger()}
}

const selectReturnQuery = `
	SELECT id, order_id, status, version, reason, refund_amount, created_at, updated_at
	FROM returns
`

func (r *PostgresReturnRepository) Create(ctx context.Context, tx pgx.Tx, ret *models.Return, items []*models.ReturnItem) error {
	if ret.ID == uuid.Nil {
		ret.ID = uuid.New()
	}
	ret.Version = 1
	if ret.Status == "" {
		ret.Status = models.ReturnStatusPending
	}
	query := `
		INSERT INTO returns (id, order_id, status, version, reason, refund_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`
	_, err := tx.Exec(ctx, query, ret.ID, ret.OrderID, ret.Status, ret.Version, ret.Reason, ret.RefundAmount)
	if err != nil {
		r.logger.Error().Err(err).Str("return_id", ret.ID.String()).Msg("failed to create return")
		return fmt.Errorf("create return: %w", err)
	}

	itemQuery := `
		INSERT INTO return_items (id, return_id, order_item_id, item_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.ReturnID = ret.ID
		if _, err := tx.Exec(ctx, itemQuery, item.ID, item.ReturnID, item.OrderItemID, item.ItemID, item.Quantity); err != nil {
			return fmt.Errorf("create return item: %w", err)
		}
	}
	return nil
}

func (r *PostgresReturnRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Return, error) {
	return r.scan(r.pool.QueryRow(ctx, selectReturnQuery+" WHERE id = $1", id))
}

func (r *PostgresReturnRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Return, error) {
	return r.scan(tx.QueryRow(ctx, selectReturnQuery+" WHERE id = $1 FOR UPDATE", id))
}

func (r *PostgresReturnRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.ReturnStatus, version int64) error {
	query := `
		UPDATE returns
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`
	result, err := tx.Exec(ctx, query, newStatus, id, version)
	if err != nil {
		r.logger.Error().Err(err).Str("return_id", id.String()).Msg("failed to update return status")
		return fmt.Errorf("update return status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrOptimisticLock
	}
	return nil
}

func (r *PostgresReturnRepository) GetItems(ctx context.Context, returnID uuid.UUID) ([]*models.ReturnItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, return_id, order_item_id, item_id, quantity
		FROM return_items WHERE return_id = $1 ORDER BY id
	`, returnID)
	if err != nil {
		return nil, fmt.Errorf("query return items: %w", err)
	}
	defer rows.Close()

	var items []*models.ReturnItem
	for rows.Next() {
		var it models.ReturnItem
		if err := rows.Scan(&it.ID, &it.ReturnID, &it.OrderItemID, &it.ItemID, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan return item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *PostgresReturnRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*models.Return, error) {
	rows, err := r.pool.Query(ctx, selectReturnQuery+" WHERE order_id = $1 ORDER BY created_at", orderID)
	if err != nil {
		return nil, fmt.Errorf("query returns by order: %w", err)
	}
	defer rows.Close()

	var rets []*models.Return
	for rows.Next() {
		var ret models.Return
		if err := rows.Scan(
			&ret.ID, &ret.OrderID, &ret.Status, &ret.Version, &ret.Reason,
			&ret.RefundAmount, &ret.CreatedAt, &ret.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan return: %w", err)
		}
		rets = append(rets, &ret)
	}
	return rets, rows.Err()
}

func (r *PostgresReturnRepository) scan(row pgx.Row) (*models.Return, error) {
	var ret models.Return
	err := row.Scan(
		&ret.ID, &ret.OrderID, &ret.Status, &ret.Version, &ret.Reason,
		&ret.RefundAmount, &ret.CreatedAt, &ret.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrReturnNotFound
		}
		return nil, fmt.Errorf("scan return: %w", err)
	}
	return &ret, nil
}
