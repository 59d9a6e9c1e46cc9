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

// PurchaseOrderRepository defines data access for the PurchaseOrder
// aggregate and its owned lines.
type PurchaseOrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, po *models.PurchaseOrder, lines []*models.PurchaseOrderLine) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PurchaseOrder, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PurchaseOrder, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.PurchaseOrderStatus, approvedBy string, version int64) error
	GetLines(ctx context.Context, poID uuid.UUID) ([]*models.PurchaseOrderLine, error)
}

type PostgresPurchaseOrderRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresPurchaseOrderRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresPurchaseOrderRepository {
	return &PostgresPurchaseOrderRepository{pool: pool, logger: logger.With().Str("component", "postgres_purchaseorder_repository").Logger()}
}

const selectPOQuery = `
	SELECT id, po_number, supplier_id, status, version, submitted_by,
	       approved_by, notes, total_amount, created_at, updated_at
	FROM purchase_orders
`

func (r *PostgresPurchaseOrderRepository) Create(ctx context.Context, tx pgx.Tx, po *models.PurchaseOrder, lines []*models.PurchaseOrderLine) error {
	if po.ID == uuid.Nil {
		po.ID = uuid.New()
	}
	po.Version = 1
	if po.Status == "" {
		po.Status = models.PurchaseOrderStatusDraft
	}
	query := `
		INSERT INTO purchase_orders (
			id, po_number, supplier_id, status, version, submitted_by,
			approved_by, notes, total_amount, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`
	_, err := tx.Exec(ctx, query,
		po.ID, po.PONumber, po.SupplierID, po.Status, po.Version,
		po.SubmittedBy, po.ApprovedBy, po.Notes, po.TotalAmount,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("po_id", po.ID.String()).Msg("failed to create purchase order")
		return fmt.Errorf("create purchase order: %w", err)
	}

	lineQuery := `
		INSERT INTO purchase_order_lines (id, purchase_order_id, item_id, quantity, unit_cost)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, line := range lines {
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		line.PurchaseOrderID = po.ID
		if _, err := tx.Exec(ctx, lineQuery, line.ID, line.PurchaseOrderID, line.ItemID, line.Quantity, line.UnitCost); err != nil {
			return fmt.Errorf("create purchase order line: %w", err)
		}
	}
	return nil
}

func (r *PostgresPurchaseOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PurchaseOrder, error) {
	return r.scan(r.pool.QueryRow(ctx, selectPOQuery+" WHERE id = $1", id))
}

func (r *PostgresPurchaseOrderRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PurchaseOrder, error) {
	return r.scan(tx.QueryRow(ctx, selectPOQuery+" WHERE id = $1 FOR UPDATE", id))
}

// UpdateStatus performs the CAS transition. approvedBy is written only
// when newStatus is Approved (empty string leaves the column
// untouched for other transitions via COALESCE against the existing
// value).
func (r *PostgresPurchaseOrderRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.PurchaseOrderStatus, approvedBy string, version int64) error {
	query := `
		UPDATE purchase_orders
		SET status = $1,
		    approved_by = CASE WHEN $1 = $4 THEN $5 ELSE approved_by END,
		    version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`
	result, err := tx.Exec(ctx, query, newStatus, id, version, models.PurchaseOrderStatusApproved, approvedBy)
	if err != nil {
		r.logger.Error().Err(err).Str("po_id", id.String()).Msg("failed to update purchase order status")
		return fmt.Errorf("update purchase order status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrOptimisticLock
	}
	return nil
}

func (r *PostgresPurchaseOrderRepository) GetLines(ctx context.Context, poID uuid.UUID) ([]*models.PurchaseOrderLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, purchase_order_id, item_id, quantity, unit_cost
		FROM purchase_order_lines WHERE purchase_order_id = $1 ORDER BY id
	`, poID)
	if err != nil {
		return nil, fmt.Errorf("query purchase order lines: %w", err)
	}
	defer rows.Close()

	var lines []*models.PurchaseOrderLine
	for rows.Next() {
		var l models.PurchaseOrderLine
		if err := rows.Scan(&l.ID, &l.PurchaseOrderID, &l.ItemID, &l.Quantity, &l.UnitCost); err != nil {
			return nil, fmt.Errorf("scan purchase order line: %w", err)
		}
		lines = append(lines, &l)
	}
	return lines, rows.Err()
}

func (r *PostgresPurchaseOrderRepository) scan(row pgx.Row) (*models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	err := row.Scan(
		&po.ID, &po.PONumber, &po.SupplierID, &po.Status, &po.Version,
		&po.SubmittedBy, &po.ApprovedBy, &po.Notes, &po.TotalAmount,
		&po.CreatedAt, &po.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrPurchaseOrderNotFound
		}
		return nil, fmt.Errorf("scan purchase order: %w", err)
	}
	return &po, nil
}
