package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
)

// InventoryRepository defines data access for InventoryItems,
// Reservations, and the InventoryTransaction ledger. Lock ordering
// across multiple (item, location) pairs within one transaction is the
// caller's responsibility (inventory.SortKeys gives the canonical order;
// each inventory engine operation locks a single row through
// GetOrCreateForUpdate) — this repository only ever takes one row lock
// per call.
type InventoryRepository interface {
	// GetOrCreateForUpdate loads the InventoryItem row for (itemID,
	// location) with FOR UPDATE, creating a zeroed row first if none
	// exists yet. MUST be called within a transaction.
	GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, itemID, location string) (*models.InventoryItem, error)

	GetByItemLocation(ctx context.Context, itemID, location string) (*models.InventoryItem, error)

	// UpdateQuantities performs a CAS update of on_hand/reserved/allocated.
	// MUST be called within a transaction.
	UpdateQuantities(ctx context.Context, tx pgx.Tx, id uuid.UUID, onHand, reserved, allocated, version int64) error

	// InsertTransaction appends one ledger row. MUST be called within a transaction.
	InsertTransaction(ctx context.Context, tx pgx.Tx, txn *models.InventoryTransaction) error

	// CreateReservation inserts a new reservation. Returns
	// models.ErrDuplicateReservation-style domain error upstream if a
	// live reservation already exists for referenceID (enforced by a
	// partial unique index on (reference_id) WHERE status not in
	// terminal states, checked here via unique_violation).
	// MUST be called within a transaction.
	CreateReservation(ctx context.Context, tx pgx.Tx, res *models.Reservation) error

	GetReservationByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	GetReservationByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Reservation, error)
	GetReservationByReference(ctx context.Context, referenceID string) (*models.Reservation, error)

	// UpdateReservationStatus performs a CAS status transition.
	// MUST be called within a transaction.
	UpdateReservationStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.ReservationStatus, version int64) error

	// GetPendingReservationsFIFO lists Pending reservations for an
	// (item, location) oldest-first, for backorder matching.
	GetPendingReservationsFIFO(ctx context.Context, itemID, location string, limit int) ([]*models.Reservation, error)

	// GetExpiredReservations lists reservations whose expires_at has
	// passed and which are still in a non-terminal status, for the
	// expiry sweep.
	GetExpiredReservations(ctx context.Context, asOf time.Time, limit int) ([]*models.Reservation, error)
}

// ErrDuplicateReservation is returned by CreateReservation when a live
// reservation already exists for the given reference.
var ErrDuplicateReservation = errors.New("reservation already exists for reference")

type PostgresInventoryRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresInventoryRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresInventoryRepository {
	return &PostgresInventoryRepository{pool: pool, logger: logger.With().Str("component", "postgres_inventory_repository").Logger()}
}

const selectInventoryItemQuery = `
	SELECT id, item_id, location, on_hand, reserved, allocated, version, created_at, updated_at
	FROM inventory_items
`

func (r *PostgresInventoryRepository) GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, itemID, location string) (*models.InventoryItem, error) {
	item, err := r.scanItem(tx.QueryRow(ctx, selectInventoryItemQuery+" WHERE item_id = $1 AND location = $2 FOR UPDATE", itemID, location))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, models.ErrInventoryItemNotFound) {
		return nil, err
	}

	id := uuid.New()
	_, insErr := tx.Exec(ctx, `
		INSERT INTO inventory_items (id, item_id, location, on_hand, reserved, allocated, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, 1, NOW(), NOW())
		ON CONFLICT (item_id, location) DO NOTHING
	`, id, itemID, location)
	if insErr != nil {
		return nil, fmt.Errorf("create inventory item: %w", insErr)
	}
	return r.scanItem(tx.QueryRow(ctx, selectInventoryItemQuery+" WHERE item_id = $1 AND location = $2 FOR UPDATE", itemID, location))
}

func (r *PostgresInventoryRepository) GetByItemLocation(ctx context.Context, itemID, location string) (*models.InventoryItem, error) {
	return r.scanItem(r.pool.QueryRow(ctx, selectInventoryItemQuery+" WHERE item_id = $1 AND location = $2", itemID, location))
}

func (r *PostgresInventoryRepository) UpdateQuantities(ctx context.Context, tx pgx.Tx, id uuid.UUID, onHand, reserved, allocated, version int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE inventory_items
		SET on_hand = $1, reserved = $2, allocated = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5
	`, onHand, reserved, allocated, id, version)
	if err != nil {
		r.logger.Error().Err(err).Str("inventory_item_id", id.String()).Msg("failed to update inventory quantities")
		return fmt.Errorf("update inventory quantities: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrOptimisticLock
	}
	return nil
}

func (r *PostgresInventoryRepository) InsertTransaction(ctx context.Context, tx pgx.Tx, txn *models.InventoryTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO inventory_transactions (id, inventory_item_id, type, delta, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, txn.ID, txn.InventoryItem, txn.Type, txn.Delta, txn.ReferenceID)
	if err != nil {
		return fmt.Errorf("insert inventory transaction: %w", err)
	}
	return nil
}

const selectReservationQuery = `
	SELECT id, item_id, location, reference_id, quantity, status, version, expires_at, created_at, updated_at
	FROM reservations
`

func (r *PostgresInventoryRepository) CreateReservation(ctx context.Context, tx pgx.Tx, res *models.Reservation) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	res.Version = 1
	if res.Status == "" {
		res.Status = models.ReservationStatusPending
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO reservations (id, item_id, location, reference_id, quantity, status, version, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, res.ID, res.ItemID, res.Location, res.ReferenceID, res.Quantity, res.Status, res.Version, res.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReservation
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

func (r *PostgresInventoryRepository) GetReservationByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return r.scanReservation(r.pool.QueryRow(ctx, selectReservationQuery+" WHERE id = $1", id))
}

func (r *PostgresInventoryRepository) GetReservationByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Reservation, error) {
	return r.scanReservation(tx.QueryRow(ctx, selectReservationQuery+" WHERE id = $1 FOR UPDATE", id))
}

func (r *PostgresInventoryRepository) GetReservationByReference(ctx context.Context, referenceID string) (*models.Reservation, error) {
	return r.scanReservation(r.pool.QueryRow(ctx, selectReservationQuery+" WHERE reference_id = $1", referenceID))
}

func (r *PostgresInventoryRepository) UpdateReservationStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.ReservationStatus, version int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE reservations
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`, newStatus, id, version)
	if err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrOptimisticLock
	}
	return nil
}

func (r *PostgresInventoryRepository) GetPendingReservationsFIFO(ctx context.Context, itemID, location string, limit int) ([]*models.Reservation, error) {
	rows, err := r.pool.Query(ctx, selectReservationQuery+`
		WHERE item_id = $1 AND location = $2 AND status = $3
		ORDER BY created_at ASC
		LIMIT $4
	`, itemID, location, models.ReservationStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending reservations: %w", err)
	}
	defer rows.Close()
	return r.scanReservations(rows)
}

func (r *PostgresInventoryRepository) GetExpiredReservations(ctx context.Context, asOf time.Time, limit int) ([]*models.Reservation, error) {
	rows, err := r.pool.Query(ctx, selectReservationQuery+`
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		  AND status IN ($2, $3)
		ORDER BY expires_at ASC
		LIMIT $4
	`, asOf, models.ReservationStatusPending, models.ReservationStatusConfirmed, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired reservations: %w", err)
	}
	defer rows.Close()
	return r.scanReservations(rows)
}

func (r *PostgresInventoryRepository) scanItem(row pgx.Row) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := row.Scan(
		&item.ID, &item.ItemID, &item.Location, &item.OnHand, &item.Reserved,
		&item.Allocated, &item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrInventoryItemNotFound
		}
		return nil, fmt.Errorf("scan inventory item: %w", err)
	}
	return &item, nil
}

func (r *PostgresInventoryRepository) scanReservation(row pgx.Row) (*models.Reservation, error) {
	var res models.Reservation
	err := row.Scan(
		&res.ID, &res.ItemID, &res.Location, &res.ReferenceID, &res.Quantity,
		&res.Status, &res.Version, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrReservationNotFound
		}
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	return &res, nil
}

func (r *PostgresInventoryRepository) scanReservations(rows pgx.Rows) ([]*models.Reservation, error) {
	var reservations []*models.Reservation
	for rows.Next() {
		var res models.Reservation
		if err := rows.Scan(
			&res.ID, &res.ItemID, &res.Location, &res.ReferenceID, &res.Quantity,
			&res.Status, &res.Version, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, &res)
	}
	return reservations, rows.Err()
}
