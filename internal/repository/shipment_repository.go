package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
)

// ShipmentRepository defines data access for the Shipment aggregate.
type ShipmentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, shipment *models.Shipment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shipment, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.ShipmentStatus, version int64) error

	// UpdateTrackingAndStatus sets the tracking number alongside a CAS
	// status transition, for the pending -> in_transit move where a
	// carrier-issued tracking number first becomes known.
	UpdateTrackingAndStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, trackingNumber string, newStatus models.ShipmentStatus, version int64) error

	// UpdateScheduledDate changes only scheduled_date, under the same
	// CAS discipline as every other shipment mutation; it never touches
	// status.
	UpdateScheduledDate(ctx context.Context, tx pgx.Tx, id uuid.UUID, scheduledDate time.Time, version int64) error

	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*models.Shipment, error)
}

type PostgresShipmentRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresShipmentRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresShipmentRepository {
	return &PostgresShipmentRepository{pool: pool, logger: logger.With().Str("component", "postgres_shipment_repository").Logger()}
}

const selectShipmentQuery = `
	SELECT id, order_id, status, version, carrier_id, tracking_number,
	       scheduled_date, delivered_at, created_at, updated_at
	FROM shipments
`

func (r *PostgresShipmentRepository) Create(ctx context.Context, tx pgx.Tx, shipment *models.Shipment) error {
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}
	shipment.Version = 1
	if shipment.Status == "" {
		shipment.Status = models.ShipmentStatusPending
	}
	query := `
		INSERT INTO shipments (
			id, order_id, status, version, carrier_id, tracking_number,
			scheduled_date, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`
	_, err := tx.Exec(ctx, query,
		shipment.ID, shipment.OrderID, shipment.Status, shipment.Version,
		shipment.CarrierID, shipment.TrackingNumber, shipment.ScheduledDate,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("shipment_id", shipment.ID.String()).Msg("failed to create shipment")
		return fmt.Errorf("create shipment: %w", err)
	}
	return nil
}

func (r *PostgresShipmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	return r.scan(r.pool.QueryRow(ctx, selectShipmentQuery+" WHERE id = $1", id))
}

func (r *PostgresShipmentRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shipment, error) {
	return r.scan(tx.QueryRow(ctx, selectShipmentQuery+" WHERE id = $1 FOR UPDATE", id))
}

func (r *PostgresShipmentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.ShipmentStatus, version int64) error {
	query := `
		UPDATE shipments
		SET status = $1, version = version + 1, updated_at = NOW(),
		    delivered_at = CASE WHEN $1 = $4 THEN NOW() ELSE delivered_at END
		WHERE id = $2 AND version = $3
	`
	result, err := tx.Exec(ctx, query, newStatus, id, version, models.ShipmentStatusDelivered)
	if err != nil {
		r.logger.Error().Err(err).Str("shipment_id", id.String()).Msg("failed to update shipment status")
		return fmt.Errorf("update shipment status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrOptimisticLock
	}
	return nil
}

func (r *PostgresShipmentRepository) UpdateTrackingAndStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, trackingNumber string, newStatus models.ShipmentStatus, version int64) error {
	query := `
		UPDATE shipments
		SET status = $1, tracking_number = $2, version = version + 1, updated_at = NOW(),
		    delivered_at = CASE WHEN $1 = $5 THEN NOW() ELSE delivered_at END
		WHERE id = $3 AND version = $4
	`
	result, err := tx.Exec(ctx, query, newStatus, trackingNumber, id, version, models.ShipmentStatusDelivered)
	if err != nil {
		r.logger.Error().Err(err).Str("shipment_id", id.String()).Msg("failed to update shipment tracking and status")
		return fmt.Errorf("update shipment tracking and status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrOptimisticLock
	}
	return nil
}

func (r *PostgresShipmentRepository) UpdateScheduledDate(ctx context.Context, tx pgx.Tx, id uuid.UUID, scheduledDate time.Time, version int64) error {
	query := `
		UPDATE shipments
		SET scheduled_date = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`
	result, err := tx.Exec(ctx, query, scheduledDate, id, version)
	if err != nil {
		r.logger.Error().Err(err).Str("shipment_id", id.String()).Msg("failed to update shipment scheduled date")
		return fmt.Errorf("update shipment scheduled date: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrOptimisticLock
	}
	return nil
}

func (r *PostgresShipmentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*models.Shipment, error) {
	rows, err := r.pool.Query(ctx, selectShipmentQuery+" WHERE order_id = $1 ORDER BY created_at", orderID)
	if err != nil {
		return nil, fmt.Errorf("query shipments by order: %w", err)
	}
	defer rows.Close()

	var shipments []*models.Shipment
	for rows.Next() {
		var s models.Shipment
		if err := rows.Scan(
			&s.ID, &s.OrderID, &s.Status, &s.Version, &s.CarrierID, &s.TrackingNumber,
			&s.ScheduledDate, &s.DeliveredAt, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		shipments = append(shipments, &s)
	}
	return shipments, rows.Err()
}

func (r *PostgresShipmentRepository) scan(row pgx.Row) (*models.Shipment, error) {
	var s models.Shipment
	err := row.Scan(
		&s.ID, &s.OrderID, &s.Status, &s.Version, &s.CarrierID, &s.TrackingNumber,
		&s.ScheduledDate, &s.DeliveredAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrShipmentNotFound
		}
		return nil, fmt.Errorf("scan shipment: %w", err)
	}
	return &s, nil
}
