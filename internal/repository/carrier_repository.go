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

// CarrierRepository defines data access for Carriers, the external
// shipping provider assignable to a Shipment.
type CarrierRepository interface {
	Create(ctx context.Context, carrier *models.Carrier) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Carrier, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Carrier, error)
}

type PostgresCarrierRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresCarrierRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresCarrierRepository {
	return &PostgresCarrierRepository{pool: pool, logger: logger.With().Str("component", "postgres_carrier_repository").Logger()}
}

const selectCarrierQuery = `
	SELECT id, name, code, active, created_at, updated_at
	FROM carriers
`

func (r *PostgresCarrierRepository) Create(ctx context.Context, carrier *models.Carrier) error {
	if carrier.ID == uuid.Nil {
		carrier.ID = uuid.New()
	}
	query := `
		INSERT INTO carriers (id, name, code, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`
	_, err := r.pool.Exec(ctx, query, carrier.ID, carrier.Name, carrier.Code, carrier.Active)
	if err != nil {
		return fmt.Errorf("create carrier: %w", err)
	}
	return nil
}

func (r *PostgresCarrierRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Carrier, error) {
	var c models.Carrier
	err := r.pool.QueryRow(ctx, selectCarrierQuery+" WHERE id = $1", id).Scan(
		&c.ID, &c.Name, &c.Code, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCarrierNotFound
		}
		return nil, fmt.Errorf("scan carrier: %w", err)
	}
	return &c, nil
}

func (r *PostgresCarrierRepository) List(ctx context.Context, activeOnly bool) ([]*models.Carrier, error) {
	query := selectCarrierQuery
	var rows pgx.Rows
	var err error
	if activeOnly {
		rows, err = r.pool.Query(ctx, query+" WHERE active = true ORDER BY name")
	} else {
		rows, err = r.pool.Query(ctx, query+" ORDER BY name")
	}
	if err != nil {
		return nil, fmt.Errorf("query carriers: %w", err)
	}
	defer rows.Close()

	var carriers []*models.Carrier
	for rows.Next() {
		var c models.Carrier
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan carrier: %w", err)
		}
		carriers = append(carriers, &c)
	}
	return carriers, rows.Err()
}
