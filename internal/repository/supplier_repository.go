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

// SupplierRepository defines data access for Suppliers, the external
// vendor a PurchaseOrder is submitted against.
type SupplierRepository interface {
	Create(ctx context.Context, supplier *models.Supplier) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Supplier, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Supplier, error)
}

type PostgresSupplierRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresSupplierRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresSupplierRepository {
	return &PostgresSupplierRepository{pool: pool, logger: logger.With().Str("component", "postgres_supplier_repository").Logger()}
}

const selectSupplierQuery = `
	SELECT id, name, contact_email, contact_phone, active, created_at, updated_at
	FROM suppliers
`

func (r *PostgresSupplierRepository) Create(ctx context.Context, supplier *models.Supplier) error {
	if supplier.ID == uuid.Nil {
		supplier.ID = uuid.New()
	}
	query := `
		INSERT INTO suppliers (id, name, contact_email, contact_phone, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`
	_, err := r.pool.Exec(ctx, query, supplier.ID, supplier.Name, supplier.ContactEmail, supplier.ContactPhone, supplier.Active)
	if err != nil {
		return fmt.Errorf("create supplier: %w", err)
	}
	return nil
}

func (r *PostgresSupplierRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Supplier, error) {
	var s models.Supplier
	err := r.pool.QueryRow(ctx, selectSupplierQuery+" WHERE id = $1", id).Scan(
		&s.ID, &s.Name, &s.ContactEmail, &s.ContactPhone, &s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSupplierNotFound
		}
		return nil, fmt.Errorf("scan supplier: %w", err)
	}
	return &s, nil
}

func (r *PostgresSupplierRepository) List(ctx context.Context, activeOnly bool) ([]*models.Supplier, error) {
	query := selectSupplierQuery
	var rows pgx.Rows
	var err error
	if activeOnly {
		rows, err = r.pool.Query(ctx, query+" WHERE active = true ORDER BY name")
	} else {
		rows, err = r.pool.Query(ctx, query+" ORDER BY name")
	}
	if err != nil {
		return nil, fmt.Errorf("query suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []*models.Supplier
	for rows.Next() {
		var s models.Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.ContactEmail, &s.ContactPhone, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		suppliers = append(suppliers, &s)
	}
	return suppliers, rows.Err()
}
