package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stateset/commerce-core/internal/models"
)

// PostgresOrderRepository implements OrderRepository using PostgreSQL.
type PostgresOrderRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresOrderRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		pool:   pool,
		logger: logger.With().Str("component", "postgres_order_repository").Logger(),
	}
}

func (r *PostgresOrderRepository) Create(ctx context.Context, tx pgx.Tx, order *models.Order, items []*models.OrderItem) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.Version = 1
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}

	shippingJSON, err := models.AddressJSON(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	billingJSON, err := models.AddressJSON(order.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshal billing address: %w", err)
	}

	query := `
		INSERT INTO orders (
			id, order_number, customer_id, status, version, total_amount,
			refunded_amount, currency, shipping_address, billing_address,
			shipped_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err = tx.Exec(ctx, query,
		order.ID,
		order.OrderNumber,
		order.CustomerID,
		order.Status,
		order.Version,
		order.TotalAmount,
		order.RefundedAmount,
		order.Currency,
		shippingJSON,
		billingJSON,
		order.ShippedBy,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to create order")
		return fmt.Errorf("create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (
			id, order_id, item_id, quantity, unit_price, discount,
			tax_rate, total_price, tax_amount
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.OrderID = order.ID
		item.ComputeTotals()
		if _, err := tx.Exec(ctx, itemQuery,
			item.ID, item.OrderID, item.ItemID, item.Quantity,
			item.UnitPrice, item.Discount, item.TaxRate, item.TotalPrice, item.TaxAmount,
		); err != nil {
			r.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to create order item")
			return fmt.Errorf("create order item: %w", err)
		}
	}

	r.logger.Info().Str("order_id", order.ID.String()).Str("order_number", order.OrderNumber).Msg("order created")
	return nil
}

func (r *PostgresOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.scanOrder(r.pool.QueryRow(ctx, selectOrderQuery+" WHERE id = $1", id))
}

func (r *PostgresOrderRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	return r.scanOrder(tx.QueryRow(ctx, selectOrderQuery+" WHERE id = $1 FOR UPDATE", id))
}

func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.OrderStatus, version int64) error {
	query := `
		UPDATE orders
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`
	result, err := tx.Exec(ctx, query, newStatus, id, version)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to update order status")
		return fmt.Errorf("update order status: %w", err)
	}
	if result.RowsAffected() == 0 {
		r.logger.Warn().Str("order_id", id.String()).Int64("version", version).Msg("optimistic lock failure")
		return models.ErrOptimisticLock
	}
	return nil
}

func (r *PostgresOrderRepository) UpdateRefundedAmount(ctx context.Context, tx pgx.Tx, id uuid.UUID, refundedAmount decimal.Decimal, version int64) error {
	query := `
		UPDATE orders
		SET refunded_amount = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`
	result, err := tx.Exec(ctx, query, refundedAmount, id, version)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to update refunded amount")
		return fmt.Errorf("update refunded amount: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrOptimisticLock
	}
	return nil
}

func (r *PostgresOrderRepository) GetItems(ctx context.Context, orderID uuid.UUID) ([]*models.OrderItem, error) {
	query := `
		SELECT id, order_id, item_id, quantity, unit_price, discount,
		       tax_rate, total_price, tax_amount
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []*models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ItemID, &item.Quantity,
			&item.UnitPrice, &item.Discount, &item.TaxRate, &item.TotalPrice, &item.TaxAmount,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (r *PostgresOrderRepository) AddNote(ctx context.Context, tx pgx.Tx, note *models.OrderNote) error {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	query := `
		INSERT INTO order_notes (id, order_id, author_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`
	_, err := tx.Exec(ctx, query, note.ID, note.OrderID, note.AuthorID, note.Body)
	if err != nil {
		return fmt.Errorf("add order note: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) AddTag(ctx context.Context, tx pgx.Tx, tag *models.OrderTag) error {
	query := `
		INSERT INTO order_tags (order_id, tag, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (order_id, tag) DO NOTHING
	`
	_, err := tx.Exec(ctx, query, tag.OrderID, tag.Tag)
	if err != nil {
		return fmt.Errorf("add order tag: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) GetByCustomerID(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*models.Order, error) {
	query := selectOrderQuery + " WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3"
	rows, err := r.pool.Query(ctx, query, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query orders by customer: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := r.scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

const selectOrderQuery = `
	SELECT id, order_number, customer_id, status, version, total_amount,
	       refunded_amount, currency, shipping_address, billing_address,
	       shipped_by, created_at, updated_at
	FROM orders
`

func (r *PostgresOrderRepository) scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var shippingRaw, billingRaw []byte
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID, &order.Status, &order.Version,
		&order.TotalAmount, &order.RefundedAmount, &order.Currency,
		&shippingRaw, &billingRaw, &order.ShippedBy,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if order.ShippingAddress, err = models.ParseAddressJSON(shippingRaw); err != nil {
		return nil, err
	}
	if order.BillingAddress, err = models.ParseAddressJSON(billingRaw); err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *PostgresOrderRepository) scanOrderRow(rows pgx.Rows) (*models.Order, error) {
	var order models.Order
	var shippingRaw, billingRaw []byte
	err := rows.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID, &order.Status, &order.Version,
		&order.TotalAmount, &order.RefundedAmount, &order.Currency,
		&shippingRaw, &billingRaw, &order.ShippedBy,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if order.ShippingAddress, err = models.ParseAddressJSON(shippingRaw); err != nil {
		return nil, err
	}
	if order.BillingAddress, err = models.ParseAddressJSON(billingRaw); err != nil {
		return nil, err
	}
	return &order, nil
}
