package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stateset/commerce-core/internal/models"
)

// OrderRepository defines data access for the Order aggregate and its
// owned OrderItems, OrderNotes, and OrderTags.
type OrderRepository interface {
	// Create inserts a new order and its items. MUST be called within
	// a transaction.
	Create(ctx context.Context, tx pgx.Tx, order *models.Order, items []*models.OrderItem) error

	// GetByID retrieves an order without locking.
	// Returns models.ErrOrderNotFound if it doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)

	// GetByIDForUpdate retrieves an order with FOR UPDATE, for use
	// inside a command's transaction prior to mutation.
	// MUST be called within a transaction.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error)

	// UpdateStatus performs a CAS status transition.
	// MUST be called within a transaction.
	// Returns models.ErrOptimisticLock on version mismatch.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.OrderStatus, version int64) error

	// UpdateRefundedAmount advances the running refunded total for
	// partial/full refunds, enforced under the same CAS discipline.
	// MUST be called within a transaction.
	UpdateRefundedAmount(ctx context.Context, tx pgx.Tx, id uuid.UUID, refundedAmount decimal.Decimal, version int64) error

	// GetItems lists the OrderItems owned by an order.
	GetItems(ctx context.Context, orderID uuid.UUID) ([]*models.OrderItem, error)

	// AddNote appends an OrderNote. MUST be called within a transaction.
	AddNote(ctx context.Context, tx pgx.Tx, note *models.OrderNote) error

	// AddTag appends an OrderTag. MUST be called within a transaction.
	AddTag(ctx context.Context, tx pgx.Tx, tag *models.OrderTag) error

	// GetByCustomerID lists orders for a customer with pagination.
	GetByCustomerID(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*models.Order, error)
}
