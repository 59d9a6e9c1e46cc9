package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stateset/commerce-core/internal/eventbus"
	"github.com/stateset/commerce-core/internal/idempotency"
	"github.com/stateset/commerce-core/internal/inventory"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderTestSetup struct {
	service   OrderService
	orderRepo *fakeOrderRepo
	outbox    *fakeOutboxRepo
	inv       *inventory.Engine
	mockPool  pgxmock.PgxPoolIface
}

func setupOrderService(t *testing.T) *orderTestSetup {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry(registry)
	logger := zerolog.Nop()

	orderRepo := newFakeOrderRepo()
	outbox := newFakeOutboxRepo()
	invRepo := newFakeInventoryRepo()
	inv := inventory.NewEngine(invRepo, metrics, logger)
	store := idempotency.NewMemoryStore(idempotency.Config{ResponseTTL: 10 * time.Minute, LockTTL: time.Minute})
	bus := eventbus.New(logger, metrics.EventBusDroppedTotal)

	service := NewOrderService(mockPool, orderRepo, outbox, store, inv, bus, metrics, logger)
	return &orderTestSetup{service: service, orderRepo: orderRepo, outbox: outbox, inv: inv, mockPool: mockPool}
}

// seedOrderStock puts qty units of itemID on hand at warehouse-1, since
// PlaceOrder without backorder fails on an empty inventory row.
func seedOrderStock(t *testing.T, setup *orderTestSetup, itemID string, qty int64) {
	t.Helper()
	ctx := context.Background()
	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	tx, err := setup.mockPool.Begin(ctx)
	require.NoError(t, err)
	_, err = setup.inv.Adjust(ctx, tx, itemID, "warehouse-1", qty, "seed")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
}

func TestOrderService_PlaceOrder_Success(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()
	seedOrderStock(t, setup, "sku-1", 2)

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()

	req := PlaceOrderRequest{
		CustomerID: uuid.New(),
		Currency:   "USD",
		Items: []PlaceOrderItem{
			{ItemID: "sku-1", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
		},
		Location: "warehouse-1",
	}

	order, err := setup.service.PlaceOrder(ctx, "idem-1", req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(20)))
	require.NoError(t, setup.mockPool.ExpectationsWereMet())
}

func TestOrderService_PlaceOrder_InsufficientStockWithoutBackorder(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectRollback()

	req := PlaceOrderRequest{
		CustomerID: uuid.New(),
		Currency:   "USD",
		Items: []PlaceOrderItem{
			{ItemID: "sku-scarce", Quantity: 100, UnitPrice: decimal.NewFromInt(5)},
		},
		Location: "warehouse-1",
	}

	_, err := setup.service.PlaceOrder(ctx, "idem-2", req)
	require.Error(t, err)
}

func TestOrderService_PlaceOrder_IdempotentReplay(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()
	seedOrderStock(t, setup, "sku-1", 1)

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()

	req := PlaceOrderRequest{
		CustomerID: uuid.New(),
		Currency:   "USD",
		Items:      []PlaceOrderItem{{ItemID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		Location:   "warehouse-1",
	}

	first, err := setup.service.PlaceOrder(ctx, "idem-replay", req)
	require.NoError(t, err)

	second, err := setup.service.PlaceOrder(ctx, "idem-replay", req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.NoError(t, setup.mockPool.ExpectationsWereMet())
}

func TestOrderService_PlaceOrder_IdempotencyConflictOnChangedBody(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()
	seedOrderStock(t, setup, "sku-1", 1)

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()

	req := PlaceOrderRequest{
		CustomerID: uuid.New(),
		Currency:   "USD",
		Items:      []PlaceOrderItem{{ItemID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		Location:   "warehouse-1",
	}
	_, err := setup.service.PlaceOrder(ctx, "idem-conflict", req)
	require.NoError(t, err)

	req2 := req
	req2.Currency = "EUR"
	_, err = setup.service.PlaceOrder(ctx, "idem-conflict", req2)
	require.Error(t, err)
}

func TestOrderService_CancelOrder_ReleasesReservation(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()
	seedOrderStock(t, setup, "sku-cancel", 3)

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	req := PlaceOrderRequest{
		CustomerID: uuid.New(),
		Currency:   "USD",
		Items:      []PlaceOrderItem{{ItemID: "sku-cancel", Quantity: 3, UnitPrice: decimal.NewFromInt(7)}},
		Location:   "warehouse-1",
	}
	order, err := setup.service.PlaceOrder(ctx, "idem-place-for-cancel", req)
	require.NoError(t, err)

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	cancelled, err := setup.service.CancelOrder(ctx, "idem-cancel", order.ID, "customer changed mind")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	require.NoError(t, setup.mockPool.ExpectationsWereMet())
}

func TestOrderService_CancelOrder_InvalidFromDelivered(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()

	order := &models.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: models.OrderStatusDelivered, Version: 1}
	setup.orderRepo.orders[order.ID] = order

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectRollback()

	_, err := setup.service.CancelOrder(ctx, "idem-cancel-bad", order.ID, "too late")
	require.Error(t, err)
}

func TestOrderService_RefundOrder_PartialThenFull(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()

	order := &models.Order{
		ID: uuid.New(), CustomerID: uuid.New(), Status: models.OrderStatusDelivered,
		Version: 1, TotalAmount: decimal.NewFromInt(100), Currency: "USD",
	}
	setup.orderRepo.orders[order.ID] = order

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	refunded, err := setup.service.RefundOrder(ctx, "idem-refund-1", order.ID, decimal.NewFromInt(40))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, refunded.Status)
	assert.True(t, refunded.RefundedAmount.Equal(decimal.NewFromInt(40)))

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	refunded, err = setup.service.RefundOrder(ctx, "idem-refund-2", order.ID, decimal.NewFromInt(60))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, refunded.Status)
	require.NoError(t, setup.mockPool.ExpectationsWereMet())
}

func TestOrderService_RefundOrder_RejectsOverRefund(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()

	order := &models.Order{
		ID: uuid.New(), CustomerID: uuid.New(), Status: models.OrderStatusDelivered,
		Version: 1, TotalAmount: decimal.NewFromInt(50),
	}
	setup.orderRepo.orders[order.ID] = order

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectRollback()

	_, err := setup.service.RefundOrder(ctx, "idem-over-refund", order.ID, decimal.NewFromInt(75))
	require.Error(t, err)
}

func TestOrderService_FailOrder_ThenRetry(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()

	order := &models.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: models.OrderStatusProcessing, Version: 1}
	setup.orderRepo.orders[order.ID] = order

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	failed, err := setup.service.FailOrder(ctx, "idem-fail", order.ID, "payment declined")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, failed.Status)

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	retried, err := setup.service.RetryOrder(ctx, "idem-retry", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, retried.Status)
	require.NoError(t, setup.mockPool.ExpectationsWereMet())
}

func TestOrderService_FailOrder_InvalidFromPending(t *testing.T) {
	setup := setupOrderService(t)
	ctx := context.Background()

	order := &models.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: models.OrderStatusPending, Version: 1}
	setup.orderRepo.orders[order.ID] = order

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectRollback()

	_, err := setup.service.FailOrder(ctx, "idem-fail-bad", order.ID, "n/a")
	require.Error(t, err)
}

func TestOrderService_GetOrder_NotFound(t *testing.T) {
	setup := setupOrderService(t)
	_, err := setup.service.GetOrder(context.Background(), uuid.New())
	require.Error(t, err)
}
