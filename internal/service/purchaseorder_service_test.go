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

type poTestSetup struct {
	service  PurchaseOrderService
	poRepo   *fakePurchaseOrderRepo
	inv      *inventory.Engine
	invRepo  *fakeInventoryRepo
	mockPool pgxmock.PgxPoolIface
}

func setupPurchaseOrderService(t *testing.T) *poTestSetup {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry(registry)
	logger := zerolog.Nop()

	poRepo := newFakePurchaseOrderRepo()
	outbox := newFakeOutboxRepo()
	invRepo := newFakeInventoryRepo()
	inv := inventory.NewEngine(invRepo, metrics, logger)
	store := idempotency.NewMemoryStore(idempotency.Config{ResponseTTL: 10 * time.Minute, LockTTL: time.Minute})
	bus := eventbus.New(logger, metrics.EventBusDroppedTotal)

	service := NewPurchaseOrderService(mockPool, poRepo, outbox, store, inv, bus, metrics, logger)
	return &poTestSetup{service: service, poRepo: poRepo, inv: inv, invRepo: invRepo, mockPool: mockPool}
}

func TestPurchaseOrderService_CreatePurchaseOrder_ComputesTotal(t *testing.T) {
	setup := setupPurchaseOrderService(t)
	ctx := context.Background()

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()

	req := CreatePurchaseOrderRequest{
		SupplierID:  uuid.New(),
		SubmittedBy: "buyer-1",
		Lines: []PurchaseOrderLineRequest{
			{ItemID: "sku-a", Quantity: 5, UnitCost: decimal.NewFromInt(3)},
			{ItemID: "sku-b", Quantity: 2, UnitCost: decimal.NewFromInt(10)},
		},
	}

	po, err := setup.service.CreatePurchaseOrder(ctx, "idem-po-1", req)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusDraft, po.Status)
	assert.True(t, po.TotalAmount.Equal(decimal.NewFromInt(35)))
	require.NoError(t, setup.mockPool.ExpectationsWereMet())
}

func TestPurchaseOrderService_ApprovePurchaseOrder_RequiresApprover(t *testing.T) {
	setup := setupPurchaseOrderService(t)
	ctx := context.Background()

	po := &models.PurchaseOrder{ID: uuid.New(), SupplierID: uuid.New(), Status: models.PurchaseOrderStatusSubmitted, Version: 1}
	setup.poRepo.pos[po.ID] = po

	_, err := setup.service.ApprovePurchaseOrder(ctx, "idem-approve-bad", po.ID, "")
	require.Error(t, err)
}

func TestPurchaseOrderService_ReceivePurchaseOrder_AdjustsInventoryAndTransitions(t *testing.T) {
	setup := setupPurchaseOrderService(t)
	ctx := context.Background()

	po := &models.PurchaseOrder{ID: uuid.New(), SupplierID: uuid.New(), Status: models.PurchaseOrderStatusApproved, Version: 1}
	setup.poRepo.pos[po.ID] = po
	setup.poRepo.lines[po.ID] = []*models.PurchaseOrderLine{
		{ID: uuid.New(), PurchaseOrderID: po.ID, ItemID: "sku-receive", Quantity: 20, UnitCost: decimal.NewFromInt(4)},
	}

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	received, err := setup.service.ReceivePurchaseOrder(ctx, "idem-receive", po.ID, "warehouse-1")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusReceived, received.Status)

	item, err := setup.invRepo.GetByItemLocation(ctx, "sku-receive", "warehouse-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), item.OnHand)
	require.NoError(t, setup.mockPool.ExpectationsWereMet())
}

func TestPurchaseOrderService_ReceivePurchaseOrder_RejectsBadLocation(t *testing.T) {
	setup := setupPurchaseOrderService(t)
	ctx := context.Background()

	po := &models.PurchaseOrder{ID: uuid.New(), SupplierID: uuid.New(), Status: models.PurchaseOrderStatusApproved, Version: 1}
	setup.poRepo.pos[po.ID] = po

	_, err := setup.service.ReceivePurchaseOrder(ctx, "idem-receive-bad", po.ID, "")
	require.Error(t, err)
}

func TestPurchaseOrderService_GetPurchaseOrder_NotFound(t *testing.T) {
	setup := setupPurchaseOrderService(t)
	_, err := setup.service.GetPurchaseOrder(context.Background(), uuid.New())
	require.Error(t, err)
}
