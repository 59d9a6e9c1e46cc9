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

type shipmentTestSetup struct {
	service      ShipmentService
	shipmentRepo *fakeShipmentRepo
	orderRepo    *fakeOrderRepo
	inv          *inventory.Engine
	mockPool     pgxmock.PgxPoolIface
}

func setupShipmentService(t *testing.T) *shipmentTestSetup {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry(registry)
	logger := zerolog.Nop()

	shipmentRepo := newFakeShipmentRepo()
	orderRepo := newFakeOrderRepo()
	outbox := newFakeOutboxRepo()
	invRepo := newFakeInventoryRepo()
	inv := inventory.NewEngine(invRepo, metrics, logger)
	store := idempotency.NewMemoryStore(idempotency.Config{ResponseTTL: 10 * time.Minute, LockTTL: time.Minute})
	bus := eventbus.New(logger, metrics.EventBusDroppedTotal)

	service := NewShipmentService(mockPool, shipmentRepo, orderRepo, outbox, store, inv, bus, metrics, logger)
	return &shipmentTestSetup{service: service, shipmentRepo: shipmentRepo, orderRepo: orderRepo, inv: inv, mockPool: mockPool}
}

// placeProcessingOrder seeds an order in Processing status with one
// confirmed reservation, as PlaceOrder + ConfirmOrder would leave it.
func placeProcessingOrder(t *testing.T, setup *shipmentTestSetup, itemID string, qty int64) *models.Order {
	t.Helper()
	ctx := context.Background()
	order := &models.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: models.OrderStatusProcessing, Version: 1, Currency: "USD"}
	item := &models.OrderItem{ID: uuid.New(), OrderID: order.ID, ItemID: itemID, Quantity: qty, UnitPrice: decimal.NewFromInt(9)}
	setup.orderRepo.orders[order.ID] = order
	setup.orderRepo.items[order.ID] = []*models.OrderItem{item}

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	tx, err := setup.mockPool.Begin(ctx)
	require.NoError(t, err)
	_, err = setup.inv.Reserve(ctx, tx, itemID, "warehouse-1", order.ID.String()+":"+item.ID.String(), qty, nil, false)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return order
}

func TestShipmentService_CreateShipment_AllocatesReservation(t *testing.T) {
	setup := setupShipmentService(t)
	ctx := context.Background()

	// inv.Reserve requires on-hand stock; seed it directly via Adjust.
	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	tx, err := setup.mockPool.Begin(ctx)
	require.NoError(t, err)
	_, err = setup.inv.Adjust(ctx, tx, "sku-ship", "warehouse-1", 10, "seed")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	order := placeProcessingOrder(t, setup, "sku-ship", 2)

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	shipment, err := setup.service.CreateShipment(ctx, "idem-ship-1", order.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusPending, shipment.Status)
}

func TestShipmentService_MarkInTransit_RequiresTrackingNumber(t *testing.T) {
	setup := setupShipmentService(t)
	ctx := context.Background()
	shipment := &models.Shipment{ID: uuid.New(), OrderID: uuid.New(), Status: models.ShipmentStatusPending, Version: 1}
	setup.shipmentRepo.shipments[shipment.ID] = shipment

	_, err := setup.service.MarkInTransit(ctx, "idem-transit-bad", shipment.ID, "")
	require.Error(t, err)
}

func TestShipmentService_MarkInTransit_Success(t *testing.T) {
	setup := setupShipmentService(t)
	ctx := context.Background()
	shipment := &models.Shipment{ID: uuid.New(), OrderID: uuid.New(), Status: models.ShipmentStatusPending, Version: 1}
	setup.shipmentRepo.shipments[shipment.ID] = shipment

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	updated, err := setup.service.MarkInTransit(ctx, "idem-transit-ok", shipment.ID, "TRACK123")
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusInTransit, updated.Status)
	assert.Equal(t, "TRACK123", updated.TrackingNumber)
}

func TestShipmentService_RescheduleShipment_UpdatesDateOnly(t *testing.T) {
	setup := setupShipmentService(t)
	ctx := context.Background()
	shipment := &models.Shipment{ID: uuid.New(), OrderID: uuid.New(), Status: models.ShipmentStatusPending, Version: 1}
	setup.shipmentRepo.shipments[shipment.ID] = shipment

	newDate := time.Now().Add(72 * time.Hour)
	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectCommit()
	updated, err := setup.service.RescheduleShipment(ctx, "idem-reschedule-ok", shipment.ID, newDate)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusPending, updated.Status)
	require.NotNil(t, updated.ScheduledDate)
	assert.WithinDuration(t, newDate, *updated.ScheduledDate, time.Second)
}

func TestShipmentService_RescheduleShipment_RejectsTerminal(t *testing.T) {
	setup := setupShipmentService(t)
	ctx := context.Background()
	shipment := &models.Shipment{ID: uuid.New(), OrderID: uuid.New(), Status: models.ShipmentStatusDelivered, Version: 1}
	setup.shipmentRepo.shipments[shipment.ID] = shipment

	setup.mockPool.ExpectBegin()
	setup.mockPool.ExpectRollback()
	_, err := setup.service.RescheduleShipment(ctx, "idem-reschedule-bad", shipment.ID, time.Now().Add(time.Hour))
	require.Error(t, err)
}

func TestShipmentService_GetShipment_NotFound(t *testing.T) {
	setup := setupShipmentService(t)
	_, err := setup.service.GetShipment(context.Background(), uuid.New())
	require.Error(t, err)
}
