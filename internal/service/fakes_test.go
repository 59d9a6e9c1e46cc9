package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/repository"
)

// The fakes below are in-memory stand-ins for the Postgres repositories,
// good enough to exercise a command's branching without a database.
// Each command still runs inside a real pgxmock transaction so
// Executor's Begin/Commit/Rollback discipline is exercised end to end;
// the fakes just ignore the tx argument since they don't issue SQL.

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	items  map[uuid.UUID][]*models.OrderItem
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[uuid.UUID]*models.Order{}, items: map[uuid.UUID][]*models.OrderItem{}}
}

func (f *fakeOrderRepo) Create(ctx context.Context, tx pgx.Tx, order *models.Order, items []*models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.Version = 1
	for _, it := range items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.OrderID = order.ID
	}
	f.orders[order.ID] = order
	f.items[order.ID] = items
	return nil
}

func (f *fakeOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeOrderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.OrderStatus, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return models.ErrOrderNotFound
	}
	if o.Version != version {
		return models.ErrOptimisticLock
	}
	o.Status = newStatus
	o.Version++
	return nil
}

func (f *fakeOrderRepo) UpdateRefundedAmount(ctx context.Context, tx pgx.Tx, id uuid.UUID, refundedAmount decimal.Decimal, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return models.ErrOrderNotFound
	}
	if o.Version != version {
		return models.ErrOptimisticLock
	}
	o.RefundedAmount = refundedAmount
	o.Version++
	return nil
}

func (f *fakeOrderRepo) GetItems(ctx context.Context, orderID uuid.UUID) ([]*models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[orderID], nil
}

func (f *fakeOrderRepo) AddNote(ctx context.Context, tx pgx.Tx, note *models.OrderNote) error { return nil }
func (f *fakeOrderRepo) AddTag(ctx context.Context, tx pgx.Tx, tag *models.OrderTag) error     { return nil }

func (f *fakeOrderRepo) GetByCustomerID(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for _, o := range f.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeOutboxRepo struct {
	mu     sync.Mutex
	events []*models.OutboxEvent
}

func newFakeOutboxRepo() *fakeOutboxRepo { return &fakeOutboxRepo{} }

func (f *fakeOutboxRepo) Create(ctx context.Context, tx pgx.Tx, event *models.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	f.events = append(f.events, event)
	return nil
}
func (f *fakeOutboxRepo) ClaimBatch(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	return nil, nil
}
func (f *fakeOutboxRepo) MarkDelivered(ctx context.Context, eventID uuid.UUID) error { return nil }
func (f *fakeOutboxRepo) MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string, availableAt time.Time, maxAttempts int) error {
	return nil
}
func (f *fakeOutboxRepo) ResetStuckProcessing(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeOutboxRepo) ListByStatus(ctx context.Context, status models.OutboxStatus, limit, offset int) ([]*models.OutboxEvent, error) {
	return nil, nil
}
func (f *fakeOutboxRepo) Retry(ctx context.Context, eventID uuid.UUID) error { return nil }
func (f *fakeOutboxRepo) CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type fakeInventoryRepo struct {
	mu           sync.Mutex
	items        map[string]*models.InventoryItem
	reservations map[uuid.UUID]*models.Reservation
	byRef        map[string]uuid.UUID
	txns         []*models.InventoryTransaction
}

func newFakeInventoryRepo() *fakeInventoryRepo {
	return &fakeInventoryRepo{
		items:        map[string]*models.InventoryItem{},
		reservations: map[uuid.UUID]*models.Reservation{},
		byRef:        map[string]uuid.UUID{},
	}
}

func itemKey(itemID, location string) string { return itemID + "@" + location }

func (f *fakeInventoryRepo) GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, itemID, location string) (*models.InventoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := itemKey(itemID, location)
	item, ok := f.items[k]
	if !ok {
		item = &models.InventoryItem{ID: uuid.New(), ItemID: itemID, Location: location, Version: 1}
		f.items[k] = item
	}
	cp := *item
	return &cp, nil
}

func (f *fakeInventoryRepo) GetByItemLocation(ctx context.Context, itemID, location string) (*models.InventoryItem, error) {
	return f.GetOrCreateForUpdate(ctx, nil, itemID, location)
}

func (f *fakeInventoryRepo) UpdateQuantities(ctx context.Context, tx pgx.Tx, id uuid.UUID, onHand, reserved, allocated, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == id {
			if item.Version != version {
				return models.ErrOptimisticLock
			}
			item.OnHand, item.Reserved, item.Allocated = onHand, reserved, allocated
			item.Version++
			return nil
		}
	}
	return models.ErrInventoryItemNotFound
}

func (f *fakeInventoryRepo) InsertTransaction(ctx context.Context, tx pgx.Tx, txn *models.InventoryTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txns = append(f.txns, txn)
	return nil
}

func (f *fakeInventoryRepo) CreateReservation(ctx context.Context, tx pgx.Tx, res *models.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byRef[res.ReferenceID]; exists {
		return repository.ErrDuplicateReservation
	}
	res.Version = 1
	f.reservations[res.ID] = res
	f.byRef[res.ReferenceID] = res.ID
	return nil
}

func (f *fakeInventoryRepo) GetReservationByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[id]
	if !ok {
		return nil, models.ErrReservationNotFound
	}
	cp := *res
	return &cp, nil
}

func (f *fakeInventoryRepo) GetReservationByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Reservation, error) {
	return f.GetReservationByID(ctx, id)
}

func (f *fakeInventoryRepo) GetReservationByReference(ctx context.Context, referenceID string) (*models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byRef[referenceID]
	if !ok {
		return nil, models.ErrReservationNotFound
	}
	res := f.reservations[id]
	cp := *res
	return &cp, nil
}

func (f *fakeInventoryRepo) UpdateReservationStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.ReservationStatus, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[id]
	if !ok {
		return models.ErrReservationNotFound
	}
	if res.Version != version {
		return models.ErrOptimisticLock
	}
	res.Status = newStatus
	res.Version++
	return nil
}

func (f *fakeInventoryRepo) GetPendingReservationsFIFO(ctx context.Context, itemID, location string, limit int) ([]*models.Reservation, error) {
	return nil, nil
}

func (f *fakeInventoryRepo) GetExpiredReservations(ctx context.Context, asOf time.Time, limit int) ([]*models.Reservation, error) {
	return nil, nil
}

type fakeShipmentRepo struct {
	mu        sync.Mutex
	shipments map[uuid.UUID]*models.Shipment
}

func newFakeShipmentRepo() *fakeShipmentRepo {
	return &fakeShipmentRepo{shipments: map[uuid.UUID]*models.Shipment{}}
}

func (f *fakeShipmentRepo) Create(ctx context.Context, tx pgx.Tx, shipment *models.Shipment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}
	shipment.Version = 1
	if shipment.Status == "" {
		shipment.Status = models.ShipmentStatusPending
	}
	f.shipments[shipment.ID] = shipment
	return nil
}

func (f *fakeShipmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shipments[id]
	if !ok {
		return nil, models.ErrShipmentNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeShipmentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shipment, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeShipmentRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.ShipmentStatus, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shipments[id]
	if !ok {
		return models.ErrShipmentNotFound
	}
	if s.Version != version {
		return models.ErrOptimisticLock
	}
	s.Status = newStatus
	s.Version++
	return nil
}

func (f *fakeShipmentRepo) UpdateTrackingAndStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, trackingNumber string, newStatus models.ShipmentStatus, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shipments[id]
	if !ok {
		return models.ErrShipmentNotFound
	}
	if s.Version != version {
		return models.ErrOptimisticLock
	}
	s.TrackingNumber = trackingNumber
	s.Status = newStatus
	s.Version++
	return nil
}

func (f *fakeShipmentRepo) UpdateScheduledDate(ctx context.Context, tx pgx.Tx, id uuid.UUID, scheduledDate time.Time, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shipments[id]
	if !ok {
		return models.ErrShipmentNotFound
	}
	if s.Version != version {
		return models.ErrOptimisticLock
	}
	s.ScheduledDate = &scheduledDate
	s.Version++
	return nil
}

func (f *fakeShipmentRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*models.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Shipment
	for _, s := range f.shipments {
		if s.OrderID == orderID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakePurchaseOrderRepo struct {
	mu    sync.Mutex
	pos   map[uuid.UUID]*models.PurchaseOrder
	lines map[uuid.UUID][]*models.PurchaseOrderLine
}

func newFakePurchaseOrderRepo() *fakePurchaseOrderRepo {
	return &fakePurchaseOrderRepo{pos: map[uuid.UUID]*models.PurchaseOrder{}, lines: map[uuid.UUID][]*models.PurchaseOrderLine{}}
}

func (f *fakePurchaseOrderRepo) Create(ctx context.Context, tx pgx.Tx, po *models.PurchaseOrder, lines []*models.PurchaseOrderLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if po.ID == uuid.Nil {
		po.ID = uuid.New()
	}
	po.Version = 1
	for _, l := range lines {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		l.PurchaseOrderID = po.ID
	}
	f.pos[po.ID] = po
	f.lines[po.ID] = lines
	return nil
}

func (f *fakePurchaseOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PurchaseOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	po, ok := f.pos[id]
	if !ok {
		return nil, models.ErrPurchaseOrderNotFound
	}
	cp := *po
	return &cp, nil
}

func (f *fakePurchaseOrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PurchaseOrder, error) {
	return f.GetByID(ctx, id)
}

func (f *fakePurchaseOrderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.PurchaseOrderStatus, approvedBy string, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	po, ok := f.pos[id]
	if !ok {
		return models.ErrPurchaseOrderNotFound
	}
	if po.Version != version {
		return models.ErrOptimisticLock
	}
	po.Status = newStatus
	if approvedBy != "" {
		po.ApprovedBy = approvedBy
	}
	po.Version++
	return nil
}

func (f *fakePurchaseOrderRepo) GetLines(ctx context.Context, poID uuid.UUID) ([]*models.PurchaseOrderLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines[poID], nil
}

func (f *fakePurchaseOrderRepo) GetBySupplierID(ctx context.Context, supplierID uuid.UUID, limit, offset int) ([]*models.PurchaseOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PurchaseOrder
	for _, po := range f.pos {
		if po.SupplierID == supplierID {
			out = append(out, po)
		}
	}
	return out, nil
}

type fakeReturnRepo struct {
	mu    sync.Mutex
	rets  map[uuid.UUID]*models.Return
	items map[uuid.UUID][]*models.ReturnItem
}

func newFakeReturnRepo() *fakeReturnRepo {
	return &fakeReturnRepo{rets: map[uuid.UUID]*models.Return{}, items: map[uuid.UUID][]*models.ReturnItem{}}
}

func (f *fakeReturnRepo) Create(ctx context.Context, tx pgx.Tx, ret *models.Return, items []*models.ReturnItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ret.ID == uuid.Nil {
		ret.ID = uuid.New()
	}
	ret.Version = 1
	for _, it := range items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.ReturnID = ret.ID
	}
	f.rets[ret.ID] = ret
	f.items[ret.ID] = items
	return nil
}

func (f *fakeReturnRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Return, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rets[id]
	if !ok {
		return nil, models.ErrReturnNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReturnRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Return, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeReturnRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus models.ReturnStatus, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rets[id]
	if !ok {
		return models.ErrReturnNotFound
	}
	if r.Version != version {
		return models.ErrOptimisticLock
	}
	r.Status = newStatus
	r.Version++
	return nil
}

func (f *fakeReturnRepo) GetItems(ctx context.Context, returnID uuid.UUID) ([]*models.ReturnItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[returnID], nil
}

func (f *fakeReturnRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*models.Return, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Return
	for _, r := range f.rets {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}
