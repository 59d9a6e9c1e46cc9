package inventory

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stateset/commerce-core/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInventoryRepo is an in-memory stand-in for PostgresInventoryRepository,
// preserving the same CAS and FIFO ordering semantics so Engine/allocation
// behavior can be exercised without a database.
type fakeInventoryRepo struct {
	mu           sync.Mutex
	seq          int64
	items        map[string]*models.InventoryItem
	reservations map[uuid.UUID]*models.Reservation
	order        map[uuid.UUID]int64
	byRef        map[string]uuid.UUID
	txns         []*models.InventoryTransaction
}

func newFakeInventoryRepo() *fakeInventoryRepo {
	return &fakeInventoryRepo{
		items:        map[string]*models.InventoryItem{},
		reservations: map[uuid.UUID]*models.Reservation{},
		order:        map[uuid.UUID]int64{},
		byRef:        map[string]uuid.UUID{},
	}
}

func key(itemID, location string) string { return itemID + "@" + location }

func (f *fakeInventoryRepo) GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, itemID, location string) (*models.InventoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(itemID, location)
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
	f.seq++
	f.order[res.ID] = f.seq
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
	cp := *f.reservations[id]
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*models.Reservation
	for _, res := range f.reservations {
		if res.ItemID == itemID && res.Location == location && res.Status == models.ReservationStatusPending {
			cp := *res
			pending = append(pending, &cp)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return f.order[pending[i].ID] < f.order[pending[j].ID] })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (f *fakeInventoryRepo) GetExpiredReservations(ctx context.Context, asOf time.Time, limit int) ([]*models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired []*models.Reservation
	for _, res := range f.reservations {
		if models.IsReservationTerminal(res.Status) {
			continue
		}
		if res.ExpiresAt != nil && res.ExpiresAt.Before(asOf) {
			cp := *res
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeInventoryRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	repo := newFakeInventoryRepo()
	return NewEngine(repo, metrics, zerolog.Nop()), repo, mockPool
}

func beginTx(t *testing.T, ctx context.Context, pool pgxmock.PgxPoolIface) pgx.Tx {
	t.Helper()
	pool.ExpectBegin()
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	return tx
}

func commitTx(t *testing.T, pool pgxmock.PgxPoolIface, tx pgx.Tx) {
	t.Helper()
	pool.ExpectCommit()
	require.NoError(t, tx.Commit(context.Background()))
}

func TestEngine_Reserve_ExactAvailability(t *testing.T) {
	eng, repo, pool := newTestEngine(t)
	ctx := context.Background()

	tx := beginTx(t, ctx, pool)
	_, err := eng.Adjust(ctx, tx, "sku-a", "wh-1", 10, "seed")
	require.NoError(t, err)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	res, err := eng.Reserve(ctx, tx, "sku-a", "wh-1", "order-1", 10, nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusConfirmed, res.Status)
	commitTx(t, pool, tx)

	item, err := repo.GetByItemLocation(ctx, "sku-a", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), item.Available())
}

func TestEngine_Reserve_InsufficientWithoutBackorderFails(t *testing.T) {
	eng, _, pool := newTestEngine(t)
	ctx := context.Background()

	tx := beginTx(t, ctx, pool)
	_, err := eng.Adjust(ctx, tx, "sku-b", "wh-1", 2, "seed")
	require.NoError(t, err)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	_, err = eng.Reserve(ctx, tx, "sku-b", "wh-1", "order-2", 5, nil, false)
	require.Error(t, err)
	pool.ExpectRollback()
	require.NoError(t, tx.Rollback(ctx))
}

func TestEngine_Reserve_DuplicateReferenceRejected(t *testing.T) {
	eng, _, pool := newTestEngine(t)
	ctx := context.Background()

	tx := beginTx(t, ctx, pool)
	_, err := eng.Adjust(ctx, tx, "sku-c", "wh-1", 10, "seed")
	require.NoError(t, err)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	_, err = eng.Reserve(ctx, tx, "sku-c", "wh-1", "dup-ref", 1, nil, false)
	require.NoError(t, err)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	_, err = eng.Reserve(ctx, tx, "sku-c", "wh-1", "dup-ref", 1, nil, false)
	require.Error(t, err)
	pool.ExpectRollback()
	require.NoError(t, tx.Rollback(ctx))
}

func TestEngine_Reserve_BackorderThenRestockFillsFIFO(t *testing.T) {
	eng, _, pool := newTestEngine(t)
	ctx := context.Background()

	tx := beginTx(t, ctx, pool)
	first, err := eng.Reserve(ctx, tx, "sku-d", "wh-1", "backorder-1", 5, nil, true)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusPending, first.Status)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	second, err := eng.Reserve(ctx, tx, "sku-d", "wh-1", "backorder-2", 10, nil, true)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusPending, second.Status)
	commitTx(t, pool, tx)

	// Restock only enough to fill the first (oldest) backorder.
	tx = beginTx(t, ctx, pool)
	_, err = eng.Adjust(ctx, tx, "sku-d", "wh-1", 5, "restock-1")
	require.NoError(t, err)
	commitTx(t, pool, tx)

	updatedFirst, err := eng.FindReservationForReference(ctx, "backorder-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusConfirmed, updatedFirst.Status)

	updatedSecond, err := eng.FindReservationForReference(ctx, "backorder-2")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusPending, updatedSecond.Status)
}

func TestEngine_Adjust_RejectsNegativeOnHand(t *testing.T) {
	eng, _, pool := newTestEngine(t)
	ctx := context.Background()

	tx := beginTx(t, ctx, pool)
	_, err := eng.Adjust(ctx, tx, "sku-e", "wh-1", 3, "seed")
	require.NoError(t, err)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	_, err = eng.Adjust(ctx, tx, "sku-e", "wh-1", -10, "overdraw")
	require.Error(t, err)
	pool.ExpectRollback()
	require.NoError(t, tx.Rollback(ctx))
}

func TestEngine_AllocateThenConsume(t *testing.T) {
	eng, repo, pool := newTestEngine(t)
	ctx := context.Background()

	tx := beginTx(t, ctx, pool)
	_, err := eng.Adjust(ctx, tx, "sku-f", "wh-1", 4, "seed")
	require.NoError(t, err)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	res, err := eng.Reserve(ctx, tx, "sku-f", "wh-1", "order-f", 4, nil, false)
	require.NoError(t, err)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	require.NoError(t, eng.Allocate(ctx, tx, res.ID))
	commitTx(t, pool, tx)

	allocated, err := repo.GetReservationByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusAllocated, allocated.Status)

	tx = beginTx(t, ctx, pool)
	require.NoError(t, eng.Consume(ctx, tx, res.ID))
	commitTx(t, pool, tx)

	item, err := repo.GetByItemLocation(ctx, "sku-f", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), item.OnHand)
	assert.Equal(t, int64(0), item.Allocated)
}

func TestEngine_Release_IsNoopOnTerminalReservation(t *testing.T) {
	eng, _, pool := newTestEngine(t)
	ctx := context.Background()

	tx := beginTx(t, ctx, pool)
	_, err := eng.Adjust(ctx, tx, "sku-g", "wh-1", 2, "seed")
	require.NoError(t, err)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	res, err := eng.Reserve(ctx, tx, "sku-g", "wh-1", "order-g", 2, nil, false)
	require.NoError(t, err)
	commitTx(t, pool, tx)

	tx = beginTx(t, ctx, pool)
	require.NoError(t, eng.Release(ctx, tx, res.ID))
	commitTx(t, pool, tx)

	// Second release on the now-Released reservation is a no-op, not an error.
	tx = beginTx(t, ctx, pool)
	require.NoError(t, eng.Release(ctx, tx, res.ID))
	commitTx(t, pool, tx)
}
