// Package inventory implements the reservation engine: adjusting
// on-hand stock, reserving/releasing/allocating/consuming it against
// Reservations, and enforcing the non-negative quantity invariants
// under concurrent access via row locks taken in a canonical order.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/allocation"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stateset/commerce-core/internal/repository"
)

// Key identifies one (item, location) pair for lock ordering purposes.
type Key struct {
	ItemID   string
	Location string
}

func (k Key) less(other Key) bool {
	if k.ItemID != other.ItemID {
		return k.ItemID < other.ItemID
	}
	return k.Location < other.Location
}

// SortKeys returns keys in the canonical order every multi-row
// inventory mutation must lock them in, so two transactions touching
// the same set of rows can never deadlock against each other.
func SortKeys(keys []Key) []Key {
	sorted := make([]Key, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })
	return sorted
}

// Engine implements the inventory operations described by the
// reservation lifecycle: Pending -> Confirmed/Allocated -> Released,
// or -> Cancelled/Expired.
type Engine struct {
	repo       repository.InventoryRepository
	allocation *allocation.Engine
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewEngine(repo repository.InventoryRepository, metrics *observability.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:       repo,
		allocation: allocation.NewEngine(repo, metrics, logger),
		metrics:    metrics,
		logger:     logger.With().Str("component", "inventory_engine").Logger(),
	}
}

// Adjust applies delta to on_hand for (itemID, location), positive or
// negative, recording a ledger row. MUST be called within tx; it locks
// the row itself through GetOrCreateForUpdate. Fails with
// NegativeInventory if the result would leave available below zero.
func (e *Engine) Adjust(ctx context.Context, tx pgx.Tx, itemID, location string, delta int64, referenceID string) (*models.InventoryItem, error) {
	item, err := e.repo.GetOrCreateForUpdate(ctx, tx, itemID, location)
	if err != nil {
		return nil, domainerr.Database(err)
	}
	newOnHand := item.OnHand + delta
	if newOnHand-item.Reserved-item.Allocated < 0 {
		return nil, domainerr.NegativeInventory(fmt.Sprintf("adjust would drive available negative for %s@%s", itemID, location))
	}
	if err := e.repo.UpdateQuantities(ctx, tx, item.ID, newOnHand, item.Reserved, item.Allocated, item.Version); err != nil {
		return nil, translateOptimistic(err)
	}
	item.OnHand = newOnHand
	item.Version++

	txnType := models.InventoryTxnAdjust
	if delta > 0 {
		txnType = models.InventoryTxnRestock
	}
	if err := e.repo.InsertTransaction(ctx, tx, &models.InventoryTransaction{
		InventoryItem: item.ID,
		Type:          txnType,
		Delta:         delta,
		ReferenceID:   referenceID,
	}); err != nil {
		return nil, domainerr.Database(err)
	}

	if delta > 0 {
		fill, err := e.allocation.MatchRestock(ctx, tx, item)
		if err != nil {
			return nil, err
		}
		if len(fill.Filled) > 0 {
			e.logger.Info().
				Str("item_id", itemID).
				Str("location", location).
				Int("filled", len(fill.Filled)).
				Int("skipped", fill.Skipped).
				Msg("backorder queue matched against restock")
		}
	}

	e.metrics.InventoryAvailableGauge.WithLabelValues(itemID, location).Set(float64(item.Available()))
	return item, nil
}

// Reserve holds quantity units of (itemID, location) against
// referenceID. When enough stock is available the units are set aside
// at once and the reservation is returned Confirmed. If insufficient
// stock is available:
//   - allowBackorder=false (the spec.md default): fails with
//     InsufficientInventory immediately.
//   - allowBackorder=true: still creates the Pending reservation, to be
//     filled later by the backorder allocation engine as restocks
//     arrive, matched FIFO by creation time.
//
// A duplicate referenceID against an already-live reservation is
// rejected with DuplicateReservation.
func (e *Engine) Reserve(ctx context.Context, tx pgx.Tx, itemID, location, referenceID string, quantity int64, expiresAt *time.Time, allowBackorder bool) (*models.Reservation, error) {
	if quantity <= 0 {
		return nil, domainerr.Validation("quantity", "must be positive")
	}

	item, err := e.repo.GetOrCreateForUpdate(ctx, tx, itemID, location)
	if err != nil {
		return nil, domainerr.Database(err)
	}

	sufficient := item.Available() >= quantity
	if !sufficient && !allowBackorder {
		e.metrics.InventoryInsufficientTotal.WithLabelValues(itemID).Inc()
		return nil, domainerr.InsufficientInventory(fmt.Sprintf("insufficient available stock for %s@%s: requested %d, available %d", itemID, location, quantity, item.Available()))
	}

	res := &models.Reservation{
		ID:          uuid.New(),
		ItemID:      itemID,
		Location:    location,
		ReferenceID: referenceID,
		Quantity:    quantity,
		Status:      models.ReservationStatusPending,
		ExpiresAt:   expiresAt,
	}
	if err := e.repo.CreateReservation(ctx, tx, res); err != nil {
		if err == repository.ErrDuplicateReservation {
			return nil, domainerr.DuplicateReservation(referenceID)
		}
		return nil, domainerr.Database(err)
	}

	if sufficient {
		newReserved := item.Reserved + quantity
		if err := e.repo.UpdateQuantities(ctx, tx, item.ID, item.OnHand, newReserved, item.Allocated, item.Version); err != nil {
			return nil, translateOptimistic(err)
		}
		if err := e.confirmLocked(ctx, tx, res); err != nil {
			return nil, err
		}
		if err := e.repo.InsertTransaction(ctx, tx, &models.InventoryTransaction{
			InventoryItem: item.ID,
			Type:          models.InventoryTxnReserve,
			Delta:         quantity,
			ReferenceID:   referenceID,
		}); err != nil {
			return nil, domainerr.Database(err)
		}
	}

	backorderLabel := "false"
	if !sufficient {
		backorderLabel = "true"
		e.metrics.BackorderQueueDepth.WithLabelValues(itemID, location).Inc()
	}
	e.metrics.InventoryReservationsTotal.WithLabelValues(backorderLabel).Inc()
	return res, nil
}

// confirmLocked transitions a freshly created Pending reservation to
// Confirmed once stock has been set aside for it. Caller already holds
// the InventoryItem row lock.
func (e *Engine) confirmLocked(ctx context.Context, tx pgx.Tx, res *models.Reservation) error {
	if err := e.repo.UpdateReservationStatus(ctx, tx, res.ID, models.ReservationStatusConfirmed, res.Version); err != nil {
		return translateOptimistic(err)
	}
	res.Status = models.ReservationStatusConfirmed
	res.Version++
	return nil
}

// FindReservationForReference looks up the reservation created for
// referenceID, returning models.ErrReservationNotFound if none exists
// (e.g. an order item placed with quantity already satisfied and later
// consumed, or never reserved at all).
func (e *Engine) FindReservationForReference(ctx context.Context, referenceID string) (*models.Reservation, error) {
	res, err := e.repo.GetReservationByReference(ctx, referenceID)
	if err != nil {
		if err == models.ErrReservationNotFound {
			return nil, err
		}
		return nil, domainerr.Database(err)
	}
	return res, nil
}

// Release returns a Confirmed or Allocated reservation's quantity to
// availability without consuming it, for order cancellation, shipment
// cancellation, or hold placement paths that choose to release.
func (e *Engine) Release(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error {
	res, err := e.repo.GetReservationByIDForUpdate(ctx, tx, reservationID)
	if err != nil {
		return domainerr.Database(err)
	}
	if models.IsReservationTerminal(res.Status) {
		return nil // already released/cancelled/expired: no-op
	}

	item, err := e.repo.GetOrCreateForUpdate(ctx, tx, res.ItemID, res.Location)
	if err != nil {
		return domainerr.Database(err)
	}

	newReserved, newAllocated := item.Reserved, item.Allocated
	switch res.Status {
	case models.ReservationStatusConfirmed:
		newReserved -= res.Quantity
	case models.ReservationStatusAllocated:
		newAllocated -= res.Quantity
	}
	if newReserved < 0 {
		newReserved = 0
	}
	if newAllocated < 0 {
		newAllocated = 0
	}

	if err := e.repo.UpdateQuantities(ctx, tx, item.ID, item.OnHand, newReserved, newAllocated, item.Version); err != nil {
		return translateOptimistic(err)
	}
	if err := e.repo.UpdateReservationStatus(ctx, tx, res.ID, models.ReservationStatusReleased, res.Version); err != nil {
		return translateOptimistic(err)
	}
	if err := e.repo.InsertTransaction(ctx, tx, &models.InventoryTransaction{
		InventoryItem: item.ID,
		Type:          models.InventoryTxnRelease,
		Delta:         res.Quantity,
		ReferenceID:   res.ReferenceID,
	}); err != nil {
		return domainerr.Database(err)
	}
	return nil
}

// Allocate moves a Confirmed reservation to Allocated, marking its
// stock committed to an in-progress shipment.
func (e *Engine) Allocate(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error {
	res, err := e.repo.GetReservationByIDForUpdate(ctx, tx, reservationID)
	if err != nil {
		return domainerr.Database(err)
	}
	if !models.CanTransitionReservation(res.Status, models.ReservationStatusAllocated) {
		return domainerr.InvalidOperation(fmt.Sprintf("cannot allocate reservation in status %s", res.Status))
	}

	item, err := e.repo.GetOrCreateForUpdate(ctx, tx, res.ItemID, res.Location)
	if err != nil {
		return domainerr.Database(err)
	}
	newReserved := item.Reserved - res.Quantity
	if newReserved < 0 {
		newReserved = 0
	}
	if err := e.repo.UpdateQuantities(ctx, tx, item.ID, item.OnHand, newReserved, item.Allocated+res.Quantity, item.Version); err != nil {
		return translateOptimistic(err)
	}
	if err := e.repo.UpdateReservationStatus(ctx, tx, res.ID, models.ReservationStatusAllocated, res.Version); err != nil {
		return translateOptimistic(err)
	}
	if err := e.repo.InsertTransaction(ctx, tx, &models.InventoryTransaction{
		InventoryItem: item.ID,
		Type:          models.InventoryTxnAllocate,
		Delta:         res.Quantity,
		ReferenceID:   res.ReferenceID,
	}); err != nil {
		return domainerr.Database(err)
	}
	return nil
}

// Consume permanently removes an Allocated reservation's quantity from
// on_hand, for a shipment reaching Delivered.
func (e *Engine) Consume(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error {
	res, err := e.repo.GetReservationByIDForUpdate(ctx, tx, reservationID)
	if err != nil {
		return domainerr.Database(err)
	}
	if res.Status != models.ReservationStatusAllocated {
		return domainerr.InvalidOperation(fmt.Sprintf("cannot consume reservation in status %s", res.Status))
	}

	item, err := e.repo.GetOrCreateForUpdate(ctx, tx, res.ItemID, res.Location)
	if err != nil {
		return domainerr.Database(err)
	}
	newOnHand := item.OnHand - res.Quantity
	if newOnHand < 0 {
		newOnHand = 0
	}
	newAllocated := item.Allocated - res.Quantity
	if newAllocated < 0 {
		newAllocated = 0
	}
	if err := e.repo.UpdateQuantities(ctx, tx, item.ID, newOnHand, item.Reserved, newAllocated, item.Version); err != nil {
		return translateOptimistic(err)
	}
	if err := e.repo.UpdateReservationStatus(ctx, tx, res.ID, models.ReservationStatusReleased, res.Version); err != nil {
		return translateOptimistic(err)
	}
	return e.repo.InsertTransaction(ctx, tx, &models.InventoryTransaction{
		InventoryItem: item.ID,
		Type:          models.InventoryTxnConsume,
		Delta:         -res.Quantity,
		ReferenceID:   res.ReferenceID,
	})
}

// ExpireOne transitions a single expired Pending or Confirmed
// reservation, releasing any stock it had set aside. Each row is
// expired in its own transaction by the sweep loop, so one bad row
// never blocks the rest of the batch.
func (e *Engine) ExpireOne(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error {
	res, err := e.repo.GetReservationByIDForUpdate(ctx, tx, reservationID)
	if err != nil {
		return domainerr.Database(err)
	}
	if models.IsReservationTerminal(res.Status) {
		return nil
	}

	if res.Status == models.ReservationStatusConfirmed {
		item, err := e.repo.GetOrCreateForUpdate(ctx, tx, res.ItemID, res.Location)
		if err != nil {
			return domainerr.Database(err)
		}
		newReserved := item.Reserved - res.Quantity
		if newReserved < 0 {
			newReserved = 0
		}
		if err := e.repo.UpdateQuantities(ctx, tx, item.ID, item.OnHand, newReserved, item.Allocated, item.Version); err != nil {
			return translateOptimistic(err)
		}
		if err := e.repo.InsertTransaction(ctx, tx, &models.InventoryTransaction{
			InventoryItem: item.ID,
			Type:          models.InventoryTxnRelease,
			Delta:         res.Quantity,
			ReferenceID:   res.ReferenceID,
		}); err != nil {
			return domainerr.Database(err)
		}
	} else {
		e.metrics.BackorderQueueDepth.WithLabelValues(res.ItemID, res.Location).Dec()
	}

	return translateOptimistic(e.repo.UpdateReservationStatus(ctx, tx, res.ID, models.ReservationStatusExpired, res.Version))
}

func translateOptimistic(err error) error {
	if err == nil {
		return nil
	}
	if err == models.ErrOptimisticLock {
		return domainerr.ConcurrentModification("")
	}
	return domainerr.Database(err)
}
