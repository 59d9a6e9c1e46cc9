// Package allocation implements the backorder allocation engine: when
// a restock or positive adjustment increases on_hand for an
// (item, location) with outstanding Pending reservations, newly
// available stock is matched against that backorder queue in
// creation-time priority, the same scan-and-consume structure used to
// match orders against a price-time priority book, generalized from
// matching opposing order sides to matching supply against demand.
package allocation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stateset/commerce-core/internal/repository"
)

// maxQueueScan bounds how many Pending reservations one restock event
// will attempt to fill, so a single oversized backorder queue can't
// turn a restock into an unbounded transaction.
const maxQueueScan = 500

// Engine fills backorders against freshly restocked inventory.
type Engine struct {
	repo    repository.InventoryRepository
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewEngine(repo repository.InventoryRepository, metrics *observability.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{repo: repo, metrics: metrics, logger: logger.With().Str("component", "allocation_engine").Logger()}
}

// FillResult reports what the match pass did.
type FillResult struct {
	Filled  []*models.Reservation
	Skipped int // number of queued reservations left unfilled this pass
}

// MatchRestock runs one scan-and-consume pass: it walks the Pending
// reservation queue for (itemID, location) oldest-first and promotes
// each to Confirmed in full as long as enough freshly available stock
// remains — no partial fills, matching the inventory engine's own
// Reserve semantics. MUST be called within the same transaction as the
// restock that produced the newly available quantity, with the
// InventoryItem row already locked by the caller.
func (e *Engine) MatchRestock(ctx context.Context, tx pgx.Tx, item *models.InventoryItem) (*FillResult, error) {
	available := item.Available()
	result := &FillResult{}
	if available <= 0 {
		return result, nil
	}

	queue, err := e.repo.GetPendingReservationsFIFO(ctx, item.ItemID, item.Location, maxQueueScan)
	if err != nil {
		return nil, domainerr.Database(err)
	}

	reserved := item.Reserved
	for _, res := range queue {
		if available <= 0 {
			result.Skipped++
			continue
		}
		if res.Quantity > available {
			result.Skipped++
			continue
		}

		if err := e.repo.UpdateReservationStatus(ctx, tx, res.ID, models.ReservationStatusConfirmed, res.Version); err != nil {
			if err == models.ErrOptimisticLock {
				// Another command mutated this reservation concurrently
				// (e.g. it was just cancelled); skip it this pass rather
				// than fail the whole restock.
				result.Skipped++
				continue
			}
			return nil, domainerr.Database(err)
		}
		if err := e.repo.InsertTransaction(ctx, tx, &models.InventoryTransaction{
			InventoryItem: item.ID,
			Type:          models.InventoryTxnReserve,
			Delta:         res.Quantity,
			ReferenceID:   res.ReferenceID,
		}); err != nil {
			return nil, domainerr.Database(err)
		}

		available -= res.Quantity
		reserved += res.Quantity
		res.Status = models.ReservationStatusConfirmed
		result.Filled = append(result.Filled, res)
		e.metrics.BackorderFilledTotal.WithLabelValues(item.ItemID).Inc()
		e.metrics.BackorderQueueDepth.WithLabelValues(item.ItemID, item.Location).Dec()
	}

	if len(result.Filled) == 0 {
		return result, nil
	}

	if err := e.repo.UpdateQuantities(ctx, tx, item.ID, item.OnHand, reserved, item.Allocated, item.Version); err != nil {
		if err == models.ErrOptimisticLock {
			return nil, domainerr.ConcurrentModification(item.ID.String())
		}
		return nil, domainerr.Database(fmt.Errorf("commit backorder fill quantities: %w", err))
	}
	item.Reserved = reserved
	item.Version++

	return result, nil
}
