package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stateset/commerce-core/internal/command"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/eventbus"
	"github.com/stateset/commerce-core/internal/idempotency"
	"github.com/stateset/commerce-core/internal/inventory"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stateset/commerce-core/internal/reqcontext"
	"github.com/stateset/commerce-core/internal/repository"
)

type purchaseOrderServiceImpl struct {
	exec    *command.Executor
	poRepo  repository.PurchaseOrderRepository
	outbox  repository.OutboxRepository
	inv     *inventory.Engine
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPurchaseOrderService(
	db repository.Database,
	poRepo repository.PurchaseOrderRepository,
	outboxRepo repository.OutboxRepository,
	store idempotency.Store,
	inv *inventory.Engine,
	bus *eventbus.Bus,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) PurchaseOrderService {
	return &purchaseOrderServiceImpl{
		exec:    command.NewExecutor(db, store, bus, metrics, logger),
		poRepo:  poRepo,
		outbox:  outboxRepo,
		inv:     inv,
		metrics: metrics,
		logger:  logger.With().Str("component", "purchase_order_service").Logger(),
	}
}

func (s *purchaseOrderServiceImpl) emitPOEvent(ctx context.Context, tx pgx.Tx, po *models.PurchaseOrder, eventType string, extra map[string]any) error {
	payload := map[string]any{
		"purchase_order_id": po.ID.String(),
		"supplier_id":       po.SupplierID.String(),
		"status":            string(po.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal purchase order event payload: %w", err)
	}
	return s.outbox.Create(ctx, tx, &models.OutboxEvent{
		AggregateType: models.AggregateTypePurchaseOrder,
		AggregateID:   &po.ID,
		EventType:     eventType,
		Payload:       raw,
	})
}

// poBusEvent builds the in-process notification mirroring a purchase
// order event already written to the outbox in the same transaction.
func poBusEvent(ctx context.Context, eventType string, po *models.PurchaseOrder) eventbus.Event {
	return eventbus.Event{
		Type:          eventType,
		AggregateType: models.AggregateTypePurchaseOrder,
		AggregateID:   po.ID,
		CorrelationID: reqcontext.CorrelationID(ctx),
		OccurredAt:    time.Now(),
		Payload:       po,
	}
}

func (s *purchaseOrderServiceImpl) CreatePurchaseOrder(ctx context.Context, idemKey string, req CreatePurchaseOrderRequest) (*models.PurchaseOrder, error) {
	key := command.Key{Method: "POST", Path: "/purchase-orders", Token: idemKey}
	return command.Run(ctx, s.exec, key, req, command.Spec[CreatePurchaseOrderRequest, *models.PurchaseOrder]{
		Name: "create_purchase_order",
		Execute: func(ctx context.Context, tx pgx.Tx, r CreatePurchaseOrderRequest) (*models.PurchaseOrder, error) {
			total := decimal.Zero
			lines := make([]*models.PurchaseOrderLine, 0, len(r.Lines))
			for _, l := range r.Lines {
				total = total.Add(l.UnitCost.Mul(decimal.NewFromInt(l.Quantity)))
				lines = append(lines, &models.PurchaseOrderLine{
					ItemID:   l.ItemID,
					Quantity: l.Quantity,
					UnitCost: l.UnitCost,
				})
			}
			po := &models.PurchaseOrder{
				ID:          uuid.New(),
				PONumber:    "PO-" + uuid.New().String()[:8],
				SupplierID:  r.SupplierID,
				Status:      models.PurchaseOrderStatusDraft,
				SubmittedBy: r.SubmittedBy,
				Notes:       r.Notes,
				TotalAmount: total,
			}
			if err := s.poRepo.Create(ctx, tx, po, lines); err != nil {
				return nil, domainerr.Database(err)
			}
			if err := s.emitPOEvent(ctx, tx, po, models.EventTypePurchaseOrderSubmitted, map[string]any{"created": true}); err != nil {
				return nil, domainerr.Database(err)
			}
			return po, nil
		},
		Event: func(ctx context.Context, po *models.PurchaseOrder) eventbus.Event {
			return poBusEvent(ctx, models.EventTypePurchaseOrderSubmitted, po)
		},
	})
}

func (s *purchaseOrderServiceImpl) transition(ctx context.Context, tx pgx.Tx, poID uuid.UUID, newStatus models.PurchaseOrderStatus, approvedBy, eventType string, extra map[string]any) (*models.PurchaseOrder, error) {
	po, err := s.poRepo.GetByIDForUpdate(ctx, tx, poID)
	if err != nil {
		if err == models.ErrPurchaseOrderNotFound {
			return nil, domainerr.NotFound("purchase_order", poID.String())
		}
		return nil, domainerr.Database(err)
	}
	if !models.CanTransitionPurchaseOrder(po.Status, newStatus) {
		return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot move purchase order from %s to %s", po.Status, newStatus))
	}
	if po.Status == newStatus {
		return po, nil
	}
	if err := s.poRepo.UpdateStatus(ctx, tx, po.ID, newStatus, approvedBy, po.Version); err != nil {
		if err == models.ErrOptimisticLock {
			return nil, domainerr.ConcurrentModification(po.ID.String())
		}
		return nil, domainerr.Database(err)
	}
	po.Status = newStatus
	if approvedBy != "" {
		po.ApprovedBy = approvedBy
	}
	po.Version++
	if err := s.emitPOEvent(ctx, tx, po, eventType, extra); err != nil {
		return nil, domainerr.Database(err)
	}
	return po, nil
}

func (s *purchaseOrderServiceImpl) SubmitPurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID) (*models.PurchaseOrder, error) {
	key := command.Key{Method: "POST", Path: "/purchase-orders/submit", Token: idemKey}
	return command.Run(ctx, s.exec, key, poID, command.Spec[uuid.UUID, *models.PurchaseOrder]{
		Name: "submit_purchase_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PurchaseOrder, error) {
			return s.transition(ctx, tx, id, models.PurchaseOrderStatusSubmitted, "", models.EventTypePurchaseOrderSubmitted, nil)
		},
		Event: func(ctx context.Context, po *models.PurchaseOrder) eventbus.Event {
			return poBusEvent(ctx, models.EventTypePurchaseOrderSubmitted, po)
		},
	})
}

func (s *purchaseOrderServiceImpl) ApprovePurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID, approvedBy string) (*models.PurchaseOrder, error) {
	key := command.Key{Method: "POST", Path: "/purchase-orders/approve", Token: idemKey}
	type req struct {
		POID       uuid.UUID
		ApprovedBy string
	}
	return command.Run(ctx, s.exec, key, req{poID, approvedBy}, command.Spec[req, *models.PurchaseOrder]{
		Name: "approve_purchase_order",
		Validate: func(r req) error {
			if r.ApprovedBy == "" {
				return domainerr.Validation("approved_by", "must not be empty")
			}
			return nil
		},
		Execute: func(ctx context.Context, tx pgx.Tx, r req) (*models.PurchaseOrder, error) {
			return s.transition(ctx, tx, r.POID, models.PurchaseOrderStatusApproved, r.ApprovedBy, models.EventTypePurchaseOrderApproved, map[string]any{"approved_by": r.ApprovedBy})
		},
		Event: func(ctx context.Context, po *models.PurchaseOrder) eventbus.Event {
			return poBusEvent(ctx, models.EventTypePurchaseOrderApproved, po)
		},
	})
}

func (s *purchaseOrderServiceImpl) RejectPurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID) (*models.PurchaseOrder, error) {
	key := command.Key{Method: "POST", Path: "/purchase-orders/reject", Token: idemKey}
	return command.Run(ctx, s.exec, key, poID, command.Spec[uuid.UUID, *models.PurchaseOrder]{
		Name: "reject_purchase_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PurchaseOrder, error) {
			return s.transition(ctx, tx, id, models.PurchaseOrderStatusRejected, "", models.EventTypePurchaseOrderRejected, nil)
		},
		Event: func(ctx context.Context, po *models.PurchaseOrder) eventbus.Event {
			return poBusEvent(ctx, models.EventTypePurchaseOrderRejected, po)
		},
	})
}

// ReceivePurchaseOrder posts a restock Adjust for each line at
// location, which also triggers the backorder allocation engine's FIFO
// match against the newly arrived stock.
func (s *purchaseOrderServiceImpl) ReceivePurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID, location string) (*models.PurchaseOrder, error) {
	key := command.Key{Method: "POST", Path: "/purchase-orders/receive", Token: idemKey}
	type req struct {
		POID     uuid.UUID
		Location string
	}
	return command.Run(ctx, s.exec, key, req{poID, location}, command.Spec[req, *models.PurchaseOrder]{
		Name: "receive_purchase_order",
		Validate: func(r req) error {
			if r.Location == "" {
				return domainerr.Validation("location", "must not be empty")
			}
			return nil
		},
		Execute: func(ctx context.Context, tx pgx.Tx, r req) (*models.PurchaseOrder, error) {
			po, err := s.poRepo.GetByIDForUpdate(ctx, tx, r.POID)
			if err != nil {
				if err == models.ErrPurchaseOrderNotFound {
					return nil, domainerr.NotFound("purchase_order", r.POID.String())
				}
				return nil, domainerr.Database(err)
			}
			if !models.CanTransitionPurchaseOrder(po.Status, models.PurchaseOrderStatusReceived) {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot receive purchase order in status %s", po.Status))
			}

			lines, err := s.poRepo.GetLines(ctx, po.ID)
			if err != nil {
				return nil, domainerr.Database(err)
			}

			// Lock rows in the same canonical (item_id, location) order
			// every multi-item inventory mutation uses, so a concurrent
			// receipt touching an overlapping item set can't deadlock.
			sort.Slice(lines, func(i, j int) bool { return lines[i].ItemID < lines[j].ItemID })

			for _, line := range lines {
				if _, err := s.inv.Adjust(ctx, tx, line.ItemID, r.Location, line.Quantity, po.ID.String()); err != nil {
					return nil, err
				}
			}

			if po.Status != models.PurchaseOrderStatusReceived {
				if err := s.poRepo.UpdateStatus(ctx, tx, po.ID, models.PurchaseOrderStatusReceived, "", po.Version); err != nil {
					if err == models.ErrOptimisticLock {
						return nil, domainerr.ConcurrentModification(po.ID.String())
					}
					return nil, domainerr.Database(err)
				}
				po.Status = models.PurchaseOrderStatusReceived
				po.Version++
			}

			if err := s.emitPOEvent(ctx, tx, po, models.EventTypePurchaseOrderReceived, map[string]any{"location": r.Location}); err != nil {
				return nil, domainerr.Database(err)
			}
			return po, nil
		},
		Event: func(ctx context.Context, po *models.PurchaseOrder) eventbus.Event {
			return poBusEvent(ctx, models.EventTypePurchaseOrderReceived, po)
		},
	})
}

func (s *purchaseOrderServiceImpl) ClosePurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID) (*models.PurchaseOrder, error) {
	key := command.Key{Method: "POST", Path: "/purchase-orders/close", Token: idemKey}
	return command.Run(ctx, s.exec, key, poID, command.Spec[uuid.UUID, *models.PurchaseOrder]{
		Name: "close_purchase_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PurchaseOrder, error) {
			return s.transition(ctx, tx, id, models.PurchaseOrderStatusClosed, "", models.EventTypePurchaseOrderClosed, nil)
		},
		Event: func(ctx context.Context, po *models.PurchaseOrder) eventbus.Event {
			return poBusEvent(ctx, models.EventTypePurchaseOrderClosed, po)
		},
	})
}

func (s *purchaseOrderServiceImpl) CancelPurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID) (*models.PurchaseOrder, error) {
	key := command.Key{Method: "POST", Path: "/purchase-orders/cancel", Token: idemKey}
	return command.Run(ctx, s.exec, key, poID, command.Spec[uuid.UUID, *models.PurchaseOrder]{
		Name: "cancel_purchase_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PurchaseOrder, error) {
			return s.transition(ctx, tx, id, models.PurchaseOrderStatusCancelled, "", models.EventTypePurchaseOrderCancelled, nil)
		},
		Event: func(ctx context.Context, po *models.PurchaseOrder) eventbus.Event {
			return poBusEvent(ctx, models.EventTypePurchaseOrderCancelled, po)
		},
	})
}

func (s *purchaseOrderServiceImpl) GetPurchaseOrder(ctx context.Context, poID uuid.UUID) (*models.PurchaseOrder, error) {
	po, err := s.poRepo.GetByID(ctx, poID)
	if err != nil {
		if err == models.ErrPurchaseOrderNotFound {
			return nil, domainerr.NotFound("purchase_order", poID.String())
		}
		return nil, domainerr.Database(err)
	}
	return po, nil
}
