package service

import (
	"context"
	"encoding/json"
	"fmt"
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

type returnServiceImpl struct {
	exec       *command.Executor
	returnRepo repository.ReturnRepository
	orderRepo  repository.OrderRepository
	outbox     repository.OutboxRepository
	inv        *inventory.Engine
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewReturnService(
	db repository.Database,
	returnRepo repository.ReturnRepository,
	orderRepo repository.OrderRepository,
	outboxRepo repository.OutboxRepository,
	store idempotency.Store,
	inv *inventory.Engine,
	bus *eventbus.Bus,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) ReturnService {
	return &returnServiceImpl{
		exec:       command.NewExecutor(db, store, bus, metrics, logger),
		returnRepo: returnRepo,
		orderRepo:  orderRepo,
		outbox:     outboxRepo,
		inv:        inv,
		metrics:    metrics,
		logger:     logger.With().Str("component", "return_service").Logger(),
	}
}

// returnBusEvent builds the in-process notification mirroring a return
// event already written to the outbox in the same transaction.
func returnBusEvent(ctx context.Context, eventType string, ret *models.Return) eventbus.Event {
	return eventbus.Event{
		Type:          eventType,
		AggregateType: models.AggregateTypeReturn,
		AggregateID:   ret.ID,
		CorrelationID: reqcontext.CorrelationID(ctx),
		OccurredAt:    time.Now(),
		Payload:       ret,
	}
}

func (s *returnServiceImpl) emitReturnEvent(ctx context.Context, tx pgx.Tx, ret *models.Return, eventType string, extra map[string]any) error {
	payload := map[string]any{
		"return_id": ret.ID.String(),
		"order_id":  ret.OrderID.String(),
		"status":    string(ret.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal return event payload: %w", err)
	}
	return s.outbox.Create(ctx, tx, &models.OutboxEvent{
		AggregateType: models.AggregateTypeReturn,
		AggregateID:   &ret.ID,
		EventType:     eventType,
		Payload:       raw,
	})
}

func (s *returnServiceImpl) RequestReturn(ctx context.Context, idemKey string, req RequestReturnRequest) (*models.Return, error) {
	key := command.Key{Method: "POST", Path: "/returns", Token: idemKey}
	return command.Run(ctx, s.exec, key, req, command.Spec[RequestReturnRequest, *models.Return]{
		Name: "request_return",
		Execute: func(ctx context.Context, tx pgx.Tx, r RequestReturnRequest) (*models.Return, error) {
			order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, r.OrderID)
			if err != nil {
				if err == models.ErrOrderNotFound {
					return nil, domainerr.NotFound("order", r.OrderID.String())
				}
				return nil, domainerr.Database(err)
			}
			if order.Status != models.OrderStatusShipped {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("order in status %s is not eligible for return", order.Status))
			}

			ret := &models.Return{
				ID:           uuid.New(),
				OrderID:      r.OrderID,
				Status:       models.ReturnStatusPending,
				Reason:       r.Reason,
				RefundAmount: decimal.Zero,
			}
			items := make([]*models.ReturnItem, 0, len(r.Items))
			for _, it := range r.Items {
				items = append(items, &models.ReturnItem{
					OrderItemID: it.OrderItemID,
					ItemID:      it.ItemID,
					Quantity:    it.Quantity,
				})
			}
			if err := s.returnRepo.Create(ctx, tx, ret, items); err != nil {
				return nil, domainerr.Database(err)
			}
			if err := s.emitReturnEvent(ctx, tx, ret, models.EventTypeReturnApproved, map[string]any{"requested": true}); err != nil {
				return nil, domainerr.Database(err)
			}

			if models.CanTransitionOrder(order.Status, models.OrderStatusReturned) {
				if err := s.orderRepo.UpdateStatus(ctx, tx, order.ID, models.OrderStatusReturned, order.Version); err != nil {
					if err == models.ErrOptimisticLock {
						return nil, domainerr.ConcurrentModification(order.ID.String())
					}
					return nil, domainerr.Database(err)
				}
				order.Status = models.OrderStatusReturned
				order.Version++
				if err := s.emitOrderReturnedEvent(ctx, tx, order, ret.ID); err != nil {
					return nil, domainerr.Database(err)
				}
			}

			return ret, nil
		},
		Event: func(ctx context.Context, ret *models.Return) eventbus.Event {
			return returnBusEvent(ctx, models.EventTypeReturnApproved, ret)
		},
	})
}

// emitOrderReturnedEvent writes the durable outbox row recording that an
// order moved to Returned as a side effect of a return request. It has no
// matching bus publish: Spec.Event is scoped to the command's primary
// aggregate (the Return), and the bus is best-effort by design, so this
// secondary aggregate mutation relies on the outbox alone.
func (s *returnServiceImpl) emitOrderReturnedEvent(ctx context.Context, tx pgx.Tx, order *models.Order, returnID uuid.UUID) error {
	payload := map[string]any{
		"order_id":  order.ID.String(),
		"return_id": returnID.String(),
		"status":    string(order.Status),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal order returned event payload: %w", err)
	}
	return s.outbox.Create(ctx, tx, &models.OutboxEvent{
		AggregateType: models.AggregateTypeOrder,
		AggregateID:   &order.ID,
		EventType:     models.EventTypeOrderReturned,
		Payload:       raw,
	})
}

func (s *returnServiceImpl) transition(ctx context.Context, tx pgx.Tx, returnID uuid.UUID, newStatus models.ReturnStatus, eventType string, extra map[string]any) (*models.Return, error) {
	ret, err := s.returnRepo.GetByIDForUpdate(ctx, tx, returnID)
	if err != nil {
		if err == models.ErrReturnNotFound {
			return nil, domainerr.NotFound("return", returnID.String())
		}
		return nil, domainerr.Database(err)
	}
	if !models.CanTransitionReturn(ret.Status, newStatus) {
		return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot move return from %s to %s", ret.Status, newStatus))
	}
	if ret.Status == newStatus {
		return ret, nil
	}
	if err := s.returnRepo.UpdateStatus(ctx, tx, ret.ID, newStatus, ret.Version); err != nil {
		if err == models.ErrOptimisticLock {
			return nil, domainerr.ConcurrentModification(ret.ID.String())
		}
		return nil, domainerr.Database(err)
	}
	ret.Status = newStatus
	ret.Version++
	if err := s.emitReturnEvent(ctx, tx, ret, eventType, extra); err != nil {
		return nil, domainerr.Database(err)
	}
	return ret, nil
}

func (s *returnServiceImpl) ApproveReturn(ctx context.Context, idemKey string, returnID uuid.UUID) (*models.Return, error) {
	key := command.Key{Method: "POST", Path: "/returns/approve", Token: idemKey}
	return command.Run(ctx, s.exec, key, returnID, command.Spec[uuid.UUID, *models.Return]{
		Name: "approve_return",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Return, error) {
			return s.transition(ctx, tx, id, models.ReturnStatusApproved, models.EventTypeReturnApproved, nil)
		},
		Event: func(ctx context.Context, ret *models.Return) eventbus.Event {
			return returnBusEvent(ctx, models.EventTypeReturnApproved, ret)
		},
	})
}

func (s *returnServiceImpl) RejectReturn(ctx context.Context, idemKey string, returnID uuid.UUID) (*models.Return, error) {
	key := command.Key{Method: "POST", Path: "/returns/reject", Token: idemKey}
	return command.Run(ctx, s.exec, key, returnID, command.Spec[uuid.UUID, *models.Return]{
		Name: "reject_return",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Return, error) {
			return s.transition(ctx, tx, id, models.ReturnStatusRejected, models.EventTypeReturnRejected, nil)
		},
		Event: func(ctx context.Context, ret *models.Return) eventbus.Event {
			return returnBusEvent(ctx, models.EventTypeReturnRejected, ret)
		},
	})
}

func (s *returnServiceImpl) ReceiveReturn(ctx context.Context, idemKey string, returnID uuid.UUID, location string) (*models.Return, error) {
	key := command.Key{Method: "POST", Path: "/returns/receive", Token: idemKey}
	type req struct {
		ReturnID uuid.UUID
		Location string
	}
	return command.Run(ctx, s.exec, key, req{returnID, location}, command.Spec[req, *models.Return]{
		Name: "receive_return",
		Execute: func(ctx context.Context, tx pgx.Tx, r req) (*models.Return, error) {
			return s.transition(ctx, tx, r.ReturnID, models.ReturnStatusReceived, models.EventTypeReturnReceived, map[string]any{"location": r.Location})
		},
		Event: func(ctx context.Context, ret *models.Return) eventbus.Event {
			return returnBusEvent(ctx, models.EventTypeReturnReceived, ret)
		},
	})
}

// RestockReturn posts a restock Adjust for each returned item at
// location, same as a purchase order receipt, letting the backorder
// allocation engine match returned stock against the queue.
func (s *returnServiceImpl) RestockReturn(ctx context.Context, idemKey string, returnID uuid.UUID, location string) (*models.Return, error) {
	key := command.Key{Method: "POST", Path: "/returns/restock", Token: idemKey}
	type req struct {
		ReturnID uuid.UUID
		Location string
	}
	return command.Run(ctx, s.exec, key, req{returnID, location}, command.Spec[req, *models.Return]{
		Name: "restock_return",
		Validate: func(r req) error {
			if r.Location == "" {
				return domainerr.Validation("location", "must not be empty")
			}
			return nil
		},
		Execute: func(ctx context.Context, tx pgx.Tx, r req) (*models.Return, error) {
			ret, err := s.returnRepo.GetByIDForUpdate(ctx, tx, r.ReturnID)
			if err != nil {
				if err == models.ErrReturnNotFound {
					return nil, domainerr.NotFound("return", r.ReturnID.String())
				}
				return nil, domainerr.Database(err)
			}
			if !models.CanTransitionReturn(ret.Status, models.ReturnStatusRestocked) {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot restock return in status %s", ret.Status))
			}

			items, err := s.returnRepo.GetItems(ctx, ret.ID)
			if err != nil {
				return nil, domainerr.Database(err)
			}
			for _, item := range items {
				if _, err := s.inv.Adjust(ctx, tx, item.ItemID, r.Location, item.Quantity, ret.ID.String()); err != nil {
					return nil, err
				}
			}

			if err := s.returnRepo.UpdateStatus(ctx, tx, ret.ID, models.ReturnStatusRestocked, ret.Version); err != nil {
				if err == models.ErrOptimisticLock {
					return nil, domainerr.ConcurrentModification(ret.ID.String())
				}
				return nil, domainerr.Database(err)
			}
			ret.Status = models.ReturnStatusRestocked
			ret.Version++

			if err := s.emitReturnEvent(ctx, tx, ret, models.EventTypeReturnRestocked, map[string]any{"location": r.Location}); err != nil {
				return nil, domainerr.Database(err)
			}
			return ret, nil
		},
		Event: func(ctx context.Context, ret *models.Return) eventbus.Event {
			return returnBusEvent(ctx, models.EventTypeReturnRestocked, ret)
		},
	})
}

func (s *returnServiceImpl) CloseReturn(ctx context.Context, idemKey string, returnID uuid.UUID) (*models.Return, error) {
	key := command.Key{Method: "POST", Path: "/returns/close", Token: idemKey}
	return command.Run(ctx, s.exec, key, returnID, command.Spec[uuid.UUID, *models.Return]{
		Name: "close_return",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Return, error) {
			return s.transition(ctx, tx, id, models.ReturnStatusClosed, models.EventTypeReturnClosed, nil)
		},
		Event: func(ctx context.Context, ret *models.Return) eventbus.Event {
			return returnBusEvent(ctx, models.EventTypeReturnClosed, ret)
		},
	})
}

func (s *returnServiceImpl) GetReturn(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	ret, err := s.returnRepo.GetByID(ctx, returnID)
	if err != nil {
		if err == models.ErrReturnNotFound {
			return nil, domainerr.NotFound("return", returnID.String())
		}
		return nil, domainerr.Database(err)
	}
	return ret, nil
}

func (s *returnServiceImpl) ListReturnsByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Return, error) {
	rets, err := s.returnRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, domainerr.Database(err)
	}
	return rets, nil
}
