package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
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

// orderServiceImpl implements OrderService on top of command.Executor,
// running each operation as validate -> idempotency -> transaction ->
// mutate + outbox insert -> commit.
type orderServiceImpl struct {
	exec      *command.Executor
	orderRepo repository.OrderRepository
	outbox    repository.OutboxRepository
	inv       *inventory.Engine
	metrics   *observability.Metrics
	logger    zerolog.Logger
	validate  *validator.Validate
}

func NewOrderService(
	db repository.Database,
	orderRepo repository.OrderRepository,
	outboxRepo repository.OutboxRepository,
	store idempotency.Store,
	inv *inventory.Engine,
	bus *eventbus.Bus,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) OrderService {
	return &orderServiceImpl{
		exec:      command.NewExecutor(db, store, bus, metrics, logger),
		orderRepo: orderRepo,
		outbox:    outboxRepo,
		inv:       inv,
		metrics:   metrics,
		logger:    logger.With().Str("component", "order_service").Logger(),
		validate:  validator.New(),
	}
}

func (s *orderServiceImpl) emitOrderEvent(ctx context.Context, tx pgx.Tx, order *models.Order, eventType string, extra map[string]any) error {
	payload := map[string]any{
		"order_id":    order.ID.String(),
		"customer_id": order.CustomerID.String(),
		"status":      string(order.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal order event payload: %w", err)
	}
	return s.outbox.Create(ctx, tx, &models.OutboxEvent{
		AggregateType: models.AggregateTypeOrder,
		AggregateID:   &order.ID,
		EventType:     eventType,
		Payload:       raw,
	})
}

// orderBusEvent builds the in-process notification mirroring an order
// event already written to the outbox in the same transaction. Carries
// the live *models.Order so a local subscriber never needs to decode JSON.
func orderBusEvent(ctx context.Context, eventType string, order *models.Order) eventbus.Event {
	return eventbus.Event{
		Type:          eventType,
		AggregateType: models.AggregateTypeOrder,
		AggregateID:   order.ID,
		CorrelationID: reqcontext.CorrelationID(ctx),
		OccurredAt:    time.Now(),
		Payload:       order,
	}
}

func (s *orderServiceImpl) PlaceOrder(ctx context.Context, idemKey string, req PlaceOrderRequest) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders", Token: idemKey}
	return command.Run(ctx, s.exec, key, req, command.Spec[PlaceOrderRequest, *models.Order]{
		Name: "place_order",
		Validate: func(r PlaceOrderRequest) error {
			if err := s.validate.Struct(r); err != nil {
				return domainerr.Validation("", err.Error())
			}
			return nil
		},
		Execute: func(ctx context.Context, tx pgx.Tx, r PlaceOrderRequest) (*models.Order, error) {
			now := time.Now()
			order := &models.Order{
				ID:              uuid.New(),
				OrderNumber:     "ORD-" + uuid.New().String()[:8],
				CustomerID:      r.CustomerID,
				Status:          models.OrderStatusPending,
				TotalAmount:     decimal.Zero,
				RefundedAmount:  decimal.Zero,
				Currency:        r.Currency,
				ShippingAddress: r.ShippingAddress,
				BillingAddress:  r.BillingAddress,
				ShippedBy:       r.ShippedBy,
				CreatedAt:       now,
				UpdatedAt:       now,
			}

			items := make([]*models.OrderItem, 0, len(r.Items))
			total := decimal.Zero
			for _, it := range r.Items {
				item := &models.OrderItem{
					ItemID:    it.ItemID,
					Quantity:  it.Quantity,
					UnitPrice: it.UnitPrice,
					Discount:  it.Discount,
					TaxRate:   it.TaxRate,
				}
				item.ComputeTotals()
				total = total.Add(item.TotalPrice).Add(item.TaxAmount)
				items = append(items, item)
			}
			order.TotalAmount = total

			if err := s.orderRepo.Create(ctx, tx, order, items); err != nil {
				return nil, domainerr.Database(err)
			}

			ttl := r.ReservationTTL
			if ttl <= 0 {
				ttl = 30 * time.Minute
			}
			expiresAt := now.Add(ttl)
			for _, item := range items {
				if _, err := s.inv.Reserve(ctx, tx, item.ItemID, r.Location, order.ID.String()+":"+item.ID.String(), item.Quantity, &expiresAt, r.AllowBackorder); err != nil {
					return nil, err
				}
			}

			if err := s.emitOrderEvent(ctx, tx, order, models.EventTypeOrderCreated, map[string]any{
				"total_amount": order.TotalAmount.String(),
				"currency":     order.Currency,
			}); err != nil {
				return nil, domainerr.Database(err)
			}

			s.metrics.OrdersPlacedTotal.WithLabelValues(order.Currency).Inc()
			s.metrics.OrderAmountTotal.Add(order.TotalAmount.InexactFloat64())
			s.metrics.ActiveOrders.Inc()
			return order, nil
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderCreated, order)
		},
	})
}

// transitionOrder is the shared shape behind every status-changing
// order command: lock the row, check the transition table, persist the
// new status under CAS, and emit the event naming it.
func (s *orderServiceImpl) transitionOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, newStatus models.OrderStatus, eventType string, extra map[string]any) (*models.Order, error) {
	order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		if err == models.ErrOrderNotFound {
			return nil, domainerr.NotFound("order", orderID.String())
		}
		return nil, domainerr.Database(err)
	}
	if !models.CanTransitionOrder(order.Status, newStatus) {
		return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot move order from %s to %s", order.Status, newStatus))
	}
	if order.Status == newStatus {
		return order, nil
	}

	if err := s.orderRepo.UpdateStatus(ctx, tx, order.ID, newStatus, order.Version); err != nil {
		if err == models.ErrOptimisticLock {
			return nil, domainerr.ConcurrentModification(order.ID.String())
		}
		return nil, domainerr.Database(err)
	}
	order.Status = newStatus
	order.Version++

	if err := s.emitOrderEvent(ctx, tx, order, eventType, extra); err != nil {
		return nil, domainerr.Database(err)
	}
	return order, nil
}

func (s *orderServiceImpl) ConfirmOrder(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders/confirm", Token: idemKey}
	return command.Run(ctx, s.exec, key, orderID, command.Spec[uuid.UUID, *models.Order]{
		Name: "confirm_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
			return s.transitionOrder(ctx, tx, id, models.OrderStatusProcessing, models.EventTypeOrderConfirmed, nil)
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderConfirmed, order)
		},
	})
}

func (s *orderServiceImpl) HoldOrder(ctx context.Context, idemKey string, orderID uuid.UUID, reason string) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders/hold", Token: idemKey}
	return command.Run(ctx, s.exec, key, orderID, command.Spec[uuid.UUID, *models.Order]{
		Name: "hold_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
			return s.transitionOrder(ctx, tx, id, models.OrderStatusOnHold, models.EventTypeOrderHeld, map[string]any{"reason": reason})
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderHeld, order)
		},
	})
}

func (s *orderServiceImpl) ResumeOrder(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders/resume", Token: idemKey}
	return command.Run(ctx, s.exec, key, orderID, command.Spec[uuid.UUID, *models.Order]{
		Name: "resume_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
			return s.transitionOrder(ctx, tx, id, models.OrderStatusProcessing, models.EventTypeOrderReleased, nil)
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderReleased, order)
		},
	})
}

// FailOrder moves a processing order to Failed, e.g. after a downstream
// fulfillment or payment step reports it can't go forward.
func (s *orderServiceImpl) FailOrder(ctx context.Context, idemKey string, orderID uuid.UUID, reason string) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders/fail", Token: idemKey}
	return command.Run(ctx, s.exec, key, orderID, command.Spec[uuid.UUID, *models.Order]{
		Name: "fail_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
			return s.transitionOrder(ctx, tx, id, models.OrderStatusFailed, models.EventTypeOrderFailed, map[string]any{"reason": reason})
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderFailed, order)
		},
	})
}

// RetryOrder moves a failed order back to Processing so fulfillment can
// be attempted again.
func (s *orderServiceImpl) RetryOrder(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders/retry", Token: idemKey}
	return command.Run(ctx, s.exec, key, orderID, command.Spec[uuid.UUID, *models.Order]{
		Name: "retry_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
			return s.transitionOrder(ctx, tx, id, models.OrderStatusProcessing, models.EventTypeOrderReleased, nil)
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderReleased, order)
		},
	})
}

// CancelOrder releases any inventory the order's items still hold
// before recording the cancellation. Only non-terminal, non-shipped
// orders may be cancelled; the transition table enforces this.
func (s *orderServiceImpl) CancelOrder(ctx context.Context, idemKey string, orderID uuid.UUID, reason string) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders/cancel", Token: idemKey}
	return command.Run(ctx, s.exec, key, orderID, command.Spec[uuid.UUID, *models.Order]{
		Name: "cancel_order",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
			order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, id)
			if err != nil {
				if err == models.ErrOrderNotFound {
					return nil, domainerr.NotFound("order", id.String())
				}
				return nil, domainerr.Database(err)
			}
			if !models.CanTransitionOrder(order.Status, models.OrderStatusCancelled) {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("order in status %s cannot be cancelled", order.Status))
			}
			if order.Status == models.OrderStatusCancelled {
				return order, nil
			}

			items, err := s.orderRepo.GetItems(ctx, id)
			if err != nil {
				return nil, domainerr.Database(err)
			}
			for _, item := range items {
				refID := order.ID.String() + ":" + item.ID.String()
				res, err := s.inv.FindReservationForReference(ctx, refID)
				if err != nil {
					if err == models.ErrReservationNotFound {
						continue
					}
					return nil, err
				}
				if err := s.inv.Release(ctx, tx, res.ID); err != nil {
					return nil, err
				}
			}

			if err := s.orderRepo.UpdateStatus(ctx, tx, order.ID, models.OrderStatusCancelled, order.Version); err != nil {
				if err == models.ErrOptimisticLock {
					return nil, domainerr.ConcurrentModification(order.ID.String())
				}
				return nil, domainerr.Database(err)
			}
			order.Status = models.OrderStatusCancelled
			order.Version++

			if err := s.emitOrderEvent(ctx, tx, order, models.EventTypeOrderCancelled, map[string]any{"reason": reason}); err != nil {
				return nil, domainerr.Database(err)
			}
			s.metrics.OrdersCancelledTotal.WithLabelValues(reason).Inc()
			s.metrics.ActiveOrders.Dec()
			return order, nil
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderCancelled, order)
		},
	})
}

func (s *orderServiceImpl) MarkOrderShipped(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders/ship", Token: idemKey}
	return command.Run(ctx, s.exec, key, orderID, command.Spec[uuid.UUID, *models.Order]{
		Name: "mark_order_shipped",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
			order, err := s.transitionOrder(ctx, tx, id, models.OrderStatusShipped, models.EventTypeOrderShipped, nil)
			if err != nil {
				return nil, err
			}
			s.metrics.OrdersShippedTotal.WithLabelValues(order.ShippedBy).Inc()
			return order, nil
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderShipped, order)
		},
	})
}

func (s *orderServiceImpl) MarkOrderDelivered(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders/deliver", Token: idemKey}
	return command.Run(ctx, s.exec, key, orderID, command.Spec[uuid.UUID, *models.Order]{
		Name: "mark_order_delivered",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
			order, err := s.transitionOrder(ctx, tx, id, models.OrderStatusDelivered, models.EventTypeOrderDelivered, nil)
			if err != nil {
				return nil, err
			}
			items, err := s.orderRepo.GetItems(ctx, order.ID)
			if err != nil {
				return nil, domainerr.Database(err)
			}
			for _, item := range items {
				refID := order.ID.String() + ":" + item.ID.String()
				res, err := s.inv.FindReservationForReference(ctx, refID)
				if err != nil {
					if err == models.ErrReservationNotFound {
						continue
					}
					return nil, err
				}
				if res.Status == models.ReservationStatusAllocated {
					if err := s.inv.Consume(ctx, tx, res.ID); err != nil {
						return nil, err
					}
				}
			}
			return order, nil
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderDelivered, order)
		},
	})
}

// RefundOrder advances RefundedAmount for a full or partial refund,
// transitioning to Refunded only once the refunded total reaches
// TotalAmount.
func (s *orderServiceImpl) RefundOrder(ctx context.Context, idemKey string, orderID uuid.UUID, amount decimal.Decimal) (*models.Order, error) {
	key := command.Key{Method: "POST", Path: "/orders/refund", Token: idemKey}
	type req struct {
		OrderID uuid.UUID
		Amount  decimal.Decimal
	}
	return command.Run(ctx, s.exec, key, req{orderID, amount}, command.Spec[req, *models.Order]{
		Name: "refund_order",
		Validate: func(r req) error {
			if r.Amount.IsNegative() || r.Amount.IsZero() {
				return domainerr.Validation("amount", "must be positive")
			}
			return nil
		},
		Execute: func(ctx context.Context, tx pgx.Tx, r req) (*models.Order, error) {
			order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, r.OrderID)
			if err != nil {
				if err == models.ErrOrderNotFound {
					return nil, domainerr.NotFound("order", r.OrderID.String())
				}
				return nil, domainerr.Database(err)
			}
			if order.Status != models.OrderStatusDelivered && order.Status != models.OrderStatusCancelled {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("order in status %s cannot be refunded", order.Status))
			}

			newRefunded := order.RefundedAmount.Add(r.Amount)
			if newRefunded.GreaterThan(order.TotalAmount) {
				return nil, domainerr.Validation("amount", "refund total would exceed order total")
			}

			if err := s.orderRepo.UpdateRefundedAmount(ctx, tx, order.ID, newRefunded, order.Version); err != nil {
				if err == models.ErrOptimisticLock {
					return nil, domainerr.ConcurrentModification(order.ID.String())
				}
				return nil, domainerr.Database(err)
			}
			order.RefundedAmount = newRefunded
			order.Version++

			kind := "partial"
			if newRefunded.Equal(order.TotalAmount) {
				kind = "full"
				if models.CanTransitionOrder(order.Status, models.OrderStatusRefunded) {
					if err := s.orderRepo.UpdateStatus(ctx, tx, order.ID, models.OrderStatusRefunded, order.Version); err != nil {
						if err == models.ErrOptimisticLock {
							return nil, domainerr.ConcurrentModification(order.ID.String())
						}
						return nil, domainerr.Database(err)
					}
					order.Status = models.OrderStatusRefunded
					order.Version++
				}
			}

			if err := s.emitOrderEvent(ctx, tx, order, models.EventTypeOrderRefunded, map[string]any{
				"amount": r.Amount.String(),
				"kind":   kind,
			}); err != nil {
				return nil, domainerr.Database(err)
			}
			s.metrics.OrdersRefundedTotal.WithLabelValues(kind).Inc()
			s.metrics.RefundAmountTotal.Add(r.Amount.InexactFloat64())
			return order, nil
		},
		Event: func(ctx context.Context, order *models.Order) eventbus.Event {
			return orderBusEvent(ctx, models.EventTypeOrderRefunded, order)
		},
	})
}

func (s *orderServiceImpl) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if err == models.ErrOrderNotFound {
			return nil, domainerr.NotFound("order", orderID.String())
		}
		return nil, domainerr.Database(err)
	}
	return order, nil
}

func (s *orderServiceImpl) ListOrdersByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	orders, err := s.orderRepo.GetByCustomerID(ctx, customerID, limit, offset)
	if err != nil {
		return nil, domainerr.Database(err)
	}
	return orders, nil
}
