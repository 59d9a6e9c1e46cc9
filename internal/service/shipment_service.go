package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
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

type shipmentServiceImpl struct {
	exec         *command.Executor
	shipmentRepo repository.ShipmentRepository
	orderRepo    repository.OrderRepository
	outbox       repository.OutboxRepository
	inv          *inventory.Engine
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewShipmentService(
	db repository.Database,
	shipmentRepo repository.ShipmentRepository,
	orderRepo repository.OrderRepository,
	outboxRepo repository.OutboxRepository,
	store idempotency.Store,
	inv *inventory.Engine,
	bus *eventbus.Bus,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) ShipmentService {
	return &shipmentServiceImpl{
		exec:         command.NewExecutor(db, store, bus, metrics, logger),
		shipmentRepo: shipmentRepo,
		orderRepo:    orderRepo,
		outbox:       outboxRepo,
		inv:          inv,
		metrics:      metrics,
		logger:       logger.With().Str("component", "shipment_service").Logger(),
	}
}

func (s *shipmentServiceImpl) emitShipmentEvent(ctx context.Context, tx pgx.Tx, shipment *models.Shipment, eventType string, extra map[string]any) error {
	payload := map[string]any{
		"shipment_id": shipment.ID.String(),
		"order_id":    shipment.OrderID.String(),
		"status":      string(shipment.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal shipment event payload: %w", err)
	}
	return s.outbox.Create(ctx, tx, &models.OutboxEvent{
		AggregateType: models.AggregateTypeShipment,
		AggregateID:   &shipment.ID,
		EventType:     eventType,
		Payload:       raw,
	})
}

// shipmentBusEvent builds the in-process notification mirroring a
// shipment event already written to the outbox in the same transaction.
func shipmentBusEvent(ctx context.Context, eventType string, shipment *models.Shipment) eventbus.Event {
	return eventbus.Event{
		Type:          eventType,
		AggregateType: models.AggregateTypeShipment,
		AggregateID:   shipment.ID,
		CorrelationID: reqcontext.CorrelationID(ctx),
		OccurredAt:    time.Now(),
		Payload:       shipment,
	}
}

// CreateShipment allocates the order's confirmed reservations (moving
// each to Allocated) and inserts a Pending shipment owned by the order.
func (s *shipmentServiceImpl) CreateShipment(ctx context.Context, idemKey string, orderID uuid.UUID, carrierID *uuid.UUID, scheduledDate *time.Time) (*models.Shipment, error) {
	key := command.Key{Method: "POST", Path: "/shipments", Token: idemKey}
	type req struct {
		OrderID       uuid.UUID
		CarrierID     *uuid.UUID
		ScheduledDate *time.Time
	}
	return command.Run(ctx, s.exec, key, req{orderID, carrierID, scheduledDate}, command.Spec[req, *models.Shipment]{
		Name: "create_shipment",
		Execute: func(ctx context.Context, tx pgx.Tx, r req) (*models.Shipment, error) {
			order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, r.OrderID)
			if err != nil {
				if err == models.ErrOrderNotFound {
					return nil, domainerr.NotFound("order", r.OrderID.String())
				}
				return nil, domainerr.Database(err)
			}
			if order.Status != models.OrderStatusProcessing {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("order in status %s is not ready to ship", order.Status))
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
				if res.Status == models.ReservationStatusConfirmed {
					if err := s.inv.Allocate(ctx, tx, res.ID); err != nil {
						return nil, err
					}
				}
			}

			shipment := &models.Shipment{
				ID:            uuid.New(),
				OrderID:       order.ID,
				Status:        models.ShipmentStatusPending,
				CarrierID:     r.CarrierID,
				ScheduledDate: r.ScheduledDate,
			}
			if err := s.shipmentRepo.Create(ctx, tx, shipment); err != nil {
				return nil, domainerr.Database(err)
			}
			if err := s.emitShipmentEvent(ctx, tx, shipment, models.EventTypeShipmentCreated, nil); err != nil {
				return nil, domainerr.Database(err)
			}
			return shipment, nil
		},
		Event: func(ctx context.Context, shipment *models.Shipment) eventbus.Event {
			return shipmentBusEvent(ctx, models.EventTypeShipmentCreated, shipment)
		},
	})
}

func (s *shipmentServiceImpl) MarkInTransit(ctx context.Context, idemKey string, shipmentID uuid.UUID, trackingNumber string) (*models.Shipment, error) {
	key := command.Key{Method: "POST", Path: "/shipments/in_transit", Token: idemKey}
	type req struct {
		ShipmentID     uuid.UUID
		TrackingNumber string
	}
	return command.Run(ctx, s.exec, key, req{shipmentID, trackingNumber}, command.Spec[req, *models.Shipment]{
		Name: "mark_shipment_in_transit",
		Validate: func(r req) error {
			if r.TrackingNumber == "" {
				return domainerr.Validation("tracking_number", "must not be empty")
			}
			return nil
		},
		Execute: func(ctx context.Context, tx pgx.Tx, r req) (*models.Shipment, error) {
			shipment, err := s.shipmentRepo.GetByIDForUpdate(ctx, tx, r.ShipmentID)
			if err != nil {
				if err == models.ErrShipmentNotFound {
					return nil, domainerr.NotFound("shipment", r.ShipmentID.String())
				}
				return nil, domainerr.Database(err)
			}
			if !models.CanTransitionShipment(shipment.Status, models.ShipmentStatusInTransit) {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot move shipment from %s to in_transit", shipment.Status))
			}
			if shipment.Status == models.ShipmentStatusInTransit {
				return shipment, nil
			}

			if err := s.shipmentRepo.UpdateTrackingAndStatus(ctx, tx, shipment.ID, r.TrackingNumber, models.ShipmentStatusInTransit, shipment.Version); err != nil {
				if err == models.ErrOptimisticLock {
					return nil, domainerr.ConcurrentModification(shipment.ID.String())
				}
				return nil, domainerr.Database(err)
			}
			shipment.Status = models.ShipmentStatusInTransit
			shipment.TrackingNumber = r.TrackingNumber
			shipment.Version++

			if err := s.emitShipmentEvent(ctx, tx, shipment, models.EventTypeShipmentInTransit, map[string]any{
				"tracking_number": r.TrackingNumber,
			}); err != nil {
				return nil, domainerr.Database(err)
			}
			return shipment, nil
		},
		Event: func(ctx context.Context, shipment *models.Shipment) eventbus.Event {
			return shipmentBusEvent(ctx, models.EventTypeShipmentInTransit, shipment)
		},
	})
}

// MarkDelivered consumes each allocated reservation tied to the
// shipment's order and marks the order Delivered in the same
// transaction, keeping shipment/order state from diverging.
func (s *shipmentServiceImpl) MarkDelivered(ctx context.Context, idemKey string, shipmentID uuid.UUID) (*models.Shipment, error) {
	key := command.Key{Method: "POST", Path: "/shipments/deliver", Token: idemKey}
	return command.Run(ctx, s.exec, key, shipmentID, command.Spec[uuid.UUID, *models.Shipment]{
		Name: "mark_shipment_delivered",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shipment, error) {
			shipment, err := s.shipmentRepo.GetByIDForUpdate(ctx, tx, id)
			if err != nil {
				if err == models.ErrShipmentNotFound {
					return nil, domainerr.NotFound("shipment", id.String())
				}
				return nil, domainerr.Database(err)
			}
			if !models.CanTransitionShipment(shipment.Status, models.ShipmentStatusDelivered) {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot move shipment from %s to delivered", shipment.Status))
			}
			if shipment.Status == models.ShipmentStatusDelivered {
				return shipment, nil
			}

			if err := s.shipmentRepo.UpdateStatus(ctx, tx, shipment.ID, models.ShipmentStatusDelivered, shipment.Version); err != nil {
				if err == models.ErrOptimisticLock {
					return nil, domainerr.ConcurrentModification(shipment.ID.String())
				}
				return nil, domainerr.Database(err)
			}
			shipment.Status = models.ShipmentStatusDelivered
			shipment.Version++

			order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, shipment.OrderID)
			if err != nil {
				return nil, domainerr.Database(err)
			}
			if models.CanTransitionOrder(order.Status, models.OrderStatusDelivered) && order.Status != models.OrderStatusDelivered {
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
				if err := s.orderRepo.UpdateStatus(ctx, tx, order.ID, models.OrderStatusDelivered, order.Version); err != nil {
					if err == models.ErrOptimisticLock {
						return nil, domainerr.ConcurrentModification(order.ID.String())
					}
					return nil, domainerr.Database(err)
				}
			}

			if err := s.emitShipmentEvent(ctx, tx, shipment, models.EventTypeShipmentDelivered, nil); err != nil {
				return nil, domainerr.Database(err)
			}
			return shipment, nil
		},
		Event: func(ctx context.Context, shipment *models.Shipment) eventbus.Event {
			return shipmentBusEvent(ctx, models.EventTypeShipmentDelivered, shipment)
		},
	})
}

func (s *shipmentServiceImpl) HoldShipment(ctx context.Context, idemKey string, shipmentID uuid.UUID) (*models.Shipment, error) {
	key := command.Key{Method: "POST", Path: "/shipments/hold", Token: idemKey}
	return command.Run(ctx, s.exec, key, shipmentID, command.Spec[uuid.UUID, *models.Shipment]{
		Name:    "hold_shipment",
		Execute: s.transitionFunc(models.ShipmentStatusOnHold, models.EventTypeShipmentHeld, nil),
		Event: func(ctx context.Context, shipment *models.Shipment) eventbus.Event {
			return shipmentBusEvent(ctx, models.EventTypeShipmentHeld, shipment)
		},
	})
}

// RescheduleShipment only updates scheduled_date and notifies; it never
// touches shipment status or inventory.
func (s *shipmentServiceImpl) RescheduleShipment(ctx context.Context, idemKey string, shipmentID uuid.UUID, scheduledDate time.Time) (*models.Shipment, error) {
	key := command.Key{Method: "POST", Path: "/shipments/reschedule", Token: idemKey}
	type req struct {
		ShipmentID    uuid.UUID
		ScheduledDate time.Time
	}
	return command.Run(ctx, s.exec, key, req{shipmentID, scheduledDate}, command.Spec[req, *models.Shipment]{
		Name: "reschedule_shipment",
		Execute: func(ctx context.Context, tx pgx.Tx, r req) (*models.Shipment, error) {
			shipment, err := s.shipmentRepo.GetByIDForUpdate(ctx, tx, r.ShipmentID)
			if err != nil {
				if err == models.ErrShipmentNotFound {
					return nil, domainerr.NotFound("shipment", r.ShipmentID.String())
				}
				return nil, domainerr.Database(err)
			}
			if models.IsShipmentTerminal(shipment.Status) {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot reschedule shipment in status %s", shipment.Status))
			}

			if err := s.shipmentRepo.UpdateScheduledDate(ctx, tx, shipment.ID, r.ScheduledDate, shipment.Version); err != nil {
				if err == models.ErrOptimisticLock {
					return nil, domainerr.ConcurrentModification(shipment.ID.String())
				}
				return nil, domainerr.Database(err)
			}
			shipment.ScheduledDate = &r.ScheduledDate
			shipment.Version++

			if err := s.emitShipmentEvent(ctx, tx, shipment, models.EventTypeShipmentRescheduled, map[string]any{
				"scheduled_date": r.ScheduledDate,
			}); err != nil {
				return nil, domainerr.Database(err)
			}
			return shipment, nil
		},
		Event: func(ctx context.Context, shipment *models.Shipment) eventbus.Event {
			return shipmentBusEvent(ctx, models.EventTypeShipmentRescheduled, shipment)
		},
	})
}

func (s *shipmentServiceImpl) CancelShipment(ctx context.Context, idemKey string, shipmentID uuid.UUID) (*models.Shipment, error) {
	key := command.Key{Method: "POST", Path: "/shipments/cancel", Token: idemKey}
	return command.Run(ctx, s.exec, key, shipmentID, command.Spec[uuid.UUID, *models.Shipment]{
		Name: "cancel_shipment",
		Execute: func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shipment, error) {
			shipment, err := s.shipmentRepo.GetByIDForUpdate(ctx, tx, id)
			if err != nil {
				if err == models.ErrShipmentNotFound {
					return nil, domainerr.NotFound("shipment", id.String())
				}
				return nil, domainerr.Database(err)
			}
			if !models.CanTransitionShipment(shipment.Status, models.ShipmentStatusCancelled) {
				return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot cancel shipment in status %s", shipment.Status))
			}
			if shipment.Status == models.ShipmentStatusCancelled {
				return shipment, nil
			}

			items, err := s.orderRepo.GetItems(ctx, shipment.OrderID)
			if err != nil {
				return nil, domainerr.Database(err)
			}
			for _, item := range items {
				refID := shipment.OrderID.String() + ":" + item.ID.String()
				res, err := s.inv.FindReservationForReference(ctx, refID)
				if err != nil {
					if err == models.ErrReservationNotFound {
						continue
					}
					return nil, err
				}
				if res.Status == models.ReservationStatusAllocated {
					if err := s.inv.Release(ctx, tx, res.ID); err != nil {
						return nil, err
					}
				}
			}

			if err := s.shipmentRepo.UpdateStatus(ctx, tx, shipment.ID, models.ShipmentStatusCancelled, shipment.Version); err != nil {
				if err == models.ErrOptimisticLock {
					return nil, domainerr.ConcurrentModification(shipment.ID.String())
				}
				return nil, domainerr.Database(err)
			}
			shipment.Status = models.ShipmentStatusCancelled
			shipment.Version++

			if err := s.emitShipmentEvent(ctx, tx, shipment, models.EventTypeShipmentCancelled, nil); err != nil {
				return nil, domainerr.Database(err)
			}
			return shipment, nil
		},
		Event: func(ctx context.Context, shipment *models.Shipment) eventbus.Event {
			return shipmentBusEvent(ctx, models.EventTypeShipmentCancelled, shipment)
		},
	})
}

// transitionFunc builds an Execute func for the status-only moves that
// don't need any inventory side effects beyond the CAS update itself.
func (s *shipmentServiceImpl) transitionFunc(newStatus models.ShipmentStatus, eventType string, extra map[string]any) func(context.Context, pgx.Tx, uuid.UUID) (*models.Shipment, error) {
	return func(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shipment, error) {
		shipment, err := s.shipmentRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			if err == models.ErrShipmentNotFound {
				return nil, domainerr.NotFound("shipment", id.String())
			}
			return nil, domainerr.Database(err)
		}
		if !models.CanTransitionShipment(shipment.Status, newStatus) {
			return nil, domainerr.InvalidOperation(fmt.Sprintf("cannot move shipment from %s to %s", shipment.Status, newStatus))
		}
		if shipment.Status == newStatus {
			return shipment, nil
		}
		if err := s.shipmentRepo.UpdateStatus(ctx, tx, shipment.ID, newStatus, shipment.Version); err != nil {
			if err == models.ErrOptimisticLock {
				return nil, domainerr.ConcurrentModification(shipment.ID.String())
			}
			return nil, domainerr.Database(err)
		}
		shipment.Status = newStatus
		shipment.Version++
		if err := s.emitShipmentEvent(ctx, tx, shipment, eventType, extra); err != nil {
			return nil, domainerr.Database(err)
		}
		return shipment, nil
	}
}

func (s *shipmentServiceImpl) GetShipment(ctx context.Context, shipmentID uuid.UUID) (*models.Shipment, error) {
	shipment, err := s.shipmentRepo.GetByID(ctx, shipmentID)
	if err != nil {
		if err == models.ErrShipmentNotFound {
			return nil, domainerr.NotFound("shipment", shipmentID.String())
		}
		return nil, domainerr.Database(err)
	}
	return shipment, nil
}

func (s *shipmentServiceImpl) ListShipmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Shipment, error) {
	shipments, err := s.shipmentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, domainerr.Database(err)
	}
	return shipments, nil
}
