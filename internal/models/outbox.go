package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the closed set of states an OutboxEvent can occupy.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusDelivered  OutboxStatus = "delivered"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// OutboxEvent is the row schema co-written with a business state change,
// per the column-level contract: insert is part of the same transaction
// as the state change it represents.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   *uuid.UUID
	EventType     string
	Payload       json.RawMessage
	Status        OutboxStatus
	Attempts      int
	AvailableAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     *time.Time
	ErrorMessage  *string
	Metadata      json.RawMessage
}

// WirePayload is the exact outbound JSON shape delivered to consumers.
type WirePayload struct {
	ID            uuid.UUID       `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   *uuid.UUID      `json:"aggregate_id,omitempty"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      WireMetadata    `json:"metadata"`
}

// WireMetadata carries correlation information to downstream consumers.
type WireMetadata struct {
	CorrelationID string `json:"correlation_id"`
	CreatedAt     string `json:"created_at"`
}

// Aggregate type constants used across the order/inventory families.
const (
	AggregateTypeOrder         = "order"
	AggregateTypeShipment      = "shipment"
	AggregateTypePurchaseOrder = "purchase_order"
	AggregateTypeReturn        = "return"
	AggregateTypeInventoryItem = "inventory_item"
)

// Event type constants emitted by commands in this module.
const (
	EventTypeOrderCreated     = "order.created"
	EventTypeOrderConfirmed   = "order.confirmed"
	EventTypeOrderHeld        = "order.held"
	EventTypeOrderReleased    = "order.released"
	EventTypeOrderShipped     = "order.shipped"
	EventTypeOrderDelivered   = "order.delivered"
	EventTypeOrderReturned    = "order.returned"
	EventTypeOrderCancelled   = "order.cancelled"
	EventTypeOrderFailed      = "order.failed"
	EventTypeOrderRefunded    = "order.refunded"

	EventTypeShipmentCreated      = "shipment.created"
	EventTypeShipmentInTransit    = "shipment.in_transit"
	EventTypeShipmentDelivered    = "shipment.delivered"
	EventTypeShipmentHeld         = "shipment.held"
	EventTypeShipmentCancelled    = "shipment.cancelled"
	EventTypeShipmentRescheduled  = "shipment.rescheduled"

	EventTypePurchaseOrderSubmitted = "purchase_order.submitted"
	EventTypePurchaseOrderApproved  = "purchase_order.approved"
	EventTypePurchaseOrderRejected  = "purchase_order.rejected"
	EventTypePurchaseOrderReceived  = "purchase_order.received"
	EventTypePurchaseOrderClosed    = "purchase_order.closed"
	EventTypePurchaseOrderCancelled = "purchase_order.cancelled"

	EventTypeReturnApproved  = "return.approved"
	EventTypeReturnRejected  = "return.rejected"
	EventTypeReturnReceived  = "return.received"
	EventTypeReturnRestocked = "return.restocked"
	EventTypeReturnClosed    = "return.closed"

	EventTypeReservationCreated  = "inventory.reservation_created"
	EventTypeReservationReleased = "inventory.reservation_released"
	EventTypeReservationExpired  = "inventory.reservation_expired"
	EventTypeReservationFilled   = "inventory.reservation_filled"
)
