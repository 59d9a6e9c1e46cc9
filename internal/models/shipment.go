package models

import (
	"time"

	"github.com/google/uuid"
)

// ShipmentStatus is a closed sum type for shipment lifecycle state.
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
	ShipmentStatusOnHold    ShipmentStatus = "on_hold"
	ShipmentStatusCancelled ShipmentStatus = "cancelled"
)

var shipmentTransitions = map[ShipmentStatus]map[ShipmentStatus]bool{
	ShipmentStatusPending: {
		ShipmentStatusInTransit: true,
		ShipmentStatusOnHold:    true,
		ShipmentStatusCancelled: true,
	},
	ShipmentStatusInTransit: {
		ShipmentStatusDelivered: true,
	},
	ShipmentStatusOnHold: {
		ShipmentStatusPending: true,
	},
}

// CanTransitionShipment reports whether from -> to is legal, or a
// same-state no-op.
func CanTransitionShipment(from, to ShipmentStatus) bool {
	if from == to {
		return true
	}
	return shipmentTransitions[from][to]
}

func IsShipmentTerminal(status ShipmentStatus) bool {
	return status == ShipmentStatusDelivered || status == ShipmentStatusCancelled
}

// Shipment belongs to an Order.
type Shipment struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	Status         ShipmentStatus
	Version        int64
	CarrierID      *uuid.UUID
	TrackingNumber string
	ScheduledDate  *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
