package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks stock for a single (item, location) pair. All
// quantities are non-negative integer counts of stock units, never
// money — money fields elsewhere use decimal.Decimal, quantities here
// use plain int64.
type InventoryItem struct {
	ID        uuid.UUID
	ItemID    string
	Location  string
	OnHand    int64
	Reserved  int64
	Allocated int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available is the derived quantity free to reserve. Never negative.
func (i *InventoryItem) Available() int64 {
	avail := i.OnHand - i.Reserved - i.Allocated
	if avail < 0 {
		return 0
	}
	return avail
}

// ReservationStatus is a closed sum type for the lifecycle of a single
// hold against an InventoryItem.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusAllocated ReservationStatus = "allocated"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusReleased  ReservationStatus = "released"
	ReservationStatusExpired   ReservationStatus = "expired"
)

var reservationTransitions = map[ReservationStatus]map[ReservationStatus]bool{
	ReservationStatusPending: {
		ReservationStatusConfirmed: true,
		ReservationStatusCancelled: true,
		ReservationStatusExpired:   true,
	},
	ReservationStatusConfirmed: {
		ReservationStatusAllocated: true,
		ReservationStatusReleased:  true,
		ReservationStatusExpired:   true,
	},
	ReservationStatusAllocated: {
		ReservationStatusReleased: true,
	},
}

// CanTransitionReservation reports whether from -> to is legal, or a
// same-state no-op.
func CanTransitionReservation(from, to ReservationStatus) bool {
	if from == to {
		return true
	}
	return reservationTransitions[from][to]
}

func IsReservationTerminal(status ReservationStatus) bool {
	switch status {
	case ReservationStatusCancelled, ReservationStatusReleased, ReservationStatusExpired:
		return true
	default:
		return false
	}
}

// Reservation is a hold of Quantity units of ItemID at Location against
// a ReferenceID (typically an OrderItem). ReferenceID is unique per
// (item, location) while the reservation is live — a duplicate create
// against an already-live reference is rejected.
type Reservation struct {
	ID          uuid.UUID
	ItemID      string
	Location    string
	ReferenceID string
	Quantity    int64
	Status      ReservationStatus
	Version     int64
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InventoryTransactionType classifies a single ledger row.
type InventoryTransactionType string

const (
	InventoryTxnAdjust    InventoryTransactionType = "adjust"
	InventoryTxnRestock   InventoryTransactionType = "restock"
	InventoryTxnReserve   InventoryTransactionType = "reserve"
	InventoryTxnRelease   InventoryTransactionType = "release"
	InventoryTxnAllocate  InventoryTransactionType = "allocate"
	InventoryTxnConsume   InventoryTransactionType = "consume"
)

// InventoryTransaction is an append-only ledger row recorded alongside
// every mutation to an InventoryItem, for audit and reconciliation.
type InventoryTransaction struct {
	ID            uuid.UUID
	InventoryItem uuid.UUID
	Type          InventoryTransactionType
	Delta         int64
	ReferenceID   string
	CreatedAt     time.Time
}
