package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseOrderStatus is a closed sum type for purchase order lifecycle
// state.
type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "draft"
	PurchaseOrderStatusSubmitted PurchaseOrderStatus = "submitted"
	PurchaseOrderStatusApproved  PurchaseOrderStatus = "approved"
	PurchaseOrderStatusRejected  PurchaseOrderStatus = "rejected"
	PurchaseOrderStatusReceived  PurchaseOrderStatus = "received"
	PurchaseOrderStatusClosed    PurchaseOrderStatus = "closed"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "cancelled"
)

var purchaseOrderTransitions = map[PurchaseOrderStatus]map[PurchaseOrderStatus]bool{
	PurchaseOrderStatusDraft: {
		PurchaseOrderStatusSubmitted: true,
		PurchaseOrderStatusCancelled: true,
	},
	PurchaseOrderStatusSubmitted: {
		PurchaseOrderStatusApproved:  true,
		PurchaseOrderStatusRejected:  true,
		PurchaseOrderStatusCancelled: true,
	},
	PurchaseOrderStatusApproved: {
		PurchaseOrderStatusReceived:  true,
		PurchaseOrderStatusCancelled: true,
	},
	PurchaseOrderStatusReceived: {
		PurchaseOrderStatusClosed:    true,
		PurchaseOrderStatusCancelled: true,
	},
}

// CanTransitionPurchaseOrder reports whether from -> to is legal, or a
// same-state no-op. "Any non-terminal -> Cancelled" is expanded
// explicitly into the transition table above rather than special-cased
// here, so the table remains the single source of truth.
func CanTransitionPurchaseOrder(from, to PurchaseOrderStatus) bool {
	if from == to {
		return true
	}
	return purchaseOrderTransitions[from][to]
}

func IsPurchaseOrderTerminal(status PurchaseOrderStatus) bool {
	switch status {
	case PurchaseOrderStatusClosed, PurchaseOrderStatusRejected, PurchaseOrderStatusCancelled:
		return true
	default:
		return false
	}
}

// PurchaseOrder requisitions stock from a Supplier.
type PurchaseOrder struct {
	ID           uuid.UUID
	PONumber     string
	SupplierID   uuid.UUID
	Status       PurchaseOrderStatus
	Version      int64
	SubmittedBy  string
	ApprovedBy   string
	Notes        string
	TotalAmount  decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PurchaseOrderLine is a line item on a PurchaseOrder.
type PurchaseOrderLine struct {
	ID              uuid.UUID
	PurchaseOrderID uuid.UUID
	ItemID          string
	Quantity        int64
	UnitCost        decimal.Decimal
}
