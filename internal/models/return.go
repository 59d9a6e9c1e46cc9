package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReturnStatus is a closed sum type for return lifecycle state.
type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "pending"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusReceived  ReturnStatus = "received"
	ReturnStatusRestocked ReturnStatus = "restocked"
	ReturnStatusClosed    ReturnStatus = "closed"
)

var returnTransitions = map[ReturnStatus]map[ReturnStatus]bool{
	ReturnStatusPending: {
		ReturnStatusApproved: true,
		ReturnStatusRejected: true,
	},
	ReturnStatusApproved: {
		ReturnStatusReceived: true,
	},
	ReturnStatusReceived: {
		ReturnStatusRestocked: true,
		ReturnStatusClosed:    true,
	},
}

// CanTransitionReturn reports whether from -> to is legal, or a
// same-state no-op.
func CanTransitionReturn(from, to ReturnStatus) bool {
	if from == to {
		return true
	}
	return returnTransitions[from][to]
}

func IsReturnTerminal(status ReturnStatus) bool {
	switch status {
	case ReturnStatusRejected, ReturnStatusRestocked, ReturnStatusClosed:
		return true
	default:
		return false
	}
}

// Return belongs to an Order.
type Return struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	Status         ReturnStatus
	Version        int64
	Reason         string
	RefundAmount   decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReturnItem is a line on a Return, referencing the original OrderItem.
type ReturnItem struct {
	ID          uuid.UUID
	ReturnID    uuid.UUID
	OrderItemID uuid.UUID
	ItemID      string
	Quantity    int64
}
