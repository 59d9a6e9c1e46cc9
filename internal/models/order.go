package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is a closed sum type for order lifecycle state. It is never
// compared as a free string outside this package; the Postgres repository
// is the only place that converts to/from the stored text value.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusOnHold     OrderStatus = "on_hold"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusReturned   OrderStatus = "returned"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// orderTransitions enumerates every legal (from, to) pair. Built once;
// never mutated. A transition not present here is InvalidOperation.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending: {
		OrderStatusProcessing: true,
		OrderStatusOnHold:     true,
		OrderStatusCancelled:  true,
	},
	OrderStatusProcessing: {
		OrderStatusShipped:   true,
		OrderStatusOnHold:    true,
		OrderStatusCancelled: true,
		OrderStatusFailed:    true,
	},
	OrderStatusShipped: {
		OrderStatusDelivered: true,
		OrderStatusReturned:  true,
	},
	OrderStatusDelivered: {
		OrderStatusRefunded: true,
	},
	OrderStatusOnHold: {
		OrderStatusProcessing: true,
		OrderStatusCancelled:  true,
	},
	OrderStatusCancelled: {
		OrderStatusRefunded: true,
	},
	OrderStatusFailed: {
		OrderStatusProcessing: true,
		OrderStatusCancelled:  true,
	},
}

// CanTransitionOrder reports whether from -> to is a legal order
// transition, or a same-state no-op.
func CanTransitionOrder(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	return orderTransitions[from][to]
}

// IsOrderTerminal reports whether status is Delivered, Cancelled or
// Refunded. Delivered and Cancelled still allow a transition to
// Refunded; Returned, which has no outgoing transition in
// orderTransitions, is not reported as terminal.
func IsOrderTerminal(status OrderStatus) bool {
	switch status {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// Order is the root aggregate of the order family.
type Order struct {
	ID              uuid.UUID
	OrderNumber     string
	CustomerID      uuid.UUID
	Status          OrderStatus
	Version         int64
	TotalAmount     decimal.Decimal
	RefundedAmount  decimal.Decimal
	Currency        string
	ShippingAddress *Address
	BillingAddress  *Address
	ShippedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Address is a plain value object; absence is represented by a nil
// pointer, never an empty struct standing in for "no address".
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// AddressJSON marshals an *Address (nil-safe) to the jsonb
// representation stored in shipping_address/billing_address columns.
func AddressJSON(a *Address) ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	return json.Marshal(a)
}

// ParseAddressJSON unmarshals a jsonb column value into an *Address,
// returning nil for a SQL NULL / JSON null.
func ParseAddressJSON(raw []byte) (*Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var a Address
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	return &a, nil
}

// OrderItem is owned exclusively by its Order.
type OrderItem struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	ItemID     string
	Quantity   int64
	UnitPrice  decimal.Decimal
	Discount   decimal.Decimal
	TaxRate    decimal.Decimal
	TotalPrice decimal.Decimal
	TaxAmount  decimal.Decimal
}

// ComputeTotals derives TotalPrice and TaxAmount from Quantity, UnitPrice,
// Discount and TaxRate, per the invariant in the data model.
func (i *OrderItem) ComputeTotals() {
	gross := i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
	i.TotalPrice = gross.Sub(i.Discount)
	if i.TotalPrice.IsNegative() {
		i.TotalPrice = decimal.Zero
	}
	i.TaxAmount = i.TotalPrice.Mul(i.TaxRate)
}

// OrderNote is an append-only free-text note owned by an Order.
type OrderNote struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// OrderTag is a free-form label owned by an Order.
type OrderTag struct {
	OrderID   uuid.UUID
	Tag       string
	CreatedAt time.Time
}
