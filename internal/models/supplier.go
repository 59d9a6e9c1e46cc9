package models

import (
	"time"

	"github.com/google/uuid"
)

// Supplier is an external vendor that fulfills PurchaseOrders.
// Grounded on the Rust original's src/commands/suppliers/* entity.
type Supplier struct {
	ID           uuid.UUID
	Name         string
	ContactEmail string
	ContactPhone string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
