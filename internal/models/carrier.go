package models

import (
	"time"

	"github.com/google/uuid"
)

// Carrier is an external shipping provider assignable to a Shipment.
// Grounded on the Rust original's src/commands/carriers/* entity.
type Carrier struct {
	ID        uuid.UUID
	Name      string
	Code      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
