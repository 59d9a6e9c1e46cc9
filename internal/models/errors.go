package models

import "errors"

// Repository-level sentinel errors. Repositories return these; the
// service/command layer is responsible for translating them into a
// *domainerr.Error with the correct Kind before returning to a caller.
var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrShipmentNotFound      = errors.New("shipment not found")
	ErrPurchaseOrderNotFound = errors.New("purchase order not found")
	ErrReturnNotFound        = errors.New("return not found")
	ErrInventoryItemNotFound = errors.New("inventory item not found")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrSupplierNotFound      = errors.New("supplier not found")
	ErrCarrierNotFound       = errors.New("carrier not found")
	ErrOutboxEventNotFound   = errors.New("outbox event not found")

	ErrOptimisticLock      = errors.New("optimistic lock failure: version mismatch")
	ErrIdempotencyMismatch = errors.New("idempotency key exists with different request hash")
	ErrInvalidTransition   = errors.New("invalid status transition")
)
