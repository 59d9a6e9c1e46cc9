// Package service implements the order/shipment/purchase-order/return
// command surface on top of command.Executor, translating each
// operation's request into a validated mutation plus outbox event.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stateset/commerce-core/internal/models"
)

// OrderService exposes the order aggregate's command and query surface.
type OrderService interface {
	PlaceOrder(ctx context.Context, idemKey string, req PlaceOrderRequest) (*models.Order, error)
	ConfirmOrder(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error)
	HoldOrder(ctx context.Context, idemKey string, orderID uuid.UUID, reason string) (*models.Order, error)
	ResumeOrder(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error)
	CancelOrder(ctx context.Context, idemKey string, orderID uuid.UUID, reason string) (*models.Order, error)
	MarkOrderShipped(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error)
	MarkOrderDelivered(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error)
	FailOrder(ctx context.Context, idemKey string, orderID uuid.UUID, reason string) (*models.Order, error)
	RetryOrder(ctx context.Context, idemKey string, orderID uuid.UUID) (*models.Order, error)
	RefundOrder(ctx context.Context, idemKey string, orderID uuid.UUID, amount decimal.Decimal) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*models.Order, error)
}

// PlaceOrderRequest is the validated input to PlaceOrder.
type PlaceOrderRequest struct {
	CustomerID      uuid.UUID          `validate:"required"`
	Currency        string             `validate:"required,len=3"`
	Items           []PlaceOrderItem   `validate:"required,min=1,dive"`
	ShippingAddress *models.Address
	BillingAddress  *models.Address
	ShippedBy       string
	Location        string `validate:"required"`
	AllowBackorder  bool
	ReservationTTL  time.Duration
}

// PlaceOrderItem is one requested line on a PlaceOrderRequest.
type PlaceOrderItem struct {
	ItemID    string          `validate:"required"`
	Quantity  int64           `validate:"required,gt=0"`
	UnitPrice decimal.Decimal `validate:"required"`
	Discount  decimal.Decimal
	TaxRate   decimal.Decimal
}

// ShipmentService exposes the shipment aggregate's command surface.
type ShipmentService interface {
	CreateShipment(ctx context.Context, idemKey string, orderID uuid.UUID, carrierID *uuid.UUID, scheduledDate *time.Time) (*models.Shipment, error)
	MarkInTransit(ctx context.Context, idemKey string, shipmentID uuid.UUID, trackingNumber string) (*models.Shipment, error)
	MarkDelivered(ctx context.Context, idemKey string, shipmentID uuid.UUID) (*models.Shipment, error)
	RescheduleShipment(ctx context.Context, idemKey string, shipmentID uuid.UUID, scheduledDate time.Time) (*models.Shipment, error)
	HoldShipment(ctx context.Context, idemKey string, shipmentID uuid.UUID) (*models.Shipment, error)
	CancelShipment(ctx context.Context, idemKey string, shipmentID uuid.UUID) (*models.Shipment, error)
	GetShipment(ctx context.Context, shipmentID uuid.UUID) (*models.Shipment, error)
	ListShipmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Shipment, error)
}

// PurchaseOrderService exposes the purchase order aggregate's command surface.
type PurchaseOrderService interface {
	CreatePurchaseOrder(ctx context.Context, idemKey string, req CreatePurchaseOrderRequest) (*models.PurchaseOrder, error)
	SubmitPurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID) (*models.PurchaseOrder, error)
	ApprovePurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID, approvedBy string) (*models.PurchaseOrder, error)
	RejectPurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID) (*models.PurchaseOrder, error)
	ReceivePurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID, location string) (*models.PurchaseOrder, error)
	ClosePurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID) (*models.PurchaseOrder, error)
	CancelPurchaseOrder(ctx context.Context, idemKey string, poID uuid.UUID) (*models.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, poID uuid.UUID) (*models.PurchaseOrder, error)
}

// CreatePurchaseOrderRequest is the validated input to CreatePurchaseOrder.
type CreatePurchaseOrderRequest struct {
	SupplierID  uuid.UUID `validate:"required"`
	SubmittedBy string    `validate:"required"`
	Notes       string
	Lines       []PurchaseOrderLineRequest `validate:"required,min=1,dive"`
}

type PurchaseOrderLineRequest struct {
	ItemID   string          `validate:"required"`
	Quantity int64           `validate:"required,gt=0"`
	UnitCost decimal.Decimal `validate:"required"`
}

// ReturnService exposes the return aggregate's command surface.
type ReturnService interface {
	RequestReturn(ctx context.Context, idemKey string, req RequestReturnRequest) (*models.Return, error)
	ApproveReturn(ctx context.Context, idemKey string, returnID uuid.UUID) (*models.Return, error)
	RejectReturn(ctx context.Context, idemKey string, returnID uuid.UUID) (*models.Return, error)
	ReceiveReturn(ctx context.Context, idemKey string, returnID uuid.UUID, location string) (*models.Return, error)
	RestockReturn(ctx context.Context, idemKey string, returnID uuid.UUID, location string) (*models.Return, error)
	CloseReturn(ctx context.Context, idemKey string, returnID uuid.UUID) (*models.Return, error)
	GetReturn(ctx context.Context, returnID uuid.UUID) (*models.Return, error)
	ListReturnsByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Return, error)
}

// RequestReturnRequest is the validated input to RequestReturn.
type RequestReturnRequest struct {
	OrderID uuid.UUID `validate:"required"`
	Reason  string    `validate:"required"`
	Items   []ReturnItemRequest `validate:"required,min=1,dive"`
}

type ReturnItemRequest struct {
	OrderItemID uuid.UUID `validate:"required"`
	ItemID      string    `validate:"required"`
	Quantity    int64     `validate:"required,gt=0"`
}
