package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/service"
)

// OrderHandler adapts OrderService's command surface onto net/http.
type OrderHandler struct {
	svc    service.OrderService
	logger zerolog.Logger
}

func NewOrderHandler(svc service.OrderService, logger zerolog.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, logger: logger.With().Str("component", "order_handler").Logger()}
}

func (h *OrderHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", h.placeOrder)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	mux.HandleFunc("GET /customers/{id}/orders", h.listByCustomer)
	mux.HandleFunc("POST /orders/{id}/confirm", h.confirmOrder)
	mux.HandleFunc("POST /orders/{id}/hold", h.holdOrder)
	mux.HandleFunc("POST /orders/{id}/resume", h.resumeOrder)
	mux.HandleFunc("POST /orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("POST /orders/{id}/ship", h.markShipped)
	mux.HandleFunc("POST /orders/{id}/deliver", h.markDelivered)
	mux.HandleFunc("POST /orders/{id}/fail", h.failOrder)
	mux.HandleFunc("POST /orders/{id}/retry", h.retryOrder)
	mux.HandleFunc("POST /orders/{id}/refund", h.refundOrder)
}

type placeOrderBody struct {
	CustomerID      uuid.UUID               `json:"customer_id"`
	Currency        string                  `json:"currency"`
	Items           []placeOrderItemBody    `json:"items"`
	ShippingAddress *addressBody            `json:"shipping_address,omitempty"`
	BillingAddress  *addressBody            `json:"billing_address,omitempty"`
	ShippedBy       string                  `json:"shipped_by,omitempty"`
	Location        string                  `json:"location"`
	AllowBackorder  bool                    `json:"allow_backorder,omitempty"`
	ReservationTTLSeconds int64             `json:"reservation_ttl_seconds,omitempty"`
}

type placeOrderItemBody struct {
	ItemID    string          `json:"item_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount,omitempty"`
	TaxRate   decimal.Decimal `json:"tax_rate,omitempty"`
}

type addressBody struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (b *addressBody) toModel() *models.Address {
	if b == nil {
		return nil
	}
	return &models.Address{
		Line1: b.Line1, Line2: b.Line2, City: b.City,
		State: b.State, PostalCode: b.PostalCode, Country: b.Country,
	}
}

func (h *OrderHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}

	items := make([]service.PlaceOrderItem, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, service.PlaceOrderItem{
			ItemID: it.ItemID, Quantity: it.Quantity, UnitPrice: it.UnitPrice,
			Discount: it.Discount, TaxRate: it.TaxRate,
		})
	}

	req := service.PlaceOrderRequest{
		CustomerID:      body.CustomerID,
		Currency:        body.Currency,
		Items:           items,
		ShippingAddress: body.ShippingAddress.toModel(),
		BillingAddress:  body.BillingAddress.toModel(),
		ShippedBy:       body.ShippedBy,
		Location:        body.Location,
		AllowBackorder:  body.AllowBackorder,
	}
	if body.ReservationTTLSeconds > 0 {
		req.ReservationTTL = time.Duration(body.ReservationTTLSeconds) * time.Second
	}

	order, err := h.svc.PlaceOrder(r.Context(), idemKey(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) listByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid customer id"))
		return
	}
	limit, offset := pagination(r)
	orders, err := h.svc.ListOrdersByCustomer(r.Context(), customerID, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	order, err := h.svc.ConfirmOrder(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) holdOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &body)
	order, err := h.svc.HoldOrder(r.Context(), idemKey(r), id, body.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) resumeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	order, err := h.svc.ResumeOrder(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &body)
	order, err := h.svc.CancelOrder(r.Context(), idemKey(r), id, body.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) markShipped(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	order, err := h.svc.MarkOrderShipped(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) markDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	order, err := h.svc.MarkOrderDelivered(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) failOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &body)
	order, err := h.svc.FailOrder(r.Context(), idemKey(r), id, body.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) retryOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	order, err := h.svc.RetryOrder(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) refundOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	order, err := h.svc.RefundOrder(r.Context(), idemKey(r), id, body.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
