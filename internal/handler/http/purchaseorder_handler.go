package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/service"
)

// PurchaseOrderHandler adapts PurchaseOrderService's command surface
// onto net/http.
type PurchaseOrderHandler struct {
	svc    service.PurchaseOrderService
	logger zerolog.Logger
}

func NewPurchaseOrderHandler(svc service.PurchaseOrderService, logger zerolog.Logger) *PurchaseOrderHandler {
	return &PurchaseOrderHandler{svc: svc, logger: logger.With().Str("component", "purchase_order_handler").Logger()}
}

func (h *PurchaseOrderHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /purchase-orders", h.create)
	mux.HandleFunc("GET /purchase-orders/{id}", h.get)
	mux.HandleFunc("POST /purchase-orders/{id}/submit", h.submit)
	mux.HandleFunc("POST /purchase-orders/{id}/approve", h.approve)
	mux.HandleFunc("POST /purchase-orders/{id}/reject", h.reject)
	mux.HandleFunc("POST /purchase-orders/{id}/receive", h.receive)
	mux.HandleFunc("POST /purchase-orders/{id}/close", h.close)
	mux.HandleFunc("POST /purchase-orders/{id}/cancel", h.cancel)
}

func (h *PurchaseOrderHandler) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SupplierID  uuid.UUID `json:"supplier_id"`
		SubmittedBy string    `json:"submitted_by"`
		Notes       string    `json:"notes,omitempty"`
		Lines       []struct {
			ItemID   string          `json:"item_id"`
			Quantity int64           `json:"quantity"`
			UnitCost decimal.Decimal `json:"unit_cost"`
		} `json:"lines"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	lines := make([]service.PurchaseOrderLineRequest, 0, len(body.Lines))
	for _, l := range body.Lines {
		lines = append(lines, service.PurchaseOrderLineRequest{ItemID: l.ItemID, Quantity: l.Quantity, UnitCost: l.UnitCost})
	}
	po, err := h.svc.CreatePurchaseOrder(r.Context(), idemKey(r), service.CreatePurchaseOrderRequest{
		SupplierID: body.SupplierID, SubmittedBy: body.SubmittedBy, Notes: body.Notes, Lines: lines,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, po)
}

func (h *PurchaseOrderHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid purchase order id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *PurchaseOrderHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, err := h.svc.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

func (h *PurchaseOrderHandler) submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, err := h.svc.SubmitPurchaseOrder(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

func (h *PurchaseOrderHandler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		ApprovedBy string `json:"approved_by"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	po, err := h.svc.ApprovePurchaseOrder(r.Context(), idemKey(r), id, body.ApprovedBy)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

func (h *PurchaseOrderHandler) reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, err := h.svc.RejectPurchaseOrder(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

func (h *PurchaseOrderHandler) receive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Location string `json:"location"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	po, err := h.svc.ReceivePurchaseOrder(r.Context(), idemKey(r), id, body.Location)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

func (h *PurchaseOrderHandler) close(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, err := h.svc.ClosePurchaseOrder(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

func (h *PurchaseOrderHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, err := h.svc.CancelPurchaseOrder(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}
