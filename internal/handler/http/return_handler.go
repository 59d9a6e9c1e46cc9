package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/service"
)

// ReturnHandler adapts ReturnService's command surface onto net/http.
type ReturnHandler struct {
	svc    service.ReturnService
	logger zerolog.Logger
}

func NewReturnHandler(svc service.ReturnService, logger zerolog.Logger) *ReturnHandler {
	return &ReturnHandler{svc: svc, logger: logger.With().Str("component", "return_handler").Logger()}
}

func (h *ReturnHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /returns", h.request)
	mux.HandleFunc("GET /returns/{id}", h.get)
	mux.HandleFunc("GET /orders/{id}/returns", h.listByOrder)
	mux.HandleFunc("POST /returns/{id}/approve", h.approve)
	mux.HandleFunc("POST /returns/{id}/reject", h.reject)
	mux.HandleFunc("POST /returns/{id}/receive", h.receive)
	mux.HandleFunc("POST /returns/{id}/restock", h.restock)
	mux.HandleFunc("POST /returns/{id}/close", h.close)
}

func (h *ReturnHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid return id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *ReturnHandler) request(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID uuid.UUID `json:"order_id"`
		Reason  string    `json:"reason"`
		Items   []struct {
			OrderItemID uuid.UUID `json:"order_item_id"`
			ItemID      string    `json:"item_id"`
			Quantity    int64     `json:"quantity"`
		} `json:"items"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	items := make([]service.ReturnItemRequest, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, service.ReturnItemRequest{OrderItemID: it.OrderItemID, ItemID: it.ItemID, Quantity: it.Quantity})
	}
	ret, err := h.svc.RequestReturn(r.Context(), idemKey(r), service.RequestReturnRequest{
		OrderID: body.OrderID, Reason: body.Reason, Items: items,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (h *ReturnHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ret, err := h.svc.GetReturn(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (h *ReturnHandler) listByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	rets, err := h.svc.ListReturnsByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rets)
}

func (h *ReturnHandler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ret, err := h.svc.ApproveReturn(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (h *ReturnHandler) reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ret, err := h.svc.RejectReturn(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (h *ReturnHandler) receive(w http.ResponseWriter, r *http.Request) {
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
	ret, err := h.svc.ReceiveReturn(r.Context(), idemKey(r), id, body.Location)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (h *ReturnHandler) restock(w http.ResponseWriter, r *http.Request) {
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
	ret, err := h.svc.RestockReturn(r.Context(), idemKey(r), id, body.Location)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (h *ReturnHandler) close(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ret, err := h.svc.CloseReturn(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}
