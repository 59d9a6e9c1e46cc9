package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/service"
)

// ShipmentHandler adapts ShipmentService's command surface onto net/http.
type ShipmentHandler struct {
	svc    service.ShipmentService
	logger zerolog.Logger
}

func NewShipmentHandler(svc service.ShipmentService, logger zerolog.Logger) *ShipmentHandler {
	return &ShipmentHandler{svc: svc, logger: logger.With().Str("component", "shipment_handler").Logger()}
}

func (h *ShipmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /shipments", h.createShipment)
	mux.HandleFunc("GET /shipments/{id}", h.getShipment)
	mux.HandleFunc("GET /orders/{id}/shipments", h.listByOrder)
	mux.HandleFunc("POST /shipments/{id}/in_transit", h.markInTransit)
	mux.HandleFunc("POST /shipments/{id}/deliver", h.markDelivered)
	mux.HandleFunc("POST /shipments/{id}/reschedule", h.rescheduleShipment)
	mux.HandleFunc("POST /shipments/{id}/hold", h.holdShipment)
	mux.HandleFunc("POST /shipments/{id}/cancel", h.cancelShipment)
}

func (h *ShipmentHandler) createShipment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID       uuid.UUID  `json:"order_id"`
		CarrierID     *uuid.UUID `json:"carrier_id,omitempty"`
		ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	shipment, err := h.svc.CreateShipment(r.Context(), idemKey(r), body.OrderID, body.CarrierID, body.ScheduledDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, shipment)
}

func (h *ShipmentHandler) getShipment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid shipment id"))
		return
	}
	shipment, err := h.svc.GetShipment(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (h *ShipmentHandler) listByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid order id"))
		return
	}
	shipments, err := h.svc.ListShipmentsByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shipments)
}

func (h *ShipmentHandler) markInTransit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid shipment id"))
		return
	}
	var body struct {
		TrackingNumber string `json:"tracking_number"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	shipment, err := h.svc.MarkInTransit(r.Context(), idemKey(r), id, body.TrackingNumber)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (h *ShipmentHandler) markDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid shipment id"))
		return
	}
	shipment, err := h.svc.MarkDelivered(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (h *ShipmentHandler) rescheduleShipment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid shipment id"))
		return
	}
	var body struct {
		ScheduledDate time.Time `json:"scheduled_date"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	shipment, err := h.svc.RescheduleShipment(r.Context(), idemKey(r), id, body.ScheduledDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (h *ShipmentHandler) holdShipment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid shipment id"))
		return
	}
	shipment, err := h.svc.HoldShipment(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (h *ShipmentHandler) cancelShipment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid shipment id"))
		return
	}
	shipment, err := h.svc.CancelShipment(r.Context(), idemKey(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}
