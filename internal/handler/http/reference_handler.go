package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/repository"
)

// ReferenceHandler exposes minimal CRUD over the reference entities a
// Shipment or PurchaseOrder points at: Carrier and Supplier. Neither
// has a state machine of its own, so this is plain create/get/list,
// no idempotency or command plumbing.
type ReferenceHandler struct {
	carriers  repository.CarrierRepository
	suppliers repository.SupplierRepository
	logger    zerolog.Logger
}

func NewReferenceHandler(carriers repository.CarrierRepository, suppliers repository.SupplierRepository, logger zerolog.Logger) *ReferenceHandler {
	return &ReferenceHandler{carriers: carriers, suppliers: suppliers, logger: logger.With().Str("component", "reference_handler").Logger()}
}

func (h *ReferenceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /carriers", h.createCarrier)
	mux.HandleFunc("GET /carriers", h.listCarriers)
	mux.HandleFunc("GET /carriers/{id}", h.getCarrier)
	mux.HandleFunc("POST /suppliers", h.createSupplier)
	mux.HandleFunc("GET /suppliers", h.listSuppliers)
	mux.HandleFunc("GET /suppliers/{id}", h.getSupplier)
}

func activeOnly(r *http.Request) bool {
	return r.URL.Query().Get("active_only") == "true"
}

func (h *ReferenceHandler) createCarrier(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string `json:"name"`
		Code   string `json:"code"`
		Active bool   `json:"active"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	carrier := &models.Carrier{
		Name:   body.Name,
		Code:   body.Code,
		Active: body.Active,
	}
	if err := h.carriers.Create(r.Context(), carrier); err != nil {
		writeError(w, h.logger, domainerr.Database(err))
		return
	}
	writeJSON(w, http.StatusCreated, carrier)
}

func (h *ReferenceHandler) getCarrier(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid carrier id"))
		return
	}
	carrier, err := h.carriers.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, carrier)
}

func (h *ReferenceHandler) listCarriers(w http.ResponseWriter, r *http.Request) {
	carriers, err := h.carriers.List(r.Context(), activeOnly(r))
	if err != nil {
		writeError(w, h.logger, domainerr.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, carriers)
}

func (h *ReferenceHandler) createSupplier(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string `json:"name"`
		ContactEmail string `json:"contact_email"`
		ContactPhone string `json:"contact_phone"`
		Active       bool   `json:"active"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, domainerr.Validation("body", "invalid request body"))
		return
	}
	supplier := &models.Supplier{
		Name:         body.Name,
		ContactEmail: body.ContactEmail,
		ContactPhone: body.ContactPhone,
		Active:       body.Active,
	}
	if err := h.suppliers.Create(r.Context(), supplier); err != nil {
		writeError(w, h.logger, domainerr.Database(err))
		return
	}
	writeJSON(w, http.StatusCreated, supplier)
}

func (h *ReferenceHandler) getSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid supplier id"))
		return
	}
	supplier, err := h.suppliers.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, supplier)
}

func (h *ReferenceHandler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.suppliers.List(r.Context(), activeOnly(r))
	if err != nil {
		writeError(w, h.logger, domainerr.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, suppliers)
}
