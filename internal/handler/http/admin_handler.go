package http

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/outbox"
	"github.com/stateset/commerce-core/internal/repository"
)

// AdminHandler exposes operator endpoints over the outbox table:
// inspecting stuck/failed rows and forcing a redispatch.
type AdminHandler struct {
	outboxRepo repository.OutboxRepository
	dispatcher *outbox.Dispatcher
	logger     zerolog.Logger
}

func NewAdminHandler(outboxRepo repository.OutboxRepository, dispatcher *outbox.Dispatcher, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{outboxRepo: outboxRepo, dispatcher: dispatcher, logger: logger.With().Str("component", "admin_handler").Logger()}
}

func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/outbox", h.listOutbox)
	mux.HandleFunc("POST /admin/outbox/{id}/retry", h.retryOutbox)
}

func (h *AdminHandler) listOutbox(w http.ResponseWriter, r *http.Request) {
	status := models.OutboxStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.OutboxStatusFailed
	}
	limit, offset := pagination(r)

	events, err := h.outboxRepo.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, h.logger, domainerr.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *AdminHandler) retryOutbox(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerr.Validation("id", "invalid outbox event id"))
		return
	}
	if err := h.dispatcher.Retry(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrOutboxEventNotFound) {
			writeError(w, h.logger, domainerr.NotFound("outbox_event", id.String()))
			return
		}
		writeError(w, h.logger, domainerr.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}
