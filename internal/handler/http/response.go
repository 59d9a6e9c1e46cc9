package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/domainerr"
)

// errorEnvelope is the wire shape every failed command response uses,
// keyed off domainerr.Kind so a client never has to pattern-match a
// message string.
type errorEnvelope struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps any error returned by a command into the envelope and
// HTTP status its domainerr.Kind specifies, falling back to 500 for an
// error that never went through domainerr.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	if de, ok := domainerr.As(err); ok {
		if de.Kind == domainerr.KindDatabaseError || de.Kind == domainerr.KindInternal {
			logger.Error().Err(err).Msg("command failed")
		}
		writeJSON(w, de.Kind.HTTPStatus(), errorEnvelope{Type: string(de.Kind), Code: de.Code, Message: de.Message, Param: de.Param})
		return
	}
	logger.Error().Err(err).Msg("unhandled command error")
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Type: string(domainerr.KindInternal), Code: "internal", Message: "internal error"})
}

func idemKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
