package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bibliolivre/storefront/pkg/logger"
	"github.com/bibliolivre/storefront/pkg/requestid"
)

// errorEnvelope is the wire shape of every failure response. Message is
// already localized; Dev carries raw diagnostics and is omitted in
// production builds.
type errorEnvelope struct {
	Error   Code   `json:"error"`
	Message string `json:"message"`
	Dev     string `json:"dev,omitempty"`
}

func (h *handlers) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("failed to encode response", logger.Error(err))
	}
}

func (h *handlers) respondError(w http.ResponseWriter, r *http.Request, lang string, err error) {
	status, code := classify(err)
	envelope := errorEnvelope{
		Error:   code,
		Message: h.translator.T(lang, string(code)),
	}
	if !h.production {
		envelope.Dev = err.Error()
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.log.LogAttrs(r.Context(), level, "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", string(code)),
		logger.RequestID(requestid.FromContext(r.Context())),
		logger.Error(err),
	)
	h.respondJSON(w, status, envelope)
}
