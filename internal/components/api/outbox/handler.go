// Package outbox serves the messages a sender has registered.
package outbox

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Monas-project/Prot-Prototype/internal/components/api"
	"github.com/Monas-project/Prot-Prototype/internal/components/store"
	"github.com/Monas-project/Prot-Prototype/internal/platform/appctx"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

// Reader lists the messages sent by an address, most recent first.
type Reader interface {
	Outbox(ctx context.Context, sender string) ([]store.Message, error)
}

// ListResponse is the body of GET /api/outbox/{address}.
type ListResponse struct {
	Messages []store.Message `json:"messages"`
}

// Handler handles the outbox endpoint.
type Handler struct {
	reader Reader
	log    *slog.Logger
}

// NewHandler creates a new outbox handler.
func NewHandler(reader Reader, log *slog.Logger) *Handler {
	return &Handler{reader: reader, log: logutil.NoopIfNil(log)}
}

// HandleList handles GET /api/outbox/{address}.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.reader.Outbox(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		status, reason, msg := api.Classify(err)
		if status >= http.StatusInternalServerError {
			appctx.Logger(r.Context(), h.log).Error("outbox request failed", "reason", reason, "error", err)
		}
		api.WriteError(w, status, reason, msg)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	api.WriteJSON(w, http.StatusOK, ListResponse{Messages: msgs})
}
