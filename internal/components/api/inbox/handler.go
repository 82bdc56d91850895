// Package inbox serves a recipient's merged inbox.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Monas-project/Prot-Prototype/internal/components/api"
	sharesinbox "github.com/Monas-project/Prot-Prototype/internal/components/inbox"
	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/platform/appctx"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

// Reader returns a recipient's merged inbox.
type Reader interface {
	Inbox(ctx context.Context, recipient string) (*sharesinbox.Result, error)
}

// ListResponse is the body of GET /api/inbox/{address}.
type ListResponse struct {
	Entries  []sharesinbox.Entry `json:"entries"`
	Partial  bool                `json:"partial"`
	Warnings []string            `json:"warnings"`
}

// Handler handles the inbox endpoint.
type Handler struct {
	reader Reader
	log    *slog.Logger
}

// NewHandler creates a new inbox handler.
func NewHandler(reader Reader, log *slog.Logger) *Handler {
	return &Handler{reader: reader, log: logutil.NoopIfNil(log)}
}

// HandleList handles GET /api/inbox/{address}. A degraded inbox is still a
// 200 with partial set.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	res, err := h.reader.Inbox(r.Context(), addr)
	if err != nil {
		if !errors.Is(err, shareerr.ErrInvalidAddressFormat) {
			appctx.Logger(r.Context(), h.log).Debug("inbox request failed", "reason", shareerr.Reason(err))
		}
		api.WriteServiceError(w, err)
		return
	}

	resp := ListResponse{Entries: res.Entries, Partial: res.Partial, Warnings: res.Warnings}
	if resp.Entries == nil {
		resp.Entries = []sharesinbox.Entry{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
