// Package registrations implements the endpoint the ledger registrar calls
// after a share has been registered.
package registrations

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/Monas-project/Prot-Prototype/internal/components/api"
	"github.com/Monas-project/Prot-Prototype/internal/components/registration"
	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/platform/appctx"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

const maxBodyBytes = 64 << 10

// Registrar records and notifies one registration.
type Registrar interface {
	Register(ctx context.Context, in registration.Input) (*registration.Result, error)
}

// FailureResponse is returned when the message was stored but the
// notification failed.
type FailureResponse struct {
	Error     api.ErrorDetail `json:"error"`
	Recorded  bool            `json:"recorded"`
	MessageID string          `json:"messageId,omitempty"`
}

// Handler handles POST /api/registrations.
type Handler struct {
	registrar Registrar
	log       *slog.Logger
}

// NewHandler creates a new registrations handler.
func NewHandler(registrar Registrar, log *slog.Logger) *Handler {
	return &Handler{registrar: registrar, log: logutil.NoopIfNil(log)}
}

// HandleCreate handles POST /api/registrations.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	log := appctx.Logger(r.Context(), h.log)

	var in registration.Input
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}

	res, err := h.registrar.Register(r.Context(), in)
	if err != nil {
		status, reason, msg := api.Classify(err)
		if res == nil || !res.Recorded {
			if status >= http.StatusInternalServerError {
				log.Error("registration failed", "reason", reason, "error", err)
			}
			api.WriteError(w, status, reason, msg)
			return
		}
		if !shareerr.IsContextError(err) {
			log.Warn("share stored but notification failed",
				"message_id", res.MessageID, "reason", reason, "error", err)
		}
		api.WriteJSON(w, status, FailureResponse{
			Error:     api.NewErrorDetail(status, reason, msg),
			Recorded:  true,
			MessageID: res.MessageID,
		})
		return
	}

	api.WriteJSON(w, http.StatusCreated, res)
}
