// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 Monas Authors

// Package api provides common HTTP API utilities including error handling.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/components/shares"
	"github.com/Monas-project/Prot-Prototype/internal/components/store"
)

// Deterministic reason codes for stable error classification.
// These codes should remain stable across versions for client compatibility.
const (
	// Request validation
	ReasonBadRequest           = "bad_request"
	ReasonInvalidField         = "invalid_field"
	ReasonInvalidAddressFormat = shareerr.ReasonInvalidAddressFormat
	ReasonNotFound             = "not_found"

	// Upstream and store
	ReasonSignerUnavailable = shareerr.ReasonSignerUnavailable
	ReasonDispatchRejected  = shareerr.ReasonDispatchRejected
	ReasonStoreUnavailable  = shareerr.ReasonStoreUnavailable
	ReasonCancelled         = shareerr.ReasonCancelled

	// Server errors
	ReasonInternalError = shareerr.ReasonInternal
)

// ErrorEnvelope is the standard error response format.
// All error responses should use this structure for consistency.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code       string `json:"code"`        // HTTP status text (e.g., "Bad Gateway")
	ReasonCode string `json:"reason_code"` // Deterministic reason code
	Message    string `json:"message"`     // Human-readable message
}

// NewErrorDetail builds the detail block for statusCode.
func NewErrorDetail(statusCode int, reasonCode, message string) ErrorDetail {
	return ErrorDetail{
		Code:       http.StatusText(statusCode),
		ReasonCode: reasonCode,
		Message:    message,
	}
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	WriteJSON(w, statusCode, ErrorEnvelope{Error: NewErrorDetail(statusCode, reasonCode, message)})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// Classify maps a component error to its status, reason code and a message
// safe to return to the client. Server-side failures never echo the wrapped
// cause.
func Classify(err error) (status int, reasonCode, message string) {
	switch {
	case errors.Is(err, shares.ErrInvalidRecord), errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest, ReasonInvalidField, err.Error()
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, "conflict", "message already exists"
	}

	status = shareerr.HTTPStatus(err)
	reasonCode = shareerr.Reason(err)
	switch reasonCode {
	case ReasonInvalidAddressFormat:
		message = err.Error()
	case ReasonSignerUnavailable:
		message = "notification signer is not available"
	case ReasonDispatchRejected:
		message = "notification channel rejected the dispatch"
	case ReasonStoreUnavailable:
		message = "message store is unavailable"
	case ReasonCancelled:
		message = "request timed out or was cancelled"
	default:
		message = "internal error"
	}
	return status, reasonCode, message
}

// WriteServiceError writes err classified by Classify.
func WriteServiceError(w http.ResponseWriter, err error) {
	status, reason, msg := Classify(err)
	WriteError(w, status, reason, msg)
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusBadRequest, reasonCode, message)
}

// WriteInternalError writes a 500 Internal Server Error.
// Be careful not to leak sensitive information in the message.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}
