// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 Monas Authors

// Package shareerr defines the error taxonomy shared by the dispatch and
// inbox components. Every kind is a distinct sentinel so callers can decide
// per kind whether to retry, alert, or degrade.
package shareerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidAddressFormat is bad input. Never retried.
	ErrInvalidAddressFormat = errors.New("invalid address format")

	// ErrSignerUnavailable means the channel signer could not be provisioned
	// (missing or malformed secret, unreachable endpoint). Safe to retry once
	// the operator has fixed configuration.
	ErrSignerUnavailable = errors.New("signer unavailable")

	// ErrDispatchRejected means the notification channel refused the submission.
	ErrDispatchRejected = errors.New("dispatch rejected")

	// ErrStoreUnavailable is fatal to an inbox request.
	ErrStoreUnavailable = errors.New("message store unavailable")

	// ErrPartialSource flags a degraded inbox: the channel list failed but the
	// store succeeded. It is carried as a warning, not returned as a failure.
	ErrPartialSource = errors.New("partial source")

	// ErrCancelled means the caller cancelled or the operation timed out.
	// A cancelled dispatch must not be treated as delivered.
	ErrCancelled = errors.New("cancelled")
)

// Stable reason codes, one per kind.
const (
	ReasonInvalidAddressFormat = "invalid_address_format"
	ReasonSignerUnavailable    = "signer_unavailable"
	ReasonDispatchRejected     = "dispatch_rejected"
	ReasonStoreUnavailable     = "store_unavailable"
	ReasonPartialSource        = "partial_source"
	ReasonCancelled            = "cancelled"
	ReasonInternal             = "internal_error"
)

// Cancelled wraps a context error as ErrCancelled while keeping the
// original cause (context.Canceled or context.DeadlineExceeded) reachable.
func Cancelled(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCancelled, cause)
}

// IsContextError reports whether err stems from context cancellation or deadline.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Reason maps an error to its stable reason code.
// ErrCancelled is checked first so a cancelled dispatch never reads as rejected.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return ReasonCancelled
	case errors.Is(err, ErrInvalidAddressFormat):
		return ReasonInvalidAddressFormat
	case errors.Is(err, ErrSignerUnavailable):
		return ReasonSignerUnavailable
	case errors.Is(err, ErrDispatchRejected):
		return ReasonDispatchRejected
	case errors.Is(err, ErrStoreUnavailable):
		return ReasonStoreUnavailable
	case errors.Is(err, ErrPartialSource):
		return ReasonPartialSource
	default:
		return ReasonInternal
	}
}

// HTTPStatus maps an error kind to the status code used by the HTTP API.
func HTTPStatus(err error) int {
	switch Reason(err) {
	case "":
		return http.StatusOK
	case ReasonInvalidAddressFormat:
		return http.StatusBadRequest
	case ReasonSignerUnavailable, ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	case ReasonDispatchRejected:
		return http.StatusBadGateway
	case ReasonCancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
