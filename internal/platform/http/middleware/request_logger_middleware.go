// Package middleware provides the always-on transport middleware of the HTTP API.
package middleware

import (
	"log/slog"
	"net"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Monas-project/Prot-Prototype/internal/platform/appctx"
)

// RequestLogger attaches a logger carrying request_id, method, path and
// client_ip to the request context. It must run after chi's RequestID.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := appctx.WithLogger(r.Context(), requestLogger(base, r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(base *slog.Logger, r *http.Request) *slog.Logger {
	return base.With(
		"request_id", chimw.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path, // no query string: addresses travel in the path
		"client_ip", ClientIP(r),
	)
}

// ClientIP returns the host part of the connection's remote address. Put
// chi's RealIP in front when the API sits behind a trusted proxy.
func ClientIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
