package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Monas-project/Prot-Prototype/internal/platform/appctx"
	"github.com/Monas-project/Prot-Prototype/internal/platform/metrics"
)

// AccessLog logs one "request" line per request with status, bytes and
// duration_ms, and counts it in m. The base fields come from the context
// logger set by RequestLogger; without it they are recomputed from log.
// A nil m counts nothing.
func AccessLog(log *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger, ok := appctx.LoggerFromContext(r.Context())
				if !ok {
					logger = requestLogger(log, r)
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				logger.Info("request",
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
				m.ObserveRequest(r.Method, strconv.Itoa(status))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
