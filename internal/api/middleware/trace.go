// Package middleware holds HTTP middleware shared by the admin API routes.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/reportgen/internal/api/shared"
	"github.com/phrazzld/reportgen/internal/platform/logger"
)

// Trace returns middleware that assigns a trace ID to every request, echoes
// it in the X-Trace-ID response header and stores a logger carrying it in
// the request context. Apply it before any handler that logs.
func Trace(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context(), r.Header.Get(shared.TraceIDHeader))
			traceID := shared.GetTraceID(ctx)
			w.Header().Set(shared.TraceIDHeader, traceID)

			log := base.With(slog.String("trace_id", traceID))
			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(logger.WithLogger(ctx, log)))
		})
	}
}
