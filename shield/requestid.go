package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/uirefine/idgen"
	"github.com/hazyhaar/uirefine/kit"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

var requestIDs = idgen.Prefixed("req_", idgen.UUIDv7())

// RequestID reuses the caller's X-Request-ID or generates one, stores it
// under kit.RequestIDKey, echoes it in the response and attaches a
// per-request logger to the context.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 128 {
				id = requestIDs()
			}
			ctx := kit.WithRequestID(r.Context(), id)
			w.Header().Set(RequestIDHeader, id)

			reqLogger := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
