package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"

	"github.com/frahmantamala/fitcoach-payments/pkg/logger"
)

const TraceHeader = "X-Trace-ID"

// RequestLogger scopes a logger to the request. It must run after chi's RequestID.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(TraceHeader)
			if traceID == "" {
				traceID = uuid.NewString()
			}
			w.Header().Set(TraceHeader, traceID)

			scoped := base.With(
				"trace_id", traceID,
				"request_id", middleware.GetReqID(r.Context()),
			)
			ctx := logger.WithLogger(r.Context(), scoped)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
