package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"attendance.bridge/internal/api/handler"
	"attendance.bridge/pkg/logger"
)

// NewRouter sets up the admin API routes. sync may be nil.
func NewRouter(sync handler.SyncController) *mux.Router {
	syncHandler := handler.SyncHandler{Service: sync}

	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/sync/status", syncHandler.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync", syncHandler.TriggerSync).Methods(http.MethodPost)
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Service is operational."))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// NewHandler wraps the router with tracing and a trace-aware request logger.
func NewHandler(router http.Handler) http.Handler {
	loggerMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.EnrichContextWithLogger(r.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	return otelhttp.NewHandler(loggerMiddleware(router), "admin-api")
}
