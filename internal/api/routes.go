package api

import (
	"net/http"
	"time"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/metrics"
	"github.com/AlveZs/ifc-code-delivery/internal/store"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"
)

// Options carries the dependencies of the HTTP surface.
type Options struct {
	Store          *store.Store
	Registry       *tracking.Registry
	Relay          *tracking.Relay
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
}

type statusResponse struct {
	Sessions   []tracking.SessionInfo `json:"sessions"`
	ServerTime time.Time              `json:"server_time"`
}

// RegisterRoutes mounts every handler on the mux.
func RegisterRoutes(mux *http.ServeMux, opts Options) {
	rest := &RestHandler{Store: opts.Store, Logger: opts.Logger}
	positions := &PositionsHandler{Relay: opts.Relay, Logger: opts.Logger, Metrics: opts.Metrics}

	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(opts.Logger, handler)
	}

	mux.Handle("/ws/observer", wrap(&ObserverHandler{
		Registry:       opts.Registry,
		Relay:          opts.Relay,
		Logger:         opts.Logger,
		AuthToken:      opts.AuthToken,
		AllowedOrigins: opts.AllowedOrigins,
	}))
	mux.Handle("/ws/logs", wrap(&LogsHandler{
		Logger:         opts.Logger,
		AuthToken:      opts.AuthToken,
		AllowedOrigins: opts.AllowedOrigins,
	}))

	mux.Handle("/api/routes", wrap(restHandler(opts.AuthToken, rest.handleRoutes)))
	mux.Handle("/api/routes/", wrap(restHandler(opts.AuthToken, rest.handleRoute)))
	mux.Handle("/api/positions", wrap(restHandler(opts.AuthToken, positions.handlePositions)))
	mux.Handle("/api/status", wrap(restHandler(opts.AuthToken, func(w http.ResponseWriter, r *http.Request) *apiError {
		return handleStatus(w, r, opts.Registry)
	})))
	mux.Handle("/api/", securityHeadersHandler(cacheControlNoStore, http.NotFound))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoStore)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoStore)
		registry := opts.Metrics
		if registry == nil {
			registry = metrics.Default
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = registry.WritePrometheus(w)
	})
}

func handleStatus(w http.ResponseWriter, r *http.Request, registry *tracking.Registry) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if registry == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "registry unavailable"}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Sessions:   registry.Sessions(),
		ServerTime: time.Now().UTC(),
	})
	return nil
}
