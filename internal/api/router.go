// Package api implements the read-only admin surface: alert/group/rule
// inspection, destination failure history, a live snapshot websocket
// feed, and Prometheus scraping. Grounded on the teacher's
// go-app/internal/api/router.go middleware-stack shape, trimmed to the
// read-only routes this system exposes (no publishing-target CRUD, no
// auth/rate-limit middleware — this surface is meant for a trusted
// operator network, not third-party API consumers).
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/holmesproxy/alert-core/internal/fanout"
	"github.com/holmesproxy/alert-core/internal/store"
)

// Config holds the collaborators and tuning the router needs.
type Config struct {
	Store          *store.Store
	Groups         GroupLister
	Rules          RuleLister
	Fanout         *fanout.Fanout
	Logger         *slog.Logger
	SnapshotPeriod time.Duration
}

// NewRouter builds the admin HTTP router.
//
// @title Alert Core Admin API
// @version 1.0.0
// @description Read-only inspection surface for the alert core.
// @BasePath /api/v1
func NewRouter(cfg Config) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SnapshotPeriod == 0 {
		cfg.SnapshotPeriod = 5 * time.Second
	}

	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(cfg.Logger))
	router.Use(recoveryMiddleware(cfg.Logger))

	router.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/alerts", listAlertsHandler(cfg.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{fingerprint}", getAlertHandler(cfg.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/groups", listGroupsHandler(cfg.Groups)).Methods(http.MethodGet)
	v1.HandleFunc("/groups/{id}", getGroupHandler(cfg.Groups)).Methods(http.MethodGet)
	v1.HandleFunc("/rules", listRulesHandler(cfg.Rules)).Methods(http.MethodGet)
	v1.HandleFunc("/destinations/{name}/failures", destinationFailuresHandler(cfg.Fanout)).Methods(http.MethodGet)
	v1.HandleFunc("/stream", snapshotStreamHandler(cfg.Store, cfg.Groups, cfg.SnapshotPeriod, cfg.Logger))

	router.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)

	return router
}
