// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package api serves the health and status HTTP surface. There is no inbound
// data plane: everything here is read-only observability.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/picsync/internal/health"
	"github.com/tomtom215/picsync/internal/logging"
)

// healthRateLimit allows aggressive poll intervals from orchestrators while
// still bounding abuse.
const (
	healthRateLimit       = 1000
	healthRateLimitWindow = time.Minute
)

// Router serves the health endpoints from the workers' published status.
type Router struct {
	health *health.Publisher
}

func NewRouter(hp *health.Publisher) *Router {
	return &Router{health: hp}
}

// Handler builds the chi handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(healthRateLimit, healthRateLimitWindow))
	r.Use(requestMetrics)

	r.Get("/", rt.ok)
	r.Get("/health", rt.ok)
	r.Get("/health/live", rt.live)
	r.Get("/health/ready", rt.ready)
	r.Get("/status", rt.status)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	return r
}

func (rt *Router) ok(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (rt *Router) live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ready reports 503 until a worker has published its first status, so
// orchestrators hold traffic off during startup and initial connect.
func (rt *Router) ready(w http.ResponseWriter, _ *http.Request) {
	if !rt.health.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	logger := logging.Ctx(r.Context())
	if err := json.NewEncoder(w).Encode(rt.health.Snapshot()); err != nil {
		logger.Error().Err(err).Msg("status encode failed")
		return
	}
	logger.Debug().Msg("status served")
}
