// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/picsync/internal/health"
	"github.com/tomtom215/picsync/internal/logging"
)

func serveRequest(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterEndpoints(t *testing.T) {
	hp := health.NewPublisher("change_monitor")
	handler := NewRouter(hp).Handler()

	t.Run("root and health return plain OK", func(t *testing.T) {
		for _, path := range []string{"/", "/health"} {
			rec := serveRequest(t, handler, path)
			if rec.Code != http.StatusOK {
				t.Errorf("%s status = %d", path, rec.Code)
			}
			if got := rec.Body.String(); got != "OK" {
				t.Errorf("%s body = %q", path, got)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("%s content type = %q", path, ct)
			}
		}
	})

	t.Run("live is always up", func(t *testing.T) {
		if rec := serveRequest(t, handler, "/health/live"); rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("ready gates on first publish", func(t *testing.T) {
		if rec := serveRequest(t, handler, "/health/ready"); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status before publish = %d", rec.Code)
		}
		hp.PublishMonitor(health.MonitorStatus{LastChange: 42})
		if rec := serveRequest(t, handler, "/health/ready"); rec.Code != http.StatusOK {
			t.Errorf("status after publish = %d", rec.Code)
		}
	})

	t.Run("status serves the snapshot", func(t *testing.T) {
		hp.PublishMonitor(health.MonitorStatus{LastChange: 29000001, QueueSize: 5, Processing: 2})
		rec := serveRequest(t, handler, "/status")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}

		var s health.Status
		if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if s.Mode != "change_monitor" {
			t.Errorf("mode = %q", s.Mode)
		}
		if s.Monitor == nil || s.Monitor.LastChange != 29000001 {
			t.Errorf("monitor = %+v", s.Monitor)
		}
		if s.UpdatedAt == "" {
			t.Error("updated_at missing")
		}
	})

	t.Run("metrics endpoint exposed", func(t *testing.T) {
		rec := serveRequest(t, handler, "/metrics")
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("unknown path is 404", func(t *testing.T) {
		if rec := serveRequest(t, handler, "/api/v1/apps"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("request id minted", func(t *testing.T) {
		rec := serveRequest(t, handler, "/health")
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("no request id header")
		}
	})
}

func TestRequestIDReachesHandlerContext(t *testing.T) {
	var seen string
	wrapped := requestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
	}))

	t.Run("caller id propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("X-Request-ID", "caller-supplied-id")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if seen != "caller-supplied-id" {
			t.Errorf("context request id = %q", seen)
		}
		if got := rec.Header().Get("X-Request-ID"); got != "caller-supplied-id" {
			t.Errorf("echoed header = %q", got)
		}
	})

	t.Run("minted id propagated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		if seen == "" {
			t.Fatal("no request id in handler context")
		}
		if got := rec.Header().Get("X-Request-ID"); got != seen {
			t.Errorf("header %q does not match context id %q", got, seen)
		}
	})
}
