// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package store is the PostgREST client for the shared Supabase catalog
// database. It exposes the handful of typed operations the sync pipeline
// needs (existence and authority probes, chunked upserts, relation
// delete/insert, keyset pagination, and the global change cursor), all routed
// through one circuit breaker so a failing store cannot stall the upstream
// session with hung requests.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/picsync/internal/logging"
	"github.com/tomtom215/picsync/internal/metrics"
)

const (
	// restPath is the PostgREST mount point on a Supabase project URL.
	restPath = "/rest/v1"

	requestTimeout = 30 * time.Second

	// errBodyLimit caps how much of an error response body makes it into
	// logs and error strings.
	errBodyLimit = 512
)

// ErrStoreUnavailable wraps circuit-breaker rejections so callers can treat
// a tripped breaker like any other transient store failure.
var ErrStoreUnavailable = errors.New("store: unavailable")

// Client talks to the catalog database through PostgREST. The zero value is
// not usable; construct with New. Client is safe for concurrent use.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// New creates a store client for the given Supabase project URL and service
// key. The key is sent as both the apikey header and the bearer token.
func New(baseURL, serviceKey string) *Client {
	const cbName = "supabase-store"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		// Open at >= 60% failures once there is a statistically useful
		// sample.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Warn().
				Str("breaker", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("store circuit breaker state change")
			metrics.RecordCircuitBreakerTransition(name, fromStr, toStr, stateToInt(to))
		},
	})

	return &Client{
		baseURL: baseURL + restPath,
		key:     serviceKey,
		http:    &http.Client{Timeout: requestTimeout},
		cb:      cb,
	}
}

// do executes one PostgREST request through the circuit breaker and returns
// the response body. op labels the request in metrics and logs.
func (c *Client) do(ctx context.Context, op string, req *restRequest) ([]byte, error) {
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.execute(ctx, op, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn().Str("operation", op).Msg("store request rejected by circuit breaker")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) execute(ctx context.Context, op string, req *restRequest) ([]byte, error) {
	var reqBody io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("store: encode %s body: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url(c.baseURL), reqBody)
	if err != nil {
		return nil, fmt.Errorf("store: build %s request: %w", op, err)
	}

	httpReq.Header.Set("apikey", c.key)
	httpReq.Header.Set("Authorization", "Bearer "+c.key)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.prefer != "" {
		httpReq.Header.Set("Prefer", req.prefer)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordStoreRequest(op, 0, time.Since(start))
		return nil, fmt.Errorf("store: %s request: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordStoreRequest(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("store: read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := data
		if len(excerpt) > errBodyLimit {
			excerpt = excerpt[:errBodyLimit]
		}
		return nil, fmt.Errorf("store: %s failed with status %d: %s", op, resp.StatusCode, excerpt)
	}
	return data, nil
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
