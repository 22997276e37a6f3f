// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// stubServer implements HTTPServer with scriptable behavior.
type stubServer struct {
	listenErr error
	started   chan struct{}
	release   chan struct{}
	shutdowns atomic.Int32
}

func newStubServer() *stubServer {
	return &stubServer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *stubServer) ListenAndServe() error {
	close(s.started)
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.release
	return http.ErrServerClosed
}

func (s *stubServer) Shutdown(context.Context) error {
	s.shutdowns.Add(1)
	close(s.release)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newStubServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-server.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if server.shutdowns.Load() != 1 {
		t.Errorf("shutdowns = %d", server.shutdowns.Load())
	}
}

func TestHTTPServerServiceStartupFailure(t *testing.T) {
	server := newStubServer()
	server.listenErr = errors.New("bind: address already in use")
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, server.listenErr) {
		t.Errorf("serve returned %v", err)
	}
}

// runnerFunc adapts a func to Runner.
type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestWorkerServicePassesThrough(t *testing.T) {
	want := errors.New("worker crashed")
	svc := NewWorkerService("monitor", runnerFunc(func(context.Context) error { return want }))

	if err := svc.Serve(context.Background()); !errors.Is(err, want) {
		t.Errorf("serve returned %v", err)
	}
	if svc.String() != "monitor" {
		t.Errorf("name = %q", svc.String())
	}
}

func TestOneShotServiceDoesNotRestart(t *testing.T) {
	var reported error
	sentinel := errors.New("backfill failed")
	svc := NewOneShotService("backfill", runnerFunc(func(context.Context) error { return sentinel }),
		func(err error) { reported = err })

	err := svc.Serve(context.Background())
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("serve returned %v, want ErrDoNotRestart", err)
	}
	if !errors.Is(reported, sentinel) {
		t.Errorf("done callback got %v", reported)
	}
}

func TestOneShotServiceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewOneShotService("backfill", runnerFunc(func(ctx context.Context) error { return ctx.Err() }), nil)

	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("serve returned %v", err)
	}
}
