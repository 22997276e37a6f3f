// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package main is the picsync entry point.
//
// picsync mirrors Steam PICS app metadata into the catalog store. It runs in
// one of three modes, selected by MODE:
//
//   - change_monitor (default): poll the PICS change stream and keep touched
//     apps current.
//   - bulk_sync: one-shot backfill of every app without a PICS sync yet.
//   - fetch_apps: debug fetch of TEST_APPS, logging the extraction, writing
//     nothing.
//
// Configuration is koanf-layered: defaults, optional YAML file, environment.
// SUPABASE_URL, SUPABASE_SERVICE_KEY, and STEAM_BRIDGE_URL are required. A
// health server runs on PORT (default 8080) in every mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tomtom215/picsync/internal/api"
	"github.com/tomtom215/picsync/internal/config"
	"github.com/tomtom215/picsync/internal/events"
	"github.com/tomtom215/picsync/internal/health"
	"github.com/tomtom215/picsync/internal/logging"
	"github.com/tomtom215/picsync/internal/persist"
	"github.com/tomtom215/picsync/internal/steam"
	"github.com/tomtom215/picsync/internal/store"
	"github.com/tomtom215/picsync/internal/supervisor"
	"github.com/tomtom215/picsync/internal/supervisor/services"
	"github.com/tomtom215/picsync/internal/worker"
)

// serviceKeyExpiryWarning is how close to expiry the service key gets before
// startup starts complaining.
const serviceKeyExpiryWarning = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format(),
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("mode", cfg.Mode).
		Str("supabase_url", cfg.Supabase.URL).
		Str("bridge_url", cfg.Steam.BridgeURL).
		Msg("starting picsync")

	inspectServiceKey(cfg.Supabase.ServiceKey)

	storeClient := store.New(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	persister := persist.New(storeClient)

	creds := steam.Credentials{
		Username: cfg.Steam.Username,
		Password: cfg.Steam.Password,
	}
	session := steam.NewSession(steam.DialBridge(cfg.Steam.BridgeURL), creds, cfg.Steam.HeartbeatInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		logging.Fatal().Err(err).Msg("cannot connect to steam bridge")
	}

	publisher := newEventsPublisher(cfg)
	defer publisher.Close()

	hp := health.NewPublisher(cfg.Mode)
	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())

	// One-shot modes cancel the tree when they finish; a failed run turns
	// into a non-zero exit after shutdown.
	var oneShotErr atomic.Value
	oneShotDone := func(err error) {
		if err != nil {
			oneShotErr.Store(err)
		}
		cancel()
	}

	switch cfg.Mode {
	case config.ModeChangeMonitor:
		fetcher := steam.NewFetcher(session, steam.FetchOptions{
			BatchSize:    cfg.Fetch.BatchSize,
			RequestDelay: cfg.Fetch.RequestDelay,
			Timeout:      cfg.Fetch.Timeout,
			MaxRetries:   cfg.Fetch.MaxRetries,
		})
		monitor := worker.NewMonitor(session, fetcher, persister, storeClient, publisher, hp, cfg.Monitor)
		tree.AddWorkerService(services.NewWorkerService("change-monitor", monitor))

	case config.ModeBulkSync:
		fetcher := steam.NewFetcher(session, steam.FetchOptions{
			BatchSize:    cfg.Bulk.BatchSize,
			RequestDelay: cfg.Bulk.RequestDelay,
			Timeout:      cfg.Bulk.Timeout,
			MaxRetries:   cfg.Bulk.MaxRetries,
		})
		backfill := worker.NewBackfill(session, fetcher, persister, storeClient, hp)
		tree.AddWorkerService(services.NewOneShotService("bulk-backfill", backfill, oneShotDone))

	case config.ModeFetchApps:
		fetcher := steam.NewFetcher(session, steam.FetchOptions{
			BatchSize:    cfg.Fetch.BatchSize,
			RequestDelay: cfg.Fetch.RequestDelay,
			Timeout:      cfg.Fetch.Timeout,
			MaxRetries:   cfg.Fetch.MaxRetries,
		})
		fetch := worker.NewFetchApps(session, fetcher, cfg.TestAppIDs())
		tree.AddWorkerService(services.NewOneShotService("fetch-apps", fetch, oneShotDone))

	default:
		logging.Fatal().Str("mode", cfg.Mode).Msg("unknown mode")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(hp).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("health server configured")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop in time")
		}
	}

	if err, ok := oneShotErr.Load().(error); ok && err != nil {
		logging.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
	logging.Info().Msg("stopped")
}

// inspectServiceKey logs the service key's claims so a wrong role or an
// expiring key is visible at startup. Parse failures only warn: the store
// will reject a bad key on first use anyway.
func inspectServiceKey(key string) {
	info, err := config.InspectServiceKey(key)
	if err != nil {
		logging.Warn().Err(err).Msg("could not inspect service key")
		return
	}

	ev := logging.Info().Str("role", info.Role).Str("project_ref", info.ProjectRef)
	if !info.ExpiresAt.IsZero() {
		ev = ev.Time("expires_at", info.ExpiresAt)
	}
	ev.Msg("service key inspected")

	if info.Role != "service_role" {
		logging.Warn().Str("role", info.Role).Msg("service key role is not service_role")
	}
	if !info.ExpiresAt.IsZero() && time.Until(info.ExpiresAt) < serviceKeyExpiryWarning {
		logging.Warn().Time("expires_at", info.ExpiresAt).Msg("service key expires soon")
	}
}

func newEventsPublisher(cfg *config.Config) events.Publisher {
	if cfg.Events.NATSURL == "" {
		return events.NewNoop()
	}
	p, err := events.NewNATS(cfg.Events.NATSURL, cfg.Events.Subject)
	if err != nil {
		logging.Warn().Err(err).Msg("event publisher unavailable, continuing without")
		return events.NewNoop()
	}
	return p
}
