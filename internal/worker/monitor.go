// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package worker drives the ingestion pipeline: the change monitor's poll
// loop, the one-shot bulk backfill, and the debug fetch mode.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/picsync/internal/config"
	"github.com/tomtom215/picsync/internal/events"
	"github.com/tomtom215/picsync/internal/extract"
	"github.com/tomtom215/picsync/internal/health"
	"github.com/tomtom215/picsync/internal/logging"
	"github.com/tomtom215/picsync/internal/metrics"
	"github.com/tomtom215/picsync/internal/persist"
	"github.com/tomtom215/picsync/internal/steam"
)

// reconnectAttempts bounds one reconnect call from the loop error handler;
// the next iteration tries again anyway.
const reconnectAttempts = 10

// Store is the slice of the catalog store the workers need.
type Store interface {
	LastChangeNumber(ctx context.Context) (uint64, error)
	SetLastChangeNumber(ctx context.Context, changeNumber uint64) error
	UnsyncedAppIDs(ctx context.Context) ([]uint32, error)
}

// Persister lands extracted batches.
type Persister interface {
	UpsertAppsBatch(ctx context.Context, apps []*extract.App) (*persist.Result, error)
}

// Monitor polls the change stream and funnels touched apps through the
// fetch→extract→persist pipeline. All state is owned by the Run goroutine.
type Monitor struct {
	session   *steam.Session
	fetcher   *steam.Fetcher
	persister Persister
	store     Store
	events    events.Publisher
	health    *health.Publisher

	pollInterval     time.Duration
	processBatchSize int

	queue      *appQueue
	processing map[uint32]bool
	lastChange uint64

	// Loop error recovery pauses; shortened by tests.
	reconnectFailDelay time.Duration
	errorDelay         time.Duration
}

func NewMonitor(
	session *steam.Session,
	fetcher *steam.Fetcher,
	persister Persister,
	st Store,
	pub events.Publisher,
	hp *health.Publisher,
	cfg config.MonitorConfig,
) *Monitor {
	return &Monitor{
		session:            session,
		fetcher:            fetcher,
		persister:          persister,
		store:              st,
		events:             pub,
		health:             hp,
		pollInterval:       cfg.PollInterval,
		processBatchSize:   cfg.ProcessBatchSize,
		queue:              newAppQueue(cfg.MaxQueueSize),
		processing:         make(map[uint32]bool),
		reconnectFailDelay: 60 * time.Second,
		errorDelay:         10 * time.Second,
	}
}

// Run executes the poll loop until ctx is cancelled, then disconnects the
// session. The in-flight iteration completes before exit.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.session.Disconnect()

	last, err := m.store.LastChangeNumber(ctx)
	if err != nil {
		return fmt.Errorf("worker: read change cursor: %w", err)
	}
	m.lastChange = last
	m.session.SetLastChangeNumber(last)
	logging.Info().Uint64("change_number", last).Msg("change monitor started")

	for {
		if err := m.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.recover(ctx, err)
		}

		select {
		case <-ctx.Done():
			logging.Info().Msg("change monitor stopping")
			return ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// iterate runs one poll cycle: fetch the delta, enqueue, advance the cursor,
// drain the queue, publish health.
func (m *Monitor) iterate(ctx context.Context) error {
	defer m.updateHealth()

	if delta := m.fetcher.GetChangesSince(ctx, m.lastChange); delta != nil && delta.CurrentChangeNumber > m.lastChange {
		m.acceptDelta(delta)
		// The cursor advances once queueing is done, before any
		// persistence. A crash between here and a successful persist
		// loses the queued ids until a later change or a backfill
		// touches them again.
		m.lastChange = delta.CurrentChangeNumber
		if err := m.store.SetLastChangeNumber(ctx, m.lastChange); err != nil {
			return err
		}
	}

	return m.processQueue(ctx)
}

func (m *Monitor) acceptDelta(delta *steam.ChangeDelta) {
	enqueued, dropped := 0, 0
	for _, appid := range delta.AppIDs {
		if m.processing[appid] {
			continue
		}
		if m.queue.Push(appid) {
			enqueued++
		} else {
			dropped++
		}
	}

	metrics.RecordChangesReceived(len(delta.AppIDs))
	if dropped > 0 {
		metrics.RecordQueueDropped(dropped)
		logging.Warn().
			Int("dropped", dropped).
			Int("queue_size", m.queue.Len()).
			Msg("queue full, dropping newest changes")
	}
	logging.Info().
		Uint64("change_number", delta.CurrentChangeNumber).
		Int("changes", len(delta.AppIDs)).
		Int("enqueued", enqueued).
		Msg("received change delta")

	m.events.PublishChanges(delta.CurrentChangeNumber, delta.AppIDs)
}

// processQueue drains one batch and pushes it through the pipeline. A
// whole-batch failure re-enqueues at the tail, capacity permitting; the
// processing marks always come off.
func (m *Monitor) processQueue(ctx context.Context) error {
	batch := m.queue.Drain(m.processBatchSize)
	if len(batch) == 0 {
		return nil
	}

	for _, appid := range batch {
		m.processing[appid] = true
	}
	metrics.SetProcessingSize(len(m.processing))
	defer func() {
		for _, appid := range batch {
			delete(m.processing, appid)
		}
		metrics.SetProcessingSize(len(m.processing))
	}()

	raw, err := m.fetcher.FetchAppsBatch(ctx, batch)
	if err != nil {
		m.requeue(batch)
		return fmt.Errorf("worker: fetch batch: %w", err)
	}

	apps := make([]*extract.App, 0, len(raw))
	for appid, record := range raw {
		apps = append(apps, extract.Extract(appid, record))
	}

	result, err := m.persister.UpsertAppsBatch(ctx, apps)
	if err != nil {
		m.requeue(batch)
		return fmt.Errorf("worker: persist batch: %w", err)
	}

	logging.Info().
		Int("batch", len(batch)).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("processed change batch")
	return nil
}

func (m *Monitor) requeue(batch []uint32) {
	requeued := 0
	for _, appid := range batch {
		if m.queue.Push(appid) {
			requeued++
		}
	}
	metrics.RecordQueueRequeued(requeued)
	logging.Warn().
		Int("requeued", requeued).
		Int("batch", len(batch)).
		Msg("batch failed, re-enqueued at tail")
}

// recover handles one loop error: reconnect when the session dropped,
// otherwise back off briefly and let the next iteration retry.
func (m *Monitor) recover(ctx context.Context, err error) {
	logging.Error().Err(err).Msg("monitor iteration failed")

	if !m.session.IsConnected() {
		if rerr := m.session.Reconnect(ctx, reconnectAttempts); rerr != nil {
			logging.Error().Err(rerr).Msg("reconnect failed")
			sleepCtx(ctx, m.reconnectFailDelay)
		}
		return
	}
	sleepCtx(ctx, m.errorDelay)
}

func (m *Monitor) updateHealth() {
	metrics.SetQueueSize(m.queue.Len())
	m.health.PublishMonitor(health.MonitorStatus{
		LastChange: m.lastChange,
		QueueSize:  m.queue.Len(),
		Processing: len(m.processing),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
