// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/picsync/internal/extract"
	"github.com/tomtom215/picsync/internal/health"
	"github.com/tomtom215/picsync/internal/logging"
	"github.com/tomtom215/picsync/internal/metrics"
	"github.com/tomtom215/picsync/internal/steam"
)

// Backfill runs the one-shot bulk sync: every app whose last_pics_sync is
// still null gets fetched, extracted, and persisted. Interrupted runs resume
// naturally because the unsynced set shrinks as apps are marked.
type Backfill struct {
	session   *steam.Session
	fetcher   *steam.Fetcher
	persister Persister
	store     Store
	health    *health.Publisher
}

func NewBackfill(session *steam.Session, fetcher *steam.Fetcher, persister Persister, st Store, hp *health.Publisher) *Backfill {
	return &Backfill{
		session:   session,
		fetcher:   fetcher,
		persister: persister,
		store:     st,
		health:    hp,
	}
}

// Run performs the backfill and disconnects when done.
func (b *Backfill) Run(ctx context.Context) error {
	defer b.session.Disconnect()

	appids, err := b.store.UnsyncedAppIDs(ctx)
	if err != nil {
		return fmt.Errorf("worker: list unsynced apps: %w", err)
	}
	if len(appids) == 0 {
		logging.Info().Msg("no unsynced apps, backfill done")
		b.health.PublishBackfill(health.BackfillStatus{ProgressPct: 100})
		return nil
	}
	logging.Info().Int("apps", len(appids)).Msg("starting bulk backfill")

	start := time.Now()
	var processed, failed int

	summary, err := b.fetcher.FetchAllApps(ctx, appids, func(raw map[uint32]steam.RawApp, done, total int) error {
		apps := make([]*extract.App, 0, len(raw))
		for appid, record := range raw {
			apps = append(apps, extract.Extract(appid, record))
		}

		result, perr := b.persister.UpsertAppsBatch(ctx, apps)
		if perr != nil {
			logging.Error().Err(perr).Int("apps", len(apps)).Msg("backfill batch persist failed")
			failed += len(apps)
		} else {
			processed += len(apps)
			failed += result.Failed + result.BuildFailures
		}

		progress := float64(done) / float64(total) * 100
		elapsed := time.Since(start)
		rate := 0.0
		if elapsed > 0 {
			rate = float64(processed) / elapsed.Seconds()
		}
		b.health.PublishBackfill(health.BackfillStatus{
			Processed:   processed,
			Failed:      failed,
			Rate:        rate,
			ProgressPct: progress,
		})
		metrics.RecordBackfill(processed, failed, progress)
		return nil
	})
	if err != nil {
		return fmt.Errorf("worker: bulk fetch: %w", err)
	}

	failed += len(summary.FailedAppIDs)
	elapsed := time.Since(start)
	b.health.PublishBackfill(health.BackfillStatus{
		Processed:   processed,
		Failed:      failed,
		Rate:        float64(processed) / elapsed.Seconds(),
		ProgressPct: 100,
	})
	logging.Info().
		Int("processed", processed).
		Int("failed", failed).
		Dur("elapsed", elapsed).
		Msg("bulk backfill complete")
	return nil
}
