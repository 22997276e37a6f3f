// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package steam

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/picsync/internal/logging"
	"github.com/tomtom215/picsync/internal/metrics"
)

const (
	// DefaultBatchSize is a conservative window; PICS accepts up to ~300
	// ids per product-info request.
	DefaultBatchSize = 200

	// MaxBatchSize is the upstream ceiling per product-info request.
	MaxBatchSize = 300

	// DefaultRequestDelay paces consecutive windows in FetchAllApps.
	DefaultRequestDelay = 500 * time.Millisecond

	// DefaultFetchTimeout bounds a single product-info request.
	DefaultFetchTimeout = 60 * time.Second

	// DefaultMaxRetries bounds attempts per batch before the error
	// surfaces.
	DefaultMaxRetries = 5

	fetchRetryBaseDelay = 2 * time.Second
	windowFailureDelay  = 2 * time.Second
)

// FetchOptions tunes a Fetcher. Zero values select the defaults above.
type FetchOptions struct {
	BatchSize    int
	RequestDelay time.Duration
	Timeout      time.Duration
	MaxRetries   int
}

// Fetcher retrieves raw product records in rate-limited batches over a
// Session.
type Fetcher struct {
	session *Session

	batchSize        int
	requestDelay     time.Duration
	timeout          time.Duration
	maxRetries       int
	retryDelay       time.Duration
	windowRetryDelay time.Duration
	limiter          *rate.Limiter
}

// NewFetcher creates a fetcher over the given session.
func NewFetcher(session *Session, opts FetchOptions) *Fetcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	if opts.RequestDelay <= 0 {
		opts.RequestDelay = DefaultRequestDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	return &Fetcher{
		session:          session,
		batchSize:        opts.BatchSize,
		requestDelay:     opts.RequestDelay,
		timeout:          opts.Timeout,
		maxRetries:       opts.MaxRetries,
		retryDelay:       fetchRetryBaseDelay,
		windowRetryDelay: windowFailureDelay,
		limiter:          rate.NewLimiter(rate.Every(opts.RequestDelay), 1),
	}
}

// BatchSize returns the configured window size.
func (f *Fetcher) BatchSize() int {
	return f.batchSize
}

// FetchAppsBatch fetches product info for one batch of app ids, retrying
// failures with doubling backoff starting at 2s. When the session is down it
// reconnects first; if that does not help the call fails with
// ErrUnavailable. An empty upstream response is not an error.
func (f *Fetcher) FetchAppsBatch(ctx context.Context, appIDs []uint32) (map[uint32]RawApp, error) {
	if len(appIDs) == 0 {
		return map[uint32]RawApp{}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if !f.session.IsConnected() {
			if err := f.session.Reconnect(ctx, 0); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}

		start := time.Now()
		reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
		apps, err := f.session.ProductInfo(reqCtx, appIDs)
		cancel()
		metrics.RecordFetchBatch(time.Since(start), err)

		if err == nil {
			if len(apps) == 0 {
				logging.Warn().
					Uint32("first_appid", appIDs[0]).
					Int("requested", len(appIDs)).
					Msg("empty product info response")
				return map[uint32]RawApp{}, nil
			}
			metrics.RecordAppsFetched(len(apps))
			return apps, nil
		}

		lastErr = err
		metrics.RecordFetchRetry()
		delay := f.retryDelay << uint(attempt-1)
		logging.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", f.maxRetries).
			Dur("retry_in", delay).
			Msg("product info request failed")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("fetch batch of %d apps: %w", len(appIDs), lastErr)
}

// FetchSummary reports the outcome of a FetchAllApps run.
type FetchSummary struct {
	Requested     int
	Delivered     int
	FailedWindows int
	FailedAppIDs  []uint32
}

// WindowFunc consumes one fetched window. processed counts ids fetched so
// far; failed windows are excluded and show up in the summary instead. total
// is the overall id count.
type WindowFunc func(apps map[uint32]RawApp, processed, total int) error

// FetchAllApps fetches product info for all ids in windows of the configured
// batch size, pacing window starts with the rate limiter. A failed window is
// logged, recorded in the summary, and skipped after a short pause; it is
// not retried here, callers re-enqueue what they still need. A non-nil error
// from fn aborts the run.
func (f *Fetcher) FetchAllApps(ctx context.Context, appIDs []uint32, fn WindowFunc) (*FetchSummary, error) {
	summary := &FetchSummary{Requested: len(appIDs)}
	if len(appIDs) == 0 {
		return summary, nil
	}

	total := len(appIDs)
	processed := 0

	for start := 0; start < total; start += f.batchSize {
		end := min(start+f.batchSize, total)
		window := appIDs[start:end]

		if err := f.limiter.Wait(ctx); err != nil {
			return summary, err
		}

		apps, err := f.FetchAppsBatch(ctx, window)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}

			summary.FailedWindows++
			summary.FailedAppIDs = append(summary.FailedAppIDs, window...)
			logging.Error().
				Err(err).
				Int("offset", start).
				Int("window_size", len(window)).
				Msg("window failed, continuing with next")

			select {
			case <-time.After(f.windowRetryDelay):
			case <-ctx.Done():
				return summary, ctx.Err()
			}
			continue
		}

		processed += len(window)
		summary.Delivered += len(apps)
		logging.Info().
			Int("processed", processed).
			Int("total", total).
			Float64("pct", float64(processed)/float64(total)*100).
			Msg("fetched window")

		if fn != nil {
			if err := fn(apps, processed, total); err != nil {
				return summary, err
			}
		}
	}

	if summary.FailedWindows > 0 {
		logging.Warn().
			Int("failed_windows", summary.FailedWindows).
			Int("failed_apps", len(summary.FailedAppIDs)).
			Msg("bulk fetch finished with failed windows")
	}
	return summary, nil
}

// GetChangesSince polls the catalog delta after the given change number with
// app changes on and package changes off. It never returns an error:
// upstream failures are logged and yield nil so the polling loop keeps its
// own cadence.
func (f *Fetcher) GetChangesSince(ctx context.Context, changeNumber uint64) *ChangeDelta {
	delta, err := f.session.ChangesSince(ctx, changeNumber, true, false)
	if err != nil {
		metrics.RecordChangePoll("error")
		logging.Error().Err(err).Uint64("since", changeNumber).Msg("changes poll failed")
		return nil
	}
	return delta
}
