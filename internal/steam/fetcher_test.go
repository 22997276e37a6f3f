// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package steam

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newFastFetcher shrinks the retry and window pauses so failure paths run at
// test speed.
func newFastFetcher(s *Session, opts FetchOptions) *Fetcher {
	if opts.RequestDelay == 0 {
		opts.RequestDelay = time.Millisecond
	}
	f := NewFetcher(s, opts)
	f.retryDelay = time.Millisecond
	f.windowRetryDelay = time.Millisecond
	return f
}

func sampleRaw(name string) RawApp {
	return RawApp{
		"appinfo": map[string]any{
			"common": map[string]any{"name": name, "type": "game"},
		},
	}
}

func TestNewFetcherDefaults(t *testing.T) {
	f := NewFetcher(nil, FetchOptions{})

	if f.batchSize != 200 {
		t.Errorf("batch size: expected 200, got %d", f.batchSize)
	}
	if f.requestDelay != 500*time.Millisecond {
		t.Errorf("request delay: expected 500ms, got %v", f.requestDelay)
	}
	if f.timeout != 60*time.Second {
		t.Errorf("timeout: expected 60s, got %v", f.timeout)
	}
	if f.maxRetries != 5 {
		t.Errorf("max retries: expected 5, got %d", f.maxRetries)
	}
}

func TestNewFetcherCapsBatchSize(t *testing.T) {
	f := NewFetcher(nil, FetchOptions{BatchSize: 1000})
	if f.batchSize != MaxBatchSize {
		t.Errorf("batch size: expected cap at %d, got %d", MaxBatchSize, f.batchSize)
	}
}

func TestFetchAppsBatch(t *testing.T) {
	conn := &fakeConn{products: map[uint32]RawApp{
		730: sampleRaw("Counter-Strike 2"),
		570: sampleRaw("Dota 2"),
	}}
	s := newConnectedSession(t, conn)
	f := newFastFetcher(s, FetchOptions{})

	apps, err := f.FetchAppsBatch(context.Background(), []uint32{730, 570})
	checkNoErr(t, err)

	if len(apps) != 2 {
		t.Fatalf("expected 2 apps, got %d", len(apps))
	}
	if _, ok := apps[730]; !ok {
		t.Error("expected app 730 in result")
	}
}

func TestFetchAppsBatchEmptyInput(t *testing.T) {
	conn := &fakeConn{}
	s := newConnectedSession(t, conn)
	f := newFastFetcher(s, FetchOptions{})

	apps, err := f.FetchAppsBatch(context.Background(), nil)
	checkNoErr(t, err)

	if len(apps) != 0 {
		t.Errorf("expected empty result, got %d apps", len(apps))
	}
	if got := conn.productCalls.Load(); got != 0 {
		t.Errorf("empty input must not hit the upstream, got %d calls", got)
	}
}

func TestFetchAppsBatchEmptyResponseIsNotAnError(t *testing.T) {
	conn := &fakeConn{products: map[uint32]RawApp{}}
	s := newConnectedSession(t, conn)
	f := newFastFetcher(s, FetchOptions{})

	apps, err := f.FetchAppsBatch(context.Background(), []uint32{999999})
	checkNoErr(t, err)

	if apps == nil || len(apps) != 0 {
		t.Errorf("expected empty non-nil map, got %v", apps)
	}
	if got := conn.productCalls.Load(); got != 1 {
		t.Errorf("empty response must not be retried, got %d calls", got)
	}
}

func TestFetchAppsBatchRetriesThenSucceeds(t *testing.T) {
	conn := &fakeConn{}
	conn.productFn = func(call int32, appIDs []uint32) (map[uint32]RawApp, error) {
		if call <= 2 {
			return nil, errors.New("request timed out")
		}
		return map[uint32]RawApp{appIDs[0]: sampleRaw("late arrival")}, nil
	}
	s := newConnectedSession(t, conn)
	f := newFastFetcher(s, FetchOptions{})

	apps, err := f.FetchAppsBatch(context.Background(), []uint32{440})
	checkNoErr(t, err)

	if len(apps) != 1 {
		t.Fatalf("expected 1 app, got %d", len(apps))
	}
	if got := conn.productCalls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFetchAppsBatchSurfacesAfterMaxRetries(t *testing.T) {
	conn := &fakeConn{productErr: errors.New("request timed out")}
	s := newConnectedSession(t, conn)
	f := newFastFetcher(s, FetchOptions{MaxRetries: 3})

	_, err := f.FetchAppsBatch(context.Background(), []uint32{440})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if got := conn.productCalls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFetchAppsBatchUnavailableWhenReconnectFails(t *testing.T) {
	dialer := newFakeDialer()
	s := newTestSession(dialer.dial)
	// Another reconnection holds the guard, so the fetcher's attempt fails
	// immediately instead of dialing.
	s.reconnecting.Store(true)

	f := newFastFetcher(s, FetchOptions{})
	_, err := f.FetchAppsBatch(context.Background(), []uint32{440})
	checkErrIs(t, err, ErrUnavailable)
}

func TestFetchAllApps(t *testing.T) {
	conn := &fakeConn{}
	conn.productFn = func(_ int32, appIDs []uint32) (map[uint32]RawApp, error) {
		out := make(map[uint32]RawApp, len(appIDs))
		for _, appid := range appIDs {
			out[appid] = sampleRaw("app")
		}
		return out, nil
	}
	s := newConnectedSession(t, conn)
	f := newFastFetcher(s, FetchOptions{BatchSize: 2})

	var progress []int
	var delivered int
	summary, err := f.FetchAllApps(context.Background(), []uint32{1, 2, 3, 4, 5}, func(apps map[uint32]RawApp, processed, total int) error {
		progress = append(progress, processed)
		delivered += len(apps)
		if total != 5 {
			t.Errorf("total: expected 5, got %d", total)
		}
		return nil
	})
	checkNoErr(t, err)

	if summary.Requested != 5 || summary.Delivered != 5 || summary.FailedWindows != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if delivered != 5 {
		t.Errorf("expected 5 delivered apps, got %d", delivered)
	}
	if len(progress) != 3 || progress[0] != 2 || progress[1] != 4 || progress[2] != 5 {
		t.Errorf("unexpected progress checkpoints: %v", progress)
	}
}

func TestFetchAllAppsSkipsFailedWindow(t *testing.T) {
	conn := &fakeConn{}
	conn.productFn = func(_ int32, appIDs []uint32) (map[uint32]RawApp, error) {
		for _, appid := range appIDs {
			if appid == 3 {
				return nil, errors.New("window exploded")
			}
		}
		out := make(map[uint32]RawApp, len(appIDs))
		for _, appid := range appIDs {
			out[appid] = sampleRaw("app")
		}
		return out, nil
	}
	s := newConnectedSession(t, conn)
	f := newFastFetcher(s, FetchOptions{BatchSize: 2, MaxRetries: 1})

	summary, err := f.FetchAllApps(context.Background(), []uint32{1, 2, 3, 4, 5}, nil)
	checkNoErr(t, err)

	if summary.FailedWindows != 1 {
		t.Errorf("expected 1 failed window, got %d", summary.FailedWindows)
	}
	if len(summary.FailedAppIDs) != 2 || summary.FailedAppIDs[0] != 3 || summary.FailedAppIDs[1] != 4 {
		t.Errorf("unexpected failed app ids: %v", summary.FailedAppIDs)
	}
	if summary.Delivered != 3 {
		t.Errorf("expected 3 delivered apps, got %d", summary.Delivered)
	}
	// Three windows, the failed one attempted exactly once.
	if got := conn.productCalls.Load(); got != 3 {
		t.Errorf("expected 3 upstream calls, got %d", got)
	}
}

func TestFetchAllAppsProgressExcludesFailedWindows(t *testing.T) {
	conn := &fakeConn{}
	conn.productFn = func(_ int32, appIDs []uint32) (map[uint32]RawApp, error) {
		out := make(map[uint32]RawApp, len(appIDs))
		for _, appid := range appIDs {
			if appid == 3 {
				return nil, errors.New("window exploded")
			}
			out[appid] = sampleRaw("app")
		}
		return out, nil
	}
	s := newConnectedSession(t, conn)
	f := newFastFetcher(s, FetchOptions{BatchSize: 2, MaxRetries: 1})

	var progress []int
	summary, err := f.FetchAllApps(context.Background(), []uint32{1, 2, 3, 4, 5}, func(_ map[uint32]RawApp, processed, _ int) error {
		progress = append(progress, processed)
		return nil
	})
	checkNoErr(t, err)

	// The failed {3,4} window must not count as processed: the callback sees
	// 2 after the first window and 3 after the trailing single.
	if len(progress) != 2 || progress[0] != 2 || progress[1] != 3 {
		t.Errorf("unexpected progress checkpoints: %v", progress)
	}
	if summary.FailedWindows != 1 || len(summary.FailedAppIDs) != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestFetchAllAppsEmptyInput(t *testing.T) {
	conn := &fakeConn{}
	s := newConnectedSession(t, conn)
	f := newFastFetcher(s, FetchOptions{})

	summary, err := f.FetchAllApps(context.Background(), nil, nil)
	checkNoErr(t, err)

	if summary.Requested != 0 || summary.Delivered != 0 {
		t.Errorf("unexpected summary for empty input: %+v", summary)
	}
}

func TestGetChangesSince(t *testing.T) {
	t.Run("returns delta", func(t *testing.T) {
		conn := &fakeConn{delta: &ChangeDelta{
			CurrentChangeNumber: 29644302,
			AppIDs:              []uint32{730, 570},
		}}
		s := newConnectedSession(t, conn)
		f := newFastFetcher(s, FetchOptions{})

		delta := f.GetChangesSince(context.Background(), 29644300)
		if delta == nil {
			t.Fatal("expected delta")
		}
		if delta.CurrentChangeNumber != 29644302 {
			t.Errorf("change number: expected 29644302, got %d", delta.CurrentChangeNumber)
		}
		if !conn.lastAppChanges.Load() {
			t.Error("expected app changes to be requested")
		}
		if conn.lastPackageChanges.Load() {
			t.Error("package changes must not be requested")
		}
	})

	t.Run("nil on upstream error", func(t *testing.T) {
		conn := &fakeConn{changesErr: errors.New("session in a bad state")}
		s := newConnectedSession(t, conn)
		f := newFastFetcher(s, FetchOptions{})

		if delta := f.GetChangesSince(context.Background(), 1); delta != nil {
			t.Errorf("expected nil delta, got %+v", delta)
		}
	})

	t.Run("nil when disconnected", func(t *testing.T) {
		s := newTestSession(nil)
		f := newFastFetcher(s, FetchOptions{})

		if delta := f.GetChangesSince(context.Background(), 1); delta != nil {
			t.Errorf("expected nil delta, got %+v", delta)
		}
	})
}
