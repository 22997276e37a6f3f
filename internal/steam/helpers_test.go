// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package steam

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn with scriptable responses, shared by the
// session and fetcher tests.
type fakeConn struct {
	mu           sync.Mutex
	logonErr     error
	products     map[uint32]RawApp
	productErr   error
	productFn    func(call int32, appIDs []uint32) (map[uint32]RawApp, error)
	delta        *ChangeDelta
	changesErr   error
	onDisconnect func(reason string)

	logonCalls   atomic.Int32
	productCalls atomic.Int32
	changesCalls atomic.Int32
	closed       atomic.Bool

	lastSince          atomic.Uint64
	lastAppChanges     atomic.Bool
	lastPackageChanges atomic.Bool
}

func (f *fakeConn) LogOn(_ context.Context, _ Credentials) error {
	f.logonCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logonErr
}

func (f *fakeConn) ProductInfo(_ context.Context, appIDs []uint32) (map[uint32]RawApp, error) {
	call := f.productCalls.Add(1)

	f.mu.Lock()
	fn := f.productFn
	products := f.products
	err := f.productErr
	f.mu.Unlock()

	if fn != nil {
		return fn(call, appIDs)
	}
	if err != nil {
		return nil, err
	}

	out := make(map[uint32]RawApp, len(products))
	for appid, raw := range products {
		out[appid] = raw
	}
	return out, nil
}

func (f *fakeConn) ChangesSince(_ context.Context, since uint64, appChanges, packageChanges bool) (*ChangeDelta, error) {
	f.changesCalls.Add(1)
	f.lastSince.Store(since)
	f.lastAppChanges.Store(appChanges)
	f.lastPackageChanges.Store(packageChanges)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changesErr != nil {
		return nil, f.changesErr
	}
	if f.delta != nil {
		return f.delta, nil
	}
	return &ChangeDelta{}, nil
}

func (f *fakeConn) SetDisconnectHandler(fn func(reason string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

// fireDisconnect simulates a connection-loss event. Like BridgeClient, the
// handler runs on its own goroutine.
func (f *fakeConn) fireDisconnect(reason string) {
	f.mu.Lock()
	fn := f.onDisconnect
	f.mu.Unlock()
	if fn != nil {
		go fn(reason)
	}
}

// fakeDialer hands out conns in order. failures > 0 fails that many dials
// first; failures < 0 fails every dial.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
	newConn  func() *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{newConn: func() *fakeConn { return &fakeConn{} }}
}

func (d *fakeDialer) dial(_ context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failures < 0 {
		return nil, errors.New("dial refused")
	}
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}

	conn := d.newConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// newTestSession builds a session with millisecond-scale delays so tests
// exercise real code paths without real waits.
func newTestSession(dial DialFunc) *Session {
	s := NewSession(dial, Credentials{}, 0)
	s.baseDelay = time.Millisecond
	s.maxDelay = 10 * time.Millisecond
	s.settleDelay = time.Millisecond
	return s
}

// newConnectedSession connects a session over the given conn and tears it
// down with the test.
func newConnectedSession(t *testing.T, conn *fakeConn) *Session {
	t.Helper()

	dialer := &fakeDialer{newConn: func() *fakeConn { return conn }}
	s := newTestSession(dialer.dial)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Disconnect)
	return s
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func checkNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func checkErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}
