// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package steam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/picsync/internal/logging"
	"github.com/tomtom215/picsync/internal/metrics"
)

const (
	// DefaultHeartbeatInterval keeps the upstream session alive without
	// hammering it.
	DefaultHeartbeatInterval = 300 * time.Second

	minHeartbeatInterval = 60 * time.Second
	maxHeartbeatInterval = 600 * time.Second

	reconnectBaseDelay   = 5 * time.Second
	reconnectMaxDelay    = 300 * time.Second
	reconnectSettleDelay = 2 * time.Second

	heartbeatTimeout = 30 * time.Second
)

// Session wraps a Conn with automatic reconnection, a keepalive heartbeat,
// and connection-state tracking. All methods are safe for concurrent use.
//
// A session moves through disconnected → connecting → connected, cycling
// back through reconnecting on connection loss. Disconnect is terminal.
type Session struct {
	dial  DialFunc
	creds Credentials

	heartbeatInterval time.Duration
	baseDelay         time.Duration
	maxDelay          time.Duration
	settleDelay       time.Duration

	mu            sync.Mutex
	conn          Conn
	connectedAt   time.Time
	autoReconnect bool
	stopHeartbeat chan struct{}

	connected    atomic.Bool
	reconnecting atomic.Bool
	lastChange   atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once

	wg sync.WaitGroup
}

// NewSession creates a session that dials connections through dial.
// heartbeatInterval is clamped to [60s, 600s]; zero selects the default of
// 300s.
func NewSession(dial DialFunc, creds Credentials, heartbeatInterval time.Duration) *Session {
	if heartbeatInterval == 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	if heartbeatInterval < minHeartbeatInterval {
		heartbeatInterval = minHeartbeatInterval
	}
	if heartbeatInterval > maxHeartbeatInterval {
		heartbeatInterval = maxHeartbeatInterval
	}

	return &Session{
		dial:              dial,
		creds:             creds,
		heartbeatInterval: heartbeatInterval,
		baseDelay:         reconnectBaseDelay,
		maxDelay:          reconnectMaxDelay,
		settleDelay:       reconnectSettleDelay,
		autoReconnect:     true,
		done:              make(chan struct{}),
	}
}

// Connect dials the upstream and logs on. It is a no-op when already
// connected and returns ErrSessionClosed after Disconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	if s.isDone() {
		return ErrSessionClosed
	}
	if s.conn != nil {
		return nil
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	conn.SetDisconnectHandler(s.handleDisconnect)

	if err := conn.LogOn(ctx, s.creds); err != nil {
		_ = conn.Close()
		return err
	}

	s.conn = conn
	s.connectedAt = time.Now()
	s.connected.Store(true)
	metrics.SetSessionConnected(true)

	s.stopHeartbeat = make(chan struct{})
	s.wg.Add(1)
	go s.heartbeatLoop(s.stopHeartbeat)

	logging.Info().
		Bool("anonymous", s.creds.Anonymous()).
		Dur("heartbeat_interval", s.heartbeatInterval).
		Msg("connected to steam")
	return nil
}

// Reconnect tears down any current connection and dials until it succeeds.
// Backoff starts at 5s and doubles per attempt, capped at 300s. maxAttempts
// == 0 retries without limit, resetting the attempt counter every 10 failures
// so the delay does not stay pinned at the cap forever.
//
// Only one reconnect runs at a time; concurrent callers get ErrReconnecting.
func (s *Session) Reconnect(ctx context.Context, maxAttempts int) error {
	if !s.reconnecting.CompareAndSwap(false, true) {
		logging.Debug().Msg("reconnect already in progress, skipping")
		return ErrReconnecting
	}
	defer s.reconnecting.Store(false)

	attempt := 0
	for maxAttempts == 0 || attempt < maxAttempts {
		attempt++
		delay := s.backoffDelay(attempt)

		logging.Info().
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Msg("reconnecting to steam")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrSessionClosed
		}

		s.dropConnection()

		err := func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.connectLocked(ctx)
		}()
		if err == nil {
			metrics.RecordSessionReconnect()
			logging.Info().Int("attempts", attempt).Msg("reconnected to steam")
			return nil
		}
		if errors.Is(err, ErrSessionClosed) {
			return err
		}
		logging.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")

		// Unlimited mode resets the backoff after 10 failed attempts to
		// avoid getting stuck at the cap; bounded calls keep counting so
		// the limit is reachable.
		if maxAttempts == 0 && attempt%10 == 0 {
			logging.Info().Msg("resetting reconnect backoff after 10 failed attempts")
			attempt = 0
		}
	}

	return fmt.Errorf("reconnect failed after %d attempts", maxAttempts)
}

func (s *Session) backoffDelay(attempt int) time.Duration {
	delay := s.baseDelay << uint(attempt-1)
	if delay > s.maxDelay || delay <= 0 {
		delay = s.maxDelay
	}
	return delay
}

// Disconnect closes the session for good: auto-reconnect is disabled, the
// heartbeat stops, and the connection is torn down. The session cannot be
// reused afterwards.
func (s *Session) Disconnect() {
	s.doneOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	s.autoReconnect = false
	s.mu.Unlock()

	s.dropConnection()
	s.wg.Wait()
	logging.Info().Msg("disconnected from steam")
}

// dropConnection closes the current connection and stops the heartbeat
// without touching the auto-reconnect flag.
func (s *Session) dropConnection() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	stop := s.stopHeartbeat
	s.stopHeartbeat = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.connected.Store(false)
	metrics.SetSessionConnected(false)
}

// handleDisconnect reacts to a connection-loss event from the Conn. While
// auto-reconnect is enabled and no reconnection is already running, it
// schedules one after a short settling delay.
func (s *Session) handleDisconnect(reason string) {
	wasConnected := s.connected.Swap(false)

	s.mu.Lock()
	var age float64
	if wasConnected && !s.connectedAt.IsZero() {
		age = time.Since(s.connectedAt).Seconds()
	}
	auto := s.autoReconnect
	s.mu.Unlock()

	s.dropConnection()

	logging.Warn().
		Str("reason", reason).
		Bool("was_connected", wasConnected).
		Float64("connection_age_seconds", age).
		Msg("disconnected from steam")

	if !auto || !wasConnected || s.reconnecting.Load() {
		return
	}

	logging.Info().Msg("scheduling automatic reconnection")
	go s.autoReconnectTask()
}

// autoReconnectTask waits out the settling delay, then reconnects without an
// attempt limit. The delay avoids rapid reconnect loops when the server is
// shedding connections.
func (s *Session) autoReconnectTask() {
	select {
	case <-time.After(s.settleDelay):
	case <-s.done:
		return
	}

	if s.connected.Load() || s.reconnecting.Load() {
		return
	}

	err := s.Reconnect(context.Background(), 0)
	if err != nil && !errors.Is(err, ErrReconnecting) && !errors.Is(err, ErrSessionClosed) {
		logging.Error().Err(err).Msg("automatic reconnection failed")
	}
}

func (s *Session) heartbeatLoop(stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.heartbeat()
		}
	}
}

// heartbeat issues a changes-since-zero probe that keeps the server-side
// session alive. Failures only log; the server's subsequent disconnect event
// drives reconnection.
func (s *Session) heartbeat() {
	conn := s.currentConn()
	if conn == nil || !s.connected.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
	defer cancel()

	_, err := conn.ChangesSince(ctx, 0, false, false)
	metrics.RecordHeartbeat(err)
	if err != nil {
		logging.Warn().Err(err).Msg("heartbeat failed")
		return
	}
	logging.Debug().Msg("heartbeat ok")
}

// ProductInfo fetches raw product records over the current connection.
func (s *Session) ProductInfo(ctx context.Context, appIDs []uint32) (map[uint32]RawApp, error) {
	conn := s.currentConn()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.ProductInfo(ctx, appIDs)
}

// ChangesSince fetches the catalog delta after the given change number over
// the current connection.
func (s *Session) ChangesSince(ctx context.Context, since uint64, appChanges, packageChanges bool) (*ChangeDelta, error) {
	conn := s.currentConn()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.ChangesSince(ctx, since, appChanges, packageChanges)
}

func (s *Session) currentConn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// IsConnected reports whether the session currently holds a live connection.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// LastChangeNumber returns the most recent change number observed.
func (s *Session) LastChangeNumber() uint64 {
	return s.lastChange.Load()
}

// SetLastChangeNumber records the most recent change number observed.
func (s *Session) SetLastChangeNumber(n uint64) {
	s.lastChange.Store(n)
}

// ConnectionAgeSeconds returns how long the current connection has been up,
// or 0 when disconnected.
func (s *Session) ConnectionAgeSeconds() float64 {
	if !s.connected.Load() {
		return 0
	}

	s.mu.Lock()
	connectedAt := s.connectedAt
	s.mu.Unlock()

	if connectedAt.IsZero() {
		return 0
	}
	return time.Since(connectedAt).Seconds()
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
