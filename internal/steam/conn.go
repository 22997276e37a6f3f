// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package steam maintains the upstream catalog session: a low-level
// connection seam (Conn), the resilient session wrapper with heartbeat and
// automatic reconnection (Session), and the rate-limited batch fetcher
// (Fetcher).
package steam

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("steam: not connected")

	// ErrUnavailable is returned when the upstream cannot be reached and
	// reconnection did not help.
	ErrUnavailable = errors.New("steam: upstream unavailable")

	// ErrLogonFailed is returned when the upstream rejects the logon.
	ErrLogonFailed = errors.New("steam: logon failed")

	// ErrReconnecting is returned when another reconnection already holds
	// the guard.
	ErrReconnecting = errors.New("steam: reconnect already in progress")

	// ErrSessionClosed is returned for any operation after Disconnect.
	ErrSessionClosed = errors.New("steam: session closed")
)

// Conn is a single logical connection to the PICS upstream. A Conn is dialed,
// used, and closed; it is never reused after Close. Implementations must be
// safe for concurrent use.
type Conn interface {
	// LogOn authenticates the connection. Empty credentials log on
	// anonymously.
	LogOn(ctx context.Context, creds Credentials) error

	// ProductInfo requests full PICS metadata for the given app ids.
	ProductInfo(ctx context.Context, appIDs []uint32) (map[uint32]RawApp, error)

	// ChangesSince requests the catalog delta after the given change number.
	ChangesSince(ctx context.Context, since uint64, appChanges, packageChanges bool) (*ChangeDelta, error)

	// SetDisconnectHandler registers fn to run once when the connection is
	// lost for any reason other than Close.
	SetDisconnectHandler(fn func(reason string))

	// Close tears the connection down without firing the disconnect handler.
	Close() error
}

// DialFunc opens a fresh Conn. The session dials a new connection for every
// connect and reconnect attempt.
type DialFunc func(ctx context.Context) (Conn, error)
