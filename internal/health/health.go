// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package health holds the status snapshot the workers publish and the HTTP
// layer serves. Readiness means a worker has published at least once.
package health

import (
	"sync"
	"time"
)

// MonitorStatus is the change monitor's progress view.
type MonitorStatus struct {
	LastChange uint64 `json:"last_change"`
	QueueSize  int    `json:"queue_size"`
	Processing int    `json:"processing"`
}

// BackfillStatus is the bulk backfill's progress view. Rate is apps/second.
type BackfillStatus struct {
	Processed   int     `json:"processed"`
	Failed      int     `json:"failed"`
	Rate        float64 `json:"rate"`
	ProgressPct float64 `json:"progress_pct"`
}

// Status is the last published service state.
type Status struct {
	Mode      string          `json:"mode"`
	Monitor   *MonitorStatus  `json:"monitor,omitempty"`
	Backfill  *BackfillStatus `json:"backfill,omitempty"`
	UpdatedAt string          `json:"updated_at"`
}

// Publisher collects worker status updates for the HTTP layer. Safe for
// concurrent use; the worker writes, request handlers read.
type Publisher struct {
	mu        sync.RWMutex
	mode      string
	monitor   *MonitorStatus
	backfill  *BackfillStatus
	published bool
	now       func() time.Time
	updatedAt time.Time
}

func NewPublisher(mode string) *Publisher {
	return &Publisher{mode: mode, now: time.Now}
}

// PublishMonitor records the change monitor's current state.
func (p *Publisher) PublishMonitor(s MonitorStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitor = &s
	p.published = true
	p.updatedAt = p.now()
}

// PublishBackfill records the bulk backfill's current state.
func (p *Publisher) PublishBackfill(s BackfillStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backfill = &s
	p.published = true
	p.updatedAt = p.now()
}

// Ready reports whether any status has been published yet.
func (p *Publisher) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published
}

// Snapshot returns a copy of the last published status.
func (p *Publisher) Snapshot() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Status{Mode: p.mode}
	if p.monitor != nil {
		m := *p.monitor
		s.Monitor = &m
	}
	if p.backfill != nil {
		b := *p.backfill
		s.Backfill = &b
	}
	if p.published {
		s.UpdatedAt = p.updatedAt.UTC().Format(time.RFC3339)
	}
	return s
}
