// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package events publishes change notifications for downstream consumers.
// Publishing is fire-and-forget: a broker outage never stalls the ingestion
// pipeline.
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/picsync/internal/logging"
	"github.com/tomtom215/picsync/internal/metrics"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "picsync.changes"

// Publisher emits one event per fresh change delta.
type Publisher interface {
	PublishChanges(changeNumber uint64, appids []uint32)
	Close()
}

// changeEvent is the published payload.
type changeEvent struct {
	ChangeNumber uint64   `json:"change_number"`
	AppIDs       []uint32 `json:"appids"`
	ReceivedAt   string   `json:"received_at"`
}

// NATSPublisher publishes change events to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	now     func() time.Time
}

// NewNATS connects to the broker and returns a publisher on the given
// subject. Reconnects are handled by the client; publishes during an outage
// are buffered or dropped by it, never retried here.
func NewNATS(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("picsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", url, err)
	}
	logging.Info().Str("url", url).Str("subject", subject).Msg("connected change event publisher")
	return &NATSPublisher{conn: conn, subject: subject, now: time.Now}, nil
}

func (p *NATSPublisher) PublishChanges(changeNumber uint64, appids []uint32) {
	payload, err := json.Marshal(changeEvent{
		ChangeNumber: changeNumber,
		AppIDs:       appids,
		ReceivedAt:   p.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		metrics.RecordEventPublished(err)
		return
	}

	err = p.conn.Publish(p.subject, payload)
	metrics.RecordEventPublished(err)
	if err != nil {
		logging.Warn().Err(err).Uint64("change_number", changeNumber).Msg("change event publish failed")
	}
}

func (p *NATSPublisher) Close() {
	p.conn.Drain()
}

// NoopPublisher is wired when no broker is configured.
type NoopPublisher struct{}

func NewNoop() NoopPublisher { return NoopPublisher{} }

func (NoopPublisher) PublishChanges(uint64, []uint32) {}
func (NoopPublisher) Close()                          {}
