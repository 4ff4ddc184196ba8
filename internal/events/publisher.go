package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event types published on the workflow subjects.
const (
	EventSubmissionApproved = "submission_approved"
	EventSubmissionRejected = "submission_rejected"
	EventPhaseTransitioned  = "phase_transitioned"
	EventAutoAdvanced       = "auto_advanced"
)

// WorkflowEvent is the JSON schema published to NATS.
type WorkflowEvent struct {
	EventType    string         `json:"event_type"`
	BCRID        string         `json:"bcr_id,omitempty"`
	BCRCode      string         `json:"bcr_code,omitempty"`
	SubmissionID string         `json:"submission_id,omitempty"`
	Phase        string         `json:"phase,omitempty"`
	Status       string         `json:"status,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Publisher publishes workflow lifecycle events to NATS.
//
// Subject convention: notifications.bcr.<event_type>
//
// All publish operations are non-fatal. Errors are logged but never
// propagated, so a NATS outage never interrupts a workflow operation. A nil
// Publisher or a Publisher without a connection is a no-op.
type Publisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Connect dials NATS and returns a publisher bound to the connection.
func Connect(url string, log zerolog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Publisher{conn: conn, log: log}, nil
}

// Disabled returns a no-op publisher for deployments without NATS.
func Disabled(log zerolog.Logger) *Publisher {
	return &Publisher{log: log}
}

// Publish emits one workflow event. Never returns an error.
func (p *Publisher) Publish(ctx context.Context, event *WorkflowEvent) {
	if p == nil || p.conn == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("events: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.bcr.%s", event.EventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("bcr_id", event.BCRID).
			Msg("events: failed to publish (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("bcr_id", event.BCRID).
		Msg("events: published")
}

// Close drains and closes the underlying connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
