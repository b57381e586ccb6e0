// Package events publishes application events to NATS when a broker is
// configured. Without a broker URL the publisher is a no-op, so the rest of
// the application can publish unconditionally.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Subjects for published events.
const (
	SubjectDiagnosisCompleted = "rotorwise.diagnosis.completed"
	SubjectHistoryCleared     = "rotorwise.history.cleared"
)

// DiagnosisCompleted is emitted after a successful diagnosis is appended to
// the history log.
type DiagnosisCompleted struct {
	EntryID         string    `json:"entry_id"`
	Timestamp       time.Time `json:"timestamp"`
	AttachmentCount int       `json:"attachment_count"`
	CauseCount      int       `json:"cause_count"`
}

// HistoryCleared is emitted when the user clears the conversation history.
type HistoryCleared struct {
	At time.Time `json:"at"`
}

// Publisher publishes JSON events to NATS. A nil connection disables it.
type Publisher struct {
	nc *nats.Conn
}

// Connect creates a Publisher. An empty URL returns a disabled publisher.
func Connect(url string) (*Publisher, error) {
	if url == "" {
		return &Publisher{}, nil
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

// Enabled reports whether a broker connection is present.
func (p *Publisher) Enabled() bool {
	return p != nil && p.nc != nil
}

// Close drains the connection if one exists.
func (p *Publisher) Close() {
	if p.Enabled() {
		p.nc.Close()
	}
}

// natsHeaderCarrier adapts nats.Msg headers for OTel trace propagation.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it to subject. Trace context
// from ctx is injected into the message headers. No-op when disabled.
func Publish[T any](ctx context.Context, p *Publisher, subject string, v T) error {
	if !p.Enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return p.nc.PublishMsg(msg)
}
