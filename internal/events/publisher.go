// Package events publishes compile lifecycle events to NATS JetStream so
// downstream services can react to finished builds without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/wasmforge/internal/config"
)

// CompileEvent is emitted once per finished compile job.
type CompileEvent struct {
	JobID      string    `json:"job_id"`
	CacheKey   string    `json:"cache_key"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Signature  string    `json:"signature,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher receives compile lifecycle events. Implementations must be safe
// for concurrent use.
type Publisher interface {
	PublishCompileEvent(ctx context.Context, event CompileEvent) error
	Close()
}

// NoopPublisher discards all events. It is the default when the events
// subsystem is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishCompileEvent(context.Context, CompileEvent) error { return nil }
func (NoopPublisher) Close()                                                 {}

// NATSPublisher publishes events to a JetStream stream.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher connects to NATS and ensures the target stream exists.
func NewNATSPublisher(cfg config.EventsConfig) (*NATSPublisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("events subsystem is disabled")
	}

	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &NATSPublisher{conn: conn, js: js, subject: cfg.Subject}
	if err := p.ensureStream(cfg.Stream); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	slog.Info("NATS publisher initialized",
		"url", cfg.NATSURL,
		"subject", cfg.Subject,
		"stream", cfg.Stream)

	return p, nil
}

func (p *NATSPublisher) ensureStream(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.js.Stream(ctx, name)
	if err == nil {
		return nil
	}

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{p.subject},
	})
	return err
}

// PublishCompileEvent publishes one event to the configured subject.
func (p *NATSPublisher) PublishCompileEvent(ctx context.Context, event CompileEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal compile event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := p.js.Publish(pubCtx, p.subject, data); err != nil {
		return fmt.Errorf("failed to publish compile event: %w", err)
	}

	slog.Debug("Published compile event",
		"job_id", event.JobID,
		"outcome", event.Outcome)
	return nil
}

// Close drains the NATS connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
