package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the slice of *nats.Conn the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url with reconnect handlers that log through logger.
func ConnectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	logger.Info("connecting to NATS", "url", url, "name", name)

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Forwarder republishes hub events to a NATS subject tree:
// <subject>.<event type>, e.g. switchyard.envelopes.envelope.completed.
type Forwarder struct {
	pub     Publisher
	subject string
	types   map[string]bool
	logger  *slog.Logger
}

// NewForwarder forwards only the listed event types; none means all.
func NewForwarder(pub Publisher, subject string, logger *slog.Logger, types ...string) *Forwarder {
	f := &Forwarder{pub: pub, subject: subject, logger: logger}
	if len(types) > 0 {
		f.types = make(map[string]bool, len(types))
		for _, t := range types {
			f.types[t] = true
		}
	}
	return f
}

// Run forwards events from hub until ctx ends. Publish failures are
// logged and the event is skipped.
func (f *Forwarder) Run(ctx context.Context, hub *Hub) {
	ch, cancel := hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if f.types != nil && !f.types[ev.Type] {
				continue
			}
			if err := f.forward(ev); err != nil {
				f.logger.Error("failed to forward event", "type", ev.Type, "id", ev.ID, "error", err)
			}
		}
	}
}

func (f *Forwarder) forward(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := f.subject + "." + ev.Type
	if err := f.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	f.logger.Debug("forwarded event", "subject", subject, "id", ev.ID)
	return nil
}
