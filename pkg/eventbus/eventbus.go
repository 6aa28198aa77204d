package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/restoreassist/trial-engine/pkg/config"
	"github.com/restoreassist/trial-engine/pkg/logger"
)

// Event is the JSON envelope carried on every subject.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// Handler processes one decoded event. Returning an error logs the failure;
// core NATS has no redelivery, so handlers must tolerate loss.
type Handler func(ctx context.Context, event *Event) error

// Bus is a thin publish/subscribe wrapper over a NATS connection.
type Bus struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// Connect establishes the NATS connection with bounded reconnect behavior.
func Connect(cfg config.NATSConfig) (*Bus, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("trial-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Bus{conn: conn}, nil
}

// Publish wraps the payload in an Event envelope and emits it on the
// subject. Callers treat failures as best-effort: log and move on.
func (b *Bus) Publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	event := Event{
		ID:            uuid.New(),
		Type:          subject,
		Timestamp:     time.Now().UTC(),
		CorrelationID: logger.CorrelationIDFromContext(ctx),
		Data:          data,
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	if err := b.conn.Publish(subject, raw); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a queue-group subscriber. Messages that fail to decode
// or whose handler errors are logged and dropped.
func (b *Bus) Subscribe(ctx context.Context, subject, queueGroup string, handler Handler) error {
	sub, err := b.conn.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("eventbus: dropping undecodable message",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}

		handlerCtx := ctx
		if event.CorrelationID != "" {
			handlerCtx = logger.ContextWithCorrelationID(ctx, event.CorrelationID)
		}

		if err := handler(handlerCtx, &event); err != nil {
			logger.Error("eventbus: handler failed",
				zap.String("subject", msg.Subject),
				zap.String("event_id", event.ID.String()),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	b.subs = append(b.subs, sub)
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
