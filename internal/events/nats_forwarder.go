package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Publisher is the slice of *nats.Conn the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder mirrors inbox events to NATS subjects for the analytics feed.
type NATSForwarder struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewNATSForwarder builds a forwarder publishing under prefix (e.g. "inbox.events").
func NewNATSForwarder(pub Publisher, prefix string, logger *zap.Logger) *NATSForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSForwarder{pub: pub, prefix: prefix, logger: logger}
}

// Attach subscribes the forwarder to every event type on d.
func (f *NATSForwarder) Attach(d Dispatcher) {
	SubscribeAll(d, f.Handle)
}

// Subject returns the subject an event type is published on.
func (f *NATSForwarder) Subject(t EventType) string {
	return fmt.Sprintf("%s.%s", f.prefix, t)
}

// Handle publishes one event. Failures are logged and returned; they never
// affect the state change that produced the event.
func (f *NATSForwarder) Handle(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("failed to marshal event", zap.String("event_type", string(event.Type)), zap.Error(err))
		return err
	}
	subject := f.Subject(event.Type)
	if err := f.pub.Publish(subject, data); err != nil {
		f.logger.Warn("failed to forward event",
			zap.String("subject", subject),
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
