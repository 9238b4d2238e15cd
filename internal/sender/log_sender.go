package sender

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender is the development transport: it logs the message and
// acknowledges it after a fixed latency.
type LogSender struct {
	latency time.Duration
	logger  *zap.Logger
}

// NewLogSender builds a LogSender.
func NewLogSender(latency time.Duration, logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{latency: latency, logger: logger}
}

// Send waits for the configured latency, then acknowledges.
func (s *LogSender) Send(ctx context.Context, msg Outbound) (Result, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, &TransportError{Channel: msg.Channel, Reason: "cancelled", Err: ctx.Err()}
		case <-timer.C:
		}
	}

	id := "log-" + uuid.NewString()
	s.logger.Info("outbound message",
		zap.String("channel", string(msg.Channel)),
		zap.String("to", msg.To),
		zap.Int("body_length", len(msg.Body)),
		zap.String("provider_message_id", id),
	)
	return Result{ProviderMessageID: id, ProviderStatus: "delivered"}, nil
}
