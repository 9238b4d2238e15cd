package sender

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Requester is the slice of *nats.Conn used for request-reply.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// gatewayReply is what the SMS/email gateway answers with.
type gatewayReply struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// NATSSender hands messages to a channel gateway over NATS request-reply on
// "<prefix>.<channel>".
type NATSSender struct {
	conn   Requester
	prefix string
	logger *zap.Logger
}

// NewNATSSender builds a sender publishing under prefix (e.g. "inbox.outbound").
func NewNATSSender(conn Requester, prefix string, logger *zap.Logger) *NATSSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSender{conn: conn, prefix: prefix, logger: logger}
}

// Send requests delivery and waits for the gateway's reply or ctx expiry.
func (s *NATSSender) Send(ctx context.Context, msg Outbound) (Result, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Result{}, &TransportError{Channel: msg.Channel, Reason: "encode request", Err: err}
	}

	subject := fmt.Sprintf("%s.%s", s.prefix, msg.Channel)
	reply, err := s.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return Result{}, &TransportError{Channel: msg.Channel, Reason: "gateway request", Err: err}
	}

	var out gatewayReply
	if err := json.Unmarshal(reply.Data, &out); err != nil {
		return Result{}, &TransportError{Channel: msg.Channel, Reason: "decode reply", Err: err}
	}
	if out.Error != "" {
		return Result{}, &TransportError{Channel: msg.Channel, Reason: out.Error}
	}

	s.logger.Debug("gateway accepted message",
		zap.String("subject", subject),
		zap.String("provider_message_id", out.MessageID),
		zap.String("provider_status", out.Status),
	)
	return Result{ProviderMessageID: out.MessageID, ProviderStatus: out.Status}, nil
}
