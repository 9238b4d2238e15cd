// Package sender delivers outbound clinic messages to a transport provider.
package sender

import (
	"context"
	"fmt"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// Outbound is one message handed to the transport.
type Outbound struct {
	To      string         `json:"to"`
	Body    string         `json:"body"`
	Channel domain.Channel `json:"channel"`
}

// Result is the provider's acknowledgment.
type Result struct {
	ProviderMessageID string `json:"message_id"`
	ProviderStatus    string `json:"status"`
}

// MessageSender delivers one message. Implementations must honour ctx and
// return a *TransportError when delivery did not happen.
type MessageSender interface {
	Send(ctx context.Context, msg Outbound) (Result, error)
}

// TransportError reports a failed delivery attempt.
type TransportError struct {
	Channel domain.Channel
	Reason  string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s transport: %s: %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s transport: %s", e.Channel, e.Reason)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SenderFunc adapts a function to MessageSender.
type SenderFunc func(ctx context.Context, msg Outbound) (Result, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Outbound) (Result, error) {
	return f(ctx, msg)
}
