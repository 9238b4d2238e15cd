package domain

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderClinic  Sender = "clinic"
	SenderPatient Sender = "patient"
)

// Channel is the transport a message travels over.
type Channel string

const (
	ChannelSMS     Channel = "sms"
	ChannelEmail   Channel = "email"
	ChannelWebChat Channel = "web_chat"
	ChannelPhone   Channel = "phone"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelWebChat, ChannelPhone:
		return true
	}
	return false
}

// MessageType records how a message originated.
type MessageType string

const (
	MessageTypeManual    MessageType = "manual"
	MessageTypeAutomated MessageType = "automated"
	MessageTypeSystem    MessageType = "system"
	MessageTypeCampaign  MessageType = "campaign"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	// MessageStatusQueued is reserved for rate-limited delivery; sends dispatch immediately.
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is one entry in a conversation thread. Only Status and the
// delivery bookkeeping fields change after creation.
type Message struct {
	ID                int64         `json:"id"`
	Sender            Sender        `json:"sender"`
	Text              string        `json:"text"`
	Time              time.Time     `json:"time"`
	Channel           Channel       `json:"channel"`
	Type              MessageType   `json:"type"`
	Status            MessageStatus `json:"status"`
	Attempts          int           `json:"attempts"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Intent            *Intent       `json:"intent,omitempty"`
}

var messageTransitions = map[MessageStatus][]MessageStatus{
	MessageStatusQueued:    {MessageStatusSending},
	MessageStatusSending:   {MessageStatusSent, MessageStatusDelivered, MessageStatusFailed},
	MessageStatusSent:      {MessageStatusDelivered, MessageStatusFailed},
	MessageStatusDelivered: {MessageStatusRead},
	MessageStatusRead:      {},
	MessageStatusFailed:    {MessageStatusSending},
}

// CanTransition reports whether a message may move from current to next.
func CanTransition(current, next MessageStatus) bool {
	for _, candidate := range messageTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Retryable reports whether a retry may be issued from status.
func (s MessageStatus) Retryable() bool {
	return s == MessageStatusFailed
}
