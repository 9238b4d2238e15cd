package events

import (
	"time"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventConversationCreated       EventType = "conversation_created"
	EventConversationStatusChanged EventType = "conversation_status_changed"
	EventMessageAppended           EventType = "message_appended"
	EventMessageStatusChanged      EventType = "message_status_changed"
	EventConversationClosingSoon   EventType = "conversation_closing_soon"
	EventTriageCompleted           EventType = "triage_completed"
	EventPatientOptedOut           EventType = "patient_opted_out"
)

// AllEventTypes lists every type the inbox emits.
var AllEventTypes = []EventType{
	EventConversationCreated,
	EventConversationStatusChanged,
	EventMessageAppended,
	EventMessageStatusChanged,
	EventConversationClosingSoon,
	EventTriageCompleted,
	EventPatientOptedOut,
}

// ActorType identifies who triggered an event.
type ActorType string

const (
	ActorStaff   ActorType = "staff"
	ActorPatient ActorType = "patient"
	ActorSystem  ActorType = "system"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type    ActorType `json:"type"`
	StaffID *string   `json:"staff_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// ConversationCreatedPayload payload.
type ConversationCreatedPayload struct {
	PatientID string         `json:"patient_id"`
	Channel   domain.Channel `json:"channel"`
}

// StatusChangedPayload payload.
type StatusChangedPayload struct {
	OldStatus domain.ConversationStatus `json:"old_status"`
	NewStatus domain.ConversationStatus `json:"new_status"`
	Reason    string                    `json:"reason,omitempty"`
}

// MessageAppendedPayload carries the immutable message record for analytics.
type MessageAppendedPayload struct {
	MessageID int64                `json:"message_id"`
	Sender    domain.Sender        `json:"sender"`
	Channel   domain.Channel       `json:"channel"`
	Type      domain.MessageType   `json:"message_type"`
	Status    domain.MessageStatus `json:"status"`
	Time      time.Time            `json:"time"`
	Preview   string               `json:"body_preview"`
}

// MessageStatusChangedPayload payload.
type MessageStatusChangedPayload struct {
	MessageID         int64                `json:"message_id"`
	OldStatus         domain.MessageStatus `json:"old_status"`
	NewStatus         domain.MessageStatus `json:"new_status"`
	Attempts          int                  `json:"attempts"`
	ProviderMessageID string               `json:"provider_message_id,omitempty"`
	Error             string               `json:"error,omitempty"`
}

// ClosingSoonPayload payload.
type ClosingSoonPayload struct {
	LastMessageTime time.Time `json:"last_message_time"`
	ClosesAt        time.Time `json:"closes_at"`
}

// TriageCompletedPayload payload.
type TriageCompletedPayload struct {
	MessageID     int64             `json:"message_id"`
	Intent        domain.IntentType `json:"intent"`
	Confidence    float64           `json:"confidence"`
	Urgency       domain.Priority   `json:"urgency"`
	RequiresHuman bool              `json:"requires_human"`
}

// PatientOptedOutPayload payload.
type PatientOptedOutPayload struct {
	PatientID string         `json:"patient_id"`
	Channel   domain.Channel `json:"channel"`
	Keyword   string         `json:"keyword"`
}
