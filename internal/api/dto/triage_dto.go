package dto

import (
	"time"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// ClassifyRequest payload for POST /triage/classify. ConversationID, when
// set, supplies the patient context used by the classifier.
type ClassifyRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
}

// TriageResponse carries the verdict and the suggested next steps.
type TriageResponse struct {
	Intent             domain.Intent   `json:"intent"`
	SuggestedResponses []string        `json:"suggested_responses"`
	SuggestedActions   []domain.Action `json:"suggested_actions"`
	RequiresHuman      bool            `json:"requires_human"`
	Urgency            domain.Priority `json:"urgency"`
}

// InboundRequest is the normalized payload a channel adapter posts to
// /webhooks/inbound.
type InboundRequest struct {
	From       string         `json:"from"`
	Body       string         `json:"body"`
	Channel    domain.Channel `json:"channel"`
	ReceivedAt *time.Time     `json:"received_at"`
}

// InboundResponse acknowledges an ingested message.
type InboundResponse struct {
	ConversationID string         `json:"conversation_id"`
	MessageID      int64          `json:"message_id"`
	Created        bool           `json:"created"`
	OptedOut       bool           `json:"opted_out"`
	Triage         TriageResponse `json:"triage"`
}
