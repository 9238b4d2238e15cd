package dto

import (
	"time"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// ConversationSummary is one inbox row.
type ConversationSummary struct {
	ID              string                    `json:"id"`
	Patient         PatientResponse           `json:"patient"`
	Status          domain.ConversationStatus `json:"status"`
	SnoozedUntil    *time.Time                `json:"snoozed_until,omitempty"`
	Starred         bool                      `json:"starred"`
	UnreadCount     int                       `json:"unread_count"`
	LastMessage     string                    `json:"last_message"`
	LastMessageTime time.Time                 `json:"last_message_time"`
	ClosingSoon     bool                      `json:"closing_soon"`
	CurrentIntent   *domain.Intent            `json:"current_intent,omitempty"`
}

// ConversationDetail includes the thread and the latest suggestions.
type ConversationDetail struct {
	ConversationSummary
	Messages         []MessageResponse `json:"messages"`
	SuggestedActions []domain.Action   `json:"suggested_actions"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// PatientResponse is the patient reference shown alongside a conversation.
type PatientResponse struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Phone            string              `json:"phone,omitempty"`
	Email            string              `json:"email,omitempty"`
	PreferredChannel domain.Channel      `json:"preferred_channel,omitempty"`
	SMSOptIn         bool                `json:"sms_opt_in"`
	LastAppointment  *domain.Appointment `json:"last_appointment,omitempty"`
	NextAppointment  *domain.Appointment `json:"next_appointment,omitempty"`
}

// MessageResponse represents one thread entry.
type MessageResponse struct {
	ID                int64                `json:"id"`
	Sender            domain.Sender        `json:"sender"`
	Text              string               `json:"text"`
	Time              time.Time            `json:"time"`
	Channel           domain.Channel       `json:"channel"`
	Type              domain.MessageType   `json:"type"`
	Status            domain.MessageStatus `json:"status"`
	Attempts          int                  `json:"attempts,omitempty"`
	ProviderMessageID string               `json:"provider_message_id,omitempty"`
	Intent            *domain.Intent       `json:"intent,omitempty"`
}

// SendMessageRequest payload for POST /conversations/:id/messages.
type SendMessageRequest struct {
	Text    string             `json:"text"`
	Channel domain.Channel     `json:"channel"`
	Type    domain.MessageType `json:"type"`
}

// SnoozeRequest payload.
type SnoozeRequest struct {
	Until time.Time `json:"until"`
}

// CountsResponse totals per status.
type CountsResponse struct {
	Open    int `json:"open"`
	Snoozed int `json:"snoozed"`
	Closed  int `json:"closed"`
	All     int `json:"all"`
	Unread  int `json:"unread"`
}

// AutoCloseSettingsRequest accepts a positive day count or "never".
type AutoCloseSettingsRequest struct {
	Days string `json:"days"`
}

// AutoCloseSettingsResponse echoes the live settings.
type AutoCloseSettingsResponse struct {
	Days string `json:"days"`
}
