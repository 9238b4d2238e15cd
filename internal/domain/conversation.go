package domain

import (
	"errors"
	"time"
)

// ConversationStatus enumerates inbox states for a thread.
type ConversationStatus string

const (
	ConversationStatusOpen    ConversationStatus = "open"
	ConversationStatusSnoozed ConversationStatus = "snoozed"
	ConversationStatusClosed  ConversationStatus = "closed"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationStatusOpen, ConversationStatusSnoozed, ConversationStatusClosed:
		return true
	}
	return false
}

var (
	ErrMessageNotFound   = errors.New("message not found")
	ErrInvalidTransition = errors.New("invalid message status transition")
)

// Conversation is the aggregate root for one patient thread. Derived fields
// (LastMessage, LastMessageTime, UnreadCount on close, SnoozedUntil) are
// recomputed by every mutating method.
type Conversation struct {
	ID               string             `json:"id"`
	Patient          Patient            `json:"patient"`
	Status           ConversationStatus `json:"status"`
	SnoozedUntil     *time.Time         `json:"snoozed_until,omitempty"`
	Starred          bool               `json:"starred"`
	UnreadCount      int                `json:"unread_count"`
	LastMessage      string             `json:"last_message"`
	LastMessageTime  time.Time          `json:"last_message_time"`
	Messages         []Message          `json:"messages"`
	CurrentIntent    *Intent            `json:"current_intent,omitempty"`
	SuggestedActions []Action           `json:"suggested_actions,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// NewConversation starts an empty open thread for patient.
func NewConversation(id string, patient Patient, now time.Time) *Conversation {
	return &Conversation{
		ID:              id,
		Patient:         patient,
		Status:          ConversationStatusOpen,
		LastMessageTime: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Close marks the thread closed and clears unread. Idempotent.
func (c *Conversation) Close(now time.Time) {
	c.Status = ConversationStatusClosed
	c.UnreadCount = 0
	c.touch(now)
}

// Snooze parks the thread until the given instant. Past instants are
// accepted and simply wake on the next scheduler tick.
func (c *Conversation) Snooze(until, now time.Time) {
	c.Status = ConversationStatusSnoozed
	u := until
	c.SnoozedUntil = &u
	c.touch(now)
}

// Reopen moves the thread back to open. Reopening an open thread is a no-op update.
func (c *Conversation) Reopen(now time.Time) {
	c.Status = ConversationStatusOpen
	c.touch(now)
}

// MarkRead clears the unread counter without touching status.
func (c *Conversation) MarkRead(now time.Time) {
	c.UnreadCount = 0
	c.touch(now)
}

// ToggleStar flips the starred flag.
func (c *Conversation) ToggleStar(now time.Time) {
	c.Starred = !c.Starred
	c.touch(now)
}

// Append adds msg to the end of the thread, assigning the next message id.
// A message stamped earlier than the current tail is clamped to the tail time
// so the thread stays ordered.
func (c *Conversation) Append(msg Message, now time.Time) Message {
	msg.ID = c.nextMessageID()
	if n := len(c.Messages); n > 0 && msg.Time.Before(c.Messages[n-1].Time) {
		msg.Time = c.Messages[n-1].Time
	}
	if msg.Sender == SenderPatient {
		c.UnreadCount++
	}
	c.Messages = append(c.Messages, msg)
	c.touch(now)
	return msg
}

// Message returns the message with id.
func (c *Conversation) Message(id int64) (*Message, error) {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i], nil
		}
	}
	return nil, ErrMessageNotFound
}

// TransitionMessage moves message id to next if the delivery state machine allows it.
func (c *Conversation) TransitionMessage(id int64, next MessageStatus, now time.Time) (*Message, error) {
	msg, err := c.Message(id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(msg.Status, next) {
		return msg, ErrInvalidTransition
	}
	msg.Status = next
	if next == MessageStatusSending {
		msg.Attempts++
	}
	c.touch(now)
	return msg, nil
}

// Clone returns a deep copy safe to hand to readers or persist.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	if c.SnoozedUntil != nil {
		u := *c.SnoozedUntil
		cp.SnoozedUntil = &u
	}
	if c.Patient.LastAppointment != nil {
		a := *c.Patient.LastAppointment
		cp.Patient.LastAppointment = &a
	}
	if c.Patient.NextAppointment != nil {
		a := *c.Patient.NextAppointment
		cp.Patient.NextAppointment = &a
	}
	if c.Messages != nil {
		cp.Messages = make([]Message, len(c.Messages))
		copy(cp.Messages, c.Messages)
	}
	if c.CurrentIntent != nil {
		in := *c.CurrentIntent
		cp.CurrentIntent = &in
	}
	if c.SuggestedActions != nil {
		cp.SuggestedActions = append([]Action(nil), c.SuggestedActions...)
	}
	return &cp
}

func (c *Conversation) nextMessageID() int64 {
	if n := len(c.Messages); n > 0 {
		return c.Messages[n-1].ID + 1
	}
	return 1
}

// touch re-derives denormalized fields after a mutation.
func (c *Conversation) touch(now time.Time) {
	if n := len(c.Messages); n > 0 {
		last := c.Messages[n-1]
		c.LastMessage = last.Text
		c.LastMessageTime = last.Time
	}
	if c.Status != ConversationStatusSnoozed {
		c.SnoozedUntil = nil
	}
	if c.Status == ConversationStatusClosed {
		c.UnreadCount = 0
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	c.UpdatedAt = now
}
