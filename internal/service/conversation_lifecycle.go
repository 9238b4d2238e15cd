package service

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/events"
	apperrors "github.com/spec-kit/patient-inbox/pkg/util/errorutil"
)

var allowedTransitions = map[domain.ConversationStatus][]domain.ConversationStatus{
	domain.ConversationStatusOpen:    {domain.ConversationStatusOpen, domain.ConversationStatusSnoozed, domain.ConversationStatusClosed},
	domain.ConversationStatusSnoozed: {domain.ConversationStatusSnoozed, domain.ConversationStatusOpen, domain.ConversationStatusClosed},
	domain.ConversationStatusClosed:  {domain.ConversationStatusClosed, domain.ConversationStatusOpen},
}

func isValidTransition(current, next domain.ConversationStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

func transitionError(id string, current, next domain.ConversationStatus) error {
	return apperrors.NewInvalidTransition("conversation status transition not allowed", map[string]any{
		"conversation_id": id,
		"current_status":  current,
		"target_status":   next,
	})
}

// Close marks the conversation closed and clears unread. Idempotent.
func (m *ConversationManager) Close(ctx context.Context, id string) (*domain.Conversation, error) {
	return m.changeStatus(ctx, id, domain.ConversationStatusClosed, "closed_by_staff", func(c *domain.Conversation, now time.Time) {
		c.Close(now)
	})
}

// Snooze parks the conversation until the given instant. Past instants are
// accepted; the scheduler wakes them on its next tick.
func (m *ConversationManager) Snooze(ctx context.Context, id string, until time.Time) (*domain.Conversation, error) {
	if until.IsZero() {
		return nil, apperrors.NewValidationError("snooze requires an until timestamp", map[string]any{"conversation_id": id})
	}
	return m.changeStatus(ctx, id, domain.ConversationStatusSnoozed, "snoozed_by_staff", func(c *domain.Conversation, now time.Time) {
		c.Snooze(until, now)
	})
}

// Reopen moves the conversation back to open. Reopening an open thread is a harmless update.
func (m *ConversationManager) Reopen(ctx context.Context, id string) (*domain.Conversation, error) {
	return m.changeStatus(ctx, id, domain.ConversationStatusOpen, "reopened_by_staff", func(c *domain.Conversation, now time.Time) {
		c.Reopen(now)
	})
}

func (m *ConversationManager) changeStatus(ctx context.Context, id string, next domain.ConversationStatus, reason string, apply func(*domain.Conversation, time.Time)) (*domain.Conversation, error) {
	var old domain.ConversationStatus
	conv, err := m.mutate(ctx, id, func(_ *conversationEntry, c *domain.Conversation) error {
		old = c.Status
		if !isValidTransition(old, next) {
			return transitionError(id, old, next)
		}
		apply(c, m.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publishStatusChange(ctx, id, old, next, reason)
	return conv.Clone(), nil
}

// MarkAsRead clears the unread counter without touching status.
func (m *ConversationManager) MarkAsRead(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := m.mutate(ctx, id, func(_ *conversationEntry, c *domain.Conversation) error {
		c.MarkRead(m.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

// ToggleStar flips the starred flag.
func (m *ConversationManager) ToggleStar(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := m.mutate(ctx, id, func(_ *conversationEntry, c *domain.Conversation) error {
		c.ToggleStar(m.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

// AutoClose closes id if it is still eligible under settings. Eligibility is
// re-checked under the conversation's writer lock, so a send that reopened or
// refreshed the thread first always wins.
func (m *ConversationManager) AutoClose(ctx context.Context, id string, settings domain.AutoCloseSettings) (bool, error) {
	closed := false
	_, err := m.mutate(ctx, id, func(_ *conversationEntry, c *domain.Conversation) error {
		now := m.clock.Now()
		if !domain.ShouldAutoClose(c, settings, now) {
			return errSkip
		}
		c.Close(now)
		closed = true
		return nil
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if closed {
		m.publishStatusChange(ctx, id, domain.ConversationStatusOpen, domain.ConversationStatusClosed, "auto_close")
	}
	return closed, nil
}

// Wake reopens id if its snooze deadline has passed.
func (m *ConversationManager) Wake(ctx context.Context, id string) (bool, error) {
	_, err := m.mutate(ctx, id, func(_ *conversationEntry, c *domain.Conversation) error {
		if !domain.SnoozeExpired(c, m.clock.Now()) {
			return errSkip
		}
		c.Reopen(m.clock.Now())
		return nil
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.publishStatusChange(ctx, id, domain.ConversationStatusSnoozed, domain.ConversationStatusOpen, "snooze_expired")
	return true, nil
}

// NotifyClosingSoon publishes conversation_closing_soon the first time id
// enters its final day before auto-close. It fires once per last message time.
func (m *ConversationManager) NotifyClosingSoon(ctx context.Context, id string, settings domain.AutoCloseSettings) (bool, error) {
	e, err := m.entry(id)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	conv := e.snapshot()
	if !domain.IsAboutToAutoClose(conv, settings, m.clock.Now()) || e.warnedAt.Equal(conv.LastMessageTime) {
		e.mu.Unlock()
		return false, nil
	}
	e.warnedAt = conv.LastMessageTime
	e.mu.Unlock()

	closesAt, _ := domain.AutoCloseAt(conv, settings)
	m.publishEvent(ctx, events.Event{
		Type:           events.EventConversationClosingSoon,
		ConversationID: id,
		Actor:          events.Actor{Type: events.ActorSystem},
		Payload:        events.ClosingSoonPayload{LastMessageTime: conv.LastMessageTime, ClosesAt: closesAt},
	})
	return true, nil
}

// IsClosingSoon reports the advisory closing-soon flag for a snapshot.
func (m *ConversationManager) IsClosingSoon(conv *domain.Conversation, settings domain.AutoCloseSettings) bool {
	return domain.IsAboutToAutoClose(conv, settings, m.clock.Now())
}

// errSkip aborts a mutation without saving or reporting an error.
var errSkip = errors.New("no change")
