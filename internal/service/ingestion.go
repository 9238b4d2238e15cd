package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/events"
	"github.com/spec-kit/patient-inbox/internal/triage"
	apperrors "github.com/spec-kit/patient-inbox/pkg/util/errorutil"
)

// Inbound is a normalized patient message handed over by a channel adapter.
type Inbound struct {
	From       string
	Body       string
	Channel    domain.Channel
	ReceivedAt time.Time
}

// Receipt reports what ingestion did with one inbound message.
type Receipt struct {
	Conversation *domain.Conversation
	Message      domain.Message
	Suggestion   triage.Suggestion
	OptOut       triage.OptOut
	Created      bool
}

// Receive appends an inbound patient message, reopening the thread if it was
// closed or snoozed, and attaches the triage verdict to the message and the
// conversation.
func (m *ConversationManager) Receive(ctx context.Context, in Inbound) (*Receipt, error) {
	in.From = strings.TrimSpace(in.From)
	if in.From == "" {
		return nil, apperrors.NewValidationError("sender address is required", nil)
	}
	if !in.Channel.Valid() {
		return nil, apperrors.NewValidationError("unknown channel", map[string]any{"channel": in.Channel})
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, apperrors.NewValidationError("message body is required", nil)
	}
	// lastMessageTime never runs ahead of the clock.
	if now := m.clock.Now(); in.ReceivedAt.IsZero() || in.ReceivedAt.After(now) {
		in.ReceivedAt = now
	}

	patient, known, err := m.resolvePatient(ctx, in)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{}
	var old domain.ConversationStatus
	apply := func(c *domain.Conversation) error {
		if known {
			c.Patient = mergePatient(c.Patient, patient)
		}
		old = c.Status
		now := m.clock.Now()

		receipt.OptOut = triage.DetectOptOut(in.Body)
		if receipt.OptOut.IsOptOut && in.Channel == domain.ChannelSMS {
			c.Patient.SMSOptIn = false
		}

		if c.Status != domain.ConversationStatusOpen {
			c.Reopen(now)
		}

		suggestion := m.triage.Triage(in.Body, triage.Context{Patient: c.Patient, Now: now})
		intent := suggestion.Intent
		receipt.Message = c.Append(domain.Message{
			Sender:  domain.SenderPatient,
			Text:    in.Body,
			Time:    in.ReceivedAt,
			Channel: in.Channel,
			Type:    domain.MessageTypeManual,
			Status:  domain.MessageStatusDelivered,
			Intent:  &intent,
		}, now)
		c.CurrentIntent = &intent
		c.SuggestedActions = suggestion.Actions
		receipt.Suggestion = suggestion
		return nil
	}

	e, created, err := m.getOrCreate(ctx, patient, apply)
	if err != nil {
		return nil, err
	}
	var conv *domain.Conversation
	if created {
		conv = e.snapshot()
		old = domain.ConversationStatusOpen
	} else {
		conv, err = m.mutate(ctx, e.snapshot().ID, func(_ *conversationEntry, c *domain.Conversation) error {
			return apply(c)
		})
		if err != nil {
			return nil, err
		}
	}
	receipt.Conversation = conv.Clone()
	receipt.Created = created

	m.afterReceive(ctx, in, receipt, old, known)
	return receipt, nil
}

func (m *ConversationManager) resolvePatient(ctx context.Context, in Inbound) (domain.Patient, bool, error) {
	if m.patients != nil {
		p, err := m.patients.FindByContact(ctx, in.Channel, in.From)
		switch {
		case err == nil:
			return *p, true, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return domain.Patient{}, false, err
		}
	}
	return placeholderPatient(in), false, nil
}

// placeholderPatient stands in for a sender the directory does not know.
func placeholderPatient(in Inbound) domain.Patient {
	p := domain.Patient{
		ID:               "contact:" + strings.ToLower(in.From),
		Name:             in.From,
		PreferredChannel: in.Channel,
		SMSOptIn:         true,
	}
	if in.Channel == domain.ChannelEmail {
		p.Email = in.From
	} else {
		p.Phone = in.From
	}
	return p
}

// mergePatient refreshes directory fields while keeping an opt-out recorded
// on the conversation.
func mergePatient(current, fresh domain.Patient) domain.Patient {
	if !current.SMSOptIn && current.ID == fresh.ID {
		fresh.SMSOptIn = false
	}
	return fresh
}

func (m *ConversationManager) afterReceive(ctx context.Context, in Inbound, r *Receipt, old domain.ConversationStatus, known bool) {
	conv := r.Conversation
	patientActor := events.Actor{Type: events.ActorPatient}

	if r.Created {
		m.publishEvent(ctx, events.Event{
			Type:           events.EventConversationCreated,
			ConversationID: conv.ID,
			Actor:          patientActor,
			Payload:        events.ConversationCreatedPayload{PatientID: conv.Patient.ID, Channel: in.Channel},
		})
	}
	if old != domain.ConversationStatusOpen {
		m.publishEvent(ctx, events.Event{
			Type:           events.EventConversationStatusChanged,
			ConversationID: conv.ID,
			Actor:          patientActor,
			Payload:        events.StatusChangedPayload{OldStatus: old, NewStatus: domain.ConversationStatusOpen, Reason: "patient_replied"},
		})
	}
	m.publishEvent(ctx, events.Event{
		Type:           events.EventMessageAppended,
		ConversationID: conv.ID,
		Actor:          patientActor,
		Payload:        appendedPayload(r.Message),
	})
	m.publishEvent(ctx, events.Event{
		Type:           events.EventTriageCompleted,
		ConversationID: conv.ID,
		Actor:          events.Actor{Type: events.ActorSystem},
		Payload: events.TriageCompletedPayload{
			MessageID:     r.Message.ID,
			Intent:        r.Suggestion.Intent.Type,
			Confidence:    r.Suggestion.Intent.Confidence,
			Urgency:       r.Suggestion.Urgency,
			RequiresHuman: r.Suggestion.RequiresHuman,
		},
	})
	m.metrics.RecordInbound(string(in.Channel))
	m.metrics.RecordTriage(string(r.Suggestion.Intent.Type), string(r.Suggestion.Urgency))

	if r.OptOut.IsOptOut && in.Channel == domain.ChannelSMS {
		if known && m.patients != nil {
			if err := m.patients.SetSMSOptIn(ctx, conv.Patient.ID, false); err != nil {
				m.logger.Warn("failed to record sms opt-out", zap.String("patient_id", conv.Patient.ID), zap.Error(err))
			}
		}
		m.publishEvent(ctx, events.Event{
			Type:           events.EventPatientOptedOut,
			ConversationID: conv.ID,
			Actor:          patientActor,
			Payload:        events.PatientOptedOutPayload{PatientID: conv.Patient.ID, Channel: in.Channel, Keyword: r.OptOut.Keyword},
		})
	}

	m.logger.Info("inbound message triaged",
		zap.String("conversation_id", conv.ID),
		zap.Int64("message_id", r.Message.ID),
		zap.String("triage", r.Suggestion.Summary()),
	)
}
