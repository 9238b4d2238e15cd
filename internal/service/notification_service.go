package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/events"
)

// NotificationService turns inbox events into staff alerts. Push delivery
// is outside this service; alerts are emitted as structured log lines that
// the log pipeline routes to the on-call channel.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTriageCompleted, n.handleTriageCompleted)
	n.dispatcher.Subscribe(events.EventMessageStatusChanged, n.handleMessageStatusChanged)
	n.dispatcher.Subscribe(events.EventConversationClosingSoon, n.handleClosingSoon)
	n.dispatcher.Subscribe(events.EventPatientOptedOut, n.handlePatientOptedOut)
}

func (n *NotificationService) handleTriageCompleted(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TriageCompletedPayload)
	if !ok || (!payload.RequiresHuman && payload.Urgency != domain.PriorityHigh) {
		return nil
	}
	fields := []zap.Field{
		zap.String("alert", "staff_review_required"),
		zap.String("conversation_id", event.ConversationID),
		zap.Int64("message_id", payload.MessageID),
		zap.String("intent", string(payload.Intent)),
		zap.String("urgency", string(payload.Urgency)),
	}
	if payload.Urgency == domain.PriorityHigh {
		n.logger.Warn("urgent patient message", fields...)
		return nil
	}
	n.logger.Info("patient message needs review", fields...)
	return nil
}

func (n *NotificationService) handleMessageStatusChanged(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MessageStatusChangedPayload)
	if !ok || payload.NewStatus != domain.MessageStatusFailed {
		return nil
	}
	n.logger.Warn("outbound message failed",
		zap.String("alert", "delivery_failed"),
		zap.String("conversation_id", event.ConversationID),
		zap.Int64("message_id", payload.MessageID),
		zap.Int("attempts", payload.Attempts),
		zap.String("error", payload.Error),
	)
	return nil
}

func (n *NotificationService) handleClosingSoon(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.ClosingSoonPayload)
	n.logger.Info("conversation closing soon",
		zap.String("alert", "closing_soon"),
		zap.String("conversation_id", event.ConversationID),
		zap.Time("closes_at", payload.ClosesAt),
	)
	return nil
}

func (n *NotificationService) handlePatientOptedOut(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.PatientOptedOutPayload)
	n.logger.Info("patient opted out of sms",
		zap.String("alert", "opted_out"),
		zap.String("conversation_id", event.ConversationID),
		zap.String("patient_id", payload.PatientID),
		zap.String("keyword", payload.Keyword),
	)
	return nil
}
