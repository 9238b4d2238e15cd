package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/events"
	"github.com/spec-kit/patient-inbox/internal/sender"
	apperrors "github.com/spec-kit/patient-inbox/pkg/util/errorutil"
)

// SendInput describes a clinic-authored message.
type SendInput struct {
	Text    string
	Channel domain.Channel
	Type    domain.MessageType
}

// delivery is one dispatch handed to the transport.
type delivery struct {
	conversationID string
	messageID      int64
	attempt        int
	out            sender.Outbound
}

// Send appends a clinic message in the sending state, reopens the thread if
// needed and dispatches delivery asynchronously. Transport failures never
// surface here; they become the message's failed status.
func (m *ConversationManager) Send(ctx context.Context, id string, input SendInput) (*domain.Conversation, domain.Message, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, domain.Message{}, apperrors.NewValidationError("message text is required", map[string]any{"conversation_id": id})
	}
	if input.Channel != "" && !input.Channel.Valid() {
		return nil, domain.Message{}, apperrors.NewValidationError("unknown channel", map[string]any{"channel": input.Channel})
	}
	if input.Type == "" {
		input.Type = domain.MessageTypeManual
	}

	var (
		old  domain.ConversationStatus
		msg  domain.Message
		task delivery
	)
	e, err := m.entry(id)
	if err != nil {
		return nil, domain.Message{}, err
	}
	e.mu.Lock()
	conv, err := m.mutateLocked(ctx, e, func(_ *conversationEntry, c *domain.Conversation) error {
		channel := input.Channel
		if channel == "" {
			channel = defaultChannel(c)
		}
		if err := checkReachable(c, channel); err != nil {
			return err
		}

		now := m.clock.Now()
		old = c.Status
		if old != domain.ConversationStatusOpen {
			c.Reopen(now)
		}
		msg = c.Append(domain.Message{
			Sender:   domain.SenderClinic,
			Text:     text,
			Time:     now,
			Channel:  channel,
			Type:     input.Type,
			Status:   domain.MessageStatusSending,
			Attempts: 1,
		}, now)
		task = delivery{
			conversationID: c.ID,
			messageID:      msg.ID,
			attempt:        1,
			out:            sender.Outbound{To: c.Patient.Address(channel), Body: msg.Text, Channel: channel},
		}
		return nil
	})
	if err == nil {
		e.inflight[msg.ID] = struct{}{}
	}
	e.mu.Unlock()
	if err != nil {
		return nil, domain.Message{}, err
	}

	m.publishStatusChange(ctx, id, old, domain.ConversationStatusOpen, "message_sent")
	m.publishEvent(ctx, events.Event{
		Type:           events.EventMessageAppended,
		ConversationID: id,
		Actor:          actorFrom(ctx),
		Payload:        appendedPayload(msg),
	})
	m.dispatch(task)
	return conv.Clone(), msg, nil
}

// Retry re-dispatches a failed message. Retrying a message whose previous
// attempt is still in flight is rejected with DELIVERY_IN_FLIGHT; retrying any
// status other than failed is an invalid transition.
func (m *ConversationManager) Retry(ctx context.Context, id string, messageID int64) (*domain.Conversation, domain.Message, error) {
	var (
		msg  domain.Message
		old  domain.MessageStatus
		task delivery
	)
	e, err := m.entry(id)
	if err != nil {
		return nil, domain.Message{}, err
	}
	e.mu.Lock()
	conv, err := m.mutateLocked(ctx, e, func(e *conversationEntry, c *domain.Conversation) error {
		current, err := c.Message(messageID)
		if err != nil {
			return apperrors.NewNotFound("message", map[string]any{"conversation_id": id, "message_id": messageID})
		}
		details := map[string]any{"conversation_id": id, "message_id": messageID, "current_status": current.Status}
		if _, busy := e.inflight[messageID]; busy {
			return apperrors.NewDeliveryInFlight(details)
		}
		if current.Sender != domain.SenderClinic || !current.Status.Retryable() {
			return apperrors.NewInvalidTransition("only failed clinic messages can be retried", details)
		}
		if err := checkReachable(c, current.Channel); err != nil {
			return err
		}

		old = current.Status
		updated, err := c.TransitionMessage(messageID, domain.MessageStatusSending, m.clock.Now())
		if err != nil {
			return apperrors.NewInvalidTransition(err.Error(), details)
		}
		msg = *updated
		task = delivery{
			conversationID: c.ID,
			messageID:      msg.ID,
			attempt:        msg.Attempts,
			out:            sender.Outbound{To: c.Patient.Address(msg.Channel), Body: msg.Text, Channel: msg.Channel},
		}
		return nil
	})
	if err == nil {
		e.inflight[messageID] = struct{}{}
	}
	e.mu.Unlock()
	if err != nil {
		switch {
		case apperrors.IsCode(err, apperrors.CodeDeliveryInFlight):
			m.metrics.RecordRetry("in_flight")
		case apperrors.IsCode(err, apperrors.CodeInvalidTransition):
			m.metrics.RecordRetry("rejected")
		}
		return nil, domain.Message{}, err
	}

	m.metrics.RecordRetry("accepted")
	m.publishEvent(ctx, events.Event{
		Type:           events.EventMessageStatusChanged,
		ConversationID: id,
		Actor:          actorFrom(ctx),
		Payload: events.MessageStatusChangedPayload{
			MessageID: msg.ID,
			OldStatus: old,
			NewStatus: msg.Status,
			Attempts:  msg.Attempts,
		},
	})
	m.dispatch(task)
	return conv.Clone(), msg, nil
}

func (m *ConversationManager) dispatch(task delivery) {
	m.deliveries.Add(1)
	go func() {
		defer m.deliveries.Done()

		ctx, cancel := context.WithTimeout(m.deliveryCtx, m.deliveryTimeout)
		defer cancel()

		started := time.Now()
		var (
			res sender.Result
			err error
		)
		if m.sender == nil {
			err = &sender.TransportError{Channel: task.out.Channel, Reason: "no sender configured"}
		} else {
			res, err = m.sender.Send(ctx, task.out)
		}
		m.resolve(task, res, err, time.Since(started))
	}()
}

// resolve records the transport outcome. The in-memory transition is applied
// even if persisting it fails, so the message never stays stuck in sending;
// the store catches up on the conversation's next successful save.
func (m *ConversationManager) resolve(task delivery, res sender.Result, sendErr error, elapsed time.Duration) {
	ctx := context.Background()
	logger := m.logger.With(
		zap.String("conversation_id", task.conversationID),
		zap.Int64("message_id", task.messageID),
		zap.Int("attempt", task.attempt),
	)

	next := domain.MessageStatusDelivered
	outcome := "delivered"
	if sendErr != nil {
		next = domain.MessageStatusFailed
		outcome = "failed"
		logger.Warn("message delivery failed", zap.String("channel", string(task.out.Channel)), zap.Error(sendErr))
	}
	m.metrics.RecordDelivery(string(task.out.Channel), outcome, elapsed)

	e, err := m.entry(task.conversationID)
	if err != nil {
		logger.Error("delivery resolved for unknown conversation", zap.Error(err))
		return
	}

	e.mu.Lock()
	delete(e.inflight, task.messageID)
	updated := e.snapshot().Clone()
	msg, err := updated.TransitionMessage(task.messageID, next, m.clock.Now())
	if err != nil {
		e.mu.Unlock()
		logger.Error("cannot apply delivery outcome", zap.String("target_status", string(next)), zap.Error(err))
		return
	}
	if res.ProviderMessageID != "" {
		msg.ProviderMessageID = res.ProviderMessageID
	}
	resolved := *msg
	if err := m.store.Save(ctx, updated); err != nil {
		logger.Error("failed to persist delivery outcome", zap.Error(err))
	}
	e.current.Store(updated)
	e.mu.Unlock()

	payload := events.MessageStatusChangedPayload{
		MessageID:         resolved.ID,
		OldStatus:         domain.MessageStatusSending,
		NewStatus:         resolved.Status,
		Attempts:          resolved.Attempts,
		ProviderMessageID: resolved.ProviderMessageID,
	}
	if sendErr != nil {
		payload.Error = sendErr.Error()
	}
	m.publishEvent(ctx, events.Event{
		Type:           events.EventMessageStatusChanged,
		ConversationID: task.conversationID,
		Actor:          events.Actor{Type: events.ActorSystem},
		Payload:        payload,
	})
}

// WaitForDeliveries blocks until every dispatched delivery has resolved.
func (m *ConversationManager) WaitForDeliveries() {
	m.deliveries.Wait()
}

// Shutdown waits for in-flight deliveries until ctx expires, then cancels
// the rest; cancelled deliveries resolve as failed.
func (m *ConversationManager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.deliveries.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancelDelivery()
		return nil
	case <-ctx.Done():
		m.cancelDelivery()
		<-done
		return ctx.Err()
	}
}

func defaultChannel(c *domain.Conversation) domain.Channel {
	if n := len(c.Messages); n > 0 {
		return c.Messages[n-1].Channel
	}
	if c.Patient.PreferredChannel.Valid() {
		return c.Patient.PreferredChannel
	}
	return domain.ChannelSMS
}

func checkReachable(c *domain.Conversation, channel domain.Channel) error {
	if channel == domain.ChannelSMS && !c.Patient.SMSOptIn {
		return apperrors.NewPatientOptedOut(map[string]any{"conversation_id": c.ID, "patient_id": c.Patient.ID})
	}
	if c.Patient.Address(channel) == "" {
		return apperrors.NewValidationError("patient has no address for channel", map[string]any{
			"conversation_id": c.ID,
			"channel":         channel,
		})
	}
	return nil
}

func appendedPayload(msg domain.Message) events.MessageAppendedPayload {
	preview := msg.Text
	if r := []rune(preview); len(r) > 80 {
		preview = string(r[:80])
	}
	return events.MessageAppendedPayload{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Channel:   msg.Channel,
		Type:      msg.Type,
		Status:    msg.Status,
		Time:      msg.Time,
		Preview:   preview,
	}
}
