package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/patient-inbox/internal/clock"
	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/events"
	"github.com/spec-kit/patient-inbox/internal/repository"
	"github.com/spec-kit/patient-inbox/internal/sender"
	"github.com/spec-kit/patient-inbox/internal/triage"
	apperrors "github.com/spec-kit/patient-inbox/pkg/util/errorutil"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// scriptedSender fails while fail is set and blocks on gate when it is non-nil.
type scriptedSender struct {
	mu   sync.Mutex
	fail bool
	gate chan struct{}
	sent []sender.Outbound
}

func (s *scriptedSender) Send(ctx context.Context, msg sender.Outbound) (sender.Result, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return sender.Result{}, &sender.TransportError{Channel: msg.Channel, Reason: "cancelled", Err: ctx.Err()}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.fail {
		return sender.Result{}, &sender.TransportError{Channel: msg.Channel, Reason: "carrier rejected"}
	}
	return sender.Result{ProviderMessageID: fmt.Sprintf("prov-%d", len(s.sent)), ProviderStatus: "accepted"}, nil
}

func (s *scriptedSender) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) ofType(t events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	manager  *ConversationManager
	store    *repository.MemoryConversationStore
	patients *repository.MemoryPatientDirectory
	settings *repository.MemorySettingsRepository
	sender   *scriptedSender
	clock    *clock.Fake
	events   *eventLog
}

func newHarness(t *testing.T, patients ...domain.Patient) *harness {
	t.Helper()
	h := &harness{
		store:    repository.NewMemoryConversationStore(),
		patients: repository.NewMemoryPatientDirectory(patients...),
		settings: repository.NewMemorySettingsRepository(domain.AutoCloseSettings{Days: 7}),
		sender:   &scriptedSender{},
		clock:    clock.NewFake(testNow),
		events:   &eventLog{},
	}
	dispatcher := events.NewInMemoryDispatcher()
	events.SubscribeAll(dispatcher, h.events.handle)
	h.manager = NewConversationManager(ConversationDependencies{
		Store:           h.store,
		Patients:        h.patients,
		Settings:        h.settings,
		Sender:          h.sender,
		Dispatcher:      dispatcher,
		Triage:          triage.NewEngine(triage.Options{ClinicPhone: "(555) 010-2000"}),
		Clock:           h.clock,
		DeliveryTimeout: time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.manager.Shutdown(ctx)
	})
	return h
}

func sarah() domain.Patient {
	return domain.Patient{
		ID:               "p-sarah",
		Name:             "Sarah Johnson",
		Phone:            "+15551234567",
		Email:            "sarah@example.com",
		PreferredChannel: domain.ChannelSMS,
		SMSOptIn:         true,
	}
}

func (h *harness) open(t *testing.T, p domain.Patient) *domain.Conversation {
	t.Helper()
	conv, err := h.manager.OpenConversation(context.Background(), p)
	if err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	return conv
}

func (h *harness) message(t *testing.T, convID string, msgID int64) domain.Message {
	t.Helper()
	conv, err := h.manager.Get(context.Background(), convID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	msg, err := conv.Message(msgID)
	if err != nil {
		t.Fatalf("message %d: %v", msgID, err)
	}
	return *msg
}

func assertConversationInvariants(t *testing.T, c *domain.Conversation) {
	t.Helper()
	if c.Status == domain.ConversationStatusClosed && c.UnreadCount != 0 {
		t.Errorf("closed conversation %s has unread=%d", c.ID, c.UnreadCount)
	}
	if (c.Status == domain.ConversationStatusSnoozed) != (c.SnoozedUntil != nil) {
		t.Errorf("conversation %s status=%s snoozedUntil=%v", c.ID, c.Status, c.SnoozedUntil)
	}
	if n := len(c.Messages); n > 0 {
		if c.LastMessage != c.Messages[n-1].Text || !c.LastMessageTime.Equal(c.Messages[n-1].Time) {
			t.Errorf("conversation %s last message out of sync", c.ID)
		}
	}
	for i := 1; i < len(c.Messages); i++ {
		if c.Messages[i].ID <= c.Messages[i-1].ID || c.Messages[i].Time.Before(c.Messages[i-1].Time) {
			t.Errorf("conversation %s messages out of order at %d", c.ID, i)
		}
	}
}

func TestSendReopensClosedConversationAndDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := WithStaff(context.Background(), "staff-1")
	conv := h.open(t, sarah())
	if _, err := h.manager.Close(ctx, conv.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	updated, msg, err := h.manager.Send(ctx, conv.ID, SendInput{Text: "See you tomorrow at 2pm"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if updated.Status != domain.ConversationStatusOpen {
		t.Errorf("send should reopen, status=%s", updated.Status)
	}
	if msg.Status != domain.MessageStatusSending || msg.Attempts != 1 || msg.Channel != domain.ChannelSMS {
		t.Errorf("unexpected new message %+v", msg)
	}

	h.manager.WaitForDeliveries()
	got := h.message(t, conv.ID, msg.ID)
	if got.Status != domain.MessageStatusDelivered || got.ProviderMessageID == "" {
		t.Errorf("expected delivered with provider id, got %+v", got)
	}
	stored, ok := h.store.Get(conv.ID)
	if !ok || stored.Messages[0].Status != domain.MessageStatusDelivered {
		t.Errorf("store did not receive delivery outcome")
	}

	changes := h.events.ofType(events.EventConversationStatusChanged)
	if len(changes) != 2 {
		t.Fatalf("expected close and reopen events, got %d", len(changes))
	}
	reopen := changes[1].Payload.(events.StatusChangedPayload)
	if reopen.OldStatus != domain.ConversationStatusClosed || reopen.NewStatus != domain.ConversationStatusOpen {
		t.Errorf("unexpected reopen payload %+v", reopen)
	}
	if changes[1].Actor.Type != events.ActorStaff || *changes[1].Actor.StaffID != "staff-1" {
		t.Errorf("reopen should be attributed to staff, got %+v", changes[1].Actor)
	}
}

func TestSendFailureThenRetryDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.open(t, sarah())
	h.sender.setFail(true)

	_, msg, err := h.manager.Send(ctx, conv.ID, SendInput{Text: "Your results are ready"})
	if err != nil {
		t.Fatalf("transport failures must not surface from send: %v", err)
	}
	h.manager.WaitForDeliveries()
	if got := h.message(t, conv.ID, msg.ID); got.Status != domain.MessageStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	h.sender.setFail(false)
	_, retried, err := h.manager.Retry(ctx, conv.ID, msg.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != domain.MessageStatusSending || retried.Attempts != 2 {
		t.Errorf("retry should move to sending with attempts=2, got %+v", retried)
	}
	h.manager.WaitForDeliveries()
	if got := h.message(t, conv.ID, msg.ID); got.Status != domain.MessageStatusDelivered {
		t.Errorf("expected delivered after retry, got %s", got.Status)
	}

	var failed int
	for _, e := range h.events.ofType(events.EventMessageStatusChanged) {
		if p := e.Payload.(events.MessageStatusChangedPayload); p.NewStatus == domain.MessageStatusFailed && p.Error != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected one failure event with error text, got %d", failed)
	}
}

func TestRetryWhileInFlightIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.open(t, sarah())
	gate := make(chan struct{})
	h.sender.mu.Lock()
	h.sender.gate = gate
	h.sender.mu.Unlock()

	_, msg, err := h.manager.Send(ctx, conv.ID, SendInput{Text: "Checking in"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	_, _, err = h.manager.Retry(ctx, conv.ID, msg.ID)
	if !apperrors.IsCode(err, apperrors.CodeDeliveryInFlight) {
		t.Fatalf("expected DELIVERY_IN_FLIGHT, got %v", err)
	}

	close(gate)
	h.manager.WaitForDeliveries()
	if got := h.message(t, conv.ID, msg.ID); got.Status != domain.MessageStatusDelivered || got.Attempts != 1 {
		t.Errorf("rejected retry must not disturb the delivery, got %+v", got)
	}
}

func TestRetryRejectsNonFailedMessages(t *testing.T) {
	h := newHarness(t, sarah())
	ctx := context.Background()
	conv := h.open(t, sarah())
	_, msg, err := h.manager.Send(ctx, conv.ID, SendInput{Text: "Hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	h.manager.WaitForDeliveries()
	before, _ := h.manager.Get(ctx, conv.ID)

	if _, _, err := h.manager.Retry(ctx, conv.ID, msg.ID); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Errorf("retry of delivered message: expected INVALID_TRANSITION, got %v", err)
	}
	if _, _, err := h.manager.Retry(ctx, conv.ID, 42); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("retry of unknown message: expected NOT_FOUND, got %v", err)
	}

	receipt, err := h.manager.Receive(ctx, Inbound{From: sarah().Phone, Body: "thanks!", Channel: domain.ChannelSMS})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, _, err := h.manager.Retry(ctx, conv.ID, receipt.Message.ID); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Errorf("retry of patient message: expected INVALID_TRANSITION, got %v", err)
	}

	after, _ := h.manager.Get(ctx, conv.ID)
	if after.Messages[0] != before.Messages[0] {
		t.Errorf("rejected retry changed the message: %+v -> %+v", before.Messages[0], after.Messages[0])
	}
}

func TestSendValidationAndOptOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	optedOut := sarah()
	optedOut.SMSOptIn = false
	conv := h.open(t, optedOut)

	tests := []struct {
		name  string
		input SendInput
		code  string
	}{
		{"empty text", SendInput{Text: "   "}, apperrors.CodeValidationFailed},
		{"unknown channel", SendInput{Text: "hi", Channel: "pager"}, apperrors.CodeValidationFailed},
		{"sms to opted out patient", SendInput{Text: "hi", Channel: domain.ChannelSMS}, apperrors.CodePatientOptedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := h.manager.Send(ctx, conv.ID, tt.input); !apperrors.IsCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}

	if _, _, err := h.manager.Send(ctx, conv.ID, SendInput{Text: "Your receipt", Channel: domain.ChannelEmail}); err != nil {
		t.Errorf("email should still be allowed after sms opt-out: %v", err)
	}
	if _, _, err := h.manager.Send(ctx, "missing", SendInput{Text: "hi"}); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("expected NOT_FOUND for unknown conversation, got %v", err)
	}
	h.manager.WaitForDeliveries()
}

func TestStoreFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.open(t, sarah())
	h.store.FailSave = func(string) error { return errors.New("disk full") }

	if _, err := h.manager.Close(ctx, conv.ID); err == nil {
		t.Fatal("expected close to fail")
	}
	if _, _, err := h.manager.Send(ctx, conv.ID, SendInput{Text: "hello"}); err == nil {
		t.Fatal("expected send to fail")
	}
	if _, err := h.manager.Receive(ctx, Inbound{From: sarah().Phone, Body: "hi", Channel: domain.ChannelSMS}); err == nil {
		t.Fatal("expected receive to fail")
	}

	got, _ := h.manager.Get(ctx, conv.ID)
	if got.Status != domain.ConversationStatusOpen || len(got.Messages) != 0 || got.UnreadCount != 0 {
		t.Errorf("failed saves leaked into visible state: %+v", got)
	}
	if len(h.sender.sent) != 0 {
		t.Errorf("nothing should have been dispatched")
	}
	if n := len(h.events.ofType(events.EventConversationStatusChanged)); n != 0 {
		t.Errorf("no events expected for failed mutations, got %d", n)
	}
}

func TestStatusTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.open(t, sarah())

	if _, err := h.manager.Snooze(ctx, conv.ID, time.Time{}); !apperrors.IsCode(err, apperrors.CodeValidationFailed) {
		t.Errorf("zero snooze: expected validation error, got %v", err)
	}
	snoozed, err := h.manager.Snooze(ctx, conv.ID, testNow.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	assertConversationInvariants(t, snoozed)

	closed, err := h.manager.Close(ctx, conv.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	assertConversationInvariants(t, closed)
	if _, err := h.manager.Close(ctx, conv.ID); err != nil {
		t.Errorf("close must be idempotent: %v", err)
	}
	if _, err := h.manager.Snooze(ctx, conv.ID, testNow.Add(time.Hour)); !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Errorf("closed -> snoozed: expected INVALID_TRANSITION, got %v", err)
	}

	reopened, err := h.manager.Reopen(ctx, conv.ID)
	if err != nil || reopened.Status != domain.ConversationStatusOpen || reopened.SnoozedUntil != nil {
		t.Fatalf("reopen: %+v %v", reopened, err)
	}
	starred, _ := h.manager.ToggleStar(ctx, conv.ID)
	if !starred.Starred {
		t.Error("toggle star should star")
	}
}

func TestListFiltersOrderAndCounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := sarah()
	b := domain.Patient{ID: "p-mike", Name: "Mike Chen", Phone: "+15550000002", SMSOptIn: true}
	c := domain.Patient{ID: "p-emily", Name: "Emily Rodriguez", Phone: "+15550000003", SMSOptIn: true}
	h.patients.Put(a)
	h.patients.Put(b)
	h.patients.Put(c)

	for i, p := range []domain.Patient{a, b, c} {
		h.clock.Set(testNow.Add(time.Duration(i) * time.Minute))
		if _, err := h.manager.Receive(ctx, Inbound{From: p.Phone, Body: "Hi there", Channel: domain.ChannelSMS}); err != nil {
			t.Fatalf("receive %s: %v", p.ID, err)
		}
	}
	all, _ := h.manager.List(ctx, ListFilter{})
	if len(all) != 3 || all[0].Patient.ID != c.ID || all[2].Patient.ID != a.ID {
		t.Fatalf("list should be newest first, got %d items", len(all))
	}

	if _, err := h.manager.Snooze(ctx, all[1].ID, testNow.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.manager.Close(ctx, all[2].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.manager.ToggleStar(ctx, all[0].ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   int
	}{
		{"all", ListFilter{Status: StatusFilterAll}, 3},
		{"open", ListFilter{Status: "open"}, 1},
		{"snoozed", ListFilter{Status: "snoozed"}, 1},
		{"closed", ListFilter{Status: "Closed"}, 1},
		{"starred", ListFilter{Starred: true}, 1},
		{"unread", ListFilter{Unread: true}, 2},
		{"search by name", ListFilter{Search: "mike"}, 1},
		{"search by phone", ListFilter{Search: "0000003"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.manager.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d conversations, want %d", len(got), tt.want)
			}
		})
	}
	if _, err := h.manager.List(ctx, ListFilter{Status: "archived"}); !apperrors.IsCode(err, apperrors.CodeValidationFailed) {
		t.Errorf("unknown status filter: expected validation error, got %v", err)
	}

	counts := h.manager.Counts(ctx)
	if counts.All != counts.Open+counts.Snoozed+counts.Closed || counts.All != 3 {
		t.Errorf("counts inconsistent: %+v", counts)
	}
	if counts.Unread != 2 {
		t.Errorf("closed conversation unread must not count, got %+v", counts)
	}
}

func TestReceiveReopensAndTriages(t *testing.T) {
	p := sarah()
	p.NextAppointment = &domain.Appointment{Service: "Botox", Provider: "Dr. Smith", Date: testNow.Add(24 * time.Hour)}
	h := newHarness(t, p)
	ctx := context.Background()
	conv := h.open(t, p)
	if _, err := h.manager.Close(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}

	receipt, err := h.manager.Receive(ctx, Inbound{From: p.Phone, Body: "Can I reschedule?", Channel: domain.ChannelSMS})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	got := receipt.Conversation
	assertConversationInvariants(t, got)
	if receipt.Created || got.ID != conv.ID {
		t.Errorf("expected the existing conversation to be reused")
	}
	if got.Status != domain.ConversationStatusOpen || got.UnreadCount != 1 {
		t.Errorf("expected reopened with one unread, got status=%s unread=%d", got.Status, got.UnreadCount)
	}
	if got.CurrentIntent == nil || got.CurrentIntent.Type != domain.IntentRescheduleAppointment {
		t.Fatalf("unexpected current intent %+v", got.CurrentIntent)
	}
	if receipt.Message.Intent == nil || receipt.Message.Status != domain.MessageStatusDelivered {
		t.Errorf("inbound message should carry its intent, got %+v", receipt.Message)
	}
	if !triage.HasAction(got.SuggestedActions, domain.ActionSendCustomMessage) {
		t.Errorf("suggested actions missing custom message: %+v", got.SuggestedActions)
	}
	if n := len(h.events.ofType(events.EventTriageCompleted)); n != 1 {
		t.Errorf("expected one triage event, got %d", n)
	}
}

func TestReceiveFromUnknownSenderCreatesPlaceholder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	receipt, err := h.manager.Receive(ctx, Inbound{From: "New.Person@Example.com", Body: "What are your hours?", Channel: domain.ChannelEmail})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !receipt.Created {
		t.Error("expected a new conversation")
	}
	if receipt.Conversation.Patient.ID != "contact:new.person@example.com" || receipt.Conversation.Patient.Email == "" {
		t.Errorf("unexpected placeholder patient %+v", receipt.Conversation.Patient)
	}

	again, err := h.manager.Receive(ctx, Inbound{From: "new.person@example.com", Body: "hello?", Channel: domain.ChannelEmail})
	if err != nil {
		t.Fatal(err)
	}
	if again.Created || again.Conversation.ID != receipt.Conversation.ID || len(again.Conversation.Messages) != 2 {
		t.Errorf("second message should land in the same thread")
	}
	if n := len(h.events.ofType(events.EventConversationCreated)); n != 1 {
		t.Errorf("expected one created event, got %d", n)
	}

	if _, err := h.manager.Receive(ctx, Inbound{From: "", Body: "x", Channel: domain.ChannelSMS}); !apperrors.IsCode(err, apperrors.CodeValidationFailed) {
		t.Errorf("missing sender: expected validation error, got %v", err)
	}
}

func TestReceiveStopOptsPatientOut(t *testing.T) {
	h := newHarness(t, sarah())
	ctx := context.Background()

	receipt, err := h.manager.Receive(ctx, Inbound{From: sarah().Phone, Body: "STOP", Channel: domain.ChannelSMS})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !receipt.OptOut.IsOptOut || receipt.Conversation.Patient.SMSOptIn {
		t.Fatalf("expected opt-out to be recorded, got %+v", receipt.OptOut)
	}
	stored, err := h.patients.FindByContact(ctx, domain.ChannelSMS, sarah().Phone)
	if err != nil || stored.SMSOptIn {
		t.Errorf("directory should record the opt-out: %+v %v", stored, err)
	}
	if _, _, err := h.manager.Send(ctx, receipt.Conversation.ID, SendInput{Text: "Are you sure?"}); !apperrors.IsCode(err, apperrors.CodePatientOptedOut) {
		t.Errorf("expected PATIENT_OPTED_OUT, got %v", err)
	}
	if n := len(h.events.ofType(events.EventPatientOptedOut)); n != 1 {
		t.Errorf("expected one opted-out event, got %d", n)
	}

	// A later message must not silently opt the patient back in.
	again, err := h.manager.Receive(ctx, Inbound{From: sarah().Phone, Body: "hello", Channel: domain.ChannelSMS})
	if err != nil {
		t.Fatal(err)
	}
	if again.Conversation.Patient.SMSOptIn {
		t.Error("opt-out lost on the next inbound message")
	}
}

func TestLoadMarksOrphanedDeliveriesFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conv := domain.NewConversation("c-orphan", sarah(), testNow)
	conv.Append(domain.Message{Sender: domain.SenderClinic, Text: "on its way", Time: testNow, Channel: domain.ChannelSMS, Status: domain.MessageStatusSending, Attempts: 1}, testNow)
	if err := h.store.Save(ctx, conv); err != nil {
		t.Fatal(err)
	}

	if err := h.manager.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := h.message(t, "c-orphan", 1); got.Status != domain.MessageStatusFailed {
		t.Errorf("expected orphaned message to be failed, got %s", got.Status)
	}
	if _, _, err := h.manager.Retry(ctx, "c-orphan", 1); err != nil {
		t.Errorf("orphaned message should be retryable: %v", err)
	}
	h.manager.WaitForDeliveries()
}

func TestConcurrentSendsKeepThreadConsistent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.open(t, sarah())

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := h.manager.Send(ctx, conv.ID, SendInput{Text: fmt.Sprintf("msg %d", i)}); err != nil {
				t.Errorf("send %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	h.manager.WaitForDeliveries()

	got, _ := h.manager.Get(ctx, conv.ID)
	if len(got.Messages) != n {
		t.Fatalf("expected %d messages, got %d", n, len(got.Messages))
	}
	assertConversationInvariants(t, got)
	for _, msg := range got.Messages {
		if msg.Status != domain.MessageStatusDelivered {
			t.Errorf("message %d left in %s", msg.ID, msg.Status)
		}
	}
}

func TestAutoCloseSettingsRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.manager.UpdateAutoCloseSettings(ctx, domain.AutoCloseNever); err != nil {
		t.Fatal(err)
	}
	got, err := h.manager.AutoCloseSettings(ctx)
	if err != nil || !got.Never() {
		t.Errorf("expected never, got %+v %v", got, err)
	}
}

func TestReceiveCapsFutureTimestamps(t *testing.T) {
	p := sarah()
	h := newHarness(t, p)
	ctx := context.Background()

	receipt, err := h.manager.Receive(ctx, Inbound{
		From:       p.Phone,
		Body:       "Running late, sorry",
		Channel:    domain.ChannelSMS,
		ReceivedAt: testNow.Add(365 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !receipt.Message.Time.Equal(testNow) || !receipt.Conversation.LastMessageTime.Equal(testNow) {
		t.Fatalf("future stamp should be capped to now, got message=%s last=%s", receipt.Message.Time, receipt.Conversation.LastMessageTime)
	}

	_, msg, err := h.manager.Send(ctx, receipt.Conversation.ID, SendInput{Text: "No problem"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !msg.Time.Equal(testNow) {
		t.Errorf("clinic message should be stamped now, got %s", msg.Time)
	}
	h.manager.WaitForDeliveries()

	h.clock.Advance(30 * 24 * time.Hour)
	closed, err := h.manager.AutoClose(ctx, receipt.Conversation.ID, domain.AutoCloseSettings{Days: 7})
	if err != nil || !closed {
		t.Errorf("idle conversation should auto-close, closed=%v err=%v", closed, err)
	}
}

func TestSendBeforeAutoCloseKeepsConversationOpen(t *testing.T) {
	cases := []struct {
		name  string
		close bool
	}{
		{name: "open", close: false},
		{name: "closed then reopened by send", close: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := WithStaff(context.Background(), "staff-1")

			h.clock.Set(testNow.Add(-8 * 24 * time.Hour))
			conv := h.open(t, sarah())
			if tc.close {
				if _, err := h.manager.Close(ctx, conv.ID); err != nil {
					t.Fatal(err)
				}
			}
			h.clock.Set(testNow)

			if _, _, err := h.manager.Send(ctx, conv.ID, SendInput{Text: "Checking in after your visit"}); err != nil {
				t.Fatalf("send: %v", err)
			}
			closed, err := h.manager.AutoClose(ctx, conv.ID, domain.AutoCloseSettings{Days: 7})
			if err != nil || closed {
				t.Fatalf("send must win over the sweep, closed=%v err=%v", closed, err)
			}
			got, err := h.manager.Get(ctx, conv.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != domain.ConversationStatusOpen {
				t.Errorf("expected open, got %s", got.Status)
			}
			assertConversationInvariants(t, got)
		})
	}
}
