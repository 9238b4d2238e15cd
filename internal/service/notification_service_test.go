package service

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/events"
)

func TestNotificationServiceAlerts(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, zap.New(core)).RegisterHandlers()
	ctx := context.Background()

	publish := []events.Event{
		{Type: events.EventTriageCompleted, ConversationID: "c1", Payload: events.TriageCompletedPayload{Intent: domain.IntentEmergency, Urgency: domain.PriorityHigh, RequiresHuman: true}},
		{Type: events.EventTriageCompleted, ConversationID: "c2", Payload: events.TriageCompletedPayload{Intent: domain.IntentBookAppointment, Urgency: domain.PriorityLow}},
		{Type: events.EventTriageCompleted, ConversationID: "c3", Payload: events.TriageCompletedPayload{Intent: domain.IntentUnknown, Urgency: domain.PriorityLow, RequiresHuman: true}},
		{Type: events.EventMessageStatusChanged, ConversationID: "c4", Payload: events.MessageStatusChangedPayload{NewStatus: domain.MessageStatusDelivered}},
		{Type: events.EventMessageStatusChanged, ConversationID: "c5", Payload: events.MessageStatusChangedPayload{NewStatus: domain.MessageStatusFailed, Error: "carrier rejected"}},
		{Type: events.EventPatientOptedOut, ConversationID: "c6", Payload: events.PatientOptedOutPayload{PatientID: "p6", Keyword: "stop"}},
	}
	for _, e := range publish {
		if err := dispatcher.Publish(ctx, e); err != nil {
			t.Fatalf("publish %s: %v", e.Type, err)
		}
	}

	alerts := map[string]zapcore.Level{}
	for _, entry := range logs.All() {
		alerts[entry.ContextMap()["conversation_id"].(string)] = entry.Level
	}
	want := map[string]zapcore.Level{
		"c1": zapcore.WarnLevel,
		"c3": zapcore.InfoLevel,
		"c5": zapcore.WarnLevel,
		"c6": zapcore.InfoLevel,
	}
	if len(alerts) != len(want) {
		t.Fatalf("got alerts %v, want %v", alerts, want)
	}
	for id, level := range want {
		if alerts[id] != level {
			t.Errorf("%s: level %v, want %v", id, alerts[id], level)
		}
	}
}
