package triage

import (
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

var now = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func patientCtx() Context {
	return Context{
		Patient: domain.Patient{
			ID:   "p1",
			Name: "Sarah Johnson",
			NextAppointment: &domain.Appointment{
				Service: "Botox", Provider: "Dr. Smith", Date: now.Add(48 * time.Hour),
			},
		},
		Now: now,
	}
}

func recentlyTreatedCtx() Context {
	ctx := patientCtx()
	ctx.Patient.LastAppointment = &domain.Appointment{
		Service: "Lip Filler", Provider: "Dr. Patel", Date: now.Add(-6 * time.Hour),
	}
	return ctx
}

func TestClassifyCascade(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		ctx        Context
		want       domain.IntentType
		confidence float64
		review     bool
	}{
		{"emergency beats everything", "I need to reschedule, I'm bleeding", patientCtx(), domain.IntentEmergency, 1.0, true},
		{"curly apostrophe emergency", "I can’t breathe", patientCtx(), domain.IntentEmergency, 1.0, true},
		{"confirm token", "  CONFIRM ", patientCtx(), domain.IntentConfirmAppointment, 0.95, false},
		{"single letter confirm", "y", patientCtx(), domain.IntentConfirmAppointment, 0.95, false},
		{"confirm needs whole message", "yes please book me", patientCtx(), domain.IntentBookAppointment, 0.85, false},
		{"reschedule", "Can I reschedule?", patientCtx(), domain.IntentRescheduleAppointment, 0.9, false},
		{"change appointment", "I'd like to change my appointment", patientCtx(), domain.IntentRescheduleAppointment, 0.9, false},
		{"change alone is not reschedule", "I want to change my look, how much?", patientCtx(), domain.IntentPricingInquiry, 0.85, false},
		{"cancel beats booking", "cancel my appointment", patientCtx(), domain.IntentCancelAppointment, 0.9, false},
		{"booking", "Can I book a facial?", patientCtx(), domain.IntentBookAppointment, 0.85, false},
		{"post treatment within a day", "my lips are swelling a lot", recentlyTreatedCtx(), domain.IntentPostTreatmentConcern, 0.9, true},
		{"pain without recent visit", "is it normal for this to hurt?", patientCtx(), domain.IntentUnknown, 0.3, true},
		{"pricing", "How much is a consult?", patientCtx(), domain.IntentPricingInquiry, 0.85, false},
		{"service info", "what is microneedling?", patientCtx(), domain.IntentServiceInfo, 0.8, false},
		{"empty", "", Context{}, domain.IntentUnknown, 0.3, true},
		{"unknown", "hello there", patientCtx(), domain.IntentUnknown, 0.3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text, tt.ctx)
			if got.Type != tt.want {
				t.Fatalf("Classify(%q) = %s, want %s", tt.text, got.Type, tt.want)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.confidence)
			}
			if got.RequiresHumanReview != tt.review {
				t.Errorf("requiresHumanReview = %v, want %v", got.RequiresHumanReview, tt.review)
			}
		})
	}
}

func TestClassifyConfirmAnyCase(t *testing.T) {
	for _, text := range []string{"confirm", "Confirm", "CONFIRM", "cOnFiRm"} {
		got := Classify(text, Context{})
		if got.Type != domain.IntentConfirmAppointment || got.Confidence != 0.95 {
			t.Errorf("Classify(%q) = %+v", text, got)
		}
	}
}

func TestClassifyIsTotal(t *testing.T) {
	inputs := []string{"", " ", "???", strings.Repeat("a", 10000), "🙂", "STOP", "\n\t"}
	for _, text := range inputs {
		got := Classify(text, recentlyTreatedCtx())
		if got.Type == "" || got.Confidence < 0 || got.Confidence > 1 {
			t.Errorf("Classify(%q) returned %+v", text, got)
		}
	}
}

func TestPostTreatmentWindow(t *testing.T) {
	ctx := patientCtx()
	ctx.Patient.LastAppointment = &domain.Appointment{Service: "Botox", Date: now.Add(-25 * time.Hour)}
	if got := Classify("it really hurts", ctx); got.Type == domain.IntentPostTreatmentConcern {
		t.Fatalf("appointment 25h ago should not be post-treatment eligible")
	}

	ctx.Patient.LastAppointment.Date = now.Add(-24 * time.Hour)
	if got := Classify("it really hurts", ctx); got.Type != domain.IntentPostTreatmentConcern {
		t.Fatalf("appointment exactly 24h ago should be eligible, got %s", got.Type)
	}

	ctx.Patient.LastAppointment.Date = now.Add(2 * time.Hour)
	if got := Classify("it really hurts", ctx); got.Type == domain.IntentPostTreatmentConcern {
		t.Fatalf("future appointment should not be post-treatment eligible")
	}
}
