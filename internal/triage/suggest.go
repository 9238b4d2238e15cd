package triage

import (
	"fmt"
	"strings"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// Options fills the reply templates.
type Options struct {
	ClinicPhone string
	BookingURL  string
}

// Suggestion is the full triage output for one inbound message.
type Suggestion struct {
	Intent        domain.Intent   `json:"intent"`
	Responses     []string        `json:"suggested_responses"`
	Actions       []domain.Action `json:"suggested_actions"`
	RequiresHuman bool            `json:"requires_human"`
	Urgency       domain.Priority `json:"urgency"`
}

// Engine renders suggestions. It holds only template options.
type Engine struct {
	opts Options
}

// NewEngine builds an engine, defaulting empty options.
func NewEngine(opts Options) *Engine {
	if opts.ClinicPhone == "" {
		opts.ClinicPhone = "555-0100"
	}
	if opts.BookingURL == "" {
		opts.BookingURL = "[link]"
	}
	return &Engine{opts: opts}
}

// Triage classifies text and builds its suggestion in one call.
func (e *Engine) Triage(text string, ctx Context) Suggestion {
	return e.Suggest(Classify(text, ctx), ctx, text)
}

// Suggest builds responses, actions, escalation and urgency for intent.
func (e *Engine) Suggest(intent domain.Intent, ctx Context, rawText string) Suggestion {
	return Suggestion{
		Intent:        intent,
		Responses:     e.Responses(intent, ctx),
		Actions:       Actions(intent, ctx),
		RequiresHuman: RequiresHuman(intent, rawText),
		Urgency:       Urgency(intent, rawText),
	}
}

// Responses returns candidate replies, never empty.
func (e *Engine) Responses(intent domain.Intent, ctx Context) []string {
	phone := e.opts.ClinicPhone
	link := e.opts.BookingURL
	p := ctx.Patient
	var out []string

	switch intent.Type {
	case domain.IntentConfirmAppointment:
		if next := p.NextAppointment; next != nil {
			out = append(out,
				fmt.Sprintf("Perfect! Your %s appointment is confirmed for %s. See you then!",
					next.Service, next.Date.Format("Monday, January 2 at 3:04 PM")),
				fmt.Sprintf("Thank you for confirming, %s! We'll see you on %s. Please arrive 10 minutes early.",
					p.FirstName(), next.Date.Format("1/2 at 3:04 PM")),
			)
		}
	case domain.IntentRescheduleAppointment:
		out = append(out,
			fmt.Sprintf("I'll help you reschedule. What date and time works best for you? You can also call us at %s or book online at %s.", phone, link),
			fmt.Sprintf("No problem! Please call us at %s to find a new time that works for you, or visit our online booking at %s.", phone, link),
		)
	case domain.IntentCancelAppointment:
		out = append(out,
			fmt.Sprintf("Thanks for letting us know, %s. We've noted your cancellation request and a team member will confirm shortly.", p.FirstName()),
			fmt.Sprintf("No problem! Reach out when you're ready to reschedule, or call us at %s.", phone),
		)
	case domain.IntentPostTreatmentConcern:
		treatment := "treatment"
		provider := "Your provider"
		if last := p.LastAppointment; last != nil {
			if last.Service != "" {
				treatment = last.Service
			}
			if last.Provider != "" {
				provider = last.Provider
			}
		}
		out = append(out,
			fmt.Sprintf("I understand your concern. Some discomfort after %s is normal. If symptoms worsen or you're worried, please call us immediately at %s.", treatment, phone),
			fmt.Sprintf("Thank you for letting us know. %s would like to check on you. Can we call you shortly?", provider),
		)
	case domain.IntentPricingInquiry:
		out = append(out,
			fmt.Sprintf("I'd be happy to discuss pricing! Our consultations are complimentary. Would you like to schedule one? Call %s or book online.", phone),
			"Pricing varies by treatment and individual needs. We offer free consultations to provide accurate quotes. When would you like to come in?",
		)
	case domain.IntentBookAppointment:
		out = append(out,
			fmt.Sprintf("I'd love to help you book an appointment! Please visit %s or call us at %s. What service are you interested in?", link, phone),
			fmt.Sprintf("Great! You can book online at %s or call %s. Our popular services include Botox, fillers, and laser treatments.", link, phone),
		)
	case domain.IntentServiceInfo:
		out = append(out,
			fmt.Sprintf("Great question! We'd be happy to walk you through the treatment. Would you like us to send details or book a free consultation? Call %s.", phone),
		)
	case domain.IntentEmergency:
		out = append(out,
			fmt.Sprintf("This sounds urgent. Please call us immediately at %s or if it's a medical emergency, call 911.", phone),
		)
	}

	if len(out) == 0 {
		out = append(out,
			"Thank you for your message. A team member will respond shortly during business hours.",
			fmt.Sprintf("We've received your message and will get back to you soon. For immediate assistance, please call %s.", phone),
		)
	}
	return out
}

// Actions returns staff actions for intent; the custom-message action is always last.
func Actions(intent domain.Intent, ctx Context) []domain.Action {
	var actions []domain.Action

	switch intent.Type {
	case domain.IntentEmergency, domain.IntentPostTreatmentConcern:
		provider := "on-call provider"
		if last := ctx.Patient.LastAppointment; last != nil && last.Provider != "" {
			provider = last.Provider
		}
		actions = append(actions,
			domain.Action{Type: domain.ActionCallPatient, Label: "Call Patient Immediately", Priority: domain.PriorityHigh, Automatable: false},
			domain.Action{Type: domain.ActionEscalateToProvider, Label: "Alert Provider", Description: "Notify " + provider, Priority: domain.PriorityHigh, Automatable: true},
		)
	case domain.IntentRescheduleAppointment:
		actions = append(actions, domain.Action{
			Type: domain.ActionScheduleAppointment, Label: "Open Scheduler",
			Description: "Help patient find new appointment time", Priority: domain.PriorityMedium,
		})
	case domain.IntentConfirmAppointment:
		actions = append(actions, domain.Action{
			Type: domain.ActionUpdateNotes, Label: "Mark as Confirmed",
			Description: "Update appointment status", Priority: domain.PriorityLow, Automatable: true,
		})
	case domain.IntentPricingInquiry, domain.IntentServiceInfo:
		actions = append(actions,
			domain.Action{Type: domain.ActionSendMessage, Label: "Send Information", Description: "Share service details and pricing", Priority: domain.PriorityMedium, Automatable: true},
			domain.Action{Type: domain.ActionScheduleAppointment, Label: "Offer Consultation", Priority: domain.PriorityMedium},
		)
	}

	return append(actions, domain.Action{
		Type: domain.ActionSendCustomMessage, Label: "Send Custom Message", Priority: domain.PriorityLow,
	})
}

var (
	escalationIntents = map[domain.IntentType]struct{}{
		domain.IntentEmergency:            {},
		domain.IntentPostTreatmentConcern: {},
		domain.IntentComplaint:            {},
		domain.IntentSideEffectReport:     {},
	}
	sensitiveKeywords = []string{"lawsuit", "lawyer", "infection", "bleeding", "can't breathe", "cannot breathe"}
	immediacyCues     = []string{"today", "tomorrow", "urgent"}
)

// humanReviewThreshold is the confidence below which staff must review.
const humanReviewThreshold = 0.7

// RequiresHuman reports whether suggestions must not be auto-sent.
func RequiresHuman(intent domain.Intent, rawText string) bool {
	if _, ok := escalationIntents[intent.Type]; ok {
		return true
	}
	if intent.Confidence < humanReviewThreshold {
		return true
	}
	_, sensitive := firstContained(normalize(rawText).lower, sensitiveKeywords)
	return sensitive
}

// Urgency ranks how quickly staff should respond.
func Urgency(intent domain.Intent, rawText string) domain.Priority {
	switch intent.Type {
	case domain.IntentEmergency, domain.IntentPostTreatmentConcern, domain.IntentSideEffectReport:
		return domain.PriorityHigh
	case domain.IntentComplaint:
		return domain.PriorityMedium
	case domain.IntentRescheduleAppointment:
		if _, soon := firstContained(normalize(rawText).lower, immediacyCues); soon {
			return domain.PriorityMedium
		}
	}
	return domain.PriorityLow
}

// HasAction reports whether actions contains an action of type t.
func HasAction(actions []domain.Action, t domain.ActionType) bool {
	for _, a := range actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

// Summary renders a short log-friendly line for a suggestion.
func (s Suggestion) Summary() string {
	types := make([]string, 0, len(s.Actions))
	for _, a := range s.Actions {
		types = append(types, string(a.Type))
	}
	return fmt.Sprintf("%s(%.2f) urgency=%s human=%t actions=%s",
		s.Intent.Type, s.Intent.Confidence, s.Urgency, s.RequiresHuman, strings.Join(types, ","))
}
