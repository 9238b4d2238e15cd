// Package triage maps inbound patient text to an intent and builds staff
// suggestions for it. Everything here is pure and safe for concurrent use.
package triage

import (
	"strings"
	"time"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// Context is the conversation context the classifier and suggestion engine read.
type Context struct {
	Patient domain.Patient
	Now     time.Time
}

var (
	emergencyKeywords = []string{
		"emergency", "911", "can't breathe", "cannot breathe", "bleeding",
		"allergic reaction", "infection", "severe pain",
	}
	confirmTokens    = map[string]struct{}{"c": {}, "confirm": {}, "yes": {}, "y": {}}
	rescheduleTokens = map[string]struct{}{"r": {}, "reschedule": {}, "change": {}}
	bookingCues      = []string{"book", "schedule", "appointment"}
	concernCues      = []string{"hurt", "pain", "swell", "bruis"}
	pricingCues      = []string{"cost", "price", "how much"}
	serviceCues      = []string{
		"botox", "filler", "laser", "microneedling", "hydrafacial", "chemical peel", "what is",
	}
)

const postTreatmentWindow = 24 * time.Hour

// rule is one step of the first-match-wins cascade.
type rule struct {
	match func(msg normalized, ctx Context) (string, bool)
	build func(keyword string) domain.Intent
}

type normalized struct {
	lower   string
	trimmed string
}

func normalize(text string) normalized {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	return normalized{lower: lower, trimmed: strings.TrimSpace(lower)}
}

// cascade order is part of the contract: earlier rules shadow later ones.
var cascade = []rule{
	{
		match: func(m normalized, _ Context) (string, bool) { return firstContained(m.lower, emergencyKeywords) },
		build: func(kw string) domain.Intent {
			return domain.Intent{Type: domain.IntentEmergency, Confidence: 1.0, RequiresHumanReview: true, Parameters: keywordParam(kw)}
		},
	},
	{
		match: func(m normalized, _ Context) (string, bool) {
			_, ok := confirmTokens[m.trimmed]
			return m.trimmed, ok
		},
		build: func(string) domain.Intent {
			return domain.Intent{Type: domain.IntentConfirmAppointment, Confidence: 0.95}
		},
	},
	{
		match: func(m normalized, _ Context) (string, bool) {
			if _, ok := rescheduleTokens[m.trimmed]; ok {
				return m.trimmed, true
			}
			if strings.Contains(m.lower, "reschedule") {
				return "reschedule", true
			}
			if strings.Contains(m.lower, "change") && strings.Contains(m.lower, "appointment") {
				return "change", true
			}
			return "", false
		},
		build: func(kw string) domain.Intent {
			return domain.Intent{Type: domain.IntentRescheduleAppointment, Confidence: 0.9, Parameters: keywordParam(kw)}
		},
	},
	{
		match: func(m normalized, _ Context) (string, bool) { return firstContained(m.lower, []string{"cancel"}) },
		build: func(string) domain.Intent {
			return domain.Intent{Type: domain.IntentCancelAppointment, Confidence: 0.9}
		},
	},
	{
		match: func(m normalized, _ Context) (string, bool) { return firstContained(m.lower, bookingCues) },
		build: func(kw string) domain.Intent {
			return domain.Intent{Type: domain.IntentBookAppointment, Confidence: 0.85, Parameters: keywordParam(kw)}
		},
	},
	{
		match: func(m normalized, ctx Context) (string, bool) {
			if !recentlyTreated(ctx) {
				return "", false
			}
			return firstContained(m.lower, concernCues)
		},
		build: func(kw string) domain.Intent {
			return domain.Intent{Type: domain.IntentPostTreatmentConcern, Confidence: 0.9, RequiresHumanReview: true, Parameters: keywordParam(kw)}
		},
	},
	{
		match: func(m normalized, _ Context) (string, bool) { return firstContained(m.lower, pricingCues) },
		build: func(string) domain.Intent {
			return domain.Intent{Type: domain.IntentPricingInquiry, Confidence: 0.85}
		},
	},
	{
		match: func(m normalized, _ Context) (string, bool) { return firstContained(m.lower, serviceCues) },
		build: func(kw string) domain.Intent {
			return domain.Intent{Type: domain.IntentServiceInfo, Confidence: 0.8, Parameters: keywordParam(kw)}
		},
	},
}

// Classify maps text and context to exactly one intent. It never fails:
// text matching no rule is UNKNOWN at confidence 0.3.
func Classify(text string, ctx Context) domain.Intent {
	msg := normalize(text)
	for _, r := range cascade {
		if kw, ok := r.match(msg, ctx); ok {
			return r.build(kw)
		}
	}
	return domain.Intent{Type: domain.IntentUnknown, Confidence: 0.3, RequiresHumanReview: true}
}

func recentlyTreated(ctx Context) bool {
	last := ctx.Patient.LastAppointment
	if last == nil || ctx.Now.IsZero() {
		return false
	}
	since := ctx.Now.Sub(last.Date)
	return since >= 0 && since <= postTreatmentWindow
}

func firstContained(text string, needles []string) (string, bool) {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return n, true
		}
	}
	return "", false
}

func keywordParam(kw string) map[string]any {
	if kw == "" {
		return nil
	}
	return map[string]any{"keyword": kw}
}
