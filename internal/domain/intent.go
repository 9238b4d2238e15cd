package domain

// IntentType is the classified purpose of an inbound message.
type IntentType string

const (
	IntentBookAppointment       IntentType = "book_appointment"
	IntentRescheduleAppointment IntentType = "reschedule_appointment"
	IntentCancelAppointment     IntentType = "cancel_appointment"
	IntentConfirmAppointment    IntentType = "confirm_appointment"
	IntentCheckAvailability     IntentType = "check_availability"

	IntentPricingInquiry IntentType = "pricing_inquiry"
	IntentServiceInfo    IntentType = "service_info"
	IntentHoursLocation  IntentType = "hours_location"

	IntentPostTreatmentConcern IntentType = "post_treatment_concern"
	IntentSideEffectReport     IntentType = "side_effect_report"
	IntentAftercareQuestion    IntentType = "aftercare_question"

	IntentInsuranceQuestion IntentType = "insurance_question"
	IntentPaymentInquiry    IntentType = "payment_inquiry"
	IntentPackageStatus     IntentType = "package_status"

	IntentGreeting  IntentType = "greeting"
	IntentThankYou  IntentType = "thank_you"
	IntentComplaint IntentType = "complaint"
	IntentEmergency IntentType = "emergency"
	IntentUnknown   IntentType = "unknown"
)

// Intent is the triage verdict for one inbound message.
type Intent struct {
	Type                IntentType     `json:"type"`
	Confidence          float64        `json:"confidence"`
	RequiresHumanReview bool           `json:"requires_human_review"`
	Parameters          map[string]any `json:"parameters,omitempty"`
}

// ActionType enumerates staff-facing suggested actions.
type ActionType string

const (
	ActionSendMessage         ActionType = "send_message"
	ActionScheduleAppointment ActionType = "schedule_appointment"
	ActionCallPatient         ActionType = "call_patient"
	ActionEscalateToProvider  ActionType = "escalate_to_provider"
	ActionSendAftercare       ActionType = "send_aftercare"
	ActionApplyCredit         ActionType = "apply_credit"
	ActionUpdateNotes         ActionType = "update_notes"
	ActionFlagForReview       ActionType = "flag_for_review"
	ActionSendCustomMessage   ActionType = "send_custom_message"
)

// Priority ranks actions and urgency.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Action is a suggestion for staff; it is not durable state.
type Action struct {
	Type        ActionType `json:"type"`
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Automatable bool       `json:"automatable"`
}
