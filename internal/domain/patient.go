package domain

import "time"

// Appointment summarizes a booked visit for triage context.
type Appointment struct {
	ID       string    `json:"id"`
	Service  string    `json:"service"`
	Provider string    `json:"provider"`
	Date     time.Time `json:"date"`
}

// Patient is the denormalized patient reference carried by a conversation.
type Patient struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Phone            string       `json:"phone"`
	Email            string       `json:"email"`
	PreferredChannel Channel      `json:"preferred_channel"`
	SMSOptIn         bool         `json:"sms_opt_in"`
	LastAppointment  *Appointment `json:"last_appointment,omitempty"`
	NextAppointment  *Appointment `json:"next_appointment,omitempty"`
}

// FirstName returns the first word of the patient's name.
func (p Patient) FirstName() string {
	for i, r := range p.Name {
		if r == ' ' {
			return p.Name[:i]
		}
	}
	return p.Name
}

// Address returns the contact address used for channel.
func (p Patient) Address(channel Channel) string {
	if channel == ChannelEmail {
		return p.Email
	}
	return p.Phone
}
