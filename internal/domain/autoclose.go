package domain

import "time"

const day = 24 * time.Hour

// DaysSince counts whole days elapsed between from and now, truncated.
func DaysSince(from, now time.Time) int {
	return int(now.Sub(from) / day)
}

// ShouldAutoClose reports whether an open conversation has been inactive for
// at least the configured number of whole days.
func ShouldAutoClose(c *Conversation, settings AutoCloseSettings, now time.Time) bool {
	if settings.Never() || c.Status != ConversationStatusOpen {
		return false
	}
	return DaysSince(c.LastMessageTime, now) >= settings.Days
}

// IsAboutToAutoClose flags an open conversation inside the final 24 hours
// before it becomes eligible for auto-close. It is advisory only.
func IsAboutToAutoClose(c *Conversation, settings AutoCloseSettings, now time.Time) bool {
	if settings.Never() || c.Status != ConversationStatusOpen {
		return false
	}
	idle := now.Sub(c.LastMessageTime)
	closesIn := time.Duration(settings.Days)*day - idle
	return closesIn > 0 && closesIn <= day
}

// AutoCloseAt returns when c becomes eligible for auto-close.
func AutoCloseAt(c *Conversation, settings AutoCloseSettings) (time.Time, bool) {
	if settings.Never() {
		return time.Time{}, false
	}
	return c.LastMessageTime.Add(time.Duration(settings.Days) * day), true
}

// SnoozeExpired reports whether a snoozed conversation is due to wake.
func SnoozeExpired(c *Conversation, now time.Time) bool {
	return c.Status == ConversationStatusSnoozed && c.SnoozedUntil != nil && !c.SnoozedUntil.After(now)
}
