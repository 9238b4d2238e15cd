package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// AutoCloseSettings controls inactivity-based closure. Days == 0 means never.
type AutoCloseSettings struct {
	Days int
}

// AutoCloseNever disables auto-close.
var AutoCloseNever = AutoCloseSettings{}

// Never reports whether auto-close is disabled.
func (s AutoCloseSettings) Never() bool {
	return s.Days <= 0
}

// String renders the settings the way they are persisted: a day count or "never".
func (s AutoCloseSettings) String() string {
	if s.Never() {
		return "never"
	}
	return strconv.Itoa(s.Days)
}

// ParseAutoCloseSettings parses "never" or a positive day count.
func ParseAutoCloseSettings(raw string) (AutoCloseSettings, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "never" {
		return AutoCloseNever, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return AutoCloseSettings{}, fmt.Errorf("auto-close days must be a positive integer or \"never\", got %q", raw)
	}
	return AutoCloseSettings{Days: days}, nil
}
