package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frequency controls which days a user's digest may go out.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekdays Frequency = "weekdays"
	Weekly   Frequency = "weekly" // Mondays
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekdays, Weekly:
		return true
	}
	return false
}

// AllowsDay reports whether the frequency permits a digest on the given
// weekday.
func (f Frequency) AllowsDay(day time.Weekday) bool {
	switch f {
	case Weekdays:
		return day >= time.Monday && day <= time.Friday
	case Weekly:
		return day == time.Monday
	default:
		return true
	}
}

// DigestSettings is a user's per-user digest configuration.
type DigestSettings struct {
	UserID        uuid.UUID
	Email         string
	Enabled       bool
	PreferredHour int    // 0..23 in the user's timezone
	Timezone      string // IANA name; invalid values fall back to UTC
	Frequency     Frequency
	LastSentAt    *time.Time
}

// Validate checks the settings fields a client can set.
func (s DigestSettings) Validate() error {
	if s.PreferredHour < 0 || s.PreferredHour > 23 {
		return fmt.Errorf("preferred hour %d out of range 0..23", s.PreferredHour)
	}
	if !s.Frequency.Valid() {
		return fmt.Errorf("unknown frequency %q", s.Frequency)
	}
	return nil
}
