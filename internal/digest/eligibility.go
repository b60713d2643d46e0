// Package digest selects which users receive a highlights email at each
// hourly tick and which highlights go into it.
package digest

import (
	"time"

	"github.com/marginote/marginote/internal/domain"
)

// DedupWindow is the minimum gap between two digests to the same user. It
// absorbs re-run ticks and double hour matches around DST transitions.
const DedupWindow = 20 * time.Hour

// Eligible reports whether a user should receive a digest at the given
// instant. A timezone that fails to load falls back to a raw UTC hour
// comparison rather than erroring.
func Eligible(s domain.DigestSettings, now time.Time) bool {
	if !s.Enabled {
		return false
	}

	local := now.UTC()
	if loc, err := time.LoadLocation(s.Timezone); err == nil {
		local = now.In(loc)
	}

	if local.Hour() != s.PreferredHour {
		return false
	}
	if !s.Frequency.AllowsDay(local.Weekday()) {
		return false
	}
	if s.LastSentAt != nil && now.Sub(*s.LastSentAt) < DedupWindow {
		return false
	}
	return true
}
