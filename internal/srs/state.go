package srs

import (
	"encoding"
	"fmt"
	"time"
)

// State is the lifecycle stage of a reviewable item.
type State int

const (
	New        State = iota // created, never reviewed
	Learning                // in initial learning steps
	Review                  // in the long-term review cycle
	Relearning              // lapsed, relearning
)

var (
	stateNames  = [...]string{New: "New", Learning: "Learning", Review: "Review", Relearning: "Relearning"}
	stateByName = map[string]State{
		"New":        New,
		"Learning":   Learning,
		"Review":     Review,
		"Relearning": Relearning,
	}
)

var (
	_ fmt.Stringer             = State(0)
	_ encoding.TextMarshaler   = State(0)
	_ encoding.TextUnmarshaler = (*State)(nil)
)

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	return s >= New && s <= Relearning
}

// String returns the state name, or "State(n)" for invalid values.
func (s State) String() string {
	if s.IsValid() {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: state %d", ErrInvalidState, int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	v, ok := stateByName[string(text)]
	if !ok {
		return fmt.Errorf("%w: state %q", ErrInvalidState, text)
	}
	*s = v
	return nil
}

// SchedulingState is the per-item memory record the scheduler evolves.
// Stability and Difficulty are zero until the first review initializes them.
type SchedulingState struct {
	Stability      float64    `json:"stability"`
	Difficulty     float64    `json:"difficulty"`
	Due            time.Time  `json:"due"`
	State          State      `json:"state"`
	Step           int        `json:"step"`
	Reps           int        `json:"reps"`
	Lapses         int        `json:"lapses"`
	LastReviewedAt *time.Time `json:"last_reviewed_at"`
}

// NewState returns the state of a freshly created item: never reviewed and
// due immediately.
func NewState(now time.Time) SchedulingState {
	return SchedulingState{State: New, Due: now}
}

// Reviewed reports whether the item has been rated at least once.
func (s SchedulingState) Reviewed() bool {
	return s.LastReviewedAt != nil
}

// validate rejects corrupted records before any scheduling math runs.
func (s SchedulingState) validate() error {
	if !s.State.IsValid() {
		return fmt.Errorf("%w: state %d", ErrInvalidState, int(s.State))
	}
	if s.Reviewed() && s.Stability <= 0 {
		return fmt.Errorf("%w: stability %g must be positive after first review", ErrInvalidState, s.Stability)
	}
	if s.Reps < 0 || s.Lapses < 0 {
		return fmt.Errorf("%w: negative counters", ErrInvalidState)
	}
	return nil
}
