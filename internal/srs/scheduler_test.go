package srs

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func mustScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler(DefaultParams())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

// reviewState builds a mid-life Review state for tests.
func reviewState(stability, difficulty float64, lastReviewed time.Time) SchedulingState {
	lr := lastReviewed
	return SchedulingState{
		Stability:      stability,
		Difficulty:     difficulty,
		Due:            lastReviewed.AddDate(0, 0, int(stability)),
		State:          Review,
		Reps:           3,
		Lapses:         0,
		LastReviewedAt: &lr,
	}
}

func TestNewSchedulerRejectsBadParams(t *testing.T) {
	p := DefaultParams()
	p.Weights[0] = -1
	if _, err := NewScheduler(p); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("err = %v, want ErrInvalidParams", err)
	}

	p = DefaultParams()
	p.DesiredRetention = 1.5
	if _, err := NewScheduler(p); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("err = %v, want ErrInvalidParams", err)
	}
}

func TestNewStateDueImmediately(t *testing.T) {
	st := NewState(t0)
	if st.State != New {
		t.Errorf("State = %v, want New", st.State)
	}
	if st.Due.After(t0) {
		t.Errorf("Due = %v, want <= %v", st.Due, t0)
	}
	if st.Reviewed() {
		t.Error("fresh state should not be marked reviewed")
	}
}

func TestScheduleRejectsInvalidRating(t *testing.T) {
	s := mustScheduler(t)
	for _, r := range []Rating{0, 5, -1} {
		if _, err := s.Schedule(NewState(t0), r, t0); !errors.Is(err, ErrInvalidRating) {
			t.Errorf("rating %d: err = %v, want ErrInvalidRating", r, err)
		}
	}
}

func TestScheduleRejectsCorruptedState(t *testing.T) {
	s := mustScheduler(t)
	st := reviewState(10, 5, t0.AddDate(0, 0, -10))
	st.Stability = -2
	if _, err := s.Schedule(st, Good, t0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}

	st = reviewState(10, 5, t0.AddDate(0, 0, -10))
	st.State = State(9)
	if _, err := s.Schedule(st, Good, t0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestFirstRatingTransitions(t *testing.T) {
	s := mustScheduler(t)

	tests := []struct {
		rating    Rating
		wantState State
		wantReps  int
	}{
		{Again, Learning, 0}, // Again from New keeps the rep count at zero
		{Hard, Learning, 1},
		{Good, Learning, 1},
		{Easy, Review, 1},
	}
	for _, tt := range tests {
		t.Run(tt.rating.String(), func(t *testing.T) {
			next, err := s.Schedule(NewState(t0), tt.rating, t0)
			if err != nil {
				t.Fatalf("Schedule: %v", err)
			}
			if next.State != tt.wantState {
				t.Errorf("State = %v, want %v", next.State, tt.wantState)
			}
			if next.Reps != tt.wantReps {
				t.Errorf("Reps = %d, want %d", next.Reps, tt.wantReps)
			}
			if next.Stability <= 0 {
				t.Errorf("Stability = %g, want > 0", next.Stability)
			}
			if next.Difficulty < 1 || next.Difficulty > 10 {
				t.Errorf("Difficulty = %g, want within [1, 10]", next.Difficulty)
			}
			if !next.Due.After(t0) {
				t.Errorf("Due = %v, want after %v", next.Due, t0)
			}
			if next.LastReviewedAt == nil || !next.LastReviewedAt.Equal(t0) {
				t.Errorf("LastReviewedAt = %v, want %v", next.LastReviewedAt, t0)
			}
		})
	}
}

func TestRatingOrderIsMonotonic(t *testing.T) {
	s := mustScheduler(t)

	snapshots := map[string]SchedulingState{
		"new":            NewState(t0),
		"young review":   reviewState(3, 7.2, t0.AddDate(0, 0, -3)),
		"mature review":  reviewState(120, 4.1, t0.AddDate(0, 0, -100)),
		"overdue review": reviewState(10, 5.5, t0.AddDate(0, 0, -40)),
	}

	for name, st := range snapshots {
		t.Run(name, func(t *testing.T) {
			dues := make(map[Rating]time.Time, 4)
			for _, r := range Ratings {
				next, err := s.Schedule(st, r, t0)
				if err != nil {
					t.Fatalf("Schedule(%v): %v", r, err)
				}
				dues[r] = next.Due
			}
			if dues[Again].After(dues[Hard]) {
				t.Errorf("due(Again)=%v after due(Hard)=%v", dues[Again], dues[Hard])
			}
			if dues[Hard].After(dues[Good]) {
				t.Errorf("due(Hard)=%v after due(Good)=%v", dues[Hard], dues[Good])
			}
			if dues[Good].After(dues[Easy]) {
				t.Errorf("due(Good)=%v after due(Easy)=%v", dues[Good], dues[Easy])
			}
		})
	}
}

func TestStabilityGrowsOnSuccess(t *testing.T) {
	s := mustScheduler(t)
	st := reviewState(15, 6, t0.AddDate(0, 0, -15))

	for _, r := range []Rating{Good, Easy} {
		next, err := s.Schedule(st, r, t0)
		if err != nil {
			t.Fatalf("Schedule(%v): %v", r, err)
		}
		if next.Stability < st.Stability {
			t.Errorf("%v: stability decreased from %g to %g", r, st.Stability, next.Stability)
		}
	}
}

func TestAgainInReviewLapses(t *testing.T) {
	s := mustScheduler(t)
	st := reviewState(30, 5, t0.AddDate(0, 0, -30))

	next, err := s.Schedule(st, Again, t0)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if next.State != Relearning {
		t.Errorf("State = %v, want Relearning", next.State)
	}
	if next.Lapses != st.Lapses+1 {
		t.Errorf("Lapses = %d, want %d", next.Lapses, st.Lapses+1)
	}
	if next.Stability >= st.Stability {
		t.Errorf("stability should reset on lapse, got %g from %g", next.Stability, st.Stability)
	}
	// Relearning interval is a short fixed step, not a day-scale interval.
	if next.Due.Sub(t0) > time.Hour {
		t.Errorf("relearning due %v, want within the hour", next.Due)
	}
}

func TestRelearningReturnsToReview(t *testing.T) {
	s := mustScheduler(t)
	lr := t0
	st := SchedulingState{
		Stability:      2.5,
		Difficulty:     6,
		Due:            t0.Add(10 * time.Minute),
		State:          Relearning,
		Reps:           4,
		Lapses:         1,
		LastReviewedAt: &lr,
	}

	next, err := s.Schedule(st, Good, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if next.State != Review {
		t.Errorf("State = %v, want Review", next.State)
	}
	if next.Reps != st.Reps+1 {
		t.Errorf("Reps = %d, want %d", next.Reps, st.Reps+1)
	}
}

func TestPreviewMatchesSchedule(t *testing.T) {
	s := mustScheduler(t)

	snapshots := []SchedulingState{
		NewState(t0),
		reviewState(8, 5, t0.AddDate(0, 0, -9)),
	}
	for _, st := range snapshots {
		previews, err := s.Preview(st, t0)
		if err != nil {
			t.Fatalf("Preview: %v", err)
		}
		if len(previews) != 4 {
			t.Fatalf("Preview returned %d entries, want 4", len(previews))
		}
		for _, r := range Ratings {
			committed, err := s.Schedule(st, r, t0)
			if err != nil {
				t.Fatalf("Schedule(%v): %v", r, err)
			}
			p := previews[r]
			if p.Stability != committed.Stability ||
				p.Difficulty != committed.Difficulty ||
				!p.Due.Equal(committed.Due) ||
				p.State != committed.State ||
				p.Reps != committed.Reps ||
				p.Lapses != committed.Lapses {
				t.Errorf("preview(%v) = %+v, schedule = %+v", r, p, committed)
			}
		}
	}
}

func TestScheduleDoesNotMutateInput(t *testing.T) {
	s := mustScheduler(t)
	st := reviewState(12, 5, t0.AddDate(0, 0, -12))
	before := st

	if _, err := s.Schedule(st, Again, t0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if st.Stability != before.Stability || st.State != before.State || st.Lapses != before.Lapses {
		t.Errorf("input mutated: %+v, was %+v", st, before)
	}
}

// TestLearnThenLapse walks a card from New through its first lapse.
func TestLearnThenLapse(t *testing.T) {
	s := mustScheduler(t)

	// Rate Good from New.
	st, err := s.Schedule(NewState(t0), Good, t0)
	if err != nil {
		t.Fatalf("first Good: %v", err)
	}
	if st.State != Learning && st.State != Review {
		t.Fatalf("State = %v, want Learning or Review", st.State)
	}
	if st.Reps != 1 {
		t.Errorf("Reps = %d, want 1", st.Reps)
	}
	if !st.Due.After(t0) {
		t.Errorf("Due = %v, want after %v", st.Due, t0)
	}

	// Graduate with another Good at the due instant.
	st, err = s.Schedule(st, Good, st.Due)
	if err != nil {
		t.Fatalf("second Good: %v", err)
	}
	if st.State != Review {
		t.Fatalf("State = %v, want Review", st.State)
	}

	goodPath, err := s.Schedule(st, Good, st.Due)
	if err != nil {
		t.Fatalf("Good at due: %v", err)
	}

	// Lapse at the due instant instead.
	lapsed, err := s.Schedule(st, Again, st.Due)
	if err != nil {
		t.Fatalf("Again at due: %v", err)
	}
	if lapsed.Lapses != 1 {
		t.Errorf("Lapses = %d, want 1", lapsed.Lapses)
	}
	if lapsed.State != Relearning {
		t.Errorf("State = %v, want Relearning", lapsed.State)
	}
	if lapsed.Due.Sub(st.Due) > time.Hour {
		t.Errorf("relearning due %v, want minutes after %v", lapsed.Due, st.Due)
	}
	if !lapsed.Due.Before(goodPath.Due) {
		t.Errorf("lapse due %v should come before the Good path due %v", lapsed.Due, goodPath.Due)
	}
}

func TestRetrievabilityDecays(t *testing.T) {
	s := mustScheduler(t)
	st := reviewState(10, 5, t0)

	if got := s.Retrievability(NewState(t0), t0); got != 0 {
		t.Errorf("unreviewed retrievability = %g, want 0", got)
	}
	early := s.Retrievability(st, t0.AddDate(0, 0, 1))
	late := s.Retrievability(st, t0.AddDate(0, 0, 30))
	if early <= late {
		t.Errorf("retrievability should decay: day1=%g day30=%g", early, late)
	}
	if early <= 0 || early > 1 {
		t.Errorf("retrievability out of range: %g", early)
	}
}
