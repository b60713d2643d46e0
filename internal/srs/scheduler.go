package srs

import (
	"math"
	"time"
)

// Scheduler computes the next scheduling state for a rated item. It is a
// pure computation engine: no I/O, no clock, no mutation of its inputs, so
// one instance is safe for concurrent use across requests.
type Scheduler struct {
	params Params
	decay  float64 // -w[20]
	factor float64 // 0.9^(1/decay) - 1
}

// NewScheduler validates the parameter set and precomputes the forgetting
// curve constants.
func NewScheduler(p Params) (*Scheduler, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	decay := -p.Weights[20]
	return &Scheduler{
		params: p,
		decay:  decay,
		factor: math.Pow(0.9, 1.0/decay) - 1.0,
	}, nil
}

// Params returns the scheduler's parameter set.
func (s *Scheduler) Params() Params {
	return s.params
}

// Schedule applies a rating to the given state at the given instant and
// returns the next state. The input state is not mutated. Invalid ratings
// and corrupted states are contract violations and fail fast.
func (s *Scheduler) Schedule(state SchedulingState, rating Rating, now time.Time) (SchedulingState, error) {
	if !rating.IsValid() {
		return SchedulingState{}, ErrInvalidRating
	}
	if err := state.validate(); err != nil {
		return SchedulingState{}, err
	}

	next := state

	var elapsedDays float64
	if state.LastReviewedAt != nil {
		elapsedDays = now.Sub(*state.LastReviewedAt).Hours() / 24.0
	}

	s.updateMemory(&next, rating, elapsedDays)

	var interval time.Duration
	switch state.State {
	case New:
		// A first rating enters the learning steps at step zero.
		next.State = Learning
		next.Step = 0
		interval = s.stepThrough(&next, rating, s.params.LearningSteps)
	case Learning:
		interval = s.stepThrough(&next, rating, s.params.LearningSteps)
	case Relearning:
		interval = s.stepThrough(&next, rating, s.params.RelearningSteps)
	case Review:
		interval = s.reviewInterval(&next, rating)
	}

	if rating == Again {
		if state.State == Review {
			next.Lapses = state.Lapses + 1
		}
	} else {
		next.Reps = state.Reps + 1
	}

	next.Due = now.Add(interval)
	reviewed := now
	next.LastReviewedAt = &reviewed
	return next, nil
}

// Preview computes the resulting state for each of the four ratings from one
// snapshot without committing anything. Each entry is identical to what
// Schedule would return for that rating.
func (s *Scheduler) Preview(state SchedulingState, now time.Time) (map[Rating]SchedulingState, error) {
	out := make(map[Rating]SchedulingState, len(Ratings))
	for _, r := range Ratings {
		next, err := s.Schedule(state, r, now)
		if err != nil {
			return nil, err
		}
		out[r] = next
	}
	return out, nil
}

// Retrievability estimates the probability of recall at the given instant.
// Returns 0 for never-reviewed items.
func (s *Scheduler) Retrievability(state SchedulingState, now time.Time) float64 {
	if !state.Reviewed() || state.Stability <= 0 {
		return 0
	}
	elapsed := now.Sub(*state.LastReviewedAt).Hours() / 24.0
	return s.forgettingCurve(elapsed, state.Stability)
}

// updateMemory advances stability and difficulty for the rating.
func (s *Scheduler) updateMemory(next *SchedulingState, rating Rating, elapsedDays float64) {
	if !next.Reviewed() {
		next.Stability = s.initStability(rating)
		next.Difficulty = s.initDifficulty(rating, true)
		return
	}
	if elapsedDays < 1 {
		// Same-day review: short-term stability update.
		next.Stability = s.shortTermStability(next.Stability, rating)
	} else {
		r := s.forgettingCurve(elapsedDays, next.Stability)
		next.Stability = s.nextStability(next.Difficulty, next.Stability, r, rating)
	}
	next.Difficulty = s.nextDifficulty(next.Difficulty, rating)
}

// stepThrough walks the learning (or relearning) steps and returns the
// interval until the next review.
func (s *Scheduler) stepThrough(next *SchedulingState, rating Rating, steps []time.Duration) time.Duration {
	step := next.Step

	if len(steps) == 0 || (step >= len(steps) && rating != Again) {
		return s.graduate(next)
	}

	switch rating {
	case Again:
		next.Step = 0
		return steps[0]

	case Hard:
		if step == 0 && len(steps) == 1 {
			return time.Duration(float64(steps[0]) * 1.5)
		}
		if step == 0 && len(steps) >= 2 {
			return (steps[0] + steps[1]) / 2
		}
		return steps[step]

	case Good:
		if step+1 >= len(steps) {
			return s.graduate(next)
		}
		next.Step = step + 1
		return steps[next.Step]

	default: // Easy skips remaining steps.
		return s.graduate(next)
	}
}

// reviewInterval handles ratings in the Review state.
func (s *Scheduler) reviewInterval(next *SchedulingState, rating Rating) time.Duration {
	if rating == Again && len(s.params.RelearningSteps) > 0 {
		next.State = Relearning
		next.Step = 0
		return s.params.RelearningSteps[0]
	}
	next.Step = 0
	return s.intervalDuration(next.Stability)
}

// graduate moves the item into the Review state.
func (s *Scheduler) graduate(next *SchedulingState) time.Duration {
	next.State = Review
	next.Step = 0
	return s.intervalDuration(next.Stability)
}

func (s *Scheduler) intervalDuration(stability float64) time.Duration {
	return time.Duration(s.nextIntervalDays(stability)) * 24 * time.Hour
}

// forgettingCurve computes R(t, S) = (1 + factor * t / S) ^ decay.
func (s *Scheduler) forgettingCurve(elapsedDays, stability float64) float64 {
	return math.Pow(1+s.factor*elapsedDays/stability, s.decay)
}

// initStability returns S0(G) = clamp(w[G-1]).
func (s *Scheduler) initStability(rating Rating) float64 {
	return clampStability(s.params.Weights[rating-1])
}

// initDifficulty returns D0(G) = w[4] - e^(w[5]*(G-1)) + 1.
func (s *Scheduler) initDifficulty(rating Rating, clamp bool) float64 {
	d := s.params.Weights[4] - math.Exp(s.params.Weights[5]*float64(rating-1)) + 1
	if clamp {
		return clampDifficulty(d)
	}
	return d
}

// nextIntervalDays converts stability into a whole-day interval at the
// desired retention, clamped to [1, MaximumInterval].
func (s *Scheduler) nextIntervalDays(stability float64) int {
	ivl := stability / s.factor * (math.Pow(s.params.DesiredRetention, 1.0/s.decay) - 1)
	days := int(math.Round(ivl))
	if days < 1 {
		days = 1
	}
	if days > s.params.MaximumInterval {
		days = s.params.MaximumInterval
	}
	return days
}

// shortTermStability applies the same-day stability update.
func (s *Scheduler) shortTermStability(stability float64, rating Rating) float64 {
	w := s.params.Weights
	inc := math.Exp(w[17]*(float64(rating)-3+w[18])) * math.Pow(stability, -w[19])
	if rating == Good || rating == Easy {
		inc = math.Max(inc, 1.0)
	}
	return clampStability(stability * inc)
}

// nextDifficulty blends the previous difficulty with a rating delta and
// mean-reverts toward D0(Easy), clamped to [1, 10].
func (s *Scheduler) nextDifficulty(difficulty float64, rating Rating) float64 {
	w := s.params.Weights
	delta := -w[6] * (float64(rating) - 3)
	damped := difficulty + (10-difficulty)*delta/9
	target := s.initDifficulty(Easy, false)
	return clampDifficulty(w[7]*target + (1-w[7])*damped)
}

// nextStability dispatches on recall success.
func (s *Scheduler) nextStability(difficulty, stability, retrievability float64, rating Rating) float64 {
	if rating == Again {
		return s.forgetStability(difficulty, stability, retrievability)
	}
	return s.recallStability(difficulty, stability, retrievability, rating)
}

// recallStability grows stability after Hard/Good/Easy; the growth factor is
// strictly larger for higher ratings, which is what orders the due dates.
func (s *Scheduler) recallStability(difficulty, stability, retrievability float64, rating Rating) float64 {
	w := s.params.Weights
	hardPenalty := 1.0
	if rating == Hard {
		hardPenalty = w[15]
	}
	easyBonus := 1.0
	if rating == Easy {
		easyBonus = w[16]
	}
	return stability * (1 + math.Exp(w[8])*
		(11-difficulty)*
		math.Pow(stability, -w[9])*
		(math.Exp((1-retrievability)*w[10])-1)*
		hardPenalty*easyBonus)
}

// forgetStability resets stability toward the post-lapse minimum.
func (s *Scheduler) forgetStability(difficulty, stability, retrievability float64) float64 {
	w := s.params.Weights
	long := w[11] *
		math.Pow(difficulty, -w[12]) *
		(math.Pow(stability+1, w[13]) - 1) *
		math.Exp((1-retrievability)*w[14])
	short := stability / math.Exp(w[17]*w[18])
	return math.Min(long, short)
}

func clampStability(s float64) float64 {
	return math.Max(s, 0.001)
}

func clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, 1), 10)
}
