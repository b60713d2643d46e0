package digest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/marginote/marginote/internal/domain"
	"github.com/marginote/marginote/internal/logger"
)

// Mailer renders and enqueues the digest email. Delivery retries belong to
// the job queue behind it; Enqueue only needs to not fail synchronously.
type Mailer interface {
	SendDigest(to string, highlights []domain.Highlight, now time.Time) error
}

// Runner drives the hourly digest tick. Ticks never overlap: if one is still
// processing when the next fires, the next is skipped.
type Runner struct {
	store    Store
	builder  *Builder
	mailer   Mailer
	log      *logger.Logger
	interval time.Duration

	busy     atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRunner creates a Runner ticking at the given interval.
func NewRunner(store Store, mailer Mailer, log *logger.Logger, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Runner{
		store:    store,
		builder:  NewBuilder(store),
		mailer:   mailer,
		log:      log.With("service", "digest"),
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop in a goroutine.
func (r *Runner) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case now := <-ticker.C:
				if err := r.RunTick(now); err != nil {
					r.log.Error("digest tick aborted", "error", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// RunTick processes one scheduled tick: every enabled user is checked for
// eligibility and, if eligible, sent a digest. A store failure listing users
// aborts the tick; per-user failures are logged and do not stop the rest.
func (r *Runner) RunTick(now time.Time) error {
	if !r.busy.CompareAndSwap(false, true) {
		r.log.Warn("digest tick still in flight, skipping")
		return nil
	}
	defer r.busy.Store(false)

	settings, err := r.store.ListEnabledDigestSettings()
	if err != nil {
		return err
	}

	var sent int
	for _, s := range settings {
		if !Eligible(s, now) {
			continue
		}
		if r.sendOne(s, now) {
			sent++
		}
	}
	r.log.Info("digest tick complete", "eligible_checked", len(settings), "sent", sent)
	return nil
}

// RunAll is the manual trigger: it bypasses the hour, frequency and dedup
// checks and builds a digest for every enabled user. Side effects are the
// same as the scheduled path.
func (r *Runner) RunAll(now time.Time) error {
	if !r.busy.CompareAndSwap(false, true) {
		r.log.Warn("digest run already in flight, skipping manual trigger")
		return nil
	}
	defer r.busy.Store(false)

	settings, err := r.store.ListEnabledDigestSettings()
	if err != nil {
		return err
	}
	var sent int
	for _, s := range settings {
		if r.sendOne(s, now) {
			sent++
		}
	}
	r.log.Info("manual digest run complete", "users", len(settings), "sent", sent)
	return nil
}

// sendOne builds and enqueues a single user's digest. The dedup timestamp is
// only stamped after a successful enqueue, so a failed send stays eligible
// for a later tick.
func (r *Runner) sendOne(s domain.DigestSettings, now time.Time) bool {
	highlights, err := r.builder.Build(s.UserID, now)
	if err != nil {
		r.log.Error("digest build failed", "user_id", s.UserID.String(), "error", err)
		return false
	}
	if len(highlights) == 0 {
		// Empty library: nothing to send, not a failure.
		return false
	}

	if err := r.mailer.SendDigest(s.Email, highlights, now); err != nil {
		r.log.Error("digest enqueue failed", "user_id", s.UserID.String(), "error", err)
		return false
	}

	if err := r.store.SetDigestLastSent(s.UserID, now); err != nil {
		// The email is already queued; the worst case is a resend after the
		// dedup window on a later tick.
		r.log.Error("failed to stamp digest send", "user_id", s.UserID.String(), "error", err)
	}
	return true
}
