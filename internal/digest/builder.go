package digest

import (
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
)

// TargetCount is how many highlights a digest aims to contain.
const TargetCount = 5

// Store is the persistence surface the digest needs. Every query excludes
// soft-deleted highlights.
type Store interface {
	ListEnabledDigestSettings() ([]domain.DigestSettings, error)
	DueHighlights(userID uuid.UUID, now time.Time, limit int) ([]domain.Highlight, error)
	HighlightsWithoutState(userID uuid.UUID, excludeIDs []uuid.UUID, limit int) ([]domain.Highlight, error)
	RandomHighlights(userID uuid.UUID, excludeIDs []uuid.UUID, limit int) ([]domain.Highlight, error)
	SetDigestLastSent(userID uuid.UUID, sentAt time.Time) error
}

// Builder fills a digest through three fallback tiers: due highlights first,
// then never-reviewed ones, then random discovery.
type Builder struct {
	store Store
}

// NewBuilder creates a Builder over the given store.
func NewBuilder(store Store) *Builder {
	return &Builder{store: store}
}

// Build selects up to TargetCount highlights for the user. A nil slice with
// a nil error means the user's library is empty and no email should go out.
func (b *Builder) Build(userID uuid.UUID, now time.Time) ([]domain.Highlight, error) {
	picked, err := b.store.DueHighlights(userID, now, TargetCount)
	if err != nil {
		return nil, err
	}
	picked = dedupe(picked, nil)

	if remaining := TargetCount - len(picked); remaining > 0 {
		fresh, err := b.store.HighlightsWithoutState(userID, ids(picked), remaining)
		if err != nil {
			return nil, err
		}
		picked = dedupe(append(picked, fresh...), nil)
	}

	if remaining := TargetCount - len(picked); remaining > 0 {
		discovery, err := b.store.RandomHighlights(userID, ids(picked), remaining)
		if err != nil {
			return nil, err
		}
		picked = dedupe(append(picked, discovery...), nil)
	}

	if len(picked) == 0 {
		return nil, nil
	}
	if len(picked) > TargetCount {
		picked = picked[:TargetCount]
	}
	return picked, nil
}

func ids(hs []domain.Highlight) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.ID)
	}
	return out
}

// dedupe keeps the first occurrence of each highlight ID across tiers.
func dedupe(hs []domain.Highlight, seen map[uuid.UUID]bool) []domain.Highlight {
	if seen == nil {
		seen = make(map[uuid.UUID]bool, len(hs))
	}
	out := hs[:0]
	for _, h := range hs {
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}
	return out
}
