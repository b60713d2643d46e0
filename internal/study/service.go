// Package study builds review sessions and applies ratings to cards,
// including the materialization of virtual cards on their first review.
package study

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
	"github.com/marginote/marginote/internal/logger"
	"github.com/marginote/marginote/internal/srs"
	"github.com/marginote/marginote/internal/storage"
)

// ErrAlreadyMaterialized is returned when a virtual review targets a
// highlight that already has a flashcard.
var ErrAlreadyMaterialized = errors.New("study: highlight already has a flashcard")

// Session is one page of a study queue.
type Session struct {
	Items    []StudyItem `json:"items"`
	TotalDue int         `json:"total_due"`
}

// ReviewResult is returned after a committed rating.
type ReviewResult struct {
	Card  domain.Flashcard    `json:"card"`
	State srs.SchedulingState `json:"scheduling_state"`
}

// Service wires the scheduler to persisted cards and highlights.
type Service struct {
	db        *storage.DB
	scheduler *srs.Scheduler
	log       *logger.Logger
}

// NewService creates a study service.
func NewService(db *storage.DB, scheduler *srs.Scheduler, log *logger.Logger) *Service {
	return &Service{db: db, scheduler: scheduler, log: log.With("service", "study")}
}

// Session assembles the due queue for a deck: due flashcards oldest first,
// topped up with virtual cards for smart decks that include raw highlights.
// TotalDue counts the whole due set before the limit cap.
func (s *Service) Session(deckID uuid.UUID, now time.Time, limit int) (Session, error) {
	if limit <= 0 {
		limit = 20
	}
	deck, err := s.db.GetDeck(deckID)
	if err != nil {
		return Session{}, err
	}

	if deck.Kind == domain.DeckManual {
		return s.manualSession(deck, now, limit)
	}
	return s.smartSession(deck, now, limit)
}

func (s *Service) manualSession(deck *domain.Deck, now time.Time, limit int) (Session, error) {
	due, err := s.db.DueManualCards(deck.ID, now, limit)
	if err != nil {
		return Session{}, err
	}
	total, err := s.db.CountDueManualCards(deck.ID, now)
	if err != nil {
		return Session{}, err
	}

	items := make([]StudyItem, 0, len(due))
	for _, cs := range due {
		items = append(items, Real(cs.Card).StudyItem())
	}
	return Session{Items: items, TotalDue: total}, nil
}

func (s *Service) smartSession(deck *domain.Deck, now time.Time, limit int) (Session, error) {
	due, err := s.db.DueSmartCards(deck.UserID, deck.FilterTags, deck.Match, now, limit)
	if err != nil {
		return Session{}, err
	}
	total, err := s.db.CountDueSmartCards(deck.UserID, deck.FilterTags, deck.Match, now)
	if err != nil {
		return Session{}, err
	}

	items := make([]StudyItem, 0, limit)
	for _, cs := range due {
		items = append(items, Real(cs.Card).StudyItem())
	}

	if deck.IncludeRawHighlights {
		virtualTotal, err := s.db.CountUnreviewedSmartHighlights(deck.UserID, deck.FilterTags, deck.Match)
		if err != nil {
			return Session{}, err
		}
		total += virtualTotal

		if remaining := limit - len(items); remaining > 0 {
			raw, err := s.db.UnreviewedSmartHighlights(deck.UserID, deck.FilterTags, deck.Match, remaining)
			if err != nil {
				return Session{}, err
			}
			for _, h := range raw {
				items = append(items, Virtual(h).StudyItem())
			}
		}
	}

	return Session{Items: items, TotalDue: total}, nil
}

// Review applies a rating to an existing card. The read-modify-write is
// guarded by the state's version; a stale write is retried once with a fresh
// read before surfacing a conflict.
func (s *Service) Review(cardID uuid.UUID, rating srs.Rating, now time.Time) (ReviewResult, error) {
	if !rating.IsValid() {
		return ReviewResult{}, srs.ErrInvalidRating
	}
	card, err := s.db.GetFlashcard(cardID)
	if err != nil {
		return ReviewResult{}, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		state, version, err := s.db.GetState(cardID)
		if err != nil {
			return ReviewResult{}, err
		}
		next, err := s.scheduler.Schedule(state, rating, now)
		if err != nil {
			return ReviewResult{}, err
		}
		err = s.db.UpdateState(cardID, next, version)
		if err == nil {
			return ReviewResult{Card: *card, State: next}, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return ReviewResult{}, err
		}
		s.log.Warn("stale review write, retrying with fresh state", "card_id", cardID.String(), "attempt", attempt+1)
	}
	return ReviewResult{}, fmt.Errorf("%w: card %s", storage.ErrConflict, cardID)
}

// ReviewVirtual turns a highlight's first review into a real flashcard: the
// card and its already-scheduled state are written in one transaction, so a
// card can never be left without a due date.
func (s *Service) ReviewVirtual(highlightID, deckID uuid.UUID, rating srs.Rating, now time.Time) (ReviewResult, error) {
	if !rating.IsValid() {
		return ReviewResult{}, srs.ErrInvalidRating
	}
	h, err := s.db.GetHighlight(highlightID)
	if err != nil {
		return ReviewResult{}, err
	}
	if h.Deleted() {
		return ReviewResult{}, fmt.Errorf("%w: highlight %s", storage.ErrNotFound, highlightID)
	}
	existing, err := s.db.FindFlashcardByHighlight(highlightID)
	if err != nil {
		return ReviewResult{}, err
	}
	if existing != nil {
		return ReviewResult{}, fmt.Errorf("%w: card %s", ErrAlreadyMaterialized, existing.ID)
	}

	state, err := s.scheduler.Schedule(srs.NewState(now), rating, now)
	if err != nil {
		return ReviewResult{}, err
	}

	front, back := HighlightCard(*h)
	card := domain.Flashcard{
		ID:          uuid.New(),
		UserID:      h.UserID,
		HighlightID: h.ID,
		Front:       front,
		Back:        back,
		CreatedAt:   now,
	}
	if deckID != uuid.Nil {
		d := deckID
		card.DeckID = &d
	}

	if err := s.db.CreateFlashcard(card, state); err != nil {
		return ReviewResult{}, err
	}
	s.log.Info("materialized virtual card",
		"card_id", card.ID.String(),
		"highlight_id", h.ID.String(),
		"rating", rating.String(),
	)
	return ReviewResult{Card: card, State: state}, nil
}

// Preview computes the would-be state for all four ratings without
// committing anything.
func (s *Service) Preview(cardID uuid.UUID, now time.Time) (map[srs.Rating]srs.SchedulingState, error) {
	state, _, err := s.db.GetState(cardID)
	if err != nil {
		return nil, err
	}
	return s.scheduler.Preview(state, now)
}
