package domain

import (
	"time"

	"github.com/google/uuid"
)

// Highlight is a passage captured from a book or article, imported from an
// external source. Hash identifies the highlight across re-imports.
type Highlight struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	BookTitle string
	Author    string
	Content   string
	Note      string
	Hash      string
	Tags      []string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the highlight has been soft-deleted.
func (h Highlight) Deleted() bool {
	return h.DeletedAt != nil
}

// Flashcard is a reviewable question/answer pair. Every flashcard is backed
// by a highlight; DeckID is nil for cards created outside a deck.
type Flashcard struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	HighlightID uuid.UUID
	DeckID      *uuid.UUID
	Front       string
	Back        string
	CreatedAt   time.Time
}

// DeckKind distinguishes manual decks (explicit card membership) from smart
// decks (membership computed from a tag filter).
type DeckKind string

const (
	DeckManual DeckKind = "manual"
	DeckSmart  DeckKind = "smart"
)

// TagMatch selects how a smart deck combines its filter tags.
type TagMatch string

const (
	MatchAnyTag  TagMatch = "any"
	MatchAllTags TagMatch = "all"
)

// Deck groups flashcards for study. Smart decks carry a tag filter and may
// surface raw highlights that have no flashcard yet.
type Deck struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	Name                 string
	Kind                 DeckKind
	FilterTags           []string
	Match                TagMatch
	IncludeRawHighlights bool
	CreatedAt            time.Time
}

// User is the owner of highlights, decks and digest settings.
type User struct {
	ID    uuid.UUID
	Email string
}
