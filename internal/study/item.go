package study

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
)

// StudyItem is the ephemeral projection handed to the UI: either a real
// flashcard or a virtual card synthesized from an un-reviewed highlight.
type StudyItem struct {
	ID                uuid.UUID  `json:"id"`
	Front             string     `json:"front"`
	Back              string     `json:"back"`
	CardType          string     `json:"card_type"` // "flashcard" or "highlight"
	IsVirtual         bool       `json:"is_virtual"`
	SourceHighlightID uuid.UUID  `json:"source_highlight_id"`
	DeckID            *uuid.UUID `json:"deck_id"`
}

// Reviewable is the card-or-highlight variant. Exactly one of the two arms
// is set; projection happens in one place instead of scattered boolean
// checks.
type Reviewable struct {
	real    *domain.Flashcard
	virtual *domain.Highlight
}

// Real wraps an existing flashcard.
func Real(card domain.Flashcard) Reviewable {
	return Reviewable{real: &card}
}

// Virtual wraps a highlight that has no flashcard yet.
func Virtual(h domain.Highlight) Reviewable {
	return Reviewable{virtual: &h}
}

// StudyItem projects the variant into its UI shape.
func (r Reviewable) StudyItem() StudyItem {
	switch {
	case r.real != nil:
		return StudyItem{
			ID:                r.real.ID,
			Front:             r.real.Front,
			Back:              r.real.Back,
			CardType:          "flashcard",
			SourceHighlightID: r.real.HighlightID,
			DeckID:            r.real.DeckID,
		}
	case r.virtual != nil:
		front, back := HighlightCard(*r.virtual)
		return StudyItem{
			ID:                r.virtual.ID,
			Front:             front,
			Back:              back,
			CardType:          "highlight",
			IsVirtual:         true,
			SourceHighlightID: r.virtual.ID,
		}
	default:
		return StudyItem{}
	}
}

const frontRuneLimit = 120

// HighlightCard derives a front/back pair from raw highlight content: the
// front is a truncated prompt, the back the full passage plus any note.
func HighlightCard(h domain.Highlight) (front, back string) {
	front = truncate(h.Content, frontRuneLimit)
	if h.BookTitle != "" {
		front = front + "\n— " + h.BookTitle
	}
	back = h.Content
	if h.Note != "" {
		back = back + "\n\n" + h.Note
	}
	return front, back
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:limit]), " \t\n")
	return cut + "…"
}
