package storage

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
)

// InsertDeck stores a deck.
func (db *DB) InsertDeck(d domain.Deck) error {
	includeRaw := 0
	if d.IncludeRawHighlights {
		includeRaw = 1
	}
	_, err := db.conn.Exec(`
		INSERT INTO decks (id, user_id, name, kind, filter_tags, tag_match, include_raw_highlights, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID.String(),
		d.UserID.String(),
		d.Name,
		string(d.Kind),
		joinTags(d.FilterTags),
		string(d.Match),
		includeRaw,
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deck %s: %w", d.Name, err)
	}
	return nil
}

// GetDeck fetches a deck by ID. Returns ErrNotFound when absent.
func (db *DB) GetDeck(id uuid.UUID) (*domain.Deck, error) {
	var (
		d          domain.Deck
		did, uid   string
		kind       string
		filterTags sql.NullString
		match      string
		includeRaw int
	)
	row := db.conn.QueryRow(`
		SELECT id, user_id, name, kind, filter_tags, tag_match, include_raw_highlights, created_at
		FROM decks WHERE id = ?
	`, id.String())
	err := row.Scan(&did, &uid, &d.Name, &kind, &filterTags, &match, &includeRaw, &d.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: deck %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get deck %s: %w", id, err)
	}
	parsedID, err := uuid.Parse(did)
	if err != nil {
		return nil, fmt.Errorf("corrupt deck id %q: %w", did, err)
	}
	parsedUID, err := uuid.Parse(uid)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id on deck %s: %w", did, err)
	}
	d.ID = parsedID
	d.UserID = parsedUID
	d.Kind = domain.DeckKind(kind)
	d.FilterTags = splitTags(filterTags.String)
	d.Match = domain.TagMatch(match)
	d.IncludeRawHighlights = includeRaw != 0
	return &d, nil
}
