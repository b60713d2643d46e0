package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
	"github.com/marginote/marginote/internal/srs"
)

// CardWithState pairs a flashcard with its scheduling state and the state's
// optimistic-concurrency version.
type CardWithState struct {
	Card    domain.Flashcard
	State   srs.SchedulingState
	Version int64
}

// CreateFlashcard inserts a flashcard together with its scheduling state in
// one transaction, so a card can never exist without a due date.
func (db *DB) CreateFlashcard(card domain.Flashcard, state srs.SchedulingState) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin flashcard insert: %w", err)
	}
	defer tx.Rollback()

	var deckID interface{}
	if card.DeckID != nil {
		deckID = card.DeckID.String()
	}
	_, err = tx.Exec(`
		INSERT INTO flashcards (id, user_id, highlight_id, deck_id, front, back, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		card.ID.String(),
		card.UserID.String(),
		card.HighlightID.String(),
		deckID,
		card.Front,
		card.Back,
		card.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert flashcard %s: %w", card.ID, err)
	}

	var lastReviewed sql.NullTime
	if state.LastReviewedAt != nil {
		lastReviewed = sql.NullTime{Time: *state.LastReviewedAt, Valid: true}
	}
	_, err = tx.Exec(`
		INSERT INTO scheduling_states (card_id, stability, difficulty, due, state, step, reps, lapses, last_reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		card.ID.String(),
		state.Stability,
		state.Difficulty,
		state.Due,
		int(state.State),
		state.Step,
		state.Reps,
		state.Lapses,
		lastReviewed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scheduling state for card %s: %w", card.ID, err)
	}

	return tx.Commit()
}

// GetFlashcard fetches a flashcard by ID. Returns ErrNotFound when absent.
func (db *DB) GetFlashcard(id uuid.UUID) (*domain.Flashcard, error) {
	row := db.conn.QueryRow(`
		SELECT id, user_id, highlight_id, deck_id, front, back, created_at
		FROM flashcards WHERE id = ?
	`, id.String())
	card, err := scanFlashcard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: flashcard %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get flashcard %s: %w", id, err)
	}
	return card, nil
}

// FindFlashcardByHighlight returns nil when the highlight has no flashcard.
func (db *DB) FindFlashcardByHighlight(highlightID uuid.UUID) (*domain.Flashcard, error) {
	row := db.conn.QueryRow(`
		SELECT id, user_id, highlight_id, deck_id, front, back, created_at
		FROM flashcards WHERE highlight_id = ?
	`, highlightID.String())
	card, err := scanFlashcard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find flashcard for highlight %s: %w", highlightID, err)
	}
	return card, nil
}

// GetState fetches a card's scheduling state and version.
// Returns ErrNotFound when the card has no state row.
func (db *DB) GetState(cardID uuid.UUID) (srs.SchedulingState, int64, error) {
	row := db.conn.QueryRow(`
		SELECT stability, difficulty, due, state, step, reps, lapses, last_reviewed_at, version
		FROM scheduling_states WHERE card_id = ?
	`, cardID.String())

	state, version, err := scanState(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return srs.SchedulingState{}, 0, fmt.Errorf("%w: state for card %s", ErrNotFound, cardID)
		}
		return srs.SchedulingState{}, 0, fmt.Errorf("failed to get state for card %s: %w", cardID, err)
	}
	return state, version, nil
}

// UpdateState writes the card's next scheduling state, but only if the stored
// version still matches what the caller read. Returns ErrConflict when a
// concurrent review got there first.
func (db *DB) UpdateState(cardID uuid.UUID, state srs.SchedulingState, expectedVersion int64) error {
	var lastReviewed sql.NullTime
	if state.LastReviewedAt != nil {
		lastReviewed = sql.NullTime{Time: *state.LastReviewedAt, Valid: true}
	}
	res, err := db.conn.Exec(`
		UPDATE scheduling_states
		SET stability = ?, difficulty = ?, due = ?, state = ?, step = ?, reps = ?, lapses = ?, last_reviewed_at = ?, version = version + 1
		WHERE card_id = ? AND version = ?
	`,
		state.Stability,
		state.Difficulty,
		state.Due,
		int(state.State),
		state.Step,
		state.Reps,
		state.Lapses,
		lastReviewed,
		cardID.String(),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update state for card %s: %w", cardID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for card %s: %w", cardID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: card %s at version %d", ErrConflict, cardID, expectedVersion)
	}
	return nil
}

const dueCardColumns = `f.id, f.user_id, f.highlight_id, f.deck_id, f.front, f.back, f.created_at,
	       s.stability, s.difficulty, s.due, s.state, s.step, s.reps, s.lapses, s.last_reviewed_at, s.version`

// DueManualCards lists a manual deck's due cards, oldest due first.
func (db *DB) DueManualCards(deckID uuid.UUID, now time.Time, limit int) ([]CardWithState, error) {
	rows, err := db.conn.Query(`
		SELECT `+dueCardColumns+`
		FROM flashcards f
		JOIN scheduling_states s ON s.card_id = f.id
		JOIN highlights h ON h.id = f.highlight_id
		WHERE f.deck_id = ? AND h.deleted_at IS NULL AND s.due <= ?
		ORDER BY s.due ASC
		LIMIT ?
	`, deckID.String(), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards for deck %s: %w", deckID, err)
	}
	defer rows.Close()
	return collectCardsWithState(rows)
}

// CountDueManualCards counts the deck's full due set, uncapped.
func (db *DB) CountDueManualCards(deckID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*)
		FROM flashcards f
		JOIN scheduling_states s ON s.card_id = f.id
		JOIN highlights h ON h.id = f.highlight_id
		WHERE f.deck_id = ? AND h.deleted_at IS NULL AND s.due <= ?
	`, deckID.String(), now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due cards for deck %s: %w", deckID, err)
	}
	return n, nil
}

// DueSmartCards lists due cards whose underlying highlight matches the smart
// deck's tag filter, oldest due first.
func (db *DB) DueSmartCards(userID uuid.UUID, tags []string, match domain.TagMatch, now time.Time, limit int) ([]CardWithState, error) {
	query, args := smartDueQuery(dueCardColumns, userID, tags, match, now)
	query += ` ORDER BY s.due ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due smart cards: %w", err)
	}
	defer rows.Close()
	return collectCardsWithState(rows)
}

// CountDueSmartCards counts the smart deck's full due set, uncapped.
func (db *DB) CountDueSmartCards(userID uuid.UUID, tags []string, match domain.TagMatch, now time.Time) (int, error) {
	query, args := smartDueQuery("COUNT(*)", userID, tags, match, now)
	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count due smart cards: %w", err)
	}
	return n, nil
}

// UnreviewedSmartHighlights lists highlights matching the tag filter that
// have no flashcard yet, for virtual-card synthesis.
func (db *DB) UnreviewedSmartHighlights(userID uuid.UUID, tags []string, match domain.TagMatch, limit int) ([]domain.Highlight, error) {
	query := `
		SELECT ` + highlightColumns + `
		FROM highlights h
		WHERE h.user_id = ? AND h.deleted_at IS NULL
		  AND NOT EXISTS (SELECT 1 FROM flashcards f WHERE f.highlight_id = h.id)`
	args := []interface{}{userID.String()}
	query, args = appendTagFilter(query, args, tags, match)
	query += ` ORDER BY h.created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreviewed smart highlights: %w", err)
	}
	defer rows.Close()
	return collectHighlights(rows)
}

// CountUnreviewedSmartHighlights counts the virtual-card candidates for a
// smart deck, uncapped.
func (db *DB) CountUnreviewedSmartHighlights(userID uuid.UUID, tags []string, match domain.TagMatch) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM highlights h
		WHERE h.user_id = ? AND h.deleted_at IS NULL
		  AND NOT EXISTS (SELECT 1 FROM flashcards f WHERE f.highlight_id = h.id)`
	args := []interface{}{userID.String()}
	query, args = appendTagFilter(query, args, tags, match)

	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unreviewed smart highlights: %w", err)
	}
	return n, nil
}

func smartDueQuery(selectCols string, userID uuid.UUID, tags []string, match domain.TagMatch, now time.Time) (string, []interface{}) {
	query := `
		SELECT ` + selectCols + `
		FROM flashcards f
		JOIN scheduling_states s ON s.card_id = f.id
		JOIN highlights h ON h.id = f.highlight_id
		WHERE f.user_id = ? AND h.deleted_at IS NULL AND s.due <= ?`
	args := []interface{}{userID.String(), now}
	return appendTagFilter(query, args, tags, match)
}

// appendTagFilter adds the smart-deck tag predicate: OR semantics match any
// listed tag, AND semantics require all of them.
func appendTagFilter(query string, args []interface{}, tags []string, match domain.TagMatch) (string, []interface{}) {
	if len(tags) == 0 {
		return query, args
	}
	in := placeholders(len(tags))
	if match == domain.MatchAllTags {
		query += ` AND (SELECT COUNT(DISTINCT ht.tag) FROM highlight_tags ht
			WHERE ht.highlight_id = h.id AND ht.tag IN (` + in + `)) = ?`
		for _, t := range tags {
			args = append(args, t)
		}
		args = append(args, len(tags))
	} else {
		query += ` AND EXISTS (SELECT 1 FROM highlight_tags ht
			WHERE ht.highlight_id = h.id AND ht.tag IN (` + in + `))`
		for _, t := range tags {
			args = append(args, t)
		}
	}
	return query, args
}

func scanFlashcard(row rowScanner) (*domain.Flashcard, error) {
	var (
		card     domain.Flashcard
		id, uid  string
		hid      string
		deckID   sql.NullString
	)
	err := row.Scan(&id, &uid, &hid, &deckID, &card.Front, &card.Back, &card.CreatedAt)
	if err != nil {
		return nil, err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt flashcard id %q: %w", id, err)
	}
	parsedUID, err := uuid.Parse(uid)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id on flashcard %s: %w", id, err)
	}
	parsedHID, err := uuid.Parse(hid)
	if err != nil {
		return nil, fmt.Errorf("corrupt highlight id on flashcard %s: %w", id, err)
	}
	card.ID = parsedID
	card.UserID = parsedUID
	card.HighlightID = parsedHID
	if deckID.Valid {
		parsed, err := uuid.Parse(deckID.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt deck id on flashcard %s: %w", id, err)
		}
		card.DeckID = &parsed
	}
	return &card, nil
}

func scanState(row rowScanner) (srs.SchedulingState, int64, error) {
	var (
		state        srs.SchedulingState
		stateInt     int
		lastReviewed sql.NullTime
		version      int64
	)
	err := row.Scan(
		&state.Stability,
		&state.Difficulty,
		&state.Due,
		&stateInt,
		&state.Step,
		&state.Reps,
		&state.Lapses,
		&lastReviewed,
		&version,
	)
	if err != nil {
		return srs.SchedulingState{}, 0, err
	}
	state.State = srs.State(stateInt)
	if lastReviewed.Valid {
		t := lastReviewed.Time
		state.LastReviewedAt = &t
	}
	return state, version, nil
}

func collectCardsWithState(rows *sql.Rows) ([]CardWithState, error) {
	var out []CardWithState
	for rows.Next() {
		var (
			cs           CardWithState
			id, uid, hid string
			deckID       sql.NullString
			stateInt     int
			lastReviewed sql.NullTime
		)
		err := rows.Scan(
			&id, &uid, &hid, &deckID, &cs.Card.Front, &cs.Card.Back, &cs.Card.CreatedAt,
			&cs.State.Stability, &cs.State.Difficulty, &cs.State.Due, &stateInt,
			&cs.State.Step, &cs.State.Reps, &cs.State.Lapses, &lastReviewed, &cs.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due card row: %w", err)
		}
		parsedID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("corrupt flashcard id %q: %w", id, err)
		}
		parsedUID, err := uuid.Parse(uid)
		if err != nil {
			return nil, fmt.Errorf("corrupt user id on flashcard %s: %w", id, err)
		}
		parsedHID, err := uuid.Parse(hid)
		if err != nil {
			return nil, fmt.Errorf("corrupt highlight id on flashcard %s: %w", id, err)
		}
		cs.Card.ID = parsedID
		cs.Card.UserID = parsedUID
		cs.Card.HighlightID = parsedHID
		if deckID.Valid {
			parsed, err := uuid.Parse(deckID.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt deck id on flashcard %s: %w", id, err)
			}
			cs.Card.DeckID = &parsed
		}
		cs.State.State = srs.State(stateInt)
		if lastReviewed.Valid {
			t := lastReviewed.Time
			cs.State.LastReviewedAt = &t
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
