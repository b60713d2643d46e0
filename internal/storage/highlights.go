package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
)

const highlightColumns = `h.id, h.user_id, h.source_id, h.book_title, h.author, h.content, h.note, h.hash, h.created_at, h.deleted_at`

// InsertHighlight stores a highlight and its tags.
func (db *DB) InsertHighlight(h domain.Highlight, sourceID int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin insert for highlight %s: %w", h.Hash, err)
	}
	defer tx.Rollback()

	var src interface{}
	if sourceID > 0 {
		src = sourceID
	}
	_, err = tx.Exec(`
		INSERT INTO highlights (id, user_id, source_id, book_title, author, content, note, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.ID.String(),
		h.UserID.String(),
		src,
		h.BookTitle,
		h.Author,
		h.Content,
		h.Note,
		h.Hash,
		h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert highlight %s: %w", h.Hash, err)
	}

	for _, tag := range h.Tags {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO highlight_tags (highlight_id, tag) VALUES (?, ?)
		`, h.ID.String(), tag); err != nil {
			return fmt.Errorf("failed to insert tag %q for highlight %s: %w", tag, h.Hash, err)
		}
	}

	return tx.Commit()
}

// GetHighlight fetches a highlight by ID, including soft-deleted ones.
// Returns ErrNotFound when absent.
func (db *DB) GetHighlight(id uuid.UUID) (*domain.Highlight, error) {
	row := db.conn.QueryRow(`
		SELECT `+highlightColumns+` FROM highlights h WHERE h.id = ?
	`, id.String())
	h, err := scanHighlight(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: highlight %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get highlight %s: %w", id, err)
	}
	if err := db.loadTags(h); err != nil {
		return nil, err
	}
	return h, nil
}

// FindHighlightByHash returns nil when the user has no highlight with that
// content hash. Soft-deleted highlights are included so a re-import can
// restore them instead of duplicating.
func (db *DB) FindHighlightByHash(userID uuid.UUID, hash string) (*domain.Highlight, error) {
	row := db.conn.QueryRow(`
		SELECT `+highlightColumns+` FROM highlights h
		WHERE h.user_id = ? AND h.hash = ?
	`, userID.String(), hash)
	h, err := scanHighlight(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find highlight by hash: %w", err)
	}
	return h, nil
}

// HighlightsBySource lists all highlights imported from a source, including
// soft-deleted ones, for the reconcile pass.
func (db *DB) HighlightsBySource(sourceID int64) ([]domain.Highlight, error) {
	rows, err := db.conn.Query(`
		SELECT `+highlightColumns+` FROM highlights h WHERE h.source_id = ?
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get highlights for source %d: %w", sourceID, err)
	}
	defer rows.Close()
	return collectHighlights(rows)
}

// SoftDeleteHighlight marks a highlight deleted. Its scheduling state is
// retained; due queries exclude it from here on.
func (db *DB) SoftDeleteHighlight(id uuid.UUID, now time.Time) error {
	_, err := db.conn.Exec(`
		UPDATE highlights SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`, now, id.String())
	if err != nil {
		return fmt.Errorf("failed to soft-delete highlight %s: %w", id, err)
	}
	return nil
}

// RestoreHighlight clears the soft-delete mark when a highlight reappears in
// its source.
func (db *DB) RestoreHighlight(id uuid.UUID) error {
	_, err := db.conn.Exec(`
		UPDATE highlights SET deleted_at = NULL WHERE id = ?
	`, id.String())
	if err != nil {
		return fmt.Errorf("failed to restore highlight %s: %w", id, err)
	}
	return nil
}

// DueHighlights returns highlights whose flashcard is due at or before now,
// most overdue first. Soft-deleted highlights are excluded.
func (db *DB) DueHighlights(userID uuid.UUID, now time.Time, limit int) ([]domain.Highlight, error) {
	rows, err := db.conn.Query(`
		SELECT `+highlightColumns+`
		FROM highlights h
		JOIN flashcards f ON f.highlight_id = h.id
		JOIN scheduling_states s ON s.card_id = f.id
		WHERE h.user_id = ? AND h.deleted_at IS NULL AND s.due <= ?
		ORDER BY s.due ASC
		LIMIT ?
	`, userID.String(), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due highlights: %w", err)
	}
	defer rows.Close()
	return collectHighlights(rows)
}

// HighlightsWithoutState returns highlights that have never been reviewed
// (no flashcard, hence no scheduling state), in random order, excluding the
// given IDs and soft-deleted rows.
func (db *DB) HighlightsWithoutState(userID uuid.UUID, excludeIDs []uuid.UUID, limit int) ([]domain.Highlight, error) {
	args := []interface{}{userID.String()}
	query := `
		SELECT ` + highlightColumns + `
		FROM highlights h
		WHERE h.user_id = ? AND h.deleted_at IS NULL
		  AND NOT EXISTS (SELECT 1 FROM flashcards f WHERE f.highlight_id = h.id)`
	query, args = appendExclusions(query, args, excludeIDs)
	query += ` ORDER BY RANDOM() LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreviewed highlights: %w", err)
	}
	defer rows.Close()
	return collectHighlights(rows)
}

// RandomHighlights returns any non-deleted highlights in random order,
// excluding the given IDs. Used as the digest's final fallback tier.
func (db *DB) RandomHighlights(userID uuid.UUID, excludeIDs []uuid.UUID, limit int) ([]domain.Highlight, error) {
	args := []interface{}{userID.String()}
	query := `
		SELECT ` + highlightColumns + `
		FROM highlights h
		WHERE h.user_id = ? AND h.deleted_at IS NULL`
	query, args = appendExclusions(query, args, excludeIDs)
	query += ` ORDER BY RANDOM() LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query random highlights: %w", err)
	}
	defer rows.Close()
	return collectHighlights(rows)
}

func appendExclusions(query string, args []interface{}, excludeIDs []uuid.UUID) (string, []interface{}) {
	if len(excludeIDs) == 0 {
		return query, args
	}
	query += ` AND h.id NOT IN (` + placeholders(len(excludeIDs)) + `)`
	for _, id := range excludeIDs {
		args = append(args, id.String())
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHighlight(row rowScanner) (*domain.Highlight, error) {
	var (
		h         domain.Highlight
		id, uid   string
		sourceID  sql.NullInt64
		author    sql.NullString
		note      sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(&id, &uid, &sourceID, &h.BookTitle, &author, &h.Content, &note, &h.Hash, &h.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt highlight id %q: %w", id, err)
	}
	parsedUID, err := uuid.Parse(uid)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id on highlight %s: %w", id, err)
	}
	h.ID = parsedID
	h.UserID = parsedUID
	h.Author = author.String
	h.Note = note.String
	if deletedAt.Valid {
		t := deletedAt.Time
		h.DeletedAt = &t
	}
	return &h, nil
}

func collectHighlights(rows *sql.Rows) ([]domain.Highlight, error) {
	var out []domain.Highlight
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan highlight row: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// loadTags fills the highlight's tag list.
func (db *DB) loadTags(h *domain.Highlight) error {
	rows, err := db.conn.Query(`
		SELECT tag FROM highlight_tags WHERE highlight_id = ? ORDER BY tag
	`, h.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load tags for highlight %s: %w", h.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return fmt.Errorf("failed to scan tag row: %w", err)
		}
		h.Tags = append(h.Tags, tag)
	}
	return rows.Err()
}
