package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source is an import origin for highlights: a local directory of markdown
// exports or a git repository of the same.
type Source struct {
	ID          int64
	UserID      uuid.UUID
	Path        string
	Type        string // "local" or "git"
	LastScanned sql.NullTime
}

// InsertSource records a new source and returns its ID.
func (db *DB) InsertSource(userID uuid.UUID, path, sourceType string) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO sources (user_id, path, type)
		VALUES (?, ?, ?)
	`, userID.String(), path, sourceType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath returns nil when no source exists for the path.
func (db *DB) FindSourceByPath(path string) (*Source, error) {
	var (
		s   Source
		uid string
	)
	row := db.conn.QueryRow(`
		SELECT id, user_id, path, type, last_scanned
		FROM sources WHERE path = ?
	`, path)
	if err := row.Scan(&s.ID, &uid, &s.Path, &s.Type, &s.LastScanned); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	parsed, err := uuid.Parse(uid)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id on source %d: %w", s.ID, err)
	}
	s.UserID = parsed
	return &s, nil
}

// GetAllSources lists every configured source.
func (db *DB) GetAllSources() ([]Source, error) {
	rows, err := db.conn.Query(`
		SELECT id, user_id, path, type, last_scanned
		FROM sources
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var (
			s   Source
			uid string
		)
		if err := rows.Scan(&s.ID, &uid, &s.Path, &s.Type, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		parsed, err := uuid.Parse(uid)
		if err != nil {
			return nil, fmt.Errorf("corrupt user id on source %d: %w", s.ID, err)
		}
		s.UserID = parsed
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned stamps the source after a completed reconcile.
func (db *DB) UpdateSourceLastScanned(sourceID int64) error {
	_, err := db.conn.Exec(`
		UPDATE sources SET last_scanned = ? WHERE id = ?
	`, time.Now().UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes a source row. Highlights imported from it keep their
// source_id and are handled by the reconcile loop's soft-delete pass.
func (db *DB) DeleteSource(id int64) error {
	if _, err := db.conn.Exec(`DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete source %d: %w", id, err)
	}
	return nil
}
