package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
)

// GetDigestSettings fetches a user's digest settings, with defaults when the
// user has never configured them.
func (db *DB) GetDigestSettings(userID uuid.UUID) (domain.DigestSettings, error) {
	s := domain.DigestSettings{
		UserID:        userID,
		PreferredHour: 8,
		Timezone:      "UTC",
		Frequency:     domain.Daily,
	}
	var (
		enabled  int
		freq     string
		lastSent sql.NullTime
	)
	row := db.conn.QueryRow(`
		SELECT d.enabled, d.preferred_hour, d.timezone, d.frequency, d.last_sent_at, u.email
		FROM digest_settings d
		JOIN users u ON u.id = d.user_id
		WHERE d.user_id = ?
	`, userID.String())
	err := row.Scan(&enabled, &s.PreferredHour, &s.Timezone, &freq, &lastSent, &s.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return s, nil
		}
		return s, fmt.Errorf("failed to get digest settings for %s: %w", userID, err)
	}
	s.Enabled = enabled != 0
	s.Frequency = domain.Frequency(freq)
	if lastSent.Valid {
		t := lastSent.Time
		s.LastSentAt = &t
	}
	return s, nil
}

// PutDigestSettings upserts a user's digest settings. LastSentAt is owned by
// the digest loop and never written here.
func (db *DB) PutDigestSettings(s domain.DigestSettings) error {
	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	_, err := db.conn.Exec(`
		INSERT INTO digest_settings (user_id, enabled, preferred_hour, timezone, frequency)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			enabled = excluded.enabled,
			preferred_hour = excluded.preferred_hour,
			timezone = excluded.timezone,
			frequency = excluded.frequency
	`, s.UserID.String(), enabled, s.PreferredHour, s.Timezone, string(s.Frequency))
	if err != nil {
		return fmt.Errorf("failed to put digest settings for %s: %w", s.UserID, err)
	}
	return nil
}

// ListEnabledDigestSettings returns the settings of every user with the
// digest switched on.
func (db *DB) ListEnabledDigestSettings() ([]domain.DigestSettings, error) {
	rows, err := db.conn.Query(`
		SELECT d.user_id, u.email, d.preferred_hour, d.timezone, d.frequency, d.last_sent_at
		FROM digest_settings d
		JOIN users u ON u.id = d.user_id
		WHERE d.enabled = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled digest settings: %w", err)
	}
	defer rows.Close()

	var out []domain.DigestSettings
	for rows.Next() {
		var (
			s        domain.DigestSettings
			uid      string
			freq     string
			lastSent sql.NullTime
		)
		if err := rows.Scan(&uid, &s.Email, &s.PreferredHour, &s.Timezone, &freq, &lastSent); err != nil {
			return nil, fmt.Errorf("failed to scan digest settings row: %w", err)
		}
		parsed, err := uuid.Parse(uid)
		if err != nil {
			return nil, fmt.Errorf("corrupt user id in digest settings: %w", err)
		}
		s.UserID = parsed
		s.Enabled = true
		s.Frequency = domain.Frequency(freq)
		if lastSent.Valid {
			t := lastSent.Time
			s.LastSentAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetDigestLastSent stamps the dedup timestamp after a successful enqueue.
func (db *DB) SetDigestLastSent(userID uuid.UUID, sentAt time.Time) error {
	_, err := db.conn.Exec(`
		UPDATE digest_settings SET last_sent_at = ? WHERE user_id = ?
	`, sentAt, userID.String())
	if err != nil {
		return fmt.Errorf("failed to stamp digest send for %s: %w", userID, err)
	}
	return nil
}
