package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
)

// UpsertUser inserts a user or returns the existing one for the email.
func (db *DB) UpsertUser(email string) (domain.User, error) {
	existing, err := db.FindUserByEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	u := domain.User{ID: uuid.New(), Email: email}
	_, err = db.conn.Exec(`
		INSERT INTO users (id, email, created_at)
		VALUES (?, ?, ?)
	`, u.ID.String(), u.Email, time.Now().UTC())
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to insert user %s: %w", email, err)
	}
	return u, nil
}

// FindUserByEmail returns nil when no user exists for the email.
func (db *DB) FindUserByEmail(email string) (*domain.User, error) {
	var (
		id string
		u  domain.User
	)
	row := db.conn.QueryRow(`SELECT id, email FROM users WHERE email = ?`, email)
	if err := row.Scan(&id, &u.Email); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", id, err)
	}
	u.ID = uid
	return &u, nil
}
