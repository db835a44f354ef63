package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store is durable client-side storage: the active auth session, the
// local login lockout counters, and an archive of exported readings.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadSession returns the persisted session payload, or nil if none.
func (s *Store) LoadSession() ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM sessions WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return payload, nil
}

// SaveSession replaces the persisted session.
func (s *Store) SaveSession(payload []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, payload, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) ClearSession() error {
	if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetLoginAttempts returns the failed sign-in count and time of the last
// failure for email. Unknown emails return zero values.
func (s *Store) GetLoginAttempts(email string) (int, time.Time, error) {
	var count int
	var last time.Time
	err := s.db.QueryRow(`
		SELECT count, last_attempt FROM login_attempts WHERE email = ?
	`, normalizeEmail(email)).Scan(&count, &last)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("get login attempts: %w", err)
	}
	return count, last, nil
}

func (s *Store) SaveLoginAttempts(email string, count int, last time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO login_attempts (email, count, last_attempt)
		VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			count = excluded.count,
			last_attempt = excluded.last_attempt
	`, normalizeEmail(email), count, last.UTC())
	if err != nil {
		return fmt.Errorf("save login attempts: %w", err)
	}
	return nil
}

func (s *Store) ResetLoginAttempts(email string) error {
	if _, err := s.db.Exec(`DELETE FROM login_attempts WHERE email = ?`, normalizeEmail(email)); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}
