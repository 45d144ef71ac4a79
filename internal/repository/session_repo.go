package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/the-vow/backend/internal/model"
)

// SessionRepository provides data access for sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session into the database.
// A code that is already stored yields model.ErrCodeTaken.
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	participants, err := session.ParticipantsToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize participants: %w", err)
	}

	query := `
		INSERT INTO sessions (id, code, participants, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		session.ID,
		session.Code,
		participants,
		session.CreatedAt.UTC(),
		session.ExpiresAt.UTC(),
	)
	if isUniqueViolation(err) {
		return model.ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `
		SELECT id, code, participants, created_at, expires_at
		FROM sessions
		WHERE id = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByCode retrieves a session by its join code. The code must already be normalized.
func (r *SessionRepository) GetByCode(ctx context.Context, code string) (*model.Session, error) {
	query := `
		SELECT id, code, participants, created_at, expires_at
		FROM sessions
		WHERE code = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, code))
}

func (r *SessionRepository) scanOne(row *sql.Row) (*model.Session, error) {
	session := &model.Session{}
	var participants string

	err := row.Scan(
		&session.ID,
		&session.Code,
		&participants,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := session.ParticipantsFromJSON(participants); err != nil {
		return nil, fmt.Errorf("failed to parse participants: %w", err)
	}

	return session, nil
}

// Delete removes a session and, through cascading keys, its realtime state and vow thread.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

// DeleteExpired removes every session whose expiry is before now and returns how many went.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
