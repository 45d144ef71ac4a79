package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/the-vow/backend/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite-backed gateway the realtime hub reads and writes through.
type Store struct {
	Sessions  *SessionRepository
	Realtime  *RealtimeStateRepository
	VowThread *VowThreadRepository

	db *sql.DB
}

// NewStore wires the three repositories over one database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{
		Sessions:  NewSessionRepository(db),
		Realtime:  NewRealtimeStateRepository(db),
		VowThread: NewVowThreadRepository(db),
		db:        db,
	}
}

// WithTx runs fn with realtime and vow repositories bound to one transaction.
// It commits when fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(realtime *RealtimeStateRepository, threads *VowThreadRepository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(NewRealtimeStateRepository(tx), NewVowThreadRepository(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) FindSession(ctx context.Context, id string) (*model.Session, error) {
	return s.Sessions.GetByID(ctx, id)
}

func (s *Store) FindOrCreateRealtimeState(ctx context.Context, sessionID string) (*model.RealtimeState, error) {
	return s.Realtime.FindOrCreate(ctx, sessionID)
}

func (s *Store) UpdateRealtimeState(ctx context.Context, state *model.RealtimeState, expectedVersion int64) error {
	return s.Realtime.Update(ctx, state, expectedVersion)
}

// UpdateRealtimeStateWithVowThread stores the compare-and-swap state update
// and the aggregate in one transaction.
func (s *Store) UpdateRealtimeStateWithVowThread(ctx context.Context, state *model.RealtimeState, expectedVersion int64, thread *model.VowThread) error {
	return s.WithTx(ctx, func(realtime *RealtimeStateRepository, threads *VowThreadRepository) error {
		if err := realtime.Update(ctx, state, expectedVersion); err != nil {
			return err
		}
		return threads.Upsert(ctx, thread)
	})
}

func (s *Store) FindVowThread(ctx context.Context, sessionID string) (*model.VowThread, error) {
	return s.VowThread.Find(ctx, sessionID)
}

func (s *Store) UpsertVowThread(ctx context.Context, thread *model.VowThread) error {
	return s.VowThread.Upsert(ctx, thread)
}
