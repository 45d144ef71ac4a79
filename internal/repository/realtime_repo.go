package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/the-vow/backend/internal/model"
)

// RealtimeStateRepository provides data access for the per-session live-state cache.
type RealtimeStateRepository struct {
	db DBTX
}

// NewRealtimeStateRepository creates a new RealtimeStateRepository.
func NewRealtimeStateRepository(db DBTX) *RealtimeStateRepository {
	return &RealtimeStateRepository{db: db}
}

// FindOrCreate returns the stored state for a session, inserting the empty
// version-0 state first if none exists.
func (r *RealtimeStateRepository) FindOrCreate(ctx context.Context, sessionID string) (*model.RealtimeState, error) {
	empty := model.NewRealtimeState(sessionID)
	empty.UpdatedAt = time.Now().UTC()

	payload, strokes, items, err := encodeState(empty)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO realtime_states (session_id, version, payload, strokes, memory_items, updated_at)
		VALUES (?, 0, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, sessionID, payload, strokes, items, empty.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create realtime state: %w", err)
	}

	return r.Get(ctx, sessionID)
}

// Get retrieves the stored state for a session.
func (r *RealtimeStateRepository) Get(ctx context.Context, sessionID string) (*model.RealtimeState, error) {
	query := `
		SELECT session_id, version, payload, strokes, memory_items, updated_at
		FROM realtime_states
		WHERE session_id = ?
	`

	state := &model.RealtimeState{}
	var payload, strokes, items string

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&state.SessionID,
		&state.Version,
		&payload,
		&strokes,
		&items,
		&state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrRealtimeStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get realtime state: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &state.Payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	if err := json.Unmarshal([]byte(strokes), &state.Strokes); err != nil {
		return nil, fmt.Errorf("failed to parse strokes: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &state.MemoryItems); err != nil {
		return nil, fmt.Errorf("failed to parse memory items: %w", err)
	}
	state.Payload = state.Payload.Clone()
	if state.Strokes == nil {
		state.Strokes = []model.Stroke{}
	}
	if state.MemoryItems == nil {
		state.MemoryItems = []model.MemoryItem{}
	}

	return state, nil
}

// Update writes state if the stored version still equals expectedVersion. The
// stored version becomes expectedVersion+1 and state.Version is set to match.
// A lost race yields model.ErrVersionConflict.
func (r *RealtimeStateRepository) Update(ctx context.Context, state *model.RealtimeState, expectedVersion int64) error {
	payload, strokes, items, err := encodeState(state)
	if err != nil {
		return err
	}

	next := expectedVersion + 1
	updatedAt := time.Now().UTC()

	query := `
		UPDATE realtime_states
		SET version = ?, payload = ?, strokes = ?, memory_items = ?, updated_at = ?
		WHERE session_id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query, next, payload, strokes, items, updatedAt, state.SessionID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update realtime state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := r.Get(ctx, state.SessionID); err != nil {
			return err
		}
		return model.ErrVersionConflict
	}

	state.Version = next
	state.UpdatedAt = updatedAt
	return nil
}

func encodeState(state *model.RealtimeState) (payload, strokes, items string, err error) {
	if payload, err = toJSON(state.Payload.Clone()); err != nil {
		return "", "", "", fmt.Errorf("failed to serialize payload: %w", err)
	}
	if strokes, err = toJSON(nonNil(state.Strokes)); err != nil {
		return "", "", "", fmt.Errorf("failed to serialize strokes: %w", err)
	}
	if items, err = toJSON(nonNil(state.MemoryItems)); err != nil {
		return "", "", "", fmt.Errorf("failed to serialize memory items: %w", err)
	}
	return payload, strokes, items, nil
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
