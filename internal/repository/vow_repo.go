package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/the-vow/backend/internal/model"
)

// VowThreadRepository provides data access for the vow thread aggregate.
type VowThreadRepository struct {
	db DBTX
}

// NewVowThreadRepository creates a new VowThreadRepository.
func NewVowThreadRepository(db DBTX) *VowThreadRepository {
	return &VowThreadRepository{db: db}
}

// Find retrieves the aggregate for a session.
func (r *VowThreadRepository) Find(ctx context.Context, sessionID string) (*model.VowThread, error) {
	query := `
		SELECT session_id, challenges_accepted, pulse_sync_score, memory_timeline, affirmations,
			canvas_image_url, modules_completed, completed_at, updated_at
		FROM vow_threads
		WHERE session_id = ?
	`

	thread := &model.VowThread{}
	var challenges, timeline, affirmations, modules string
	var canvasURL sql.NullString
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&thread.SessionID,
		&challenges,
		&thread.Data.PulseSyncScore,
		&timeline,
		&affirmations,
		&canvasURL,
		&modules,
		&completedAt,
		&thread.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrVowThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vow thread: %w", err)
	}

	columns := []struct {
		name string
		raw  string
		dst  any
	}{
		{"challenges_accepted", challenges, &thread.Data.ChallengesAccepted},
		{"memory_timeline", timeline, &thread.Data.MemoryTimeline},
		{"affirmations", affirmations, &thread.Data.Affirmations},
		{"modules_completed", modules, &thread.ModulesCompleted},
	}
	for _, c := range columns {
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", c.name, err)
		}
	}

	if canvasURL.Valid {
		url := canvasURL.String
		thread.Data.CanvasImageURL = &url
	}
	if completedAt.Valid {
		at := completedAt.Time
		thread.CompletedAt = &at
	}
	thread.Data = thread.Data.Clone()
	if thread.ModulesCompleted == nil {
		thread.ModulesCompleted = []model.ModuleID{}
	}

	return thread, nil
}

// Upsert inserts or replaces the aggregate for thread.SessionID.
func (r *VowThreadRepository) Upsert(ctx context.Context, thread *model.VowThread) error {
	data := thread.Data.Clone()

	challenges, err := toJSON(data.ChallengesAccepted)
	if err != nil {
		return fmt.Errorf("failed to serialize challenges: %w", err)
	}
	timeline, err := toJSON(data.MemoryTimeline)
	if err != nil {
		return fmt.Errorf("failed to serialize memory timeline: %w", err)
	}
	affirmations, err := toJSON(data.Affirmations)
	if err != nil {
		return fmt.Errorf("failed to serialize affirmations: %w", err)
	}
	modules, err := toJSON(nonNil(thread.ModulesCompleted))
	if err != nil {
		return fmt.Errorf("failed to serialize modules: %w", err)
	}

	var completedAt any
	if thread.CompletedAt != nil {
		completedAt = thread.CompletedAt.UTC()
	}

	thread.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO vow_threads (session_id, challenges_accepted, pulse_sync_score, memory_timeline,
			affirmations, canvas_image_url, modules_completed, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			challenges_accepted = excluded.challenges_accepted,
			pulse_sync_score = excluded.pulse_sync_score,
			memory_timeline = excluded.memory_timeline,
			affirmations = excluded.affirmations,
			canvas_image_url = excluded.canvas_image_url,
			modules_completed = excluded.modules_completed,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		thread.SessionID,
		challenges,
		data.PulseSyncScore,
		timeline,
		affirmations,
		data.CanvasImageURL,
		modules,
		completedAt,
		thread.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vow thread: %w", err)
	}

	return nil
}
