package ws

import (
	"context"

	"github.com/the-vow/backend/internal/model"
)

// Store is the durable state the hub reads and writes. Every call may fail.
type Store interface {
	// FindSession returns model.ErrSessionNotFound when no session has the id.
	FindSession(ctx context.Context, id string) (*model.Session, error)

	// FindOrCreateRealtimeState returns the session's live-state cache, creating
	// the empty version-0 state when there is none.
	FindOrCreateRealtimeState(ctx context.Context, sessionID string) (*model.RealtimeState, error)

	// UpdateRealtimeState stores state only if the stored version equals
	// expectedVersion, otherwise it returns model.ErrVersionConflict.
	UpdateRealtimeState(ctx context.Context, state *model.RealtimeState, expectedVersion int64) error

	// UpdateRealtimeStateWithVowThread is UpdateRealtimeState followed by
	// UpsertVowThread, applied atomically: on any error neither is stored.
	UpdateRealtimeStateWithVowThread(ctx context.Context, state *model.RealtimeState, expectedVersion int64, thread *model.VowThread) error

	// FindVowThread returns model.ErrVowThreadNotFound when the aggregate does not exist yet.
	FindVowThread(ctx context.Context, sessionID string) (*model.VowThread, error)

	UpsertVowThread(ctx context.Context, thread *model.VowThread) error
}
