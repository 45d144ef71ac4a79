package ws

import (
	"context"
	"sync"

	"github.com/the-vow/backend/internal/model"
)

// memStore is an in-memory Store with switchable failures.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	states   map[string]*model.RealtimeState
	threads  map[string]*model.VowThread
	upserts  int

	findErr   error
	writeErr  error
	threadErr error
}

func newMemStore(sessions ...*model.Session) *memStore {
	s := &memStore{
		sessions: make(map[string]*model.Session),
		states:   make(map[string]*model.RealtimeState),
		threads:  make(map[string]*model.VowThread),
	}
	for _, session := range sessions {
		s.sessions[session.ID] = session
	}
	return s
}

func (s *memStore) FindSession(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	out := *session
	return &out, nil
}

func (s *memStore) FindOrCreateRealtimeState(ctx context.Context, sessionID string) (*model.RealtimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[sessionID]
	if !ok {
		state = model.NewRealtimeState(sessionID)
		s.states[sessionID] = state
	}
	return state.Clone(), nil
}

func (s *memStore) UpdateRealtimeState(ctx context.Context, state *model.RealtimeState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	stored, ok := s.states[state.SessionID]
	if !ok {
		return model.ErrRealtimeStateNotFound
	}
	if stored.Version != expectedVersion {
		return model.ErrVersionConflict
	}
	next := state.Clone()
	next.Version = expectedVersion + 1
	s.states[state.SessionID] = next
	return nil
}

func (s *memStore) UpdateRealtimeStateWithVowThread(ctx context.Context, state *model.RealtimeState, expectedVersion int64, thread *model.VowThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.threadErr != nil {
		return s.threadErr
	}
	stored, ok := s.states[state.SessionID]
	if !ok {
		return model.ErrRealtimeStateNotFound
	}
	if stored.Version != expectedVersion {
		return model.ErrVersionConflict
	}
	next := state.Clone()
	next.Version = expectedVersion + 1
	s.states[state.SessionID] = next
	s.putThreadLocked(thread)
	return nil
}

func (s *memStore) FindVowThread(ctx context.Context, sessionID string) (*model.VowThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[sessionID]
	if !ok {
		return nil, model.ErrVowThreadNotFound
	}
	out := *thread
	out.Data = thread.Data.Clone()
	out.ModulesCompleted = append([]model.ModuleID{}, thread.ModulesCompleted...)
	return &out, nil
}

func (s *memStore) UpsertVowThread(ctx context.Context, thread *model.VowThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.threadErr != nil {
		return s.threadErr
	}
	s.putThreadLocked(thread)
	return nil
}

func (s *memStore) putThreadLocked(thread *model.VowThread) {
	out := *thread
	out.Data = thread.Data.Clone()
	out.ModulesCompleted = append([]model.ModuleID{}, thread.ModulesCompleted...)
	s.threads[thread.SessionID] = &out
	s.upserts++
}

func (s *memStore) setWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *memStore) setThreadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadErr = err
}

func (s *memStore) state(sessionID string) *model.RealtimeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[sessionID]; ok {
		return st.Clone()
	}
	return nil
}

func (s *memStore) thread(sessionID string) *model.VowThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[sessionID]
}

func (s *memStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}
