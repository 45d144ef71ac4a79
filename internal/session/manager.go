package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/the-vow/backend/internal/model"
	"github.com/the-vow/backend/internal/repository"
	"github.com/the-vow/backend/internal/vow"
)

// codeAlphabet leaves out characters that are easy to misread (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	defaultTTL             = 24 * time.Hour
	defaultCodeLength      = 6
	defaultMaxCodeAttempts = 5
)

// Manager creates, joins and reads sessions.
type Manager struct {
	store *repository.Store

	// Configuration
	ttl             time.Duration
	codeLength      int
	maxCodeAttempts int

	now      func() time.Time
	generate func(n int) (string, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Config holds configuration for the session manager.
type Config struct {
	TTL             time.Duration
	CodeLength      int
	MaxCodeAttempts int
}

// CreateRequest is the input to Create. Both fields are optional.
type CreateRequest struct {
	ID   string
	Code string
}

// View is a session together with its vow card.
type View struct {
	Session *model.Session
	Card    vow.Card
}

// NewManager creates a new session manager.
func NewManager(store *repository.Store, config Config) *Manager {
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if config.CodeLength < model.MinCodeLength {
		config.CodeLength = defaultCodeLength
	}
	if config.MaxCodeAttempts <= 0 {
		config.MaxCodeAttempts = defaultMaxCodeAttempts
	}

	return &Manager{
		store:           store,
		ttl:             config.TTL,
		codeLength:      config.CodeLength,
		maxCodeAttempts: config.MaxCodeAttempts,
		now:             time.Now,
		generate:        GenerateCode,
	}
}

// Create stores a new session and its empty vow thread.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.Session, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	explicit := req.Code != ""
	code := model.NormalizeCode(req.Code)
	if explicit && len(code) < model.MinCodeLength {
		return nil, model.ErrInvalidCode
	}

	now := m.now()
	session := &model.Session{
		ID:           id,
		Participants: []string{id},
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
	}

	// Generated codes are retried on collision; a caller's own code is not.
	for attempt := 1; ; attempt++ {
		if !explicit {
			generated, err := m.generate(m.codeLength)
			if err != nil {
				return nil, fmt.Errorf("failed to generate session code: %w", err)
			}
			code = generated
		}
		session.Code = code

		err := m.store.Sessions.Create(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, model.ErrCodeTaken) || explicit || attempt >= m.maxCodeAttempts {
			return nil, err
		}
		log.Debug().Int("attempt", attempt).Msg("Session code collision, regenerating")
	}

	thread := model.NewVowThread(id)
	thread.UpdatedAt = now
	if err := m.store.VowThread.Upsert(ctx, thread); err != nil {
		// Rollback: a session without a vow thread is not joinable
		if delErr := m.store.Sessions.Delete(ctx, id); delErr != nil {
			log.Error().Err(delErr).Str("session_id", id).Msg("Failed to roll back session")
		}
		return nil, fmt.Errorf("failed to create vow thread: %w", err)
	}

	log.Info().Str("session_id", id).Time("expires_at", session.ExpiresAt).Msg("Session created")
	return session, nil
}

// Join looks a session up by its join code, ignoring case and surrounding spaces.
func (m *Manager) Join(ctx context.Context, code string) (*model.Session, error) {
	code = model.NormalizeCode(code)
	if len(code) < model.MinCodeLength {
		return nil, model.ErrInvalidCode
	}

	session, err := m.store.Sessions.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.Expired(m.now()) {
		return nil, model.ErrSessionExpired
	}

	log.Info().Str("session_id", session.ID).Msg("Session joined")
	return session, nil
}

// Get returns a live session and its vow card.
func (m *Manager) Get(ctx context.Context, id string) (*View, error) {
	if id == "" {
		return nil, model.ErrSessionNotFound
	}

	session, err := m.store.Sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Expired(m.now()) {
		return nil, model.ErrSessionExpired
	}

	thread, err := m.store.VowThread.Find(ctx, id)
	if errors.Is(err, model.ErrVowThreadNotFound) {
		thread = model.NewVowThread(id)
	} else if err != nil {
		return nil, err
	}

	return &View{
		Session: session,
		Card:    vow.SelectCard(session, thread.Data, thread.CompletedAt),
	}, nil
}

// Sweep deletes expired sessions and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.store.Sessions.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("Expired sessions removed")
	}
	return n, nil
}

// StartSweeper runs Sweep every interval until Close is called.
func (m *Manager) StartSweeper(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil || interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Failed to sweep expired sessions")
				}
			}
		}
	}(m.done)
}

// Close stops the sweeper, if one is running.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// GenerateCode draws an n-character join code from a crypto-random source.
func GenerateCode(n int) (string, error) {
	base := big.NewInt(int64(len(codeAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		out[i] = codeAlphabet[idx.Int64()]
	}
	return string(out), nil
}
