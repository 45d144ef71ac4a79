package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/the-vow/backend/internal/db"
	"github.com/the-vow/backend/internal/model"
	"github.com/the-vow/backend/internal/repository"
)

func setupTestManager(t *testing.T) (*Manager, *repository.Store, func()) {
	// Create a fresh test database (bypasses singleton)
	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	store := repository.NewStore(database)
	manager := NewManager(store, Config{TTL: time.Hour})

	cleanup := func() {
		manager.Close()
		database.Close()
	}

	return manager, store, cleanup
}

func TestManager_Create(t *testing.T) {
	manager, store, cleanup := setupTestManager(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("generates id and code", func(t *testing.T) {
		session, err := manager.Create(ctx, CreateRequest{})
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		if session.ID == "" {
			t.Error("Session ID should not be empty")
		}
		if !regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`).MatchString(session.Code) {
			t.Errorf("Unexpected generated code %q", session.Code)
		}
		if len(session.Participants) != 1 || session.Participants[0] != session.ID {
			t.Errorf("Expected participants [%s], got %v", session.ID, session.Participants)
		}
		if got := session.ExpiresAt.Sub(session.CreatedAt); got != time.Hour {
			t.Errorf("Expected a one hour lifetime, got %v", got)
		}
	})

	t.Run("normalizes caller code", func(t *testing.T) {
		session, err := manager.Create(ctx, CreateRequest{ID: "host-1", Code: "  wxyz9 "})
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		if session.ID != "host-1" || session.Code != "WXYZ9" {
			t.Errorf("Expected host-1/WXYZ9, got %s/%s", session.ID, session.Code)
		}

		stored, err := store.Sessions.GetByCode(ctx, "WXYZ9")
		if err != nil {
			t.Fatalf("Session was not persisted: %v", err)
		}
		if stored.ID != "host-1" {
			t.Errorf("Expected stored id host-1, got %s", stored.ID)
		}
	})

	t.Run("stores empty vow thread", func(t *testing.T) {
		session, err := manager.Create(ctx, CreateRequest{})
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		thread, err := store.VowThread.Find(ctx, session.ID)
		if err != nil {
			t.Fatalf("Vow thread was not created: %v", err)
		}
		if len(thread.ModulesCompleted) != 0 || thread.CompletedAt != nil {
			t.Errorf("Expected an empty vow thread, got %+v", thread)
		}
	})

	t.Run("rejects short code", func(t *testing.T) {
		_, err := manager.Create(ctx, CreateRequest{Code: " ab "})
		if !errors.Is(err, model.ErrInvalidCode) {
			t.Errorf("Expected ErrInvalidCode, got %v", err)
		}
	})

	t.Run("caller code already taken", func(t *testing.T) {
		if _, err := manager.Create(ctx, CreateRequest{Code: "TAKEN"}); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		_, err := manager.Create(ctx, CreateRequest{Code: "taken"})
		if !errors.Is(err, model.ErrCodeTaken) {
			t.Errorf("Expected ErrCodeTaken, got %v", err)
		}
	})
}

func TestManager_CreateRetriesGeneratedCollisions(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := manager.Create(ctx, CreateRequest{Code: "AAAAAA"}); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	calls := 0
	manager.generate = func(n int) (string, error) {
		code := codes[calls]
		calls++
		return code, nil
	}

	session, err := manager.Create(ctx, CreateRequest{})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if session.Code != "BBBBBB" || calls != 3 {
		t.Errorf("Expected BBBBBB after 3 draws, got %s after %d", session.Code, calls)
	}

	t.Run("gives up after max attempts", func(t *testing.T) {
		manager.generate = func(n int) (string, error) { return "AAAAAA", nil }
		_, err := manager.Create(ctx, CreateRequest{})
		if !errors.Is(err, model.ErrCodeTaken) {
			t.Errorf("Expected ErrCodeTaken, got %v", err)
		}
	})
}

func TestManager_Join(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()

	ctx := context.Background()
	created, err := manager.Create(ctx, CreateRequest{Code: "ABCD23"})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	t.Run("code is case insensitive", func(t *testing.T) {
		session, err := manager.Join(ctx, " abcd23")
		if err != nil {
			t.Fatalf("Failed to join session: %v", err)
		}
		if session.ID != created.ID {
			t.Errorf("Expected session %s, got %s", created.ID, session.ID)
		}
	})

	t.Run("invalid code", func(t *testing.T) {
		if _, err := manager.Join(ctx, "ab"); !errors.Is(err, model.ErrInvalidCode) {
			t.Errorf("Expected ErrInvalidCode, got %v", err)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		if _, err := manager.Join(ctx, "ZZZZ99"); !errors.Is(err, model.ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("expired session", func(t *testing.T) {
		manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { manager.now = time.Now }()

		if _, err := manager.Join(ctx, "ABCD23"); !errors.Is(err, model.ErrSessionExpired) {
			t.Errorf("Expected ErrSessionExpired, got %v", err)
		}
	})
}

func TestManager_Get(t *testing.T) {
	manager, store, cleanup := setupTestManager(t)
	defer cleanup()

	ctx := context.Background()
	created, err := manager.Create(ctx, CreateRequest{Code: "CARD42"})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	thread, err := store.VowThread.Find(ctx, created.ID)
	if err != nil {
		t.Fatalf("Failed to load vow thread: %v", err)
	}
	thread.Data.PulseSyncScore = 91
	thread.Data.MemoryTimeline = []model.MemoryItem{{ID: "3", Order: 0}, {ID: "9", Order: 1, Label: "Sunset"}}
	completedAt := time.UnixMilli(1700000000000)
	thread.CompletedAt = &completedAt
	if err := store.VowThread.Upsert(ctx, thread); err != nil {
		t.Fatalf("Failed to update vow thread: %v", err)
	}

	view, err := manager.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}

	if view.Session.Code != "CARD42" || view.Card.SessionCode != "CARD42" {
		t.Errorf("Expected code CARD42 in session and card, got %s / %s", view.Session.Code, view.Card.SessionCode)
	}
	if view.Card.PulseSyncScore != 91 {
		t.Errorf("Expected score 91, got %v", view.Card.PulseSyncScore)
	}
	if view.Card.MemoryTimeline[0].Label != "Deep work" || view.Card.MemoryTimeline[1].Label != "Sunset" {
		t.Errorf("Unexpected timeline labels: %+v", view.Card.MemoryTimeline)
	}
	if view.Card.CompletedAt == nil || *view.Card.CompletedAt != 1700000000000 {
		t.Errorf("Expected completedAt 1700000000000, got %v", view.Card.CompletedAt)
	}

	t.Run("not found", func(t *testing.T) {
		if _, err := manager.Get(ctx, "missing"); !errors.Is(err, model.ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { manager.now = time.Now }()

		if _, err := manager.Get(ctx, created.ID); !errors.Is(err, model.ErrSessionExpired) {
			t.Errorf("Expected ErrSessionExpired, got %v", err)
		}
	})
}

func TestManager_Sweep(t *testing.T) {
	manager, store, cleanup := setupTestManager(t)
	defer cleanup()

	ctx := context.Background()
	old, err := manager.Create(ctx, CreateRequest{})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	manager.now = func() time.Time { return time.Now().Add(90 * time.Minute) }
	fresh, err := manager.Create(ctx, CreateRequest{})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	n, err := manager.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired session removed, got %d", n)
	}
	if _, err := store.Sessions.GetByID(ctx, old.ID); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("Expected expired session to be gone, got %v", err)
	}
	if _, err := store.Sessions.GetByID(ctx, fresh.ID); err != nil {
		t.Errorf("Expected fresh session to survive, got %v", err)
	}
}

func TestManager_SweeperStopsOnClose(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()

	manager.StartSweeper(10 * time.Millisecond)
	manager.StartSweeper(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		manager.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not stop the sweeper")
	}
}

// Generated codes always have the requested length and only use unambiguous characters.
func TestProperty_GeneratedCodeAlphabet(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("code uses the join alphabet", prop.ForAll(
		func(n int) bool {
			code, err := GenerateCode(n)
			if err != nil || len(code) != n {
				return false
			}
			for _, r := range code {
				if !strings.ContainsRune(codeAlphabet, r) {
					return false
				}
			}
			return !strings.ContainsAny(code, "01IO")
		},
		gen.IntRange(model.MinCodeLength, 12),
	))

	properties.TestingRun(t)
}
