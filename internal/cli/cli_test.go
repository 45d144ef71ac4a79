package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-vow/backend/api/handlers"
	"github.com/the-vow/backend/internal/db"
	"github.com/the-vow/backend/internal/model"
	"github.com/the-vow/backend/internal/repository"
	"github.com/the-vow/backend/internal/session"
	"github.com/the-vow/backend/internal/vow"
	"github.com/the-vow/backend/internal/ws"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.NewTestDB()
	require.NoError(t, err)

	store := repository.NewStore(database)
	manager := session.NewManager(store, session.Config{})
	hubs := ws.NewHubManager()

	r := gin.New()
	api := r.Group("/api")
	handlers.NewSessionHandler(manager).RegisterRoutes(api)
	handlers.NewWebSocketHandler(ws.NewHandler(hubs, store, ws.HandlerConfig{})).RegisterRoutes(api)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		hubs.Close()
		manager.Close()
		database.Close()
	})
	return srv
}

func executeCLI(t *testing.T, server string, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append([]string{"--server", server}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestCreateJoinAndCard(t *testing.T) {
	srv := newTestServer(t)

	stdout, _, err := executeCLI(t, srv.URL, "create", "--id", "s1", "--code", "abcd23")
	require.NoError(t, err)
	var created handlers.SessionResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &created))
	assert.Equal(t, "s1", created.ID)
	assert.Equal(t, "ABCD23", created.Code)
	assert.Equal(t, model.SessionRoleHost, created.Role)

	stdout, _, err = executeCLI(t, srv.URL, "join", "abcd23")
	require.NoError(t, err)
	var joined handlers.SessionResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &joined))
	assert.Equal(t, "s1", joined.ID)
	assert.Equal(t, model.SessionRoleParticipant, joined.Role)

	stdout, _, err = executeCLI(t, srv.URL, "card", "s1")
	require.NoError(t, err)
	var card vow.Card
	require.NoError(t, json.Unmarshal([]byte(stdout), &card))
	assert.Equal(t, "ABCD23", card.SessionCode)
}

func TestJoinUnknownCode(t *testing.T) {
	srv := newTestServer(t)

	_, _, err := executeCLI(t, srv.URL, "join", "NOPE77")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_NOT_FOUND")
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestContributeAndComplete(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := executeCLI(t, srv.URL, "create", "--id", "s1", "--code", "ABCD23")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, srv.URL, "contribute",
		"--session", "s1", "--code", "ABCD23",
		"--module", "pulse-sync", "--data", `{"pulseSyncScore": 64}`)
	require.NoError(t, err)
	var out threadOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, 64.0, out.VowThread.PulseSyncScore)

	stdout, _, err = executeCLI(t, srv.URL, "complete",
		"--session", "s1", "--code", "ABCD23", "--module", "pulse-sync")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, []model.ModuleID{model.ModulePulseSync}, out.ModulesCompleted)
	assert.Equal(t, 64.0, out.VowThread.PulseSyncScore, "the snapshot carries earlier contributions")

	stdout, _, err = executeCLI(t, srv.URL, "card", "s1")
	require.NoError(t, err)
	var card vow.Card
	require.NoError(t, json.Unmarshal([]byte(stdout), &card))
	assert.Equal(t, 64.0, card.PulseSyncScore)
}

func TestContributeRejectsInvalidData(t *testing.T) {
	tests := []struct {
		name   string
		module string
		data   string
	}{
		{"unknown module", "karaoke", `{"pulseSyncScore": 1}`},
		{"data not an object", "pulse-sync", `[1,2]`},
		{"wrong field type", "pulse-sync", `{"pulseSyncScore": "high"}`},
		{"not json", "pulse-sync", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseContribution(tt.module, tt.data)
			assert.Error(t, err)
		})
	}
}

func TestCompleteRejectsUnknownModule(t *testing.T) {
	_, _, err := executeCLI(t, "http://127.0.0.1:1", "complete",
		"--session", "s1", "--code", "ABCD23", "--module", "karaoke")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module")
}

func TestListenPrintsEvents(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := executeCLI(t, srv.URL, "create", "--id", "s1", "--code", "ABCD23")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, srv.URL, "listen",
		"--session", "s1", "--code", "ABCD23", "--for", "300ms")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], `"type":"snapshot"`)
}

func TestRealtimeURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080": "ws://localhost:8080/api/realtime",
		"https://vow.example/":  "wss://vow.example/api/realtime",
		"http://host/prefix":    "ws://host/prefix/api/realtime",
	}
	for in, want := range tests {
		got, err := realtimeURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
