package debugserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/eventbus"
	"github.com/iris-mcp/iris/internal/orchestrator"
	"github.com/iris-mcp/iris/internal/pool"
	"github.com/iris-mcp/iris/internal/session"
	"github.com/iris-mcp/iris/internal/teams"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	store, err := session.Open("sqlite3", ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := eventbus.NewMemoryBus(logger.Default())
	p := pool.New(pool.Config{
		MaxProcesses:        2,
		SpawnTimeout:        time.Second,
		HealthCheckInterval: time.Hour,
		TerminateGrace:      time.Second,
	}, bus, logger.Default())

	catalog, err := teams.FromTeams([]teams.Team{
		{Name: "frontend", LocalPath: ".", Permission: teams.PermissionYes},
	})
	require.NoError(t, err)

	orch := orchestrator.New(store, p, catalog, bus, orchestrator.Timeouts{
		SpawnTimeout:       time.Second,
		SessionInitTimeout: time.Second,
		ResponseTimeout:    time.Second,
		PermissionTimeout:  time.Second,
		TerminateGrace:     time.Second,
	}, logger.Default())

	s := New(Config{}, orch, store, logger.Default())
	return s, httptest.NewServer(s.engine)
}

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	s, ts := newTestServer(t)
	defer ts.Close()
	defer func() { _ = s.orch.Shutdown(context.Background()) }()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleListSessions_ReturnsCreatedSessions(t *testing.T) {
	s, ts := newTestServer(t)
	defer ts.Close()

	_, err := s.store.GetOrCreateSession(context.Background(), "frontend", "backend")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/sessions")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sessions []session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	assert.Len(t, sessions, 1)
	assert.Equal(t, "frontend", sessions[0].FromTeam)
}

func TestHandleGetSession_NotFoundForUnknownID(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sessions/does-not-exist")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleListTeams_ReturnsCatalog(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/teams")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out, 1)
}
