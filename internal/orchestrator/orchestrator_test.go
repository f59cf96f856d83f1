package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/eventbus"
	"github.com/iris-mcp/iris/internal/pool"
	"github.com/iris-mcp/iris/internal/session"
	"github.com/iris-mcp/iris/internal/teams"
)

const echoAgentScript = `
echo '{"type":"system","subtype":"init","session_id":"test"}'
read -r line
echo '{"type":"result","subtype":"success"}'
read -r line
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"reply: "}]}}'
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"ok"}]}}'
echo '{"type":"result","subtype":"success"}'
sleep 5
`

const stallingAgentScript = `
echo '{"type":"system","subtype":"init","session_id":"test"}'
echo '{"type":"result","subtype":"success"}'
read -r line
sleep 5
`

func newTestOrchestrator(t *testing.T, script string, responseTimeout time.Duration) (*Orchestrator, func()) {
	t.Helper()

	store, err := session.Open("sqlite3", ":memory:", t.TempDir())
	require.NoError(t, err)

	bus := eventbus.NewMemoryBus(logger.Default())

	p := pool.New(pool.Config{
		MaxProcesses:        4,
		SpawnTimeout:        5 * time.Second,
		HealthCheckInterval: time.Hour,
		TerminateGrace:      time.Second,
		AgentExecutable:     "sh",
		AgentArgs:           []string{"-c", script},
	}, bus, logger.Default())

	catalog, err := teams.FromTeams([]teams.Team{
		{Name: "frontend", LocalPath: ".", Permission: teams.PermissionYes},
		{Name: "backend", LocalPath: ".", Permission: teams.PermissionYes},
	})
	require.NoError(t, err)

	o := New(store, p, catalog, bus, Timeouts{
		SpawnTimeout:       5 * time.Second,
		SessionInitTimeout: 5 * time.Second,
		ResponseTimeout:    responseTimeout,
		PermissionTimeout:  2 * time.Second,
		TerminateGrace:     time.Second,
	}, logger.Default())

	cleanup := func() {
		_ = o.Shutdown(context.Background())
	}
	return o, cleanup
}

func TestSendMessage_SuccessReturnsConcatenatedText(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, echoAgentScript, 5*time.Second)
	defer cleanup()

	result, err := o.SendMessage(context.Background(), "frontend", "backend", "do something", 3*time.Second)
	require.NoError(t, err)
	assert.Empty(t, result.Status)
	assert.Equal(t, "reply: ok", result.Text)
}

func TestSendMessage_BusyWhenAlreadyProcessing(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, stallingAgentScript, 5*time.Second)
	defer cleanup()

	go func() {
		_, _ = o.SendMessage(context.Background(), "frontend", "backend", "first", -1)
	}()
	time.Sleep(200 * time.Millisecond)

	result, err := o.SendMessage(context.Background(), "frontend", "backend", "second", -1)
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, result.Status)
}

func TestSendMessage_AsyncReturnsImmediately(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, echoAgentScript, 5*time.Second)
	defer cleanup()

	result, err := o.SendMessage(context.Background(), "frontend", "backend", "go", -1)
	require.NoError(t, err)
	assert.Equal(t, StatusAsync, result.Status)
}

func TestSendMessage_MCPTimeoutPreservesCache(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, stallingAgentScript, 10*time.Second)
	defer cleanup()

	result, err := o.SendMessage(context.Background(), "frontend", "backend", "slow", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusMCPTimeout, result.Status)

	sess := mustGetSession(t, o, "frontend", "backend")
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, session.StateProcessing, sess.ProcessState, "the tell is still running and fully cached, not abandoned")
}

func mustGetSession(t *testing.T, o *Orchestrator, from, to string) *session.Session {
	t.Helper()
	s, err := o.store.GetSession(context.Background(), from, to)
	require.NoError(t, err)
	return s
}

func TestSendMessage_ResponseTimeoutTerminatesAndPreservesCache(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, stallingAgentScript, 300*time.Millisecond)
	defer cleanup()

	result, err := o.SendMessage(context.Background(), "frontend", "backend", "stuck", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, result.Status)
	assert.Equal(t, "RESPONSE_TIMEOUT", result.Reason)

	sess := mustGetSession(t, o, "frontend", "backend")
	assert.Equal(t, session.StateStopped, sess.ProcessState)
}

func TestIsAwake_FalseBeforeSpawn(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, echoAgentScript, 5*time.Second)
	defer cleanup()

	assert.False(t, o.IsAwake("frontend", "backend"))
}

func TestValidatePair_RejectsBadTeamName(t *testing.T) {
	err := validatePair("bad name!", "backend")
	assert.Error(t, err)
}
