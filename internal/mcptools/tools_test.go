package mcptools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/eventbus"
	"github.com/iris-mcp/iris/internal/orchestrator"
	"github.com/iris-mcp/iris/internal/pool"
	"github.com/iris-mcp/iris/internal/session"
	"github.com/iris-mcp/iris/internal/teams"
)

const echoAgentScript = `
echo '{"type":"system","subtype":"init","session_id":"test"}'
read -r line
echo '{"type":"result","subtype":"success"}'
read -r line
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"pong"}]}}'
echo '{"type":"result","subtype":"success"}'
sleep 5
`

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
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
		AgentArgs:           []string{"-c", echoAgentScript},
	}, bus, logger.Default())

	catalog, err := teams.FromTeams([]teams.Team{
		{Name: "frontend", LocalPath: ".", Permission: teams.PermissionYes},
		{Name: "backend", LocalPath: ".", Permission: teams.PermissionYes},
	})
	require.NoError(t, err)

	orch := orchestrator.New(store, p, catalog, bus, orchestrator.Timeouts{
		SpawnTimeout:       5 * time.Second,
		SessionInitTimeout: 5 * time.Second,
		ResponseTimeout:    5 * time.Second,
		PermissionTimeout:  2 * time.Second,
		TerminateGrace:     time.Second,
	}, logger.Default())

	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })
	return orch
}

func callToolRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestSendMessageHandler_SuccessReturnsPlainText(t *testing.T) {
	orch := newTestOrchestrator(t)
	handler := sendMessageHandler(orch, logger.Default())

	result, err := handler(context.Background(), callToolRequest(map[string]interface{}{
		"fromTeam": "frontend",
		"toTeam":   "backend",
		"message":  "hi",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	assert.Equal(t, "pong", text.Text)
}

func TestQuickMessageHandler_ReturnsAsyncStatusJSON(t *testing.T) {
	orch := newTestOrchestrator(t)
	handler := quickMessageHandler(orch, logger.Default())

	result, err := handler(context.Background(), callToolRequest(map[string]interface{}{
		"fromTeam": "frontend",
		"toTeam":   "backend",
		"message":  "hi",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)

	var payload orchestrator.SendResult
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	assert.Equal(t, orchestrator.StatusAsync, payload.Status)
}

func TestListTeamsHandler_ReturnsCatalog(t *testing.T) {
	orch := newTestOrchestrator(t)
	handler := listTeamsHandler(orch, logger.Default())

	result, err := handler(context.Background(), callToolRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)

	var out []teams.Team
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	assert.Len(t, out, 2)
}

func TestSendMessageHandler_MissingRequiredFieldIsToolError(t *testing.T) {
	orch := newTestOrchestrator(t)
	handler := sendMessageHandler(orch, logger.Default())

	result, err := handler(context.Background(), callToolRequest(map[string]interface{}{
		"fromTeam": "frontend",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestPermissionsApproveHandler_UnknownRequestIsToolError(t *testing.T) {
	orch := newTestOrchestrator(t)
	handler := permissionsApproveHandler(orch, logger.Default())

	result, err := handler(context.Background(), callToolRequest(map[string]interface{}{
		"requestId": "does-not-exist",
		"allow":     true,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
