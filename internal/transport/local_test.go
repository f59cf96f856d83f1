package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-mcp/iris/internal/cache"
	"github.com/iris-mcp/iris/internal/common/logger"
)

// fakeChildScript prints a system/init frame, then upon reading the first
// line from stdin (the spawn ping) echoes back a result frame, simulating
// spec §4.2's handshake without depending on a real agent binary. The next
// line it reads (a tell) is answered with an "ack" assistant frame and a
// result frame.
const fakeChildScript = `
echo '{"type":"system","subtype":"init","session_id":"test-session"}'
read -r line
echo '{"type":"result","subtype":"success"}'
read -r line
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"ack"}]}}'
echo '{"type":"result","subtype":"success"}'
sleep 5
`

func testCommandInfo() CommandInfo {
	return CommandInfo{Executable: "sh", Args: []string{"-c", fakeChildScript}, WorkDir: "."}
}

func TestLocalTransport_SpawnReachesReady(t *testing.T) {
	lt := NewLocal(logger.Default(), 2*time.Second)
	spawnEntry := cache.New("session-1").CreateEntry(cache.EntrySpawn, "ping")

	err := lt.Spawn(context.Background(), spawnEntry, testCommandInfo(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, lt.Status())

	t.Cleanup(func() { _ = lt.Terminate(context.Background()) })
}

func TestLocalTransport_ExecuteTellReachesResult(t *testing.T) {
	lt := NewLocal(logger.Default(), 2*time.Second)
	c := cache.New("session-1")
	spawnEntry := c.CreateEntry(cache.EntrySpawn, "ping")

	require.NoError(t, lt.Spawn(context.Background(), spawnEntry, testCommandInfo(), 5*time.Second))
	t.Cleanup(func() { _ = lt.Terminate(context.Background()) })

	tellEntry := c.CreateEntry(cache.EntryTell, "hello there")
	sub := tellEntry.Subscribe()
	defer sub.Unsubscribe()

	require.NoError(t, lt.ExecuteTell(tellEntry))
	assert.Equal(t, StatusBusy, lt.Status())

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-sub.Stream:
			if !ok {
				t.Fatal("subscription closed before result frame observed")
			}
			if tellEntry.AssistantText() == "ack" {
				assert.Eventually(t, func() bool { return lt.Status() == StatusReady }, time.Second, 10*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for tell result")
		}
	}
}

func TestLocalTransport_ExecuteTellBeforeReadyIsInvalidState(t *testing.T) {
	lt := NewLocal(logger.Default(), 2*time.Second)
	entry := cache.New("session-1").CreateEntry(cache.EntryTell, "hi")

	err := lt.ExecuteTell(entry)
	assert.Error(t, err)
}

func TestShellEscape_EscapesEmbeddedSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellEscape("it's"))
}

func TestBuildRemoteCommand(t *testing.T) {
	got := buildRemoteCommand("/home/team/work", "claude", []string{"--resume", "abc"})
	assert.Equal(t, `cd '/home/team/work' && 'claude' '--resume' 'abc'`, got)
}
