package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-mcp/iris/internal/cache"
	"github.com/iris-mcp/iris/internal/common/ierrors"
	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/eventbus"
	"github.com/iris-mcp/iris/internal/teams"
)

const fakeAgentScript = `
echo '{"type":"system","subtype":"init","session_id":"test"}'
echo '{"type":"result","subtype":"success"}'
read -r line
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"ok"}]}}'
echo '{"type":"result","subtype":"success"}'
sleep 5
`

func testConfig() Config {
	return Config{
		MaxProcesses:        2,
		SpawnTimeout:        5 * time.Second,
		HealthCheckInterval: time.Hour,
		TerminateGrace:      time.Second,
		AgentExecutable:     "sh",
		AgentArgs:           []string{"-c", fakeAgentScript},
	}
}

func localTeam(name string) teams.Team {
	return teams.Team{Name: name, LocalPath: ".", Permission: teams.PermissionYes}
}

func TestPool_GetOrCreateProcess_SpawnsAndReuses(t *testing.T) {
	bus := eventbus.NewMemoryBus(logger.Default())
	defer bus.Close()
	p := New(testConfig(), bus, logger.Default())
	defer p.TerminateAll(context.Background())

	mc := cache.New("session-1")
	team := localTeam("backend")

	first, err := p.GetOrCreateProcess(context.Background(), team, "frontend", "session-1", mc, "ping")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Size())

	second, err := p.GetOrCreateProcess(context.Background(), team, "frontend", "session-1", mc, "ping")
	require.NoError(t, err)
	assert.Same(t, first, second, "expected the same transport to be reused under one key")
}

func TestPool_GetOrCreateProcess_PoolFullWhenAllBusy(t *testing.T) {
	bus := eventbus.NewMemoryBus(logger.Default())
	defer bus.Close()

	cfg := testConfig()
	cfg.MaxProcesses = 1
	p := New(cfg, bus, logger.Default())
	defer p.TerminateAll(context.Background())

	mc := cache.New("session-1")
	team := localTeam("backend")
	tr, err := p.GetOrCreateProcess(context.Background(), team, "frontend", "session-1", mc, "ping")
	require.NoError(t, err)

	tell := mc.CreateEntry(cache.EntryTell, "keep busy")
	require.NoError(t, tr.ExecuteTell(tell))

	mc2 := cache.New("session-2")
	_, err = p.GetOrCreateProcess(context.Background(), localTeam("other"), "frontend", "session-2", mc2, "ping")
	assert.True(t, ierrors.Is(err, ierrors.KindPoolFull))
}

func TestPool_TerminateProcess_RemovesFromPool(t *testing.T) {
	bus := eventbus.NewMemoryBus(logger.Default())
	defer bus.Close()
	p := New(testConfig(), bus, logger.Default())
	defer p.TerminateAll(context.Background())

	mc := cache.New("session-1")
	team := localTeam("backend")
	_, err := p.GetOrCreateProcess(context.Background(), team, "frontend", "session-1", mc, "ping")
	require.NoError(t, err)

	key := teams.Key("frontend", "backend")
	require.NoError(t, p.TerminateProcess(context.Background(), key))
	assert.Equal(t, 0, p.Size())

	_, ok := p.GetProcess(key)
	assert.False(t, ok)
}
