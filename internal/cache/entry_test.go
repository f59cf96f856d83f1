package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-mcp/iris/pkg/protocol"
)

func assistantFrame(t *testing.T, text string) protocol.Frame {
	t.Helper()
	line := []byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"` + text + `"}]}}`)
	f, err := protocol.ParseFrame(line)
	require.NoError(t, err)
	return f
}

func TestEntry_AppendAndSnapshot(t *testing.T) {
	e := newEntry(EntryTell, "hello")

	require.NoError(t, e.Append(assistantFrame(t, "hi")))
	require.NoError(t, e.Append(assistantFrame(t, " there")))

	snap := e.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "hi there", e.AssistantText())
}

func TestEntry_AppendAfterCompleteFails(t *testing.T) {
	e := newEntry(EntryTell, "hello")
	e.Complete()

	err := e.Append(assistantFrame(t, "too late"))
	assert.Error(t, err)
}

func TestEntry_SubscribeReplaysSnapshotThenStreams(t *testing.T) {
	e := newEntry(EntryTell, "hello")
	require.NoError(t, e.Append(assistantFrame(t, "first")))

	sub := e.Subscribe()
	require.Len(t, sub.Snapshot, 1)

	require.NoError(t, e.Append(assistantFrame(t, "second")))

	select {
	case msg, ok := <-sub.Stream:
		require.True(t, ok)
		assert.Equal(t, protocol.FrameAssistant, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a message on the subscription stream")
	}
}

func TestEntry_CompleteClosesSubscriptions(t *testing.T) {
	e := newEntry(EntryTell, "hello")
	sub := e.Subscribe()

	e.Complete()

	select {
	case _, ok := <-sub.Stream:
		assert.False(t, ok, "stream should be closed after Complete")
	case <-time.After(time.Second):
		t.Fatal("expected stream to be closed")
	}
}

func TestMessageCache_CreateAndStats(t *testing.T) {
	c := New("session-1")

	spawn := c.CreateEntry(EntrySpawn, "ping")
	tell := c.CreateEntry(EntryTell, "do a thing")
	tell.Complete()

	stats := c.GetStats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Spawn)
	assert.Equal(t, 1, stats.Tell)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Completed)

	got, err := c.GetEntryByID(spawn.ID)
	require.NoError(t, err)
	assert.Equal(t, spawn, got)
}

func TestMessageCache_GetEntryByIDMissing(t *testing.T) {
	c := New("session-1")
	_, err := c.GetEntryByID("does-not-exist")
	assert.Error(t, err)
}
