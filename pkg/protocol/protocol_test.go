package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_SystemInit(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"type":"system","subtype":"init","session_id":"abc123"}`))
	require.NoError(t, err)

	assert.True(t, frame.IsSystemInit())
	assert.Equal(t, "abc123", frame.SessionID())
	assert.False(t, frame.IsResult())
}

func TestParseFrame_AssistantTextConcatenatesBlocks(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}}`))
	require.NoError(t, err)

	assert.Equal(t, "hello world", frame.AssistantText())
}

func TestParseFrame_ResultFrame(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"type":"result","subtype":"success"}`))
	require.NoError(t, err)

	assert.True(t, frame.IsResult())
	assert.Equal(t, "", frame.AssistantText())
}

func TestParseFrame_InvalidJSONReturnsError(t *testing.T) {
	_, err := ParseFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewUserFrame_BuildsUserMessage(t *testing.T) {
	data, err := NewUserFrame("ping")
	require.NoError(t, err)

	frame, err := ParseFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameUser, frame.Type)
}
