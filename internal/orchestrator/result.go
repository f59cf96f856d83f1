package orchestrator

import "github.com/iris-mcp/iris/internal/cache"

// Status is the non-empty tag on a SendResult that isn't a plain success.
type Status string

const (
	StatusAsync      Status = "async"
	StatusBusy       Status = "busy"
	StatusSpawning   Status = "spawning"
	StatusMCPTimeout Status = "mcp_timeout"
	StatusTerminated Status = "terminated"
)

// SendResult is the return shape of sendMessage/ask (spec §6 "Return
// shapes for sendMessage"). A zero Status with non-empty Text is the
// success case: the concatenated assistant text.
type SendResult struct {
	Status              Status          `json:"status,omitempty"`
	Text                string          `json:"-"`
	SessionID           string          `json:"sessionId,omitempty"`
	Message             string          `json:"message,omitempty"`
	CurrentCacheEntryID string          `json:"currentCacheSessionId,omitempty"`
	PartialResponse     string          `json:"partialResponse,omitempty"`
	RawMessages         []cache.Message `json:"rawMessages,omitempty"`
	Reason              string          `json:"reason,omitempty"`
}
