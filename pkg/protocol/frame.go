// Package protocol models the newline-delimited JSON stream-JSON wire
// protocol spoken by Iris child processes (spec §6). The core only
// branches on Type/Subtype; everything else round-trips opaquely so
// unrecognized variants are never dropped (spec §9).
package protocol

import (
	"encoding/json"
	"time"
)

// FrameType is the top-level "type" discriminator.
type FrameType string

const (
	FrameSystem    FrameType = "system"
	FrameUser      FrameType = "user"
	FrameAssistant FrameType = "assistant"
	FrameToolUse   FrameType = "tool_use"
	FrameToolResult FrameType = "tool_result"
	FrameResult    FrameType = "result"
)

// Frame is a single parsed line of the child's stdout, or a frame Iris
// itself writes to the child's stdin.
type Frame struct {
	Type    FrameType       `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Raw     json.RawMessage `json:"-"`

	// ReceivedAt is stamped by the Transport reader, not by the child.
	ReceivedAt time.Time `json:"-"`
}

// contentBlock is the shape of one element of an assistant/user message's
// "content" array.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageEnvelope struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type systemInitPayload struct {
	Type      FrameType `json:"type"`
	Subtype   string    `json:"subtype"`
	SessionID string    `json:"session_id"`
}

type assistantPayload struct {
	Type    FrameType       `json:"type"`
	Message messageEnvelope `json:"message"`
}

type resultPayload struct {
	Type    FrameType `json:"type"`
	Subtype string    `json:"subtype"`
}

// ParseFrame parses one line of child stdout into a Frame. Non-JSON lines
// are returned with an error so the Transport can log-and-discard them per
// spec §4.2; a JSON object without a "type" field parses with an empty Type.
func ParseFrame(line []byte) (Frame, error) {
	var probe struct {
		Type    FrameType `json:"type"`
		Subtype string    `json:"subtype"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return Frame{}, err
	}
	raw := make(json.RawMessage, len(line))
	copy(raw, line)
	return Frame{Type: probe.Type, Subtype: probe.Subtype, Raw: raw, ReceivedAt: time.Now()}, nil
}

// IsSystemInit reports whether this frame is the system/init handshake
// frame that completes a Transport's spawn() init wait.
func (f Frame) IsSystemInit() bool {
	if f.Type != FrameSystem || f.Subtype != "init" {
		return false
	}
	var p systemInitPayload
	return json.Unmarshal(f.Raw, &p) == nil
}

// SessionID extracts the session_id carried by a system/init frame.
func (f Frame) SessionID() string {
	var p systemInitPayload
	if err := json.Unmarshal(f.Raw, &p); err != nil {
		return ""
	}
	return p.SessionID
}

// IsResult reports whether this frame terminates the current cache entry.
func (f Frame) IsResult() bool { return f.Type == FrameResult }

// AssistantText returns the concatenated text content of an assistant
// frame's content blocks, or "" if this isn't an assistant frame.
func (f Frame) AssistantText() string {
	if f.Type != FrameAssistant {
		return ""
	}
	var p assistantPayload
	if err := json.Unmarshal(f.Raw, &p); err != nil {
		return ""
	}
	var out string
	for _, block := range p.Message.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// NewUserFrame builds the "to the child" user frame Transport writes to
// introduce a tell (spec §6).
func NewUserFrame(text string) ([]byte, error) {
	payload := struct {
		Type    FrameType       `json:"type"`
		Message messageEnvelope `json:"message"`
	}{
		Type: FrameUser,
		Message: messageEnvelope{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: text}},
		},
	}
	return json.Marshal(payload)
}
