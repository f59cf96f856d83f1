// Package cache implements the MessageCache and CacheEntry (spec §3, §4.3):
// the per-session append-only log of protocol frames, grouped by spawn/tell
// trigger, with a multicast push stream replayable by snapshot for late
// subscribers.
package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iris-mcp/iris/internal/common/ierrors"
	"github.com/iris-mcp/iris/pkg/protocol"
)

// EntryType distinguishes why an entry was created (spec §3).
type EntryType string

const (
	EntrySpawn EntryType = "SPAWN"
	EntryTell  EntryType = "TELL"
)

// EntryStatus is the lifecycle of one CacheEntry.
type EntryStatus string

const (
	StatusActive     EntryStatus = "active"
	StatusCompleted  EntryStatus = "completed"
	StatusTerminated EntryStatus = "terminated"
)

// Message is one recorded frame: a monotonic timestamp, a type tag, and the
// raw payload that produced it.
type Message struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      protocol.FrameType `json:"type"`
	Raw       []byte          `json:"raw"`
}

// Entry is a typed group of protocol messages produced by one spawn or tell
// trigger (spec §3, CacheEntry). Once Completed or Terminated, appends are
// rejected and only TerminationReason may still change.
type Entry struct {
	ID               string
	Type             EntryType
	TellString       string
	CreatedAt        time.Time
	CompletedAt      time.Time
	TerminationReason string

	mu       sync.RWMutex
	status   EntryStatus
	messages []Message
	subs     map[int]chan Message
	nextSub  int
}

func newEntry(entryType EntryType, tellString string) *Entry {
	return &Entry{
		ID:         uuid.New().String(),
		Type:       entryType,
		TellString: tellString,
		CreatedAt:  time.Now().UTC(),
		status:     StatusActive,
		subs:       make(map[int]chan Message),
	}
}

// Status returns the entry's current lifecycle status.
func (e *Entry) Status() EntryStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Append adds a parsed frame to the entry and fans it out to every live
// subscriber. Appending to a completed or terminated entry is a programming
// error (spec §4.3).
func (e *Entry) Append(frame protocol.Frame) error {
	e.mu.Lock()
	if e.status != StatusActive {
		e.mu.Unlock()
		return ierrors.InvalidState("cannot append to cache entry %s in status %s", e.ID, e.status)
	}
	msg := Message{Timestamp: frame.ReceivedAt, Type: frame.Type, Raw: append([]byte(nil), frame.Raw...)}
	e.messages = append(e.messages, msg)
	subs := make([]chan Message, 0, len(e.subs))
	for _, ch := range e.subs {
		subs = append(subs, ch)
	}
	e.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// slow subscriber; drop rather than block the append path.
		}
	}
	return nil
}

// Complete marks the entry completed. Per spec §9 this must be called one
// tick after the result frame is appended so every subscriber observes the
// frame before the entry is marked done; callers schedule that deferral
// (see orchestrator), not this method.
func (e *Entry) Complete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusActive {
		return
	}
	e.status = StatusCompleted
	e.CompletedAt = time.Now().UTC()
	e.closeSubsLocked()
}

// Terminate marks the entry terminated with reason (e.g. RESPONSE_TIMEOUT).
func (e *Entry) Terminate(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusActive {
		e.TerminationReason = reason
		return
	}
	e.status = StatusTerminated
	e.TerminationReason = reason
	e.CompletedAt = time.Now().UTC()
	e.closeSubsLocked()
}

func (e *Entry) closeSubsLocked() {
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}

// Snapshot returns every message appended so far, in arrival order.
func (e *Entry) Snapshot() []Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// AssistantText concatenates the text of every assistant frame appended so
// far, forming the final reply text (spec §6).
func (e *Entry) AssistantText() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out string
	for _, m := range e.messages {
		if m.Type != protocol.FrameAssistant {
			continue
		}
		f := protocol.Frame{Type: m.Type, Raw: m.Raw}
		out += f.AssistantText()
	}
	return out
}

// Subscription is a live view of an entry's message stream: Snapshot is the
// backlog at subscribe time, and Stream yields every subsequent append. The
// channel is closed once the entry completes or terminates.
type Subscription struct {
	Snapshot []Message
	Stream   <-chan Message
	cancel   func()
}

// Unsubscribe stops delivery and releases the subscriber slot.
func (s *Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe returns a snapshot of messages appended so far plus a channel
// of subsequent appends (multicast with late-subscriber replay, spec §3).
func (e *Entry) Subscribe() *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make([]Message, len(e.messages))
	copy(snapshot, e.messages)

	if e.status != StatusActive {
		closed := make(chan Message)
		close(closed)
		return &Subscription{Snapshot: snapshot, Stream: closed, cancel: func() {}}
	}

	id := e.nextSub
	e.nextSub++
	ch := make(chan Message, 64)
	e.subs[id] = ch

	return &Subscription{
		Snapshot: snapshot,
		Stream:   ch,
		cancel: func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if live, ok := e.subs[id]; ok {
				close(live)
				delete(e.subs, id)
			}
		},
	}
}
