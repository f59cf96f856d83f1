// Package eventbus publishes the pool and permission lifecycle events
// (spec §4.4, §4.5): PROCESS_SPAWNED/TERMINATED/ERROR and
// PERMISSION_PENDING/RESOLVED. A MemoryBus backs single-node deployments;
// a NATSBus lets multiple Iris instances share events.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event subject names Iris publishes (spec §4.4's pool mirroring and
// §4.5's permission flow).
const (
	SubjectProcessSpawned     = "iris.process.spawned"
	SubjectProcessTerminated  = "iris.process.terminated"
	SubjectProcessError       = "iris.process.error"
	SubjectPermissionPending  = "iris.permission.pending"
	SubjectPermissionResolved = "iris.permission.resolved"
)

// Event is a single message published on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a fresh id and timestamp onto an event body.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, event *Event) error

// Subscription is a live registration returned by Subscribe/QueueSubscribe.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus is the transport-agnostic event bus contract; Iris talks to
// whichever implementation config selects without knowing which one it
// got.
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
