// Package transport implements the Transport capability contract (spec
// §4.2): LocalTransport spawns a child via argv, SSHTransport wraps the
// same contract around a local ssh invocation. Neither implementation
// interprets protocol semantics beyond init/result detection — a Transport
// is a dumb pipe that appends every well-formed frame to its currently
// assigned cache entry.
package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/iris-mcp/iris/internal/cache"
)

// Status is the Transport lifecycle (spec §3).
type Status string

const (
	StatusStopped     Status = "STOPPED"
	StatusSpawning    Status = "SPAWNING"
	StatusReady       Status = "READY"
	StatusBusy        Status = "BUSY"
	StatusTerminating Status = "TERMINATING"
	StatusError       Status = "ERROR"
)

// CommandInfo carries what a Transport needs to launch a child (spec
// §4.2): the executable, its argv, and the working directory.
type CommandInfo struct {
	Executable string
	Args       []string
	WorkDir    string
}

// StatusEvent is published on a Transport's status stream.
type StatusEvent struct {
	Status Status
	At     time.Time
}

// ErrorEvent is published on a Transport's error stream (e.g. a stderr
// pattern match per spec §4.2).
type ErrorEvent struct {
	Message string
	At      time.Time
}

// Transport is the capability contract both LocalTransport and
// SSHTransport fulfill (spec §4.2).
type Transport interface {
	// Spawn opens the child, writes a synthetic ping derived from
	// spawnEntry.TellString, and waits up to spawnTimeout for the
	// system/init handshake followed by a result frame before returning.
	// Every frame observed before readiness is appended to spawnEntry.
	Spawn(ctx context.Context, spawnEntry *cache.Entry, cmd CommandInfo, spawnTimeout time.Duration) error

	// ExecuteTell pins tellEntry as the in-flight entry, transitions to
	// BUSY, and writes tellEntry.TellString as a user frame. Non-blocking:
	// returns as soon as the write completes. Precondition: status READY
	// and no other entry in flight (InvalidStateError otherwise).
	ExecuteTell(tellEntry *cache.Entry) error

	// Terminate transitions TERMINATING, closes stdin, waits up to a
	// grace period, then force-kills. Always ends STOPPED.
	Terminate(ctx context.Context) error

	// Cancel writes a single ESC byte and clears the in-flight pointer.
	// Best-effort; the child may or may not honour it.
	Cancel() error

	Status() Status
	StatusStream() <-chan StatusEvent
	ErrorStream() <-chan ErrorEvent

	InFlightEntry() *cache.Entry

	PID() int
	IsReady() bool
	IsBusy() bool
	MessagesProcessed() int64
	LastResponseAt() time.Time
	Uptime() time.Duration
	LaunchCommand() string
}

// statusHolder is the shared atomic-status bookkeeping both
// implementations embed, grounded on the teacher's atomic.Value status
// field (process.Manager).
type statusHolder struct {
	status atomic.Value // Status
}

func (s *statusHolder) load() Status {
	v, _ := s.status.Load().(Status)
	if v == "" {
		return StatusStopped
	}
	return v
}

func (s *statusHolder) store(st Status) {
	s.status.Store(st)
}
