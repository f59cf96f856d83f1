// Package orchestrator implements the dispatcher (spec §4.5): it ties
// SessionStore, ProcessPool, and MessageCache together, drives the
// two-timeout sendMessage state machine, and exposes the administrative
// operations (reboot, delete, fork, permission) the MCP tool surface calls
// into.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/iris-mcp/iris/internal/cache"
	"github.com/iris-mcp/iris/internal/common/ierrors"
	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/eventbus"
	"github.com/iris-mcp/iris/internal/pool"
	"github.com/iris-mcp/iris/internal/session"
	"github.com/iris-mcp/iris/internal/teams"
	"github.com/iris-mcp/iris/internal/transport"
)

// Timeouts bundles every duration the dispatcher needs (spec §4.1/§4.5,
// config.TimeoutConfig).
type Timeouts struct {
	SpawnTimeout       time.Duration
	SessionInitTimeout time.Duration
	ResponseTimeout    time.Duration
	PermissionTimeout  time.Duration
	TerminateGrace     time.Duration
}

// Orchestrator is the dispatcher described in spec §4.5.
type Orchestrator struct {
	store    session.Store
	pool     *pool.Pool
	catalog  *teams.Catalog
	bus      eventbus.Bus
	log      *logger.Logger
	timeouts Timeouts
	tracer   trace.Tracer

	mu     sync.Mutex
	caches map[string]*cache.MessageCache // sessionID -> cache

	permissions *permissionRegistry
}

// New wires an Orchestrator over already-constructed collaborators. It
// starts with a no-op tracer (spec §4.11); use WithTracer to set a real one
// after construction.
func New(store session.Store, p *pool.Pool, catalog *teams.Catalog, bus eventbus.Bus, timeouts Timeouts, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:       store,
		pool:        p,
		catalog:     catalog,
		bus:         bus,
		timeouts:    timeouts,
		log:         log,
		tracer:      noop.NewTracerProvider().Tracer("iris/orchestrator"),
		caches:      make(map[string]*cache.MessageCache),
		permissions: newPermissionRegistry(),
	}
}

// WithTracer replaces the Orchestrator's tracer (spec §4.11). Returns o for
// chaining at construction time in cmd/iris.
func (o *Orchestrator) WithTracer(tracer trace.Tracer) *Orchestrator {
	if tracer != nil {
		o.tracer = tracer
	}
	return o
}

func (o *Orchestrator) getOrCreateCache(sessionID string) *cache.MessageCache {
	o.mu.Lock()
	defer o.mu.Unlock()
	mc, ok := o.caches[sessionID]
	if !ok {
		mc = cache.New(sessionID)
		o.caches[sessionID] = mc
	}
	return mc
}

// GetCache exposes a session's MessageCache for debug/report endpoints.
func (o *Orchestrator) GetCache(sessionID string) (*cache.MessageCache, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	mc, ok := o.caches[sessionID]
	return mc, ok
}

func validatePair(from, to string) error {
	if err := teams.ValidateName(from); err != nil {
		return err
	}
	if err := teams.ValidateName(to); err != nil {
		return err
	}
	return nil
}

// SendMessage implements spec §4.5's sendMessage state machine.
func (o *Orchestrator) SendMessage(ctx context.Context, from, to, text string, timeout time.Duration) (*SendResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.sendMessage", trace.WithAttributes(
		attribute.String("from_team", from),
		attribute.String("to_team", to),
	))
	defer span.End()

	if err := validatePair(from, to); err != nil {
		span.RecordError(err)
		return nil, err
	}

	sess, err := o.store.GetOrCreateSession(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("getOrCreateSession: %w", err)
	}
	span.SetAttributes(attribute.String("session_id", sess.ID))

	switch sess.ProcessState {
	case session.StateProcessing:
		current := ""
		if sess.CurrentCacheEntry != nil {
			current = *sess.CurrentCacheEntry
		}
		return &SendResult{Status: StatusBusy, Message: "a tell is already in flight for this session", SessionID: sess.ID, CurrentCacheEntryID: current}, nil
	case session.StateSpawning:
		return &SendResult{Status: StatusSpawning, Message: "transport is still spawning", SessionID: sess.ID}, nil
	}

	team, err := o.catalog.Get(to)
	if err != nil {
		return nil, err
	}

	mc := o.getOrCreateCache(sess.ID)

	if err := o.store.UpdateProcessState(ctx, sess.ID, session.StateSpawning); err != nil {
		return nil, err
	}
	tr, err := o.pool.GetOrCreateProcess(ctx, team, from, sess.ID, mc, "ping")
	if err != nil {
		_ = o.store.UpdateProcessState(ctx, sess.ID, session.StateStopped)
		return nil, err
	}

	entry := mc.CreateEntry(cache.EntryTell, text)

	if err := o.store.UpdateProcessState(ctx, sess.ID, session.StateProcessing); err != nil {
		return nil, err
	}
	entryID := entry.ID
	if err := o.store.SetCurrentCacheEntry(ctx, sess.ID, &entryID); err != nil {
		return nil, err
	}

	watch := o.watchTell(sess.ID, team, from, entry)

	if err := tr.ExecuteTell(entry); err != nil {
		watch.cancel()
		_ = o.store.UpdateProcessState(ctx, sess.ID, session.StateIdle)
		_ = o.store.SetCurrentCacheEntry(ctx, sess.ID, nil)
		return nil, err
	}

	_ = o.store.IncrementMessageCount(ctx, sess.ID)
	_ = o.store.RecordUsage(ctx, sess.ID)

	switch {
	case timeout < 0:
		return &SendResult{Status: StatusAsync, SessionID: sess.ID, Message: "tell dispatched asynchronously"}, nil
	case timeout == 0:
		<-watch.done
		return watch.result(entry), nil
	default:
		select {
		case <-watch.done:
			return watch.result(entry), nil
		case <-time.After(timeout):
			return &SendResult{
				Status:          StatusMCPTimeout,
				SessionID:       sess.ID,
				Message:         "caller timeout elapsed; the tell is still running and fully cached",
				PartialResponse: entry.AssistantText(),
				RawMessages:     entry.Snapshot(),
			}, nil
		}
	}
}

// Ask is sendMessage with timeout=0 (wait indefinitely), the ask_message
// MCP tool's hard-wired behavior.
func (o *Orchestrator) Ask(ctx context.Context, from, to, text string) (*SendResult, error) {
	return o.SendMessage(ctx, from, to, text, 0)
}

// IsAwake reports whether a Transport is registered for the pair and is
// READY and not BUSY (spec §4.5).
func (o *Orchestrator) IsAwake(from, to string) bool {
	tr, ok := o.pool.GetProcess(teams.Key(from, to))
	if !ok {
		return false
	}
	return tr.Status() == transport.StatusReady
}

// Reboot terminates the Transport, deletes the session row and artifacts,
// and returns a fresh session that will spawn lazily on the next send
// (spec §4.5).
func (o *Orchestrator) Reboot(ctx context.Context, from, to string) (*session.Session, error) {
	if err := validatePair(from, to); err != nil {
		return nil, err
	}
	sess, err := o.store.GetSession(ctx, from, to)
	if err == nil {
		_ = o.pool.TerminateProcess(ctx, teams.Key(from, to))
		if err := o.store.DeleteSession(ctx, sess.ID, true); err != nil {
			return nil, err
		}
		o.dropCache(sess.ID)
	}
	return o.store.GetOrCreateSession(ctx, from, to)
}

// DeleteSession is Reboot without pre-creating the replacement (spec
// §4.5).
func (o *Orchestrator) DeleteSession(ctx context.Context, from, to string) error {
	if err := validatePair(from, to); err != nil {
		return err
	}
	sess, err := o.store.GetSession(ctx, from, to)
	if err != nil {
		return nil
	}
	_ = o.pool.TerminateProcess(ctx, teams.Key(from, to))
	o.dropCache(sess.ID)
	return o.store.DeleteSession(ctx, sess.ID, true)
}

func (o *Orchestrator) dropCache(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.caches, sessionID)
}

// Fork emits the command line needed to open the same session in a new
// terminal; no state change (spec §4.5).
func (o *Orchestrator) Fork(ctx context.Context, from, to string) (string, error) {
	if err := validatePair(from, to); err != nil {
		return "", err
	}
	sess, err := o.store.GetSession(ctx, from, to)
	if err != nil {
		return "", err
	}
	team, err := o.catalog.Get(to)
	if err != nil {
		return "", err
	}
	if team.IsRemote() {
		return fmt.Sprintf("ssh %s -t 'cd %s && claude --resume %s'", team.Remote.Host, team.LocalPath, sess.ID), nil
	}
	return fmt.Sprintf("cd %s && claude --resume %s", team.LocalPath, sess.ID), nil
}

// SessionCancel issues a best-effort transport cancel for the pair.
func (o *Orchestrator) SessionCancel(from, to string) error {
	tr, ok := o.pool.GetProcess(teams.Key(from, to))
	if !ok {
		return ierrors.InvalidState("no active transport for %s→%s", from, to)
	}
	return tr.Cancel()
}

// Shutdown releases pending permission requests (they resolve as denied),
// terminates every transport in parallel, and closes the session store
// (spec §5 shutdown sequence). In-flight tell watches are not stopped
// here: each one ends when its entry completes or its response timer fires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.permissions.closeAll()
	o.pool.TerminateAll(ctx)
	return o.store.Close()
}

func (o *Orchestrator) publishProcessError(key string, err error) {
	o.log.Error("transport error", zap.String("key", key), zap.Error(err))
}
