package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iris-mcp/iris/internal/eventbus"
	"github.com/iris-mcp/iris/internal/teams"
)

// PermissionResult is permission()'s return shape (spec §4.5).
type PermissionResult struct {
	Allow   bool
	Mode    teams.PermissionMode
	Message string
}

type pendingPermission struct {
	resolve chan bool
}

// permissionRegistry tracks in-flight "ask" permission requests awaiting a
// permissions__approve call.
type permissionRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingPermission
}

func newPermissionRegistry() *permissionRegistry {
	return &permissionRegistry{pending: make(map[string]*pendingPermission)}
}

func (r *permissionRegistry) register(id string) *pendingPermission {
	p := &pendingPermission{resolve: make(chan bool, 1)}
	r.mu.Lock()
	r.pending[id] = p
	r.mu.Unlock()
	return p
}

func (r *permissionRegistry) resolve(id string, allow bool) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve <- allow
	return true
}

func (r *permissionRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pending {
		close(p.resolve)
		delete(r.pending, id)
	}
}

// Permission resolves a tool-use request against team toTeam's configured
// grantPermission policy (spec §4.5).
func (o *Orchestrator) Permission(ctx context.Context, sessionID, toTeam, tool, input, reason string) (*PermissionResult, error) {
	team, err := o.catalog.Get(toTeam)
	if err != nil {
		return nil, err
	}

	switch team.Permission {
	case teams.PermissionYes:
		return &PermissionResult{Allow: true, Mode: team.Permission}, nil
	case teams.PermissionNo:
		return &PermissionResult{Allow: false, Mode: team.Permission}, nil
	case teams.PermissionForward:
		return &PermissionResult{Allow: false, Mode: team.Permission, Message: "not implemented"}, nil
	case teams.PermissionAsk:
		return o.awaitPermission(ctx, sessionID, tool, input, reason)
	}
	return &PermissionResult{Allow: false, Mode: team.Permission}, nil
}

func (o *Orchestrator) awaitPermission(ctx context.Context, sessionID, tool, input, reason string) (*PermissionResult, error) {
	requestID := uuid.New().String()
	pending := o.permissions.register(requestID)

	o.publishPermission(eventbus.SubjectPermissionPending, requestID, sessionID, tool, input, reason)

	timer := time.NewTimer(o.timeouts.PermissionTimeout)
	defer timer.Stop()

	select {
	case allow, ok := <-pending.resolve:
		if !ok {
			return &PermissionResult{Allow: false, Mode: teams.PermissionAsk, Message: "orchestrator shutting down"}, nil
		}
		o.publishPermission(eventbus.SubjectPermissionResolved, requestID, sessionID, tool, input, reason)
		return &PermissionResult{Allow: allow, Mode: teams.PermissionAsk}, nil
	case <-timer.C:
		o.permissions.resolve(requestID, false)
		return &PermissionResult{Allow: false, Mode: teams.PermissionAsk, Message: "permission request timed out, default deny"}, nil
	case <-ctx.Done():
		o.permissions.resolve(requestID, false)
		return nil, ctx.Err()
	}
}

// ResolvePermission is the permissions__approve MCP tool's entry point.
func (o *Orchestrator) ResolvePermission(requestID string, allow bool) bool {
	return o.permissions.resolve(requestID, allow)
}

func (o *Orchestrator) publishPermission(subject, requestID, sessionID, tool, input, reason string) {
	_ = o.bus.Publish(context.Background(), subject, eventbus.NewEvent(subject, "orchestrator", map[string]interface{}{
		"requestId": requestID,
		"sessionId": sessionID,
		"tool":      tool,
		"input":     input,
		"reason":    reason,
	}))
}
