package orchestrator

import (
	"context"

	"github.com/iris-mcp/iris/internal/cache"
	"github.com/iris-mcp/iris/internal/session"
	"github.com/iris-mcp/iris/internal/teams"
	"github.com/iris-mcp/iris/internal/transport"
)

// TeamStatus summarizes one team's wake state for team_status/list_teams.
type TeamStatus struct {
	Team   teams.Team `json:"team"`
	Awake  bool       `json:"awake"`
	Status string     `json:"status"`
}

// TeamStatus reports whether fromTeam currently has a live, ready
// transport to toTeam.
func (o *Orchestrator) TeamStatus(from, to string) (*TeamStatus, error) {
	team, err := o.catalog.Get(to)
	if err != nil {
		return nil, err
	}
	status := "stopped"
	awake := false
	if tr, ok := o.pool.GetProcess(teams.Key(from, to)); ok {
		status = string(tr.Status())
		awake = tr.Status() == transport.StatusReady
	}
	return &TeamStatus{Team: team, Awake: awake, Status: status}, nil
}

// ListTeams returns every configured team.
func (o *Orchestrator) ListTeams() []teams.Team {
	return o.catalog.List()
}

// TeamWake spawns (if not already live) the transport from fromTeam to
// toTeam without dispatching a tell.
func (o *Orchestrator) TeamWake(ctx context.Context, from, to string) error {
	if err := validatePair(from, to); err != nil {
		return err
	}
	team, err := o.catalog.Get(to)
	if err != nil {
		return err
	}
	sess, err := o.store.GetOrCreateSession(ctx, from, to)
	if err != nil {
		return err
	}
	mc := o.getOrCreateCache(sess.ID)
	if err := o.store.UpdateProcessState(ctx, sess.ID, session.StateSpawning); err != nil {
		return err
	}
	if _, err := o.pool.GetOrCreateProcess(ctx, team, from, sess.ID, mc, "ping"); err != nil {
		_ = o.store.UpdateProcessState(ctx, sess.ID, session.StateStopped)
		return err
	}
	return o.store.UpdateProcessState(ctx, sess.ID, session.StateIdle)
}

// TeamWakeAll wakes every configured team from fromTeam.
func (o *Orchestrator) TeamWakeAll(ctx context.Context, from string) map[string]error {
	results := make(map[string]error)
	for _, team := range o.catalog.List() {
		if team.Name == from {
			continue
		}
		results[team.Name] = o.TeamWake(ctx, from, team.Name)
	}
	return results
}

// TeamSleep terminates the transport from fromTeam to toTeam, if any.
func (o *Orchestrator) TeamSleep(ctx context.Context, from, to string) error {
	if err := validatePair(from, to); err != nil {
		return err
	}
	return o.pool.TerminateProcess(ctx, teams.Key(from, to))
}

// SessionReport returns a session's MessageCache statistics and recent
// messages for the session_report MCP tool.
func (o *Orchestrator) SessionReport(ctx context.Context, from, to string, recentN int) (*SessionReportResult, error) {
	if err := validatePair(from, to); err != nil {
		return nil, err
	}
	sess, err := o.store.GetSession(ctx, from, to)
	if err != nil {
		return nil, err
	}
	mc, ok := o.GetCache(sess.ID)
	if !ok {
		return &SessionReportResult{SessionID: sess.ID}, nil
	}
	return &SessionReportResult{
		SessionID: sess.ID,
		Stats:     mc.GetStats(),
		Recent:    mc.GetRecentMessages(recentN),
	}, nil
}

// SessionReportResult is the session_report MCP tool's payload.
type SessionReportResult struct {
	SessionID string        `json:"sessionId"`
	Stats     cache.Stats   `json:"stats"`
	Recent    []cache.Message `json:"recent"`
}
