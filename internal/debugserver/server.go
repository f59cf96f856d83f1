// Package debugserver exposes read-only observability endpoints over the
// Orchestrator: team/session listings and a WebSocket tail of a session's
// live cache entry (spec §4.9). It never mutates orchestrator state.
package debugserver

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/orchestrator"
	"github.com/iris-mcp/iris/internal/session"
)

// Config holds the debug server's listen configuration.
type Config struct {
	Port int
}

// Server wraps a gin router over an Orchestrator and SessionStore.
type Server struct {
	cfg    Config
	orch   *orchestrator.Orchestrator
	store  session.Store
	log    *logger.Logger
	engine *gin.Engine
	http   *http.Server
}

// New builds a debug server. orch and store are read-only collaborators:
// no handler here calls a mutating Orchestrator or Store method.
func New(cfg Config, orch *orchestrator.Orchestrator, store session.Store, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{cfg: cfg, orch: orch, store: store, log: log, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/teams", s.handleListTeams)
	s.engine.GET("/sessions", s.handleListSessions)
	s.engine.GET("/sessions/:id", s.handleGetSession)
	s.engine.GET("/sessions/:id/stream", s.handleStream)
}

// Start binds the listener, then serves in a background goroutine. It
// returns once the listener is live, or immediately on a bind failure.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.http = &http.Server{Handler: s.engine}
	go func() {
		s.log.Info("debug server listening", zap.String("addr", listener.Addr().String()))
		if err := s.http.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("debug server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListTeams returns the team catalog, each entry annotated with the
// awake status of every (fromTeam,toTeam) pair that has a session row.
func (s *Server) handleListTeams(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context(), session.Filter{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type pairStatus struct {
		FromTeam string `json:"fromTeam"`
		IsAwake  bool   `json:"isAwake"`
	}
	awakeByTeam := make(map[string][]pairStatus)
	for _, sess := range sessions {
		awakeByTeam[sess.ToTeam] = append(awakeByTeam[sess.ToTeam], pairStatus{
			FromTeam: sess.FromTeam,
			IsAwake:  s.orch.IsAwake(sess.FromTeam, sess.ToTeam),
		})
	}

	teams := s.orch.ListTeams()
	out := make([]gin.H, 0, len(teams))
	for _, t := range teams {
		out = append(out, gin.H{"team": t, "pairs": awakeByTeam[t.Name]})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListSessions(c *gin.Context) {
	filter := session.Filter{}
	if from := c.Query("fromTeam"); from != "" {
		filter.FromTeam = &from
	}
	if to := c.Query("toTeam"); to != "" {
		filter.ToTeam = &to
	}
	sessions, err := s.store.ListSessions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.store.GetSessionByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{"session": sess}
	if mc, ok := s.orch.GetCache(sess.ID); ok {
		body["stats"] = mc.GetStats()
	}
	c.JSON(http.StatusOK, body)
}
