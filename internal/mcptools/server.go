// Package mcptools exposes the Orchestrator's operations as MCP JSON-RPC
// tools (spec §6 "Caller interface"), wired over both SSE and Streamable
// HTTP transports the same way the rest of the mark3labs/mcp-go-based
// tooling in this codebase does.
package mcptools

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/orchestrator"
)

// Config holds the MCP server's listen configuration.
type Config struct {
	Port int
}

// Server wraps the SSE and Streamable HTTP transports over one
// Orchestrator with lifecycle management.
type Server struct {
	cfg                  Config
	orch                 *orchestrator.Orchestrator
	log                  *logger.Logger
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server

	mu      sync.Mutex
	running bool
}

// New creates an MCP tool server bound to orch.
func New(cfg Config, orch *orchestrator.Orchestrator, log *logger.Logger) *Server {
	return &Server{cfg: cfg, orch: orch, log: log}
}

// Start registers every tool and begins serving SSE (/sse, /message) and
// Streamable HTTP (/mcp) on the configured port. It returns once the
// listener is live.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("mcp server already running")
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer(
		"iris",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	registerTools(mcpServer, s.orch, s.log)

	s.sseServer = server.NewSSEServer(mcpServer)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.streamableHTTPServer)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.log.Info("mcp server listening", zap.Int("port", s.cfg.Port))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("mcp server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down both transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown mcp http server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.log.Warn("failed to shutdown sse server", zap.Error(err))
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil {
			s.log.Warn("failed to shutdown streamable http server", zap.Error(err))
		}
	}
	return nil
}
