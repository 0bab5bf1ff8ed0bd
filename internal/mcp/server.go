package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/kbsync/internal/config"
	"github.com/dshills/kbsync/internal/project"
	"github.com/dshills/kbsync/internal/watcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "kbsync"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	cfg      *config.Config
	logger   *slog.Logger
	watchers *watcher.Manager
	opts     []project.Option

	mu       sync.Mutex
	projects map[string]*project.Service
}

// NewServer creates a new MCP server instance. Projects are opened on first
// use and share one file watcher.
func NewServer(cfg *config.Config, logger *slog.Logger, opts ...project.Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		cfg:      cfg,
		logger:   logger,
		watchers: watcher.NewManager(logger),
		projects: make(map[string]*project.Service),
	}
	s.opts = append([]project.Option{project.WithLogger(logger), project.WithWatchers(s.watchers)}, opts...)

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.Close() }()
	return server.ServeStdio(s.mcp)
}

// Close stops watching and closes every open project
func (s *Server) Close() error {
	s.mu.Lock()
	projects := s.projects
	s.projects = make(map[string]*project.Service)
	s.mu.Unlock()

	errs := []error{s.watchers.StopWatching()}
	for _, p := range projects {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// project returns the open service of id, opening it on first use
func (s *Server) project(id string) (*project.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		return p, nil
	}
	p, err := project.Open(s.cfg, id, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", id, err)
	}
	s.projects[id] = p
	return p, nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexSourceTool(), s.handleIndexSource)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(clearIndexTool(), s.handleClearIndex)
	s.mcp.AddTool(startWatchingTool(), s.handleStartWatching)
	s.mcp.AddTool(stopWatchingTool(), s.handleStopWatching)
}
