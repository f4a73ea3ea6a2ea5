// Package toolserver exposes querygate's tool-facing operations as MCP
// tools for AI-assistant clients. It is thin glue over the resolver and the
// worker lifecycle managers.
package toolserver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/halodata/querygate/internal/endpoint"
	"github.com/halodata/querygate/internal/gateway"
	"github.com/halodata/querygate/internal/keyedstore"
	"github.com/halodata/querygate/internal/registry"
	"github.com/halodata/querygate/internal/resolver"
)

const (
	toolListServers  = "list_servers"
	toolRunCode      = "run_code"
	toolCreateWorker = "create_worker"
	toolDeleteWorker = "delete_worker"
	toolWorkerInfo   = "worker_info"
)

// Config holds identification for the MCP server.
type Config struct {
	Name    string
	Version string
}

// Deps are the collaborators the tool layer glues together.
type Deps struct {
	Registry *registry.Registry
	Resolver *resolver.Resolver
	// NewManager builds a lifecycle manager for one gateway endpoint.
	// Managers are created lazily and cached per endpoint.
	NewManager func(ep endpoint.Endpoint) *gateway.Manager
	Logger     *slog.Logger
}

// Server wraps the mcp-go server with querygate's tools.
type Server struct {
	server   *server.MCPServer
	registry *registry.Registry
	resolver *resolver.Resolver

	newManager func(ep endpoint.Endpoint) *gateway.Manager
	managerMu  sync.Mutex
	managers   *keyedstore.Store[endpoint.Endpoint, *gateway.Manager]

	logger *slog.Logger
}

// New creates and configures the MCP server.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		server:     mcpServer,
		registry:   deps.Registry,
		resolver:   deps.Resolver,
		newManager: deps.NewManager,
		managers:   keyedstore.NewEndpointStore[*gateway.Manager](),
		logger:     deps.Logger,
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving the MCP protocol over stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.server)
}

// managerFor returns the lifecycle manager for ep, creating it on first
// use. Each manager stays bound to its endpoint for the server's lifetime.
func (s *Server) managerFor(ep endpoint.Endpoint) *gateway.Manager {
	s.managerMu.Lock()
	defer s.managerMu.Unlock()

	if m, ok := s.managers.Get(ep); ok {
		return m
	}
	m := s.newManager(ep)
	s.managers.Set(ep, m)
	return m
}

// existingManager returns the manager for ep only if one was already
// created; deletion paths never spawn managers.
func (s *Server) existingManager(ep endpoint.Endpoint) (*gateway.Manager, bool) {
	s.managerMu.Lock()
	defer s.managerMu.Unlock()
	return s.managers.Get(ep)
}

// Dispose tears down every manager, deleting their provisioned workers.
func (s *Server) Dispose(ctx context.Context) {
	s.managerMu.Lock()
	managers := s.managers.Values()
	s.managers.Clear()
	s.managerMu.Unlock()

	for _, m := range managers {
		m.Dispose(ctx)
	}
}
