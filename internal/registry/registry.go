// Package registry tracks the known analytics servers and the live
// connections established to them. The connection resolver reads it; the
// connect action and the worker lifecycle manager write to it.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/halodata/querygate/internal/endpoint"
)

// ServerKind distinguishes how a server is attached to.
type ServerKind string

const (
	// KindGateway is a managed server requiring interactive authentication
	// and a provisioning queue for ephemeral compute workers.
	KindGateway ServerKind = "gateway"
	// KindDirect is a server connectable without a provisioning queue.
	KindDirect ServerKind = "direct"
)

// ServerDescriptor describes one configured server.
type ServerDescriptor struct {
	Label    string
	Endpoint endpoint.Endpoint
	Kind     ServerKind
	Running  bool
}

// Connection is an active session bound to one server endpoint.
type Connection interface {
	Endpoint() endpoint.Endpoint
	// CanRunCode reports whether this connection supports code execution.
	CanRunCode() bool
	RunCode(ctx context.Context, code, language string) (string, error)
}

// SerialProvider is implemented by gateway-backed connections that carry a
// session-scoped worker serial, embedded in panel URL paths.
type SerialProvider interface {
	WorkerSerial() string
}

// TokenProvider is implemented by directly-addressable connections that can
// mint a short-lived access token, embedded in panel URL query parameters.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Connector establishes a new connection for a directly-addressable
// endpoint and registers it. The resolver invokes it at most once per
// resolution attempt; gateway endpoints never go through it.
type Connector interface {
	Connect(ctx context.Context, ep endpoint.Endpoint) error
}

// Registry is the in-memory server/connection registry. Server order is
// preserved from configuration; the resolver's first-match tie-break relies
// on it.
type Registry struct {
	mu      sync.RWMutex
	servers []ServerDescriptor
	conns   map[string][]Connection
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string][]Connection),
		logger: logger,
	}
}

// SetServers replaces the server list, keeping order. Connections are left
// untouched; a reload never drops live sessions.
func (r *Registry) SetServers(servers []ServerDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.servers = make([]ServerDescriptor, len(servers))
	copy(r.servers, servers)
	r.logger.Debug("Server list replaced", "count", len(servers))
}

// Servers returns the configured servers in registration order.
func (r *Registry) Servers() []ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerDescriptor, len(r.servers))
	copy(out, r.servers)
	return out
}

// SetRunning updates the running flag of the server at ep, if configured.
func (r *Registry) SetRunning(ep endpoint.Endpoint, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.servers {
		if r.servers[i].Endpoint == ep {
			r.servers[i].Running = running
			return
		}
	}
}

// RegisterConnection adds a live connection, keyed by its own endpoint.
func (r *Registry) RegisterConnection(c Connection) {
	key := c.Endpoint().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[key] = append(r.conns[key], c)
	r.logger.Info("Connection registered", "endpoint", key)
}

// UnregisterConnection removes a previously registered connection.
func (r *Registry) UnregisterConnection(c Connection) {
	key := c.Endpoint().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.conns[key]
	for i, existing := range conns {
		if existing == c {
			r.conns[key] = append(conns[:i], conns[i+1:]...)
			if len(r.conns[key]) == 0 {
				delete(r.conns, key)
			}
			r.logger.Info("Connection unregistered", "endpoint", key)
			return
		}
	}
}

// ConnectionsFor returns the live connections for ep in registration order.
func (r *Registry) ConnectionsFor(ep endpoint.Endpoint) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.conns[ep.String()]
	out := make([]Connection, len(conns))
	copy(out, conns)
	return out
}

// Refresh probes every configured server with a TCP dial and updates its
// running flag. Probes run sequentially; the registry is small.
func (r *Registry) Refresh(ctx context.Context, timeout time.Duration) {
	for _, desc := range r.Servers() {
		running := probe(ctx, desc.Endpoint, timeout)
		r.SetRunning(desc.Endpoint, running)
		r.logger.Debug("Server probed",
			"endpoint", desc.Endpoint.String(),
			"running", running)
	}
}

func probe(ctx context.Context, ep endpoint.Endpoint, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", ep.HostPort())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ParseKind validates a configured server kind string.
func ParseKind(raw string) (ServerKind, error) {
	switch ServerKind(raw) {
	case KindGateway:
		return KindGateway, nil
	case KindDirect:
		return KindDirect, nil
	default:
		return "", fmt.Errorf("unknown server kind %q (want %q or %q)", raw, KindGateway, KindDirect)
	}
}
