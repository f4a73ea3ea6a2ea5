package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/halodata/querygate/internal/config"
	"github.com/halodata/querygate/internal/endpoint"
	"github.com/halodata/querygate/internal/rescache"
)

// ManagerConfig holds construction parameters for a Manager.
type ManagerConfig struct {
	// Endpoint is the gateway this manager is bound to, for its lifetime.
	Endpoint endpoint.Endpoint

	// Clients is the shared authenticated-client cache, owned by the
	// composition root and keyed by endpoint. The manager observes it and
	// never logs in by itself.
	Clients *rescache.Cache[Client]

	// Credentials performs operate-as logins, which bypass the shared
	// cache. Optional.
	Credentials CredentialProvider

	// CreationFlow is the gateway's UI-driven provisioning pathway.
	// Optional; used only when FeatureFlags advertise it.
	CreationFlow WorkerCreationFlow

	// Provision carries the defaults for direct create-query requests.
	Provision config.ProvisionConfig

	Logger *slog.Logger
}

// Manager owns one gateway endpoint's client reference, capability flags,
// and the set of ephemeral workers it has provisioned.
type Manager struct {
	ep        endpoint.Endpoint
	clients   *rescache.Cache[Client]
	creds     CredentialProvider
	flow      WorkerCreationFlow
	provision config.ProvisionConfig
	logger    *slog.Logger

	stopInvalidation func()

	mu              sync.Mutex
	client          Client
	features        *FeatureFlags
	featuresAttempt bool
	trackedSerials  map[string]struct{}
	workers         map[string]WorkerDescriptor // keyed by worker gRPC endpoint
}

// NewManager creates a manager bound to cfg.Endpoint. The manager drops its
// local client reference whenever the shared cache reports an invalidation
// for that endpoint, so the next Client call reinitializes.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		ep:             cfg.Endpoint,
		clients:        cfg.Clients,
		creds:          cfg.Credentials,
		flow:           cfg.CreationFlow,
		provision:      cfg.Provision,
		logger:         cfg.Logger,
		trackedSerials: make(map[string]struct{}),
		workers:        make(map[string]WorkerDescriptor),
	}

	m.stopInvalidation = cfg.Clients.OnInvalidate(func(ep endpoint.Endpoint) {
		if ep != m.ep {
			return
		}
		m.mu.Lock()
		m.client = nil
		m.mu.Unlock()
		m.logger.Debug("Shared client cache invalidated, local reference dropped",
			"endpoint", m.ep.String())
	})

	return m
}

// Endpoint returns the gateway this manager is bound to.
func (m *Manager) Endpoint() endpoint.Endpoint { return m.ep }

// ClientOptions controls Client acquisition.
type ClientOptions struct {
	// Initialize triggers authentication when no client is cached. With
	// Initialize false, an absent client returns nil without side effects.
	Initialize bool
	// OperateAs authenticates on behalf of another user, bypassing the
	// shared cache.
	OperateAs string
}

// Client returns the gateway client, or nil when none is available.
// Initialization failures are logged and reported as nil rather than
// errors; callers must nil-check.
func (m *Manager) Client(ctx context.Context, opts ClientOptions) Client {
	if opts.OperateAs != "" {
		if m.creds == nil {
			m.logger.Error("Operate-as requested but no credential provider configured",
				"endpoint", m.ep.String())
			return nil
		}
		c, err := m.creds.LoginAs(ctx, m.ep, opts.OperateAs)
		if err != nil {
			m.logger.Error("Failed to initialize gateway client as another user",
				"endpoint", m.ep.String(),
				"operate_as", opts.OperateAs,
				"error", err)
			return nil
		}
		return c
	}

	m.mu.Lock()
	if m.client != nil {
		c := m.client
		m.mu.Unlock()
		return c
	}
	m.mu.Unlock()

	if !opts.Initialize {
		return nil
	}

	// The shared cache guarantees at most one concurrent login per
	// endpoint; racing callers block on the same entry.
	c, err := m.clients.Get(ctx, m.ep)
	if err != nil {
		m.logger.Error("Failed to initialize gateway client",
			"endpoint", m.ep.String(),
			"error", err)
		return nil
	}

	m.fetchFeaturesOnce(ctx, c)

	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
	return c
}

// fetchFeaturesOnce retrieves FeatureFlags on the first successful client
// acquisition. Failure is logged and tolerated; the gateway stays usable
// without a capability descriptor.
func (m *Manager) fetchFeaturesOnce(ctx context.Context, c Client) {
	m.mu.Lock()
	if m.featuresAttempt {
		m.mu.Unlock()
		return
	}
	m.featuresAttempt = true
	m.mu.Unlock()

	features, err := c.FetchFeatures(ctx)
	if err != nil {
		m.logger.Warn("Failed to fetch gateway feature flags",
			"endpoint", m.ep.String(),
			"error", err)
		return
	}

	m.mu.Lock()
	m.features = features
	m.mu.Unlock()
}

// CreateWorker provisions an ephemeral worker and blocks until the gateway
// reports it running, or reports provisioning failure. There is no
// layer-imposed timeout: the wait ends on the first terminal event for the
// new query's serial, or when ctx is cancelled. A cancelled wait leaves the
// event subscription active until a terminal event arrives.
func (m *Manager) CreateWorker(ctx context.Context, tagID, consoleType string) (*WorkerDescriptor, error) {
	client := m.Client(ctx, ClientOptions{Initialize: true})
	if client == nil {
		return nil, fmt.Errorf("worker provisioning failed: no gateway client for %s", m.ep)
	}

	m.mu.Lock()
	features := m.features
	m.mu.Unlock()

	if features != nil && features.UIWorkerCreation && m.flow != nil {
		desc, err := m.flow.CreateWorker(ctx, m.ep, tagID, consoleType)
		if err != nil {
			return nil, fmt.Errorf("worker provisioning failed: %w", err)
		}
		m.adopt(*desc)
		return desc, nil
	}

	req := m.buildCreateRequest(ctx, client, tagID, consoleType)
	serial, err := client.CreateQuery(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("worker provisioning failed: %w", err)
	}

	m.mu.Lock()
	m.trackedSerials[serial] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("Worker query created, waiting for readiness",
		"endpoint", m.ep.String(),
		"serial", serial,
		"name", req.Name)

	watch := newTerminalWatch(serial)
	watch.bind(client.SubscribeQueryEvents(watch.deliver))

	var ev QueryStatusEvent
	select {
	case ev = <-watch.result:
	case <-ctx.Done():
		return nil, fmt.Errorf("worker provisioning abandoned: %w", ctx.Err())
	}

	switch ev.Status {
	case StatusRunning:
		desc := WorkerDescriptor{
			Serial:    ev.Serial,
			Name:      ev.Name,
			ProcessID: ev.ProcessID,
			GrpcURL:   ev.GrpcURL,
			IDEURL:    ev.IDEURL,
		}
		m.mu.Lock()
		m.workers[desc.GrpcURL] = desc
		m.mu.Unlock()

		m.logger.Info("Worker running",
			"serial", desc.Serial,
			"grpc_url", desc.GrpcURL,
			"process_id", desc.ProcessID)
		go m.probeWorker(desc)
		return &desc, nil

	default:
		// Failure terminal: clean up the dead query in the background.
		go m.deleteSerial(client, serial)
		return nil, fmt.Errorf("worker provisioning failed: query %s reported %s", serial, ev.Status)
	}
}

// buildCreateRequest computes provisioning defaults: heap from server
// constants, language negotiated against advertised providers, temporary
// queue with an auto-delete timer, and the websocket JVM flag.
func (m *Manager) buildCreateRequest(ctx context.Context, client Client, tagID, consoleType string) CreateQueryRequest {
	heap := m.provision.HeapGB
	providers := []string(nil)

	consts, err := client.Constants(ctx)
	if err != nil {
		m.logger.Warn("Failed to fetch server constants, using provisioning defaults",
			"endpoint", m.ep.String(),
			"error", err)
	} else {
		if consts.DefaultHeapGB > 0 {
			heap = consts.DefaultHeapGB
		}
		providers = consts.ScriptProviders
	}

	name := "querygate"
	if tagID != "" {
		name = "querygate-" + tagID
	}

	return CreateQueryRequest{
		Name:              name,
		HeapGB:            heap,
		Language:          negotiateLanguage(providers, consoleType, m.provision.FallbackLanguage),
		Queue:             m.provision.QueueName,
		AutoDeleteTimeout: m.provision.AutoDeleteTimeout,
		JVMArgs:           slices.Clone(m.provision.ExtraJVMArgs),
	}
}

// negotiateLanguage picks the preferred language when the server advertises
// it, otherwise the fallback. An empty provider list accepts the preference
// as-is.
func negotiateLanguage(providers []string, preferred, fallback string) string {
	if preferred != "" && (len(providers) == 0 || slices.Contains(providers, preferred)) {
		return preferred
	}
	if fallback != "" && (len(providers) == 0 || slices.Contains(providers, fallback)) {
		return fallback
	}
	if len(providers) > 0 {
		return providers[0]
	}
	return fallback
}

// adopt records a worker provisioned through the UI-driven flow.
func (m *Manager) adopt(desc WorkerDescriptor) {
	m.mu.Lock()
	m.trackedSerials[desc.Serial] = struct{}{}
	if desc.GrpcURL != "" {
		m.workers[desc.GrpcURL] = desc
	}
	m.mu.Unlock()
}

// DeleteWorker tears down the worker at workerURL. Unknown URLs are a
// silent no-op. The underlying query deletion is asynchronous and uses a
// non-initializing client lookup: deletion never triggers a fresh login.
func (m *Manager) DeleteWorker(ctx context.Context, workerURL string) {
	m.mu.Lock()
	desc, ok := m.workers[workerURL]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.workers, workerURL)
	delete(m.trackedSerials, desc.Serial)
	m.mu.Unlock()

	client := m.Client(ctx, ClientOptions{})
	if client == nil {
		m.logger.Warn("No gateway client available to delete worker query",
			"serial", desc.Serial)
		return
	}
	go m.deleteSerial(client, desc.Serial)
}

// deleteSerial best-effort deletes one query. Failures are logged, never
// surfaced.
func (m *Manager) deleteSerial(client Client, serial string) {
	if err := client.DeleteQueries(context.Background(), serial); err != nil {
		m.logger.Warn("Failed to delete worker query",
			"endpoint", m.ep.String(),
			"serial", serial,
			"error", err)
	}
}

// WorkerInfo returns the descriptor for workerURL, if tracked.
func (m *Manager) WorkerInfo(workerURL string) (WorkerDescriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc, ok := m.workers[workerURL]
	return desc, ok
}

// Workers returns every tracked worker descriptor.
func (m *Manager) Workers() []WorkerDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WorkerDescriptor, 0, len(m.workers))
	for _, desc := range m.workers {
		out = append(out, desc)
	}
	return out
}

// Dispose snapshots and clears the tracked serial set, then issues one
// batched deletion for all of them, whether or not their descriptors are
// still in the worker directory. Deletion failure is logged, not surfaced.
func (m *Manager) Dispose(ctx context.Context) {
	m.stopInvalidation()

	m.mu.Lock()
	serials := make([]string, 0, len(m.trackedSerials))
	for serial := range m.trackedSerials {
		serials = append(serials, serial)
	}
	m.trackedSerials = make(map[string]struct{})
	m.workers = make(map[string]WorkerDescriptor)
	client := m.client
	m.mu.Unlock()

	if len(serials) == 0 {
		return
	}
	if client == nil {
		m.logger.Warn("No gateway client available at dispose, leaking queries to the auto-delete timer",
			"endpoint", m.ep.String(),
			"serials", len(serials))
		return
	}
	if err := client.DeleteQueries(ctx, serials...); err != nil {
		m.logger.Warn("Batched worker deletion failed",
			"endpoint", m.ep.String(),
			"serials", len(serials),
			"error", err)
	}
}

// probeWorker best-effort checks the fresh worker's gRPC endpoint with the
// standard health service.
func (m *Manager) probeWorker(desc WorkerDescriptor) {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultProbeTimeout)
	defer cancel()

	if err := ProbeGRPC(ctx, desc.GrpcURL); err != nil {
		m.logger.Warn("Worker gRPC endpoint failed health probe",
			"serial", desc.Serial,
			"grpc_url", desc.GrpcURL,
			"error", err)
		return
	}
	m.logger.Debug("Worker gRPC endpoint healthy",
		"serial", desc.Serial,
		"grpc_url", desc.GrpcURL)
}
