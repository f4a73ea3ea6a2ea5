// Package gateway manages authenticated sessions against gateway servers
// and the lifecycle of the ephemeral compute workers provisioned on them.
package gateway

import (
	"context"
	"time"

	"github.com/halodata/querygate/internal/endpoint"
)

// FeatureFlags is the best-effort capability descriptor fetched once per
// gateway. Absence of any flag is tolerated; a gateway that cannot report
// features is still usable.
type FeatureFlags struct {
	// UIWorkerCreation advertises the gateway's own UI-driven worker
	// creation flow; when set, provisioning delegates to it.
	UIWorkerCreation bool `json:"uiWorkerCreation"`
	// Version is the gateway's reported version string.
	Version string `json:"version"`
}

// ServerConstants carries the gateway's provisioning defaults.
type ServerConstants struct {
	// DefaultHeapGB is the server's default worker heap, 0 when unset.
	DefaultHeapGB float64 `json:"defaultHeapGb"`
	// ScriptProviders lists the script languages the gateway can host.
	ScriptProviders []string `json:"scriptProviders"`
}

// CreateQueryRequest describes one ephemeral worker to provision.
type CreateQueryRequest struct {
	Name              string
	HeapGB            float64
	Language          string
	Queue             string
	AutoDeleteTimeout time.Duration
	JVMArgs           []string
}

// WorkerDescriptor describes a provisioned worker once the gateway reports
// it running.
type WorkerDescriptor struct {
	Serial    string
	Name      string
	ProcessID string
	GrpcURL   string
	IDEURL    string
}

// Client is an authenticated session against one gateway. Implementations
// wrap the gateway's own RPC surface; this package never depends on a
// particular wire protocol.
type Client interface {
	Endpoint() endpoint.Endpoint

	// FetchFeatures retrieves the capability descriptor.
	FetchFeatures(ctx context.Context) (*FeatureFlags, error)

	// Constants retrieves the gateway's provisioning defaults.
	Constants(ctx context.Context) (*ServerConstants, error)

	// CreateQuery submits a worker provisioning request and returns its
	// server-assigned serial. Readiness arrives later on the event stream.
	CreateQuery(ctx context.Context, req CreateQueryRequest) (string, error)

	// DeleteQueries deletes the given queries in one batched request.
	DeleteQueries(ctx context.Context, serials ...string) error

	// RunScript executes code on a running worker.
	RunScript(ctx context.Context, serial, script string) (string, error)

	// SubscribeQueryEvents registers fn for server-pushed query status
	// events. The returned func removes the subscription.
	SubscribeQueryEvents(fn func(QueryStatusEvent)) func()

	// Dispose logs out and releases the session. Called by the shared
	// client cache during invalidation and teardown.
	Dispose(ctx context.Context) error
}

// CredentialProvider performs gateway login. The interactive flow lives in
// the surrounding product; implementations here are non-interactive.
type CredentialProvider interface {
	Login(ctx context.Context, ep endpoint.Endpoint) (Client, error)
	// LoginAs authenticates on behalf of another user.
	LoginAs(ctx context.Context, ep endpoint.Endpoint, user string) (Client, error)
}

// WorkerCreationFlow is the gateway's UI-driven provisioning pathway,
// delegated to when FeatureFlags advertise it.
type WorkerCreationFlow interface {
	CreateWorker(ctx context.Context, ep endpoint.Endpoint, tagID, consoleType string) (*WorkerDescriptor, error)
}
