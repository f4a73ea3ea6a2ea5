package gateway

import (
	"context"

	"github.com/halodata/querygate/internal/endpoint"
)

// WorkerConnection is a registry connection backed by a provisioned worker.
// It carries the worker's session-scoped serial for panel URL paths and
// executes code through the gateway client.
type WorkerConnection struct {
	ep       endpoint.Endpoint
	client   Client
	desc     WorkerDescriptor
	language string
}

// NewWorkerConnection binds a running worker to the gateway endpoint it was
// provisioned on.
func NewWorkerConnection(ep endpoint.Endpoint, client Client, desc WorkerDescriptor, language string) *WorkerConnection {
	return &WorkerConnection{ep: ep, client: client, desc: desc, language: language}
}

// Endpoint returns the gateway endpoint, not the worker's own address;
// resolution happens against the configured server.
func (c *WorkerConnection) Endpoint() endpoint.Endpoint { return c.ep }

// CanRunCode reports true: workers exist to run code.
func (c *WorkerConnection) CanRunCode() bool { return true }

// RunCode executes code on the worker.
func (c *WorkerConnection) RunCode(ctx context.Context, code, language string) (string, error) {
	return c.client.RunScript(ctx, c.desc.Serial, code)
}

// WorkerSerial returns the session-scoped query serial.
func (c *WorkerConnection) WorkerSerial() string { return c.desc.Serial }

// SupportsLanguage reports whether the worker's console language matches.
func (c *WorkerConnection) SupportsLanguage(language string) bool {
	return c.language == "" || c.language == language
}

// Descriptor returns the underlying worker descriptor.
func (c *WorkerConnection) Descriptor() WorkerDescriptor { return c.desc }
