package registry

import (
	"context"
	"fmt"

	"github.com/halodata/querygate/internal/endpoint"
)

// RunFunc executes code over an established session.
type RunFunc func(ctx context.Context, code, language string) (string, error)

// DirectConnection is a code-execution session on a directly-addressable
// server. It optionally carries a short-lived access token used in panel
// URLs.
type DirectConnection struct {
	ep     endpoint.Endpoint
	canRun bool
	token  string
	run    RunFunc
}

// DirectConnectionConfig holds construction parameters for DirectConnection.
type DirectConnectionConfig struct {
	Endpoint endpoint.Endpoint
	CanRun   bool
	// Token is an optional short-lived access token; empty means panel URLs
	// carry no token parameter.
	Token string
	Run   RunFunc
}

// NewDirectConnection creates a connection over an already-established
// session.
func NewDirectConnection(cfg DirectConnectionConfig) *DirectConnection {
	return &DirectConnection{
		ep:     cfg.Endpoint,
		canRun: cfg.CanRun,
		token:  cfg.Token,
		run:    cfg.Run,
	}
}

// Endpoint implements Connection.
func (c *DirectConnection) Endpoint() endpoint.Endpoint { return c.ep }

// CanRunCode implements Connection.
func (c *DirectConnection) CanRunCode() bool { return c.canRun }

// RunCode implements Connection.
func (c *DirectConnection) RunCode(ctx context.Context, code, language string) (string, error) {
	if !c.canRun || c.run == nil {
		return "", fmt.Errorf("connection to %s does not support code execution", c.ep)
	}
	return c.run(ctx, code, language)
}

// AccessToken implements TokenProvider.
func (c *DirectConnection) AccessToken(ctx context.Context) (string, error) {
	return c.token, nil
}
