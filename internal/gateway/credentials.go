package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/halodata/querygate/internal/endpoint"
)

// TokenCredentials is a non-interactive CredentialProvider backed by
// pre-provisioned API tokens from the config file. Gateways without a
// configured token require the product's interactive login flow, which
// lives outside this module.
type TokenCredentials struct {
	tokens  map[endpoint.Endpoint]string
	timeout time.Duration
	logger  *slog.Logger
}

// NewTokenCredentials creates a provider over the endpoint→token map.
func NewTokenCredentials(tokens map[endpoint.Endpoint]string, timeout time.Duration, logger *slog.Logger) *TokenCredentials {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCredentials{tokens: tokens, timeout: timeout, logger: logger}
}

// Login implements CredentialProvider.
func (t *TokenCredentials) Login(ctx context.Context, ep endpoint.Endpoint) (Client, error) {
	return t.login(ctx, ep, "")
}

// LoginAs implements CredentialProvider.
func (t *TokenCredentials) LoginAs(ctx context.Context, ep endpoint.Endpoint, user string) (Client, error) {
	return t.login(ctx, ep, user)
}

func (t *TokenCredentials) login(ctx context.Context, ep endpoint.Endpoint, operateAs string) (Client, error) {
	token, ok := t.tokens[ep]
	if !ok || token == "" {
		return nil, fmt.Errorf("no API token configured for %s: log in interactively or add a token to the config", ep)
	}
	return DialHTTP(ctx, HTTPClientConfig{
		Endpoint:  ep,
		Token:     token,
		OperateAs: operateAs,
		Timeout:   t.timeout,
		Logger:    t.logger,
	})
}
