// Package resolver turns a target endpoint into a ready code-execution
// connection, reusing, auto-creating, or refusing one per server category.
package resolver

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/halodata/querygate/internal/endpoint"
	"github.com/halodata/querygate/internal/registry"
)

// TitlePlaceholder is the single placeholder in a panel URL format; callers
// substitute the result-variable title for it.
const TitlePlaceholder = "<variableTitle>"

// Resolution is a successful resolve: a ready connection plus the panel URL
// template for embedding result variables.
type Resolution struct {
	Connection     registry.Connection
	PanelURLFormat string
}

// LanguageSupport is optionally implemented by connections that are bound
// to a specific script language.
type LanguageSupport interface {
	SupportsLanguage(language string) bool
}

// Resolver produces ready connections for target endpoints.
type Resolver struct {
	registry  *registry.Registry
	connector registry.Connector
	logger    *slog.Logger
}

// New creates a resolver over the given registry and connect action.
func New(reg *registry.Registry, connector registry.Connector, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{registry: reg, connector: connector, logger: logger}
}

// Resolve finds or creates a connection for target. language is an optional
// hint; when set, connections that declare a different language are skipped.
// Failures are *Error values carrying a code and, where useful, a hint.
func (r *Resolver) Resolve(ctx context.Context, target endpoint.Endpoint, language string) (*Resolution, error) {
	desc, found := r.lookup(target)
	if !found {
		return nil, &Error{
			Code:    CodeServerNotFound,
			Message: "Server not found",
			Details: target.String(),
		}
	}

	if !desc.Running {
		return nil, &Error{
			Code:    CodeServerNotRunning,
			Message: "Server is not running",
			Details: desc.Endpoint.String(),
		}
	}

	conn := r.pickConnection(desc.Endpoint, language)
	if conn == nil {
		switch desc.Kind {
		case registry.KindGateway:
			// Gateway login is interactive; never auto-authenticate here.
			return nil, &Error{
				Code:    CodeNoActiveConnection,
				Message: "No active connection to gateway",
				Details: desc.Endpoint.String(),
				Hint:    "Log in to the gateway to establish a connection, then retry.",
			}
		case registry.KindDirect:
			r.logger.Debug("No existing connection, invoking connect action",
				"endpoint", desc.Endpoint.String())
			if err := r.connector.Connect(ctx, desc.Endpoint); err != nil {
				return nil, &Error{
					Code:    CodeConnectionFailed,
					Message: "Failed to connect to server",
					Details: err.Error(),
				}
			}
			conn = r.pickConnection(desc.Endpoint, language)
			if conn == nil {
				return nil, &Error{
					Code:    CodeConnectionFailed,
					Message: "Failed to connect to server",
					Details: desc.Endpoint.String(),
				}
			}
		}
	}

	if !conn.CanRunCode() {
		return nil, &Error{
			Code:    CodeUnsupportedConnectionKind,
			Message: "Connection does not support code execution",
			Details: desc.Endpoint.String(),
		}
	}

	format, err := r.panelURLFormat(ctx, desc, conn)
	if err != nil {
		return nil, err
	}

	return &Resolution{Connection: conn, PanelURLFormat: format}, nil
}

// lookup finds the first configured server matching target. Loopback
// targets match on host and port exactly, keeping multiple local dev
// servers distinct; non-loopback targets match on scheme and host only,
// tolerating port drift behind proxies.
func (r *Resolver) lookup(target endpoint.Endpoint) (registry.ServerDescriptor, bool) {
	loopback := target.IsLoopback()
	for _, desc := range r.registry.Servers() {
		ep := desc.Endpoint
		if loopback {
			if ep.Host == target.Host && ep.Port == target.Port {
				return desc, true
			}
			continue
		}
		if ep.Host == target.Host && ep.Scheme == target.Scheme {
			return desc, true
		}
	}
	return registry.ServerDescriptor{}, false
}

// pickConnection returns the first registered connection for ep that does
// not contradict the language hint. First match wins; there is no scoring.
func (r *Resolver) pickConnection(ep endpoint.Endpoint, language string) registry.Connection {
	for _, conn := range r.registry.ConnectionsFor(ep) {
		if language != "" {
			if ls, ok := conn.(LanguageSupport); ok && !ls.SupportsLanguage(language) {
				continue
			}
		}
		return conn
	}
	return nil
}

// panelURLFormat computes the embed-URL template for one result variable.
// Gateway connections carry a session-scoped serial in the path; direct
// connections append their short-lived access token as a query parameter.
func (r *Resolver) panelURLFormat(ctx context.Context, desc registry.ServerDescriptor, conn registry.Connection) (string, error) {
	base := desc.Endpoint.String()

	if sp, ok := conn.(registry.SerialProvider); ok && sp.WorkerSerial() != "" {
		return base + "/iframe/widget/" + url.PathEscape(sp.WorkerSerial()) + "/?name=" + TitlePlaceholder, nil
	}

	format := base + "/iframe/widget/?name=" + TitlePlaceholder
	if tp, ok := conn.(registry.TokenProvider); ok {
		token, err := tp.AccessToken(ctx)
		if err != nil {
			return "", &Error{
				Code:    CodeConnectionFailed,
				Message: "Failed to obtain access token",
				Details: err.Error(),
			}
		}
		if token != "" {
			format += "&authToken=" + url.QueryEscape(token)
		}
	}
	return format, nil
}

// FormatPanelURL substitutes the variable title into a panel URL format.
func FormatPanelURL(format, variableTitle string) string {
	return strings.ReplaceAll(format, TitlePlaceholder, url.QueryEscape(variableTitle))
}
