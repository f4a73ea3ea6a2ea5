// Package endpoint defines the network identity of a remote analytics server.
package endpoint

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint identifies one remote server instance by scheme, host and port.
// It is a comparable value type used as a lookup key and is never mutated
// after construction.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

// Parse builds an Endpoint from a URL-shaped string such as
// "https://gateway.example.com:8123". The port is mandatory unless the
// scheme has a well-known default.
func Parse(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}

	if u.Scheme == "" || u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: scheme and host are required", raw)
	}

	portStr := u.Port()
	if portStr == "" {
		switch u.Scheme {
		case "http", "ws":
			portStr = "80"
		case "https", "wss":
			portStr = "443"
		default:
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: port is required for scheme %s", raw, u.Scheme)
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port %q", raw, portStr)
	}

	return Endpoint{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Hostname()),
		Port:   port,
	}, nil
}

// String renders the canonical scheme://host:port form. Parse(String()) is
// the identity for any Endpoint produced by Parse.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

// HostPort returns the host:port pair for dialing.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero reports whether the endpoint carries no address.
func (e Endpoint) IsZero() bool {
	return e.Host == ""
}

// IsLoopback reports whether the endpoint's host refers to the local
// machine. Loopback endpoints are matched port-exactly by the connection
// resolver so multiple local dev servers on different ports stay distinct.
func (e Endpoint) IsLoopback() bool {
	if e.Host == "localhost" {
		return true
	}
	ip := net.ParseIP(e.Host)
	return ip != nil && ip.IsLoopback()
}
