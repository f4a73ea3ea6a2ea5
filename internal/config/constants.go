package config

import "time"

// Worker provisioning defaults, used when the gateway's server constants or
// the operator's config do not say otherwise.
const (
	// DefaultHeapGB is the worker JVM heap requested when the gateway's
	// server constants carry no default.
	DefaultHeapGB = 4.0

	// DefaultScriptLanguage is the fallback when language negotiation finds
	// no match among the server-advertised providers.
	DefaultScriptLanguage = "python"

	// DefaultWorkerQueue is the temporary-query queue used for ephemeral
	// workers. Queries on it are reaped by the server after the auto-delete
	// timer expires.
	DefaultWorkerQueue = "TemporaryQueue"

	// DefaultAutoDeleteTimeout is the server-side auto-delete timer set on
	// ephemeral workers, a backstop for clients that die without cleanup.
	DefaultAutoDeleteTimeout = 1 * time.Hour

	// WebsocketJVMFlag forces websocket transport on the worker; the
	// embedding runtime cannot speak HTTP/2 to arbitrary hosts.
	WebsocketJVMFlag = "-Dhttp.websockets=true"
)

// Ambient timings.
const (
	// DefaultProbeTimeout bounds the reachability probe of one server.
	DefaultProbeTimeout = 3 * time.Second

	// DefaultRefreshInterval is how often the registry re-probes servers.
	DefaultRefreshInterval = 30 * time.Second

	// DefaultReloadDebounce coalesces bursts of config file change events.
	DefaultReloadDebounce = 250 * time.Millisecond

	// DefaultRequestTimeout bounds one gateway HTTP request.
	DefaultRequestTimeout = 30 * time.Second
)
