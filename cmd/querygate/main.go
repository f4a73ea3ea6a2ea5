package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halodata/querygate/internal/config"
	"github.com/halodata/querygate/internal/endpoint"
	"github.com/halodata/querygate/internal/gateway"
	"github.com/halodata/querygate/internal/registry"
	"github.com/halodata/querygate/internal/rescache"
	"github.com/halodata/querygate/internal/resolver"
	"github.com/halodata/querygate/internal/toolserver"
)

const (
	appVersion = "0.1.0"

	defaultConfigPath = "querygate.yaml"

	// directConsoleSerial is the well-known serial of a direct server's
	// embedded console. Direct servers run one console session; the gateway
	// script API addresses it under this serial.
	directConsoleSerial = "console"

	shutdownTimeout = 10 * time.Second
)

var (
	version    = flag.Bool("version", false, "Print version and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	configPath = flag.String("config", "", "Path to the server config file")
)

// directConnector establishes sessions to directly-addressable servers on
// demand. Connections are registered with the registry so subsequent
// resolutions reuse them.
type directConnector struct {
	registry *registry.Registry
	tokens   map[endpoint.Endpoint]string
	timeout  time.Duration
	logger   *slog.Logger
}

func (c *directConnector) Connect(ctx context.Context, ep endpoint.Endpoint) error {
	token := c.tokens[ep]
	client, err := gateway.DialHTTP(ctx, gateway.HTTPClientConfig{
		Endpoint: ep,
		Token:    token,
		Timeout:  c.timeout,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", ep, err)
	}

	c.registry.RegisterConnection(registry.NewDirectConnection(registry.DirectConnectionConfig{
		Endpoint: ep,
		CanRun:   true,
		Token:    token,
		Run: func(ctx context.Context, code, language string) (string, error) {
			return client.RunScript(ctx, directConsoleSerial, code)
		},
	}))
	c.logger.Info("Connected to direct server", "endpoint", ep.String())
	return nil
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("querygate v%s\n", appVersion)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	// Logs go to stderr; stdout carries the MCP protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	path := *configPath
	if path == "" {
		path = os.Getenv("QUERYGATE_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}

	logger.Info("Starting querygate",
		"version", appVersion,
		"debug", *debug,
		"config", path,
	)

	reg := registry.NewRegistry(logger.With("component", "registry"))
	source := registry.NewFileSource(path, reg, logger.With("component", "registry"))

	file, err := source.Load()
	if err != nil {
		logger.Error("Failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	provision := file.ProvisionConfig()

	// Pre-provisioned API tokens, split by server kind. Token changes in the
	// config file require a restart; the hot reload below only applies the
	// server list.
	gatewayTokens := make(map[endpoint.Endpoint]string)
	directTokens := make(map[endpoint.Endpoint]string)
	for _, s := range file.Servers {
		if s.Token == "" {
			continue
		}
		ep, err := endpoint.Parse(s.URL)
		if err != nil {
			continue
		}
		if s.Kind == string(registry.KindGateway) {
			gatewayTokens[ep] = s.Token
		} else {
			directTokens[ep] = s.Token
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := registry.NewWatcher(registry.WatcherConfig{
		Path:     path,
		Debounce: config.DefaultReloadDebounce,
		OnChange: func() {
			if _, err := source.Load(); err != nil {
				logger.Warn("Config reload failed, keeping previous servers", "error", err)
			}
		},
		Logger: logger.With("component", "watcher"),
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("Config watcher unavailable, hot reload disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	creds := gateway.NewTokenCredentials(gatewayTokens, config.DefaultRequestTimeout, logger.With("component", "credentials"))

	// One shared client cache across all lifecycle managers: at most one
	// login in flight per gateway endpoint.
	clients := rescache.New(func(ctx context.Context, ep endpoint.Endpoint) (gateway.Client, error) {
		return creds.Login(ctx, ep)
	}, logger.With("component", "clients"))

	connector := &directConnector{
		registry: reg,
		tokens:   directTokens,
		timeout:  config.DefaultRequestTimeout,
		logger:   logger.With("component", "connector"),
	}

	res := resolver.New(reg, connector, logger.With("component", "resolver"))

	srv := toolserver.New(toolserver.Config{
		Name:    "querygate",
		Version: appVersion,
	}, toolserver.Deps{
		Registry: reg,
		Resolver: res,
		NewManager: func(ep endpoint.Endpoint) *gateway.Manager {
			return gateway.NewManager(gateway.ManagerConfig{
				Endpoint:    ep,
				Clients:     clients,
				Credentials: creds,
				Provision:   provision,
				Logger:      logger.With("component", "gateway", "endpoint", ep.String()),
			})
		},
		Logger: logger.With("component", "toolserver"),
	})

	// Periodic reachability probes keep the running flags current.
	go func() {
		reg.Refresh(ctx, config.DefaultProbeTimeout)
		ticker := time.NewTicker(config.DefaultRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reg.Refresh(ctx, config.DefaultProbeTimeout)
			case <-ctx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Serving MCP on stdio")
		serveErr <- srv.ServeStdio()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			logger.Error("MCP server error", "error", err)
		}
	}

	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Managers first: worker teardown needs live clients.
	srv.Dispose(shutdownCtx)
	if err := clients.Dispose(shutdownCtx); err != nil {
		logger.Warn("Client cache disposal incomplete", "error", err)
	}

	logger.Info("querygate shutdown complete")
}
