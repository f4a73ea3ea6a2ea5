package gateway

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/halodata/querygate/internal/endpoint"
)

// ProbeGRPC checks a worker's gRPC endpoint with the standard health
// service. A server that does not implement the health service counts as
// healthy; the dial reaching it is confirmation enough.
func ProbeGRPC(ctx context.Context, target string) error {
	addr, err := grpcDialAddr(target)
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create gRPC client for %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		if status.Code(err) == codes.Unimplemented {
			return nil
		}
		return fmt.Errorf("health check of %s failed: %w", addr, err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("worker at %s reports health status %s", addr, resp.GetStatus())
	}
	return nil
}

// grpcDialAddr accepts either a bare host:port or a URL-shaped worker
// endpoint and returns the dialable address.
func grpcDialAddr(target string) (string, error) {
	if !strings.Contains(target, "://") {
		if target == "" {
			return "", fmt.Errorf("empty worker gRPC endpoint")
		}
		return target, nil
	}
	ep, err := endpoint.Parse(target)
	if err != nil {
		return "", err
	}
	return ep.HostPort(), nil
}
