package toolserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/halodata/querygate/internal/config"
	"github.com/halodata/querygate/internal/endpoint"
	"github.com/halodata/querygate/internal/gateway"
	"github.com/halodata/querygate/internal/registry"
	"github.com/halodata/querygate/internal/rescache"
	"github.com/halodata/querygate/internal/resolver"
)

func mustParse(t *testing.T, raw string) endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", raw, err)
	}
	return ep
}

type noopConnector struct{}

func (noopConnector) Connect(ctx context.Context, ep endpoint.Endpoint) error { return nil }

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry(nil)
	res := resolver.New(reg, noopConnector{}, nil)

	clients := rescache.New(func(ctx context.Context, ep endpoint.Endpoint) (gateway.Client, error) {
		t.Fatal("unexpected client initialization in tool test")
		return nil, nil
	}, nil)

	s := New(Config{Name: "querygate-test", Version: "0.0.0"}, Deps{
		Registry: reg,
		Resolver: res,
		NewManager: func(ep endpoint.Endpoint) *gateway.Manager {
			return gateway.NewManager(gateway.ManagerConfig{
				Endpoint:  ep,
				Clients:   clients,
				Provision: config.DefaultProvisionConfig(),
			})
		},
	})
	return s, reg
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	text, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("tool result content is %T, not text", result.Content[0])
	}
	return text.Text
}

func TestListServers(t *testing.T) {
	s, reg := newTestServer(t)
	reg.SetServers([]registry.ServerDescriptor{
		{Label: "dev", Endpoint: mustParse(t, "http://localhost:10000"), Kind: registry.KindDirect, Running: true},
	})

	result, err := s.handleListServers(context.Background(), callRequest(toolListServers, nil))
	if err != nil {
		t.Fatalf("handleListServers failed: %v", err)
	}

	var entries []map[string]any
	if err := json.Unmarshal([]byte(resultText(t, result)), &entries); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(entries) != 1 || entries[0]["label"] != "dev" || entries[0]["running"] != true {
		t.Errorf("entries = %v", entries)
	}
}

func TestRunCodeSurfacesResolverHint(t *testing.T) {
	s, reg := newTestServer(t)
	ep := mustParse(t, "https://gateway.example.com:8123")
	reg.SetServers([]registry.ServerDescriptor{
		{Endpoint: ep, Kind: registry.KindGateway, Running: true},
	})

	result, err := s.handleRunCode(context.Background(), callRequest(toolRunCode, map[string]interface{}{
		"server": ep.String(),
		"code":   "1+1",
	}))
	if err != nil {
		t.Fatalf("handleRunCode failed: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error for gateway without connection")
	}
	text := resultText(t, result)
	if !strings.Contains(text, "No active connection") || !strings.Contains(text, "Log in") {
		t.Errorf("error text %q lacks message or hint", text)
	}
}

func TestRunCodeExecutes(t *testing.T) {
	s, reg := newTestServer(t)
	ep := mustParse(t, "http://localhost:10000")
	reg.SetServers([]registry.ServerDescriptor{
		{Endpoint: ep, Kind: registry.KindDirect, Running: true},
	})
	reg.RegisterConnection(registry.NewDirectConnection(registry.DirectConnectionConfig{
		Endpoint: ep,
		CanRun:   true,
		Run: func(ctx context.Context, code, language string) (string, error) {
			return "=> 2", nil
		},
	}))

	result, err := s.handleRunCode(context.Background(), callRequest(toolRunCode, map[string]interface{}{
		"server": ep.String(),
		"code":   "1+1",
	}))
	if err != nil {
		t.Fatalf("handleRunCode failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", resultText(t, result))
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if payload["output"] != "=> 2" {
		t.Errorf("output = %q", payload["output"])
	}
	if payload["panelUrlFormat"] != "http://localhost:10000/iframe/widget/?name="+resolver.TitlePlaceholder {
		t.Errorf("panelUrlFormat = %q", payload["panelUrlFormat"])
	}
}

func TestCreateWorkerRejectsNonGateway(t *testing.T) {
	s, reg := newTestServer(t)
	ep := mustParse(t, "http://localhost:10000")
	reg.SetServers([]registry.ServerDescriptor{
		{Endpoint: ep, Kind: registry.KindDirect, Running: true},
	})

	result, err := s.handleCreateWorker(context.Background(), callRequest(toolCreateWorker, map[string]interface{}{
		"server": ep.String(),
	}))
	if err != nil {
		t.Fatalf("handleCreateWorker failed: %v", err)
	}
	if !result.IsError {
		t.Fatal("worker creation on a direct server must fail")
	}
}

func TestDeleteWorkerWithoutManagerIsNoOp(t *testing.T) {
	s, reg := newTestServer(t)
	ep := mustParse(t, "https://gateway.example.com:8123")
	reg.SetServers([]registry.ServerDescriptor{
		{Endpoint: ep, Kind: registry.KindGateway, Running: true},
	})

	result, err := s.handleDeleteWorker(context.Background(), callRequest(toolDeleteWorker, map[string]interface{}{
		"server":     ep.String(),
		"worker_url": "worker:8124",
	}))
	if err != nil {
		t.Fatalf("handleDeleteWorker failed: %v", err)
	}
	if result.IsError {
		t.Errorf("no-op delete reported error: %s", resultText(t, result))
	}
}
