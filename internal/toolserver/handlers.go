package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/halodata/querygate/internal/endpoint"
	"github.com/halodata/querygate/internal/gateway"
	"github.com/halodata/querygate/internal/registry"
	"github.com/halodata/querygate/internal/resolver"
)

// registerTools wires every tool with its handler.
func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool(toolListServers,
		mcp.WithDescription("List the configured analytics servers and their status"),
	), s.handleListServers)

	s.server.AddTool(mcp.NewTool(toolRunCode,
		mcp.WithDescription("Run code against an analytics server, connecting if needed"),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description("Server endpoint, scheme://host:port"),
		),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Code to execute"),
		),
		mcp.WithString("language",
			mcp.Description("Optional language hint, e.g. python or groovy"),
		),
	), s.handleRunCode)

	s.server.AddTool(mcp.NewTool(toolCreateWorker,
		mcp.WithDescription("Provision an ephemeral compute worker on a gateway server"),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description("Gateway endpoint, scheme://host:port"),
		),
		mcp.WithString("tag",
			mcp.Description("Optional tag used in the worker's display name"),
		),
		mcp.WithString("console_type",
			mcp.Description("Optional console language for the worker"),
		),
	), s.handleCreateWorker)

	s.server.AddTool(mcp.NewTool(toolDeleteWorker,
		mcp.WithDescription("Tear down a previously provisioned worker"),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description("Gateway endpoint, scheme://host:port"),
		),
		mcp.WithString("worker_url",
			mcp.Required(),
			mcp.Description("The worker's gRPC endpoint as returned by create_worker"),
		),
	), s.handleDeleteWorker)

	s.server.AddTool(mcp.NewTool(toolWorkerInfo,
		mcp.WithDescription("Describe a provisioned worker"),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description("Gateway endpoint, scheme://host:port"),
		),
		mcp.WithString("worker_url",
			mcp.Required(),
			mcp.Description("The worker's gRPC endpoint"),
		),
	), s.handleWorkerInfo)
}

func (s *Server) handleListServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type serverEntry struct {
		Label   string `json:"label"`
		URL     string `json:"url"`
		Kind    string `json:"kind"`
		Running bool   `json:"running"`
	}

	servers := s.registry.Servers()
	entries := make([]serverEntry, 0, len(servers))
	for _, desc := range servers {
		entries = append(entries, serverEntry{
			Label:   desc.Label,
			URL:     desc.Endpoint.String(),
			Kind:    string(desc.Kind),
			Running: desc.Running,
		})
	}
	return jsonResult(entries)
}

func (s *Server) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ep, errResult := s.endpointArg(request, "server")
	if errResult != nil {
		return errResult, nil
	}
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	language := request.GetString("language", "")

	res, err := s.resolver.Resolve(ctx, ep, language)
	if err != nil {
		return resolutionError(err), nil
	}

	output, err := res.Connection.RunCode(ctx, code, language)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("code execution failed: %v", err)), nil
	}

	return jsonResult(map[string]string{
		"output":         output,
		"panelUrlFormat": res.PanelURLFormat,
	})
}

func (s *Server) handleCreateWorker(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ep, errResult := s.gatewayArg(request)
	if errResult != nil {
		return errResult, nil
	}

	tag := request.GetString("tag", "")
	if tag == "" {
		tag = uuid.NewString()[:8]
	}
	consoleType := request.GetString("console_type", "")

	manager := s.managerFor(ep)
	desc, err := manager.CreateWorker(ctx, tag, consoleType)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Make the fresh worker available to the resolver as a gateway
	// connection. The client is already cached; no new login happens here.
	if client := manager.Client(ctx, gateway.ClientOptions{}); client != nil {
		s.registry.RegisterConnection(gateway.NewWorkerConnection(ep, client, *desc, consoleType))
	} else {
		s.logger.Warn("Worker created but no client available to register its connection",
			"serial", desc.Serial)
	}

	return jsonResult(desc)
}

func (s *Server) handleDeleteWorker(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ep, errResult := s.endpointArg(request, "server")
	if errResult != nil {
		return errResult, nil
	}
	workerURL, err := request.RequireString("worker_url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	manager, ok := s.existingManager(ep)
	if !ok {
		// Nothing was provisioned through this server; deleting an unknown
		// worker is a no-op by contract.
		return mcp.NewToolResultText("worker not tracked, nothing to delete"), nil
	}

	if desc, tracked := manager.WorkerInfo(workerURL); tracked {
		s.unregisterWorkerConnection(ep, desc.Serial)
	}
	manager.DeleteWorker(ctx, workerURL)
	return mcp.NewToolResultText("worker deleted"), nil
}

func (s *Server) handleWorkerInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ep, errResult := s.endpointArg(request, "server")
	if errResult != nil {
		return errResult, nil
	}
	workerURL, err := request.RequireString("worker_url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	manager, ok := s.existingManager(ep)
	if !ok {
		return mcp.NewToolResultError("no workers tracked for this server"), nil
	}
	desc, tracked := manager.WorkerInfo(workerURL)
	if !tracked {
		return mcp.NewToolResultError(fmt.Sprintf("unknown worker %s", workerURL)), nil
	}
	return jsonResult(desc)
}

// unregisterWorkerConnection drops the registry connection carrying the
// given worker serial, if one was registered.
func (s *Server) unregisterWorkerConnection(ep endpoint.Endpoint, serial string) {
	for _, conn := range s.registry.ConnectionsFor(ep) {
		if sp, ok := conn.(registry.SerialProvider); ok && sp.WorkerSerial() == serial {
			s.registry.UnregisterConnection(conn)
			return
		}
	}
}

// endpointArg parses the named endpoint argument, returning a tool error
// result on failure.
func (s *Server) endpointArg(request mcp.CallToolRequest, name string) (endpoint.Endpoint, *mcp.CallToolResult) {
	raw, err := request.RequireString(name)
	if err != nil {
		return endpoint.Endpoint{}, mcp.NewToolResultError(err.Error())
	}
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return endpoint.Endpoint{}, mcp.NewToolResultError(err.Error())
	}
	return ep, nil
}

// gatewayArg parses the server argument and checks it names a configured
// gateway.
func (s *Server) gatewayArg(request mcp.CallToolRequest) (endpoint.Endpoint, *mcp.CallToolResult) {
	ep, errResult := s.endpointArg(request, "server")
	if errResult != nil {
		return endpoint.Endpoint{}, errResult
	}
	for _, desc := range s.registry.Servers() {
		if desc.Endpoint == ep {
			if desc.Kind != registry.KindGateway {
				return endpoint.Endpoint{}, mcp.NewToolResultError(
					fmt.Sprintf("%s is not a gateway server; workers are provisioned on gateways only", ep))
			}
			return ep, nil
		}
	}
	return endpoint.Endpoint{}, mcp.NewToolResultError(fmt.Sprintf("server %s is not configured", ep))
}

// resolutionError renders a structured resolver failure, keeping its hint.
func resolutionError(err error) *mcp.CallToolResult {
	var re *resolver.Error
	if errors.As(err, &re) {
		msg := re.Error()
		if re.Hint != "" {
			msg += " (" + re.Hint + ")"
		}
		return mcp.NewToolResultError(msg)
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
