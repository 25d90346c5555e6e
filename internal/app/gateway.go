// Package app wires the gateway subsystems together and owns the process
// lifecycle: config load, backend startup, servers, live reload, shutdown.
package app

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/backend"
	"toolgate/internal/infra/discovery"
	"toolgate/internal/infra/gating"
	"toolgate/internal/infra/proxy"
	"toolgate/internal/infra/registry"
)

// Gateway is the application core behind the inbound API: discovery,
// provisioning, execution, and backend administration in one surface.
type Gateway struct {
	registry  *registry.Registry
	discovery *discovery.Engine
	gate      *gating.Service
	manager   *backend.Manager
	executor  *proxy.Executor
	logger    *zap.Logger
}

func NewGateway(
	reg *registry.Registry,
	engine *discovery.Engine,
	gate *gating.Service,
	manager *backend.Manager,
	executor *proxy.Executor,
	logger *zap.Logger,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		registry:  reg,
		discovery: engine,
		gate:      gate,
		manager:   manager,
		executor:  executor,
		logger:    logger.Named("gateway"),
	}
}

// Discover delegates to the engine, which owns the request timing signal.
func (g *Gateway) Discover(ctx context.Context, query string, tags []string, limit int) ([]domain.ToolMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.discovery.Discover(query, tags, limit)
}

func (g *Gateway) Provision(ctx context.Context, toolIDs []string, maxTools, tokenBudget int) (domain.ProvisionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProvisionResult{}, err
	}
	return g.gate.Provision(toolIDs, maxTools, tokenBudget)
}

func (g *Gateway) Execute(ctx context.Context, toolID string, args json.RawMessage) (json.RawMessage, error) {
	return g.executor.Execute(ctx, toolID, args)
}

func (g *Gateway) ListBackends(_ context.Context) []domain.BackendStatus {
	return g.manager.List()
}

// RegisterBackend connects a backend, discovers its tools, and makes them
// visible to discovery. Tools become invocable only after provisioning.
func (g *Gateway) RegisterBackend(ctx context.Context, spec domain.BackendSpec) ([]domain.Tool, error) {
	tools, err := g.manager.Register(ctx, spec)
	if err != nil {
		return nil, err
	}
	localNames := g.registry.ReplaceBackend(spec.Name, tools)
	g.gate.SetDiscovered(spec.Name, localNames)
	return tools, nil
}

// DeregisterBackend tears the backend down and removes its tools everywhere:
// registry, discovered bookkeeping, and the published set.
func (g *Gateway) DeregisterBackend(_ context.Context, name string) error {
	if err := g.manager.Deregister(name); err != nil {
		return err
	}
	g.registry.RemoveBackend(name)
	g.gate.RemoveDiscovered(name)
	g.gate.Prune()
	return nil
}

// ReconnectBackend relaunches a backend connection and refreshes its tool
// set. Published ids whose tools vanished in the refresh are pruned.
func (g *Gateway) ReconnectBackend(ctx context.Context, name string) ([]domain.Tool, error) {
	tools, err := g.manager.Reconnect(ctx, name)
	if err != nil {
		return nil, err
	}
	localNames := g.registry.ReplaceBackend(name, tools)
	g.gate.SetDiscovered(name, localNames)
	g.gate.Prune()
	return tools, nil
}
