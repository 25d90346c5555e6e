// Package proxy validates and forwards tool invocations for published tools.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/gating"
	"toolgate/internal/infra/registry"
)

// Invoker forwards a call to a backend and waits for the matching reply.
type Invoker interface {
	Invoke(ctx context.Context, backend, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// UsageRecorder observes successful dispatches; it feeds the popularity
// signal behind default provisioning.
type UsageRecorder interface {
	Bump(toolID string)
}

// Executor is the gate in front of backend invocation. Policy rejections
// (NotProvisioned) are checked before the registry is consulted, so callers
// cannot probe for tool existence through the gate.
type Executor struct {
	gate     *gating.Service
	registry *registry.Registry
	invoker  Invoker
	usage    UsageRecorder
	logger   *zap.Logger
}

func NewExecutor(gate *gating.Service, reg *registry.Registry, invoker Invoker, usage UsageRecorder, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		gate:     gate,
		registry: reg,
		invoker:  invoker,
		usage:    usage,
		logger:   logger.Named("proxy"),
	}
}

// Execute forwards a call to the tool's owning backend. No retries: a failed
// invocation is reported to the caller; retry policy belongs to the caller.
func (e *Executor) Execute(ctx context.Context, toolID string, args json.RawMessage) (json.RawMessage, error) {
	if !e.gate.IsPublished(toolID) {
		return nil, fmt.Errorf("tool %s: %w", toolID, domain.ErrNotProvisioned)
	}

	tool, ok := e.registry.Get(toolID)
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", toolID, domain.ErrUnknownTool)
	}

	result, err := e.invoker.Invoke(ctx, tool.Server, tool.Name, args)
	if err != nil {
		e.logger.Warn("invocation failed",
			zap.String("tool", toolID),
			zap.String("backend", tool.Server),
			zap.Error(err),
		)
		return nil, fmt.Errorf("execute %s: %w", toolID, err)
	}

	if e.usage != nil {
		e.usage.Bump(toolID)
	}
	return result, nil
}
