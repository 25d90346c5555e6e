// Package registry holds the in-memory tool registry. It is rebuilt from
// live backend discovery at startup and never persisted.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// Registry maps tool ids to their metadata. All mutation replaces the whole
// set for one backend; individual tools are immutable once registered.
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	tools   map[string]domain.Tool
	byOwner map[string][]string
}

func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger.Named("registry"),
		tools:   make(map[string]domain.Tool),
		byOwner: make(map[string][]string),
	}
}

// ReplaceBackend swaps the registered tool set for one backend. Tools with an
// empty id or a negative token estimate are dropped. Returns the raw local
// names that were registered, in input order.
func (r *Registry) ReplaceBackend(backend string, tools []domain.Tool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byOwner[backend] {
		delete(r.tools, id)
	}

	ids := make([]string, 0, len(tools))
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool.ID == "" || tool.EstimatedTokens < 0 {
			r.logger.Warn("skip invalid tool",
				zap.String("backend", backend),
				zap.String("tool", tool.Name),
			)
			continue
		}
		if _, exists := r.tools[tool.ID]; exists {
			r.logger.Warn("skip duplicate tool id",
				zap.String("backend", backend),
				zap.String("id", tool.ID),
			)
			continue
		}
		r.tools[tool.ID] = tool
		ids = append(ids, tool.ID)
		names = append(names, tool.Name)
	}
	r.byOwner[backend] = ids
	return names
}

// RemoveBackend deregisters every tool owned by the backend.
func (r *Registry) RemoveBackend(backend string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.byOwner[backend] {
		delete(r.tools, id)
	}
	delete(r.byOwner, backend)
}

// Get returns the tool for an id.
func (r *Registry) Get(id string) (domain.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// Has reports whether an id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// List returns all registered tools sorted by id.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all registered tool ids sorted ascending.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for id := range r.tools {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CountFor returns the number of tools owned by a backend.
func (r *Registry) CountFor(backend string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner[backend])
}

// Len returns the total number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
