// Package gating owns the published tool set: admission control that turns a
// candidate tool list into a budget-respecting, invocable subset.
package gating

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/registry"
)

// Service is the single owner of gating state. The published set and the
// per-backend discovered-name lists are only touched under the service mutex,
// so a provision-then-execute sequence cannot be corrupted by a concurrent
// provision from another caller.
type Service struct {
	registry *registry.Registry
	ranker   domain.PopularityRanker
	metrics  domain.Metrics
	logger   *zap.Logger

	mu         sync.Mutex
	discovered map[string][]string
	published  map[string]struct{}
}

func NewService(reg *registry.Registry, ranker domain.PopularityRanker, metrics domain.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:   reg,
		ranker:     ranker,
		metrics:    metrics,
		logger:     logger.Named("gating"),
		discovered: make(map[string][]string),
		published:  make(map[string]struct{}),
	}
}

// Provision selects a subset of the candidates under the count and token
// limits and replaces the published set with exactly that selection.
//
// Empty candidates fall back to the popularity-ranked registry; calling with
// no candidates and maxTools = 0 clears the published set. Unknown ids are
// dropped, not an error. Selection is first-fit in candidate order: scanning
// stops at the first candidate that would exceed either limit, and included
// tools are never evicted for a later, cheaper one. A tokenBudget <= 0 means
// no budget.
func (s *Service) Provision(toolIDs []string, maxTools int, tokenBudget int) (domain.ProvisionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := toolIDs
	if len(candidates) == 0 {
		candidates = s.defaultCandidates()
	}

	selected := make([]domain.Tool, 0, len(candidates))
	totalTokens := 0
	for _, id := range candidates {
		tool, ok := s.registry.Get(id)
		if !ok {
			s.logger.Debug("drop unknown candidate", zap.String("id", id))
			continue
		}
		if len(selected)+1 > maxTools {
			break
		}
		if tokenBudget > 0 && totalTokens+tool.EstimatedTokens > tokenBudget {
			break
		}
		selected = append(selected, tool)
		totalTokens += tool.EstimatedTokens
	}

	next := make(map[string]struct{}, len(selected))
	for _, tool := range selected {
		next[tool.ID] = struct{}{}
	}
	s.published = next
	s.observePublished()

	gated := len(selected) < len(candidates)
	if s.metrics != nil {
		s.metrics.ObserveProvision(len(selected), len(candidates)-len(selected))
	}
	s.logger.Info("provisioned tool set",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(selected)),
		zap.Int("totalTokens", totalTokens),
		zap.Bool("gatingApplied", gated),
	)

	return domain.ProvisionResult{
		Tools:         selected,
		TotalTokens:   totalTokens,
		GatingApplied: gated,
	}, nil
}

// PublishOne additively registers a single id into the published set without
// touching the rest of the selection.
func (s *Service) PublishOne(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registry.Has(id) {
		return domain.ErrUnknownTool
	}
	s.published[id] = struct{}{}
	s.observePublished()
	return nil
}

// IsPublished reports whether a tool id is currently invocable.
func (s *Service) IsPublished(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.published[id]
	return ok
}

// Published returns the published ids sorted ascending.
func (s *Service) Published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.published))
	for id := range s.published {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetDiscovered records the raw tool names a backend last reported.
func (s *Service) SetDiscovered(backend string, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovered[backend] = append([]string(nil), names...)
}

// RemoveDiscovered forgets a deregistered backend's name list.
func (s *Service) RemoveDiscovered(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.discovered, backend)
}

// Discovered returns a copy of the backend name lists.
func (s *Service) Discovered() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.discovered))
	for backend, names := range s.discovered {
		out[backend] = append([]string(nil), names...)
	}
	return out
}

// Prune drops published ids whose backing tool no longer exists in the
// registry. Called after any registry replacement or deregistration.
func (s *Service) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.published {
		if !s.registry.Has(id) {
			s.logger.Debug("unpublish vanished tool", zap.String("id", id))
			delete(s.published, id)
		}
	}
	s.observePublished()
}

func (s *Service) defaultCandidates() []string {
	ids := s.registry.IDs()
	if s.ranker == nil {
		return ids
	}
	return s.ranker.Rank(ids)
}

func (s *Service) observePublished() {
	if s.metrics != nil {
		s.metrics.SetPublishedTools(len(s.published))
	}
}
