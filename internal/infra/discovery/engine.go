// Package discovery ranks registry tools against a caller's query.
package discovery

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/registry"
)

// tagBonusWeight is the additive bonus for a full tag-filter match. Partial
// matches earn the proportional fraction; the combined score is capped at 1.
const tagBonusWeight = 0.25

// Engine computes relevance-ordered tool matches. It is a pure function of
// the current registry contents; the base textual signal comes from the
// injected Scorer.
type Engine struct {
	registry *registry.Registry
	scorer   domain.Scorer
	metrics  domain.Metrics
	logger   *zap.Logger
}

func NewEngine(reg *registry.Registry, scorer domain.Scorer, metrics domain.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scorer == nil {
		scorer = NewLexicalScorer()
	}
	return &Engine{
		registry: reg,
		scorer:   scorer,
		metrics:  metrics,
		logger:   logger.Named("discovery"),
	}
}

// Discover ranks tools against the query and optional tag filter. Results are
// sorted by descending score; ties break by ascending token cost, then by id.
func (e *Engine) Discover(query string, tags []string, limit int) ([]domain.ToolMatch, error) {
	start := time.Now()
	matches, err := e.discover(query, tags, limit)
	if e.metrics != nil {
		e.metrics.ObserveDiscoverRequest(time.Since(start), err)
	}
	return matches, err
}

func (e *Engine) discover(query string, tags []string, limit int) ([]domain.ToolMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrInvalidQuery
	}
	if limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}

	tagFilter := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tagFilter[tag] = struct{}{}
	}

	var matches []domain.ToolMatch
	for _, tool := range e.registry.List() {
		base := clamp01(e.scorer.Score(query, tool))
		matched := matchedTags(tool, tagFilter)

		score := base
		if len(tagFilter) > 0 && len(matched) > 0 {
			score += tagBonusWeight * float64(len(matched)) / float64(len(tagFilter))
			score = clamp01(score)
		}
		if score <= 0 {
			continue
		}
		matches = append(matches, domain.ToolMatch{
			Tool:        tool,
			Score:       score,
			MatchedTags: matched,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Tool.EstimatedTokens != matches[j].Tool.EstimatedTokens {
			return matches[i].Tool.EstimatedTokens < matches[j].Tool.EstimatedTokens
		}
		return matches[i].Tool.ID < matches[j].Tool.ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// matchedTags returns the tool's tags that appear in the filter, preserving
// the tool's tag order for display.
func matchedTags(tool domain.Tool, filter map[string]struct{}) []string {
	if len(filter) == 0 {
		return nil
	}
	var matched []string
	for _, tag := range tool.Tags {
		if _, ok := filter[tag]; ok {
			matched = append(matched, tag)
		}
	}
	return matched
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
