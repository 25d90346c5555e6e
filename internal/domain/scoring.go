package domain

// Scorer produces a textual-relevance signal between a query and a tool's
// name/description. Implementations must be deterministic: identical inputs
// yield identical scores in [0,1].
type Scorer interface {
	Score(query string, tool Tool) float64
}

// PopularityRanker orders tool ids for the default provisioning candidate
// set. The order must be a deterministic total order over the input.
type PopularityRanker interface {
	Rank(ids []string) []string
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(query string, tool Tool) float64

func (f ScorerFunc) Score(query string, tool Tool) float64 {
	return f(query, tool)
}
