package discovery

import (
	"strings"
	"unicode"

	"toolgate/internal/domain"
)

// LexicalScorer is the default relevance signal: the fraction of query tokens
// that occur in the tool's name or description. Deterministic and cheap; any
// smarter strategy plugs in behind domain.Scorer without touching the engine.
type LexicalScorer struct{}

func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

func (s *LexicalScorer) Score(query string, tool domain.Tool) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}

	doc := make(map[string]struct{})
	for _, tok := range tokenize(tool.Name) {
		doc[tok] = struct{}{}
	}
	for _, tok := range tokenize(tool.Description) {
		doc[tok] = struct{}{}
	}

	hits := 0
	seen := make(map[string]struct{}, len(queryTokens))
	total := 0
	for _, tok := range queryTokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		total++
		if _, ok := doc[tok]; ok {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var _ domain.Scorer = (*LexicalScorer)(nil)
