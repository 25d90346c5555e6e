package popularity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "usage.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBumpAndCount(t *testing.T) {
	s := newStore(t)

	assert.Zero(t, s.Count("calc_add"))

	s.Bump("calc_add")
	s.Bump("calc_add")
	s.Bump("web_fetch")

	assert.Equal(t, uint64(2), s.Count("calc_add"))
	assert.Equal(t, uint64(1), s.Count("web_fetch"))
}

func TestRankByUsage(t *testing.T) {
	s := newStore(t)

	for i := 0; i < 3; i++ {
		s.Bump("web_fetch")
	}
	s.Bump("calc_add")

	got := s.Rank([]string{"calc_add", "db_query", "web_fetch"})
	assert.Equal(t, []string{"web_fetch", "calc_add", "db_query"}, got)
}

func TestRankTiesAreLexicographic(t *testing.T) {
	s := newStore(t)

	got := s.Rank([]string{"zeta", "alpha", "mid"})
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, got)
}

func TestRankDoesNotMutateInput(t *testing.T) {
	s := newStore(t)
	s.Bump("b")

	in := []string{"a", "b"}
	got := s.Rank(in)

	assert.Equal(t, []string{"a", "b"}, in)
	assert.Equal(t, []string{"b", "a"}, got)
}

func TestCountersSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")

	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	s.Bump("calc_add")
	require.NoError(t, s.Close())

	s, err = Open(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint64(1), s.Count("calc_add"))
}

func TestStatelessStore(t *testing.T) {
	s, err := Open("", zap.NewNop())
	require.NoError(t, err)

	s.Bump("calc_add")
	assert.Zero(t, s.Count("calc_add"))
	assert.Equal(t, []string{"b", "a"}, s.Rank([]string{"b", "a"}))
	assert.NoError(t, s.Close())
}
