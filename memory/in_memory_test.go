package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore(t *testing.T) {
	ctx := t.Context()
	s := NewInMemoryStore()

	require.NoError(t, s.Upsert(ctx,
		Record{ID: "a", Text: "x", Embedding: []float32{1, 0}, Metadata: Metadata{SessionID: "s1", Agent: "A"}},
		Record{ID: "b", Text: "y", Embedding: []float32{0.9, 0.1}, Metadata: Metadata{SessionID: "s2", Agent: "A"}},
		Record{ID: "c", Text: "z", Embedding: []float32{0, 1}, Metadata: Metadata{SessionID: "s2", Agent: "B"}},
	))

	t.Run("ranked", func(t *testing.T) {
		matches, err := s.Query(ctx, []float32{1, 0}, QueryOptions{TopK: 2})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "a", matches[0].ID)
		assert.Equal(t, "b", matches[1].ID)
	})

	t.Run("filtered", func(t *testing.T) {
		matches, err := s.Query(ctx, []float32{1, 0}, QueryOptions{TopK: 5, ExcludeSession: "s1", Agent: "A"})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "b", matches[0].ID)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, Record{ID: "a", Text: "x2", Embedding: []float32{1, 0}}))
		all, err := s.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "x2", all[0].Text)
	})

	t.Run("delete", func(t *testing.T) {
		n, err := s.Delete(ctx, "a", "missing", "c")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		all, err := s.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "b", all[0].ID)
	})
}

func TestSortMatches_Ties(t *testing.T) {
	m := []Match{
		{Record: Record{ID: "b"}, Score: 0.5},
		{Record: Record{ID: "a"}, Score: 0.5},
		{Record: Record{ID: "c"}, Score: 0.9},
	}
	SortMatches(m)
	assert.Equal(t, []string{"c", "a", "b"}, []string{m[0].ID, m[1].ID, m[2].ID})
}
