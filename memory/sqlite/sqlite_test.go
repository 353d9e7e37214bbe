package sqlite

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/memory"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "memory.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := t.Context()
	s, path := newTestStore(t)

	rec := memory.Record{
		ID:        "deploy#0",
		Text:      "blue green deploys",
		Embedding: []float32{0.25, -1.5, 3},
		Metadata: memory.Metadata{
			Timestamp:        "2026-05-01T10:00:00Z",
			ConversationID:   "c1",
			SessionID:        "s1",
			Agent:            "A",
			UserMessage:      "how to deploy",
			AssistantMessage: "blue green",
		},
	}
	require.NoError(t, s.Upsert(ctx, rec))

	rec.Text = "blue green deploys, revised"
	require.NoError(t, s.Upsert(ctx, rec))
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	all, err := reopened.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rec, all[0])
}

func TestStore_Query(t *testing.T) {
	ctx := t.Context()
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert(ctx,
		memory.Record{ID: "a", Embedding: []float32{1, 0}, Metadata: memory.Metadata{SessionID: "s1", Agent: "A"}},
		memory.Record{ID: "b", Embedding: []float32{0.8, 0.2}, Metadata: memory.Metadata{SessionID: "s2", Agent: "A"}},
		memory.Record{ID: "c", Embedding: []float32{0, 1}, Metadata: memory.Metadata{SessionID: "s2", Agent: "A"}},
		memory.Record{ID: "d", Embedding: []float32{1, 0}, Metadata: memory.Metadata{SessionID: "s2", Agent: "B"}},
		memory.Record{ID: "e", Embedding: []float32{1, 0, 0}, Metadata: memory.Metadata{SessionID: "s2", Agent: "A"}},
	))

	matches, err := s.Query(ctx, []float32{1, 0}, memory.QueryOptions{TopK: 2, ExcludeSession: "s1", Agent: "A"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "b", matches[0].ID)
	assert.Equal(t, "c", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	all, err := s.Query(ctx, []float32{1, 0}, memory.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_Delete(t *testing.T) {
	ctx := t.Context()
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert(ctx,
		memory.Record{ID: "a", Embedding: []float32{1}},
		memory.Record{ID: "b", Embedding: []float32{1}},
	))

	n, err := s.Delete(ctx, "a", "zzz")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Delete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)
}

func TestStore_WithMemoryWorker(t *testing.T) {
	ctx := t.Context()
	s, _ := newTestStore(t)

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx,
		memory.Record{ID: "old", Embedding: []float32{1}, Metadata: memory.Metadata{Timestamp: now.AddDate(0, 0, -40).Format(time.RFC3339)}},
		memory.Record{ID: "new", Embedding: []float32{1}, Metadata: memory.Metadata{Timestamp: now.AddDate(0, 0, -10).Format(time.RFC3339)}},
	))

	m := memory.New(s, memory.NewHashEmbedder(8), func(o *memory.Options) {
		o.Now = func() time.Time { return now }
	})
	defer func() { _ = m.Close() }()

	n, err := m.CleanupOldMemories(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_OpenError(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") }

	_, err := New(filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, "open database")
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-8}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
