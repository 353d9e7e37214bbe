package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.5,0.5],[1,0]]}`))
	}))
	defer srv.Close()

	e, err := New(func(o *Options) { o.BaseURL = srv.URL })
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}, {1, 0}}, vecs)
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m","embeddings":[[1]]}`))
	}))
	defer srv.Close()

	e, err := New(func(o *Options) { o.BaseURL = srv.URL })
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(func(o *Options) { o.BaseURL = "://bad" })
	require.Error(t, err)
}
