// Package ollama implements memory.Embedder against a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

const defaultBaseURL = "http://localhost:11434"

// Options configures the embedder.
type Options struct {
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Embedder calls Ollama's /api/embed endpoint.
type Embedder struct {
	client *api.Client
	model  string
}

// New creates an embedder. It fails only on a malformed base URL.
func New(optFns ...func(o *Options)) (*Embedder, error) {
	opts := Options{
		Model:      "nomic-embed-text",
		BaseURL:    defaultBaseURL,
		HTTPClient: http.DefaultClient,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &Embedder{client: api.NewClient(u, opts.HTTPClient), model: opts.Model}, nil
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}

	return resp.Embeddings, nil
}
