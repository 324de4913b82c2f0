// Package ollamaembed provides embeddings via a local Ollama server.
//
// Models like nomic-embed-text are asymmetric: queries and documents get
// different prefixes, which measurably improves retrieval quality.
package ollamaembed

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"github.com/cairnwell/ragline/pkg/providers"
)

const (
	documentPrefix = "search_document: "
	queryPrefix    = "search_query: "
)

type Config struct {
	// Host is the Ollama base URL, e.g. "http://localhost:11434".
	Host string
	// Model defaults to nomic-embed-text.
	Model string
}

type Provider struct {
	client *api.Client
	model  string
}

var _ providers.EmbeddingProvider = &Provider{}

func New(cfg Config) (*Provider, error) {
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	if strings.TrimSpace(cfg.Host) == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrap(err, "ollama embeddings: client from environment")
		}
		return &Provider{client: client, model: model}, nil
	}
	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, errors.Wrap(err, "ollama embeddings: parse host")
	}
	return &Provider{client: api.NewClient(base, http.DefaultClient), model: model}, nil
}

func (p *Provider) Embed(ctx context.Context, text string, kind providers.EmbeddingKind) ([]float32, error) {
	resp, err := p.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  p.model,
		Prompt: prefixFor(kind) + text,
	})
	if err != nil {
		return nil, errors.Wrap(err, "ollama embeddings: embed")
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// EmbedBatch embeds sequentially; Ollama handles one prompt per request and a
// local server gains nothing from concurrent hammering.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string, kind providers.EmbeddingKind) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text, kind)
		if err != nil {
			return nil, errors.Wrapf(err, "batch item %d", i)
		}
		vecs = append(vecs, vec)
	}
	return vecs, nil
}

func prefixFor(kind providers.EmbeddingKind) string {
	if kind == providers.EmbedQuery {
		return queryPrefix
	}
	return documentPrefix
}
