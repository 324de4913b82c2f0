// Package openai adapts the OpenAI (and OpenAI-compatible) API to the
// provider contracts.
package openai

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cairnwell/ragline/pkg/providers"
)

type Config struct {
	APIKey string
	// BaseURL overrides the endpoint for OpenAI-compatible servers.
	BaseURL string
	// Model is the chat model identifier, e.g. "gpt-4o-mini".
	Model string
	// EmbeddingModel defaults to text-embedding-3-small.
	EmbeddingModel string
}

// Provider implements both providers.LLMProvider and providers.EmbeddingProvider.
type Provider struct {
	client         *goopenai.Client
	model          string
	embeddingModel goopenai.EmbeddingModel
}

var (
	_ providers.LLMProvider       = &Provider{}
	_ providers.EmbeddingProvider = &Provider{}
)

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai provider: missing api key")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai provider: missing model")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	embeddingModel := goopenai.SmallEmbedding3
	if cfg.EmbeddingModel != "" {
		embeddingModel = goopenai.EmbeddingModel(cfg.EmbeddingModel)
	}
	return &Provider{
		client:         goopenai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: embeddingModel,
	}, nil
}

func (p *Provider) Model() string { return p.model }

func (p *Provider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "openai provider: generate")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai provider: no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) StreamChat(ctx context.Context, messages []providers.ChatMessage) (providers.TokenStream, error) {
	req := goopenai.ChatCompletionRequest{
		Model:  p.model,
		Stream: true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "openai provider: open stream")
	}
	return &tokenStream{stream: stream}, nil
}

// tokenStream skips empty deltas so every pulled fragment carries text.
type tokenStream struct {
	stream *goopenai.ChatCompletionStream
}

func (s *tokenStream) Recv() (string, error) {
	for {
		chunk, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *tokenStream) Close() error { return s.stream.Close() }

func (p *Provider) Embed(ctx context.Context, text string, kind providers.EmbeddingKind) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text}, kind)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string, _ providers.EmbeddingKind) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	// OpenAI embedding models are symmetric; the query/document distinction
	// does not change the request.
	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: p.embeddingModel,
	})
	if err != nil {
		return nil, errors.Wrap(err, "openai provider: embed")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("openai provider: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
