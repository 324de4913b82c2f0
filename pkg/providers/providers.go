// Package providers defines the contracts for the external model capabilities
// the orchestrator composes: embeddings and text generation. Implementations
// must fail loudly on provider errors; silent degradation is handled by the
// callers that can afford it.
package providers

import (
	"context"

	"github.com/cairnwell/ragline/pkg/convstore"
)

// ChatMessage is a single role-tagged entry of a model prompt.
type ChatMessage struct {
	Role    convstore.Role `json:"role"`
	Content string         `json:"content"`
}

// EmbeddingKind distinguishes query embeddings from document embeddings.
// Asymmetric embedding models treat the two differently; symmetric models may
// ignore the kind.
type EmbeddingKind string

const (
	EmbedDocument EmbeddingKind = "document"
	EmbedQuery    EmbeddingKind = "query"
)

// EmbeddingProvider produces fixed-length vectors for texts.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string, kind EmbeddingKind) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, kind EmbeddingKind) ([][]float32, error)
}

// TokenStream is a pull-based sequence of generated text fragments. Recv
// blocks until the next fragment is available and returns io.EOF when the
// stream is complete. The producer only advances when the consumer pulls, so
// backpressure is bounded by the consumer's pull rate.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// LLMProvider generates text. Generate is the one-shot path used for query
// rewriting and summarization; StreamChat is the token-by-token path for the
// main answer.
type LLMProvider interface {
	Model() string
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	StreamChat(ctx context.Context, messages []ChatMessage) (TokenStream, error)
}
