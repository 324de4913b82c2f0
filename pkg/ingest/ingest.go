// Package ingest turns pre-extracted document text into retrieval chunks:
// sanitize, split, embed as documents, upsert into the tenant's partition.
// File-format parsing (PDF, DOCX) happens upstream; this package only ever
// sees plain text.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/cairnwell/ragline/pkg/guardrail"
	"github.com/cairnwell/ragline/pkg/providers"
	"github.com/cairnwell/ragline/pkg/retrieval"
	"github.com/cairnwell/ragline/pkg/vectorstore"
)

const (
	// DefaultChunkSize and DefaultChunkOverlap are characters, not tokens.
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators, in priority order: prefer paragraph breaks, then lines, then
// sentences, then words.
var separators = []string{"\n\n", "\n", ". ", " "}

type Config struct {
	// Partition defaults to the user knowledge collection.
	Partition    string
	ChunkSize    int
	ChunkOverlap int
}

type Indexer struct {
	guard     *guardrail.Validator
	embedder  providers.EmbeddingProvider
	vectors   vectorstore.Store
	partition string
	size      int
	overlap   int
}

type Result struct {
	DocumentID string
	Chunks     int
}

func NewIndexer(guard *guardrail.Validator, embedder providers.EmbeddingProvider, vectors vectorstore.Store, cfg Config) (*Indexer, error) {
	if guard == nil {
		return nil, errors.New("ingest: nil guardrail validator")
	}
	if embedder == nil {
		return nil, errors.New("ingest: nil embedding provider")
	}
	if vectors == nil {
		return nil, errors.New("ingest: nil vector store")
	}
	ix := &Indexer{
		guard:     guard,
		embedder:  embedder,
		vectors:   vectors,
		partition: cfg.Partition,
		size:      cfg.ChunkSize,
		overlap:   cfg.ChunkOverlap,
	}
	if ix.partition == "" {
		ix.partition = retrieval.DefaultUserCollection
	}
	if ix.size <= 0 {
		ix.size = DefaultChunkSize
	}
	if ix.overlap < 0 || ix.overlap >= ix.size {
		ix.overlap = DefaultChunkOverlap
	}
	return ix, nil
}

// IndexText runs the pipeline for one document. The text is sanitized before
// chunking so hidden directives in untrusted documents never become retrieval
// context.
func (ix *Indexer) IndexText(ctx context.Context, tenantID string, fileName string, text string) (Result, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Result{}, errors.New("ingest: empty tenant id")
	}
	sanitized := ix.guard.SanitizeDocumentText(text)
	if strings.TrimSpace(sanitized) == "" {
		return Result{}, errors.New("ingest: document has no usable text")
	}
	chunks := SplitText(sanitized, ix.size, ix.overlap)

	vectors, err := ix.embedder.EmbedBatch(ctx, chunks, providers.EmbedDocument)
	if err != nil {
		return Result{}, errors.Wrap(err, "ingest: embed chunks")
	}

	documentID := uuid.NewString()
	now := time.Now()
	points := make([]vectorstore.Point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, vectorstore.Point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				TenantID:    tenantID,
				DocumentID:  documentID,
				FileName:    fileName,
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				Text:        chunk,
				CreatedAt:   now,
			},
		})
	}
	if err := ix.vectors.Upsert(ctx, ix.partition, points); err != nil {
		return Result{}, errors.Wrap(err, "ingest: upsert chunks")
	}
	log.Info().
		Str("tenant_id", tenantID).
		Str("document_id", documentID).
		Str("file_name", fileName).
		Int("chunks", len(chunks)).
		Msg("document indexed")
	return Result{DocumentID: documentID, Chunks: len(chunks)}, nil
}

// DeleteDocument removes every chunk of a tenant's document. The tenant id in
// the filter keeps one tenant from deleting another's chunks by guessing ids.
func (ix *Indexer) DeleteDocument(ctx context.Context, tenantID string, documentID string) error {
	if tenantID == "" || documentID == "" {
		return errors.New("ingest: tenant id and document id are required")
	}
	err := ix.vectors.DeleteByFilter(ctx, ix.partition, vectorstore.Filter{
		TenantID:   tenantID,
		DocumentID: documentID,
	})
	return errors.Wrap(err, "ingest: delete document chunks")
}

// SplitText splits on the highest-priority separator that produces pieces
// within size, recursing into oversized pieces with lower-priority
// separators, then recombines adjacent pieces greedily with overlap carried
// between consecutive chunks.
func SplitText(text string, size int, overlap int) []string {
	pieces := splitRecursive(text, size, separators)
	return mergePieces(pieces, size, overlap)
}

func splitRecursive(text string, size int, seps []string) []string {
	if len(text) <= size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	if len(seps) == 0 {
		// No separator left: hard-cut.
		var out []string
		for len(text) > size {
			out = append(out, text[:size])
			text = text[size:]
		}
		if strings.TrimSpace(text) != "" {
			out = append(out, text)
		}
		return out
	}
	parts := strings.SplitAfter(text, seps[0])
	var out []string
	for _, part := range parts {
		out = append(out, splitRecursive(part, size, seps[1:])...)
	}
	return out
}

func mergePieces(pieces []string, size int, overlap int) []string {
	var chunks []string
	var current strings.Builder
	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece) > size {
			chunk := strings.TrimSpace(current.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			tail := current.String()
			if len(tail) > overlap {
				tail = tail[len(tail)-overlap:]
			}
			current.Reset()
			current.WriteString(tail)
		}
		current.WriteString(piece)
	}
	if chunk := strings.TrimSpace(current.String()); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}
