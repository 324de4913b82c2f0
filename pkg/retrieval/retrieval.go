// Package retrieval embeds a query once, searches the tenant's private
// knowledge partition and the shared platform partition concurrently, and
// merges the results into a single weighted ranking.
package retrieval

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cairnwell/ragline/pkg/providers"
	"github.com/cairnwell/ragline/pkg/vectorstore"
)

// Partition tags where a chunk came from.
type Partition string

const (
	PartitionUser     Partition = "user"
	PartitionPlatform Partition = "platform"
)

// Default collection names, matching the ingestion side.
const (
	DefaultUserCollection     = "user_knowledge"
	DefaultPlatformCollection = "platform_knowledge"
)

// Chunk is a retrieved passage. Score is the partition-weighted score used
// for ranking; RawScore is the underlying similarity used for thresholding.
type Chunk struct {
	Text       string
	Score      float64
	RawScore   float64
	Source     Partition
	DocumentID string
	FileName   string
	ChunkIndex int
}

type Options struct {
	TopK           int
	UserWeight     float64
	PlatformWeight float64
	ScoreThreshold float64
}

func DefaultOptions() Options {
	return Options{
		TopK:           5,
		UserWeight:     1.2,
		PlatformWeight: 1.0,
		ScoreThreshold: 0.5,
	}
}

type Merger struct {
	embedder           providers.EmbeddingProvider
	vectors            vectorstore.Store
	userCollection     string
	platformCollection string
}

type MergerOption func(*Merger)

// WithCollections overrides the partition collection names.
func WithCollections(user, platform string) MergerOption {
	return func(m *Merger) {
		m.userCollection = user
		m.platformCollection = platform
	}
}

func NewMerger(embedder providers.EmbeddingProvider, vectors vectorstore.Store, opts ...MergerOption) (*Merger, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: nil embedding provider")
	}
	if vectors == nil {
		return nil, errors.New("retrieval: nil vector store")
	}
	m := &Merger{
		embedder:           embedder,
		vectors:            vectors,
		userCollection:     DefaultUserCollection,
		platformCollection: DefaultPlatformCollection,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Retrieve runs the full pipeline. The tenant filter on the private partition
// keeps tenants isolated; the platform partition is shared and unfiltered.
// Both partition queries run concurrently, so retrieval latency is the slower
// of the two rather than their sum.
func (m *Merger) Retrieve(ctx context.Context, query string, tenantID string, opts Options) ([]Chunk, error) {
	if tenantID == "" {
		return nil, errors.New("retrieval: empty tenant id")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}

	vector, err := m.embedder.Embed(ctx, query, providers.EmbedQuery)
	if err != nil {
		return nil, errors.Wrap(err, "retrieval: embed query")
	}

	var userResults, platformResults []vectorstore.Result
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		userResults, err = m.vectors.Search(egCtx, m.userCollection, vector, vectorstore.SearchOptions{
			Limit:  opts.TopK,
			Filter: &vectorstore.Filter{TenantID: tenantID},
		})
		return errors.Wrap(err, "search user partition")
	})
	eg.Go(func() error {
		var err error
		platformResults, err = m.vectors.Search(egCtx, m.platformCollection, vector, vectorstore.SearchOptions{
			Limit: opts.TopK,
		})
		return errors.Wrap(err, "search platform partition")
	})
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "retrieval")
	}

	merged := mergeAndRank(userResults, platformResults, opts)
	log.Debug().
		Int("user_hits", len(userResults)).
		Int("platform_hits", len(platformResults)).
		Int("merged", len(merged)).
		Msg("retrieval merged")
	return merged, nil
}

// mergeAndRank thresholds on the raw score, weights per partition, and sorts
// by weighted score. The sort is stable over a user-before-platform
// concatenation, so at equal weighted score private content wins.
func mergeAndRank(userResults, platformResults []vectorstore.Result, opts Options) []Chunk {
	chunks := make([]Chunk, 0, len(userResults)+len(platformResults))
	for _, r := range userResults {
		if r.Score >= opts.ScoreThreshold {
			chunks = append(chunks, toChunk(r, PartitionUser, opts.UserWeight))
		}
	}
	for _, r := range platformResults {
		if r.Score >= opts.ScoreThreshold {
			chunks = append(chunks, toChunk(r, PartitionPlatform, opts.PlatformWeight))
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	if len(chunks) > opts.TopK {
		chunks = chunks[:opts.TopK]
	}
	return chunks
}

func toChunk(r vectorstore.Result, source Partition, weight float64) Chunk {
	return Chunk{
		Text:       r.Payload.Text,
		Score:      r.Score * weight,
		RawScore:   r.Score,
		Source:     source,
		DocumentID: r.Payload.DocumentID,
		FileName:   r.Payload.FileName,
		ChunkIndex: r.Payload.ChunkIndex,
	}
}
