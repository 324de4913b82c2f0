package retrieval

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/cairnwell/ragline/pkg/providers"
	"github.com/cairnwell/ragline/pkg/vectorstore"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, kind providers.EmbeddingKind) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if kind != providers.EmbedQuery {
		return nil, errors.New("expected query embedding kind")
	}
	f.calls++
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, kind providers.EmbeddingKind) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec, err := f.Embed(ctx, texts[i], kind)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

type fakeVectors struct {
	vectorstore.Store
	mu      sync.Mutex
	results map[string][]vectorstore.Result
	filters map[string]*vectorstore.Filter
	limits  map[string]int
}

func (f *fakeVectors) Search(_ context.Context, partition string, _ []float32, opts vectorstore.SearchOptions) ([]vectorstore.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filters == nil {
		f.filters = map[string]*vectorstore.Filter{}
		f.limits = map[string]int{}
	}
	f.filters[partition] = opts.Filter
	f.limits[partition] = opts.Limit
	return f.results[partition], nil
}

func hit(score float64, text string) vectorstore.Result {
	return vectorstore.Result{Score: score, Payload: vectorstore.Payload{Text: text, FileName: text + ".txt"}}
}

func newTestMerger(t *testing.T, vectors vectorstore.Store) *Merger {
	t.Helper()
	m, err := NewMerger(&fakeEmbedder{}, vectors)
	require.NoError(t, err)
	return m
}

func TestRetrieve_UserWeightBreaksTies(t *testing.T) {
	vectors := &fakeVectors{results: map[string][]vectorstore.Result{
		DefaultUserCollection:     {hit(0.6, "private")},
		DefaultPlatformCollection: {hit(0.6, "shared")},
	}}
	m := newTestMerger(t, vectors)

	chunks, err := m.Retrieve(context.Background(), "q", "tenant-a", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, PartitionUser, chunks[0].Source)
	require.InDelta(t, 0.72, chunks[0].Score, 1e-9)
	require.InDelta(t, 0.6, chunks[0].RawScore, 1e-9)
	require.Equal(t, PartitionPlatform, chunks[1].Source)
	require.InDelta(t, 0.6, chunks[1].Score, 1e-9)
}

func TestRetrieve_ThresholdUsesRawScore(t *testing.T) {
	// Raw 0.45 would pass the threshold after weighting (0.54); it must still
	// be discarded because thresholding happens pre-weighting.
	vectors := &fakeVectors{results: map[string][]vectorstore.Result{
		DefaultUserCollection:     {hit(0.45, "below"), hit(0.5, "exactly-at")},
		DefaultPlatformCollection: {hit(0.49, "also-below")},
	}}
	m := newTestMerger(t, vectors)

	chunks, err := m.Retrieve(context.Background(), "q", "tenant-a", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "exactly-at", chunks[0].Text)
}

func TestRetrieve_SortedAndTruncatedToTopK(t *testing.T) {
	vectors := &fakeVectors{results: map[string][]vectorstore.Result{
		DefaultUserCollection: {
			hit(0.9, "u1"), hit(0.7, "u2"), hit(0.55, "u3"), hit(0.52, "u4"),
		},
		DefaultPlatformCollection: {
			hit(0.95, "p1"), hit(0.8, "p2"), hit(0.6, "p3"),
		},
	}}
	m := newTestMerger(t, vectors)

	opts := DefaultOptions()
	opts.TopK = 5
	chunks, err := m.Retrieve(context.Background(), "q", "tenant-a", opts)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	require.True(t, sort.SliceIsSorted(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score }))
	for _, c := range chunks {
		require.GreaterOrEqual(t, c.RawScore, opts.ScoreThreshold)
	}
	// u1 weighted to 1.08 outranks p1's 0.95.
	require.Equal(t, "u1", chunks[0].Text)
	require.Equal(t, "p1", chunks[1].Text)
}

func TestRetrieve_TenantFilterOnPrivatePartitionOnly(t *testing.T) {
	vectors := &fakeVectors{results: map[string][]vectorstore.Result{}}
	m := newTestMerger(t, vectors)

	_, err := m.Retrieve(context.Background(), "q", "tenant-a", DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, vectors.filters[DefaultUserCollection])
	require.Equal(t, "tenant-a", vectors.filters[DefaultUserCollection].TenantID)
	require.Nil(t, vectors.filters[DefaultPlatformCollection])
	require.Equal(t, 5, vectors.limits[DefaultUserCollection])
	require.Equal(t, 5, vectors.limits[DefaultPlatformCollection])
}

func TestRetrieve_EmbedsQueryOnce(t *testing.T) {
	embedder := &fakeEmbedder{}
	m, err := NewMerger(embedder, &fakeVectors{results: map[string][]vectorstore.Result{}})
	require.NoError(t, err)

	_, err = m.Retrieve(context.Background(), "q", "tenant-a", DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 1, embedder.calls)
}

func TestRetrieve_EmbedFailureIsReported(t *testing.T) {
	m, err := NewMerger(&fakeEmbedder{err: errors.New("embedder down")}, &fakeVectors{})
	require.NoError(t, err)

	_, err = m.Retrieve(context.Background(), "q", "tenant-a", DefaultOptions())
	require.Error(t, err)
	require.Contains(t, err.Error(), "embed query")
}

func TestRetrieve_EmptyTenant(t *testing.T) {
	m := newTestMerger(t, &fakeVectors{})
	_, err := m.Retrieve(context.Background(), "q", "", DefaultOptions())
	require.Error(t, err)
}
