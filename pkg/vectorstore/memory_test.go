package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *MemoryStore, partition string, points ...Point) {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), partition, points))
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "docs",
		Point{ID: "near", Vector: []float32{1, 0}, Payload: Payload{Text: "near"}},
		Point{ID: "mid", Vector: []float32{1, 1}, Payload: Payload{Text: "mid"}},
		Point{ID: "far", Vector: []float32{0, 1}, Payload: Payload{Text: "far"}},
	)

	results, err := s.Search(context.Background(), "docs", []float32{1, 0}, SearchOptions{Limit: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "near", results[0].Payload.Text)
	require.Equal(t, "mid", results[1].Payload.Text)
	require.Equal(t, "far", results[2].Payload.Text)
	require.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestSearchAppliesTenantFilter(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "docs",
		Point{ID: "a", Vector: []float32{1, 0}, Payload: Payload{TenantID: "tenant-a", Text: "a"}},
		Point{ID: "b", Vector: []float32{1, 0}, Payload: Payload{TenantID: "tenant-b", Text: "b"}},
	)

	results, err := s.Search(context.Background(), "docs", []float32{1, 0}, SearchOptions{
		Filter: &Filter{TenantID: "tenant-a"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "tenant-a", results[0].Payload.TenantID)
}

func TestSearchRespectsLimitAndDefault(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 8; i++ {
		seed(t, s, "docs", Point{ID: string(rune('a' + i)), Vector: []float32{1, float32(i)}})
	}

	results, err := s.Search(context.Background(), "docs", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 5)

	results, err = s.Search(context.Background(), "docs", []float32{1, 0}, SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSearchErrors(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "docs", Point{ID: "a", Vector: []float32{1, 0, 0}})

	_, err := s.Search(context.Background(), "docs", nil, SearchOptions{})
	require.Error(t, err)

	_, err = s.Search(context.Background(), "docs", []float32{1, 0}, SearchOptions{})
	require.Error(t, err, "dimension mismatch")
}

func TestUpsertOverwritesByID(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "docs", Point{ID: "a", Vector: []float32{1, 0}, Payload: Payload{Text: "old"}})
	seed(t, s, "docs", Point{ID: "a", Vector: []float32{1, 0}, Payload: Payload{Text: "new"}})

	results, err := s.Search(context.Background(), "docs", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "new", results[0].Payload.Text)
}

func TestPartitionsAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "user_knowledge", Point{ID: "a", Vector: []float32{1, 0}, Payload: Payload{Text: "user"}})
	seed(t, s, "platform_knowledge", Point{ID: "b", Vector: []float32{1, 0}, Payload: Payload{Text: "platform"}})

	results, err := s.Search(context.Background(), "user_knowledge", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "user", results[0].Payload.Text)
}

func TestDeleteByFilterRemovesDocument(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "docs",
		Point{ID: "a1", Vector: []float32{1, 0}, Payload: Payload{TenantID: "t", DocumentID: "doc-1"}},
		Point{ID: "a2", Vector: []float32{1, 0}, Payload: Payload{TenantID: "t", DocumentID: "doc-1"}},
		Point{ID: "b1", Vector: []float32{1, 0}, Payload: Payload{TenantID: "t", DocumentID: "doc-2"}},
	)

	require.NoError(t, s.DeleteByFilter(context.Background(), "docs", Filter{TenantID: "t", DocumentID: "doc-1"}))

	results, err := s.Search(context.Background(), "docs", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "doc-2", results[0].Payload.DocumentID)
}

func TestDeleteByIDs(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "docs",
		Point{ID: "a", Vector: []float32{1, 0}},
		Point{ID: "b", Vector: []float32{1, 0}},
	)

	require.NoError(t, s.Delete(context.Background(), "docs", []string{"a", "missing"}))

	results, err := s.Search(context.Background(), "docs", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
}
