package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore is an exact cosine-similarity store for tests and small
// single-node deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]Point
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: map[string]map[string]Point{}}
}

func (s *MemoryStore) Search(_ context.Context, partition string, vector []float32, opts SearchOptions) ([]Result, error) {
	if len(vector) == 0 {
		return nil, errors.New("memory vector store: empty query vector")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := []Result{}
	for _, p := range s.partitions[partition] {
		if !matches(p.Payload, opts.Filter) {
			continue
		}
		score, err := cosine(vector, p.Vector)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Score: score, Payload: p.Payload})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemoryStore) Upsert(_ context.Context, partition string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.partitions[partition]
	if !ok {
		part = map[string]Point{}
		s.partitions[partition] = part
	}
	for _, p := range points {
		if p.ID == "" {
			return errors.New("memory vector store: point without id")
		}
		part[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, partition string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part := s.partitions[partition]
	for _, id := range ids {
		delete(part, id)
	}
	return nil
}

func (s *MemoryStore) DeleteByFilter(_ context.Context, partition string, filter Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part := s.partitions[partition]
	for id, p := range part {
		if matches(p.Payload, &filter) {
			delete(part, id)
		}
	}
	return nil
}

func matches(p Payload, f *Filter) bool {
	if f == nil {
		return true
	}
	if f.TenantID != "" && p.TenantID != f.TenantID {
		return false
	}
	if f.DocumentID != "" && p.DocumentID != f.DocumentID {
		return false
	}
	return true
}

func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Errorf("memory vector store: dimension mismatch %d != %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
