// Package qdrantstore backs the vector store contract with Qdrant.
//
// Tenant isolation is enforced with a payload filter on tenant_id; private and
// platform knowledge live in separate collections.
package qdrantstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/qdrant/go-client/qdrant"

	"github.com/cairnwell/ragline/pkg/vectorstore"
)

type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

type Store struct {
	client *qdrant.Client
}

var _ vectorstore.Store = &Store{}

func New(cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "qdrant store: connect")
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) Search(ctx context.Context, partition string, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.Result, error) {
	limit := uint64(opts.Limit)
	if limit == 0 {
		limit = 5
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: partition,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         toFilter(opts.Filter),
	})
	if err != nil {
		return nil, errors.Wrap(err, "qdrant store: search")
	}
	results := make([]vectorstore.Result, 0, len(points))
	for _, p := range points {
		results = append(results, vectorstore.Result{
			Score:   float64(p.GetScore()),
			Payload: fromPayload(p.GetPayload()),
		})
	}
	return results, nil
}

func (s *Store) Upsert(ctx context.Context, partition string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toPayload(p.Payload),
		})
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: partition,
		Points:         qpoints,
		Wait:           &wait,
	})
	return errors.Wrap(err, "qdrant store: upsert")
}

func (s *Store) Delete(ctx context.Context, partition string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	qids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		qids = append(qids, qdrant.NewID(id))
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: partition,
		Points:         qdrant.NewPointsSelector(qids...),
		Wait:           &wait,
	})
	return errors.Wrap(err, "qdrant store: delete points")
}

func (s *Store) DeleteByFilter(ctx context.Context, partition string, filter vectorstore.Filter) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: partition,
		Points:         qdrant.NewPointsSelectorFilter(toFilter(&filter)),
		Wait:           &wait,
	})
	return errors.Wrap(err, "qdrant store: delete by filter")
}

func toFilter(f *vectorstore.Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	var must []*qdrant.Condition
	if f.TenantID != "" {
		must = append(must, qdrant.NewMatch("tenant_id", f.TenantID))
	}
	if f.DocumentID != "" {
		must = append(must, qdrant.NewMatch("document_id", f.DocumentID))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func toPayload(p vectorstore.Payload) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		"tenant_id":    p.TenantID,
		"document_id":  p.DocumentID,
		"file_name":    p.FileName,
		"chunk_index":  int64(p.ChunkIndex),
		"total_chunks": int64(p.TotalChunks),
		"text":         p.Text,
		"created_at":   p.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func fromPayload(values map[string]*qdrant.Value) vectorstore.Payload {
	p := vectorstore.Payload{
		TenantID:    values["tenant_id"].GetStringValue(),
		DocumentID:  values["document_id"].GetStringValue(),
		FileName:    values["file_name"].GetStringValue(),
		ChunkIndex:  int(values["chunk_index"].GetIntegerValue()),
		TotalChunks: int(values["total_chunks"].GetIntegerValue()),
		Text:        values["text"].GetStringValue(),
	}
	if ts := values["created_at"].GetStringValue(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			p.CreatedAt = t
		}
	}
	return p
}
