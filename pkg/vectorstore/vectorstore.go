// Package vectorstore abstracts the vector index used for retrieval. A
// partition is a logically separate namespace (per-tenant private knowledge
// vs. platform-wide shared knowledge).
package vectorstore

import (
	"context"
	"time"
)

// Payload is the metadata stored next to each vector. TenantID drives the
// payload filter that keeps private partitions isolated.
type Payload struct {
	TenantID    string    `json:"tenantId,omitempty"`
	DocumentID  string    `json:"documentId"`
	FileName    string    `json:"fileName"`
	ChunkIndex  int       `json:"chunkIndex"`
	TotalChunks int       `json:"totalChunks"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Result is a scored search hit. Score is the raw similarity in [0, 1].
type Result struct {
	Score   float64
	Payload Payload
}

// Filter restricts matches by payload fields; zero values match everything.
type Filter struct {
	TenantID   string
	DocumentID string
}

type SearchOptions struct {
	Limit  int
	Filter *Filter
}

type Store interface {
	Search(ctx context.Context, partition string, vector []float32, opts SearchOptions) ([]Result, error)
	Upsert(ctx context.Context, partition string, points []Point) error
	Delete(ctx context.Context, partition string, ids []string) error
	DeleteByFilter(ctx context.Context, partition string, filter Filter) error
}
