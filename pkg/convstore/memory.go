package convstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string]*Conversation
	now   func() time.Time
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: map[string]*Conversation{},
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, tenantID string, title string) (*Conversation, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.New("memory store: empty tenant id")
	}
	now := s.now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Title:     title,
		IsActive:  true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if conv.Title == "" {
		conv.Title = "New Conversation"
	}
	s.mu.Lock()
	s.convs[conv.ID] = conv
	s.mu.Unlock()
	return cloneConversation(conv), nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID string, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok || conv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := []Info{}
	for _, conv := range s.convs {
		if conv.TenantID != tenantID || !conv.IsActive {
			continue
		}
		infos = append(infos, Info{
			ID:           conv.ID,
			TenantID:     conv.TenantID,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, id string, user Message, assistant Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	conv.Messages = append(conv.Messages, fillMessage(user, now), fillMessage(assistant, now))
	conv.Version++
	conv.UpdatedAt = now
	return nil
}

func (s *MemoryStore) UpdateSummary(_ context.Context, id string, summary string, upToIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	if upToIndex < conv.SummaryUpToIndex {
		return errors.Wrapf(ErrConflict, "summaryUpToIndex would move from %d to %d", conv.SummaryUpToIndex, upToIndex)
	}
	conv.Summary = summary
	conv.SummaryUpToIndex = upToIndex
	conv.Version++
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Deactivate(_ context.Context, tenantID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok || conv.TenantID != tenantID {
		return ErrNotFound
	}
	conv.IsActive = false
	conv.Version++
	conv.UpdatedAt = s.now()
	return nil
}

func fillMessage(m Message, now time.Time) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	return m
}

func cloneConversation(conv *Conversation) *Conversation {
	out := *conv
	out.Messages = append([]Message(nil), conv.Messages...)
	for i := range out.Messages {
		if out.Messages[i].Metadata != nil {
			md := *out.Messages[i].Metadata
			md.RetrievedChunks = append([]ChunkRef(nil), md.RetrievedChunks...)
			out.Messages[i].Metadata = &md
		}
	}
	return &out
}
