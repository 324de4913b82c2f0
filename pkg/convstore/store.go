package convstore

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a conversation does not exist or is not
	// owned by the requesting tenant. The two cases are deliberately
	// indistinguishable to callers.
	ErrNotFound = errors.New("conversation not found")
	// ErrConflict is returned when a summary update would move
	// summaryUpToIndex backwards or race a concurrent writer.
	ErrConflict = errors.New("conversation update conflict")
)

// Store is the single source of truth for conversations. Append and summary
// updates are atomic: readers never observe a partially written turn.
type Store interface {
	Create(ctx context.Context, tenantID string, title string) (*Conversation, error)
	// Get returns the conversation only if it belongs to tenantID.
	Get(ctx context.Context, tenantID string, id string) (*Conversation, error)
	// ListByTenant returns active conversations, most recently updated first.
	ListByTenant(ctx context.Context, tenantID string) ([]Info, error)
	// AppendTurn appends the user and assistant messages of one turn as a
	// single atomic write.
	AppendTurn(ctx context.Context, id string, user Message, assistant Message) error
	// UpdateSummary atomically replaces the summary and advances
	// summaryUpToIndex. It fails with ErrConflict if upToIndex is lower than
	// the stored value.
	UpdateSummary(ctx context.Context, id string, summary string, upToIndex int) error
	// Deactivate soft-deletes a tenant's conversation.
	Deactivate(ctx context.Context, tenantID string, id string) error
}
