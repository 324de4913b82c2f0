package convstore

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChunkRef records a retrieved chunk that grounded an assistant message.
// Text is truncated before persistence; the full chunk lives in the vector store.
type ChunkRef struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Source   string  `json:"source"`
	FileName string  `json:"fileName"`
}

// MessageMetadata is attached to assistant messages for debugging and evaluation.
type MessageMetadata struct {
	RetrievedChunks []ChunkRef `json:"retrievedChunks,omitempty"`
	TokenCount      int        `json:"tokenCount,omitempty"`
	ModelUsed       string     `json:"modelUsed,omitempty"`
}

// Message is immutable once appended to a conversation.
type Message struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Conversation is owned by the store; callers hold a transient per-turn copy
// and never cache it across turns.
type Conversation struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenantId"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`

	// Summary is the running summary of messages below SummaryUpToIndex.
	// SummaryUpToIndex is monotonically non-decreasing.
	Summary          string `json:"summary"`
	SummaryUpToIndex int    `json:"summaryUpToIndex"`

	IsActive bool `json:"isActive"`
	// Version increments on every write; used for optimistic conflict detection.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Info is the message-free listing projection of a conversation.
type Info struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
