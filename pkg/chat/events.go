package chat

// EventType is the outward turn event contract: zero or more token events
// followed by exactly one done or error event.
type EventType string

const (
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// ErrorCode classifies error events for transports that map them to status
// codes. Token and done events carry no code.
type ErrorCode string

const (
	CodeRejected   ErrorCode = "rejected"
	CodeNotFound   ErrorCode = "not_found"
	CodeDependency ErrorCode = "dependency_failure"
	CodeValidation ErrorCode = "validation_failure"
)

// Event is one element of a turn's event stream.
type Event struct {
	Type           EventType `json:"type"`
	Content        string    `json:"content,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Code           ErrorCode `json:"code,omitempty"`
}
