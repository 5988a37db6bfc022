// internal/types/models.go
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SubjectKind distinguishes whether a conversation is bound to a single
// document or to a whole corpus.
type SubjectKind string

const (
	SubjectDocument SubjectKind = "document"
	SubjectCorpus   SubjectKind = "corpus"
)

// Subject is the resolved document or corpus a conversation is bound to.
// Read-only once an agent is built.
type Subject struct {
	Kind      SubjectKind `json:"kind"`
	ID        SubjectID   `json:"id"`
	Title     string      `json:"title"`
	CreatorID UserID      `json:"creator_id,omitempty"`
}

// MessageKind identifies the author of a persisted message.
type MessageKind string

const (
	MessageKindHuman MessageKind = "human"
	MessageKindLLM   MessageKind = "llm"
)

// MessageState is the lifecycle state stored in a message's data blob.
type MessageState string

const (
	StateInProgress       MessageState = "in_progress"
	StateCompleted        MessageState = "completed"
	StateError            MessageState = "error"
	StateCancelled        MessageState = "cancelled"
	StateAwaitingApproval MessageState = "awaiting_approval"
)

var allowedStateTransitions = map[MessageState]map[MessageState]struct{}{
	StateInProgress: {
		StateCompleted:        {},
		StateError:            {},
		StateCancelled:        {},
		StateAwaitingApproval: {},
	},
	StateAwaitingApproval: {
		StateCompleted: {},
		StateCancelled: {},
	},
	StateCompleted: {},
	StateError:     {},
	StateCancelled: {},
}

// ValidateStateTransition reports whether a message may move from one state
// to another. Same-state transitions are allowed so updates can be retried.
func ValidateStateTransition(from, to MessageState) error {
	if from == to {
		return nil
	}
	allowed, ok := allowedStateTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source state %q", ErrInvalidStateTransition, from)
	}
	if _, ok := allowed[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}
	return nil
}

// Conversation is the durable container for a message history. Ephemeral
// runs have no Conversation at all.
type Conversation struct {
	ID          ConversationID `json:"id"`
	UID         string         `json:"uid"`
	UserID      UserID         `json:"user_id"`
	SubjectKind SubjectKind    `json:"subject_kind"`
	SubjectID   SubjectID      `json:"subject_id"`
	Title       string         `json:"title"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SourceNode is a retrieval result surfaced to the caller and optionally
// persisted alongside a message. Never mutated after creation.
type SourceNode struct {
	AnnotationID string         `json:"annotation_id"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Score        float64        `json:"similarity_score"`
}

// TimelineEntryType classifies entries in the per-message audit trail.
type TimelineEntryType string

const (
	TimelineThought    TimelineEntryType = "thought"
	TimelineContent    TimelineEntryType = "content"
	TimelineToolCall   TimelineEntryType = "tool_call"
	TimelineToolResult TimelineEntryType = "tool_result"
	TimelineSources    TimelineEntryType = "sources"
	TimelineStatus     TimelineEntryType = "status"
)

// TimelineEntry is one append-only record in a message's timeline.
// Ordering is emission order; entries are never reordered or deduplicated.
type TimelineEntry struct {
	Type   TimelineEntryType `json:"type"`
	Text   string            `json:"text,omitempty"`
	Tool   string            `json:"tool,omitempty"`
	CallID string            `json:"call_id,omitempty"`
	Count  int               `json:"count,omitempty"`
	Msg    string            `json:"msg,omitempty"`
}

// Usage tracks token consumption for a turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// MessageData is the structured blob persisted with each message.
type MessageData struct {
	State       MessageState    `json:"state"`
	Sources     []SourceNode    `json:"sources,omitempty"`
	Timeline    []TimelineEntry `json:"timeline,omitempty"`
	Usage       *Usage          `json:"usage,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
}

// Message belongs to exactly one conversation.
type Message struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	Kind           MessageKind    `json:"kind"`
	Content        string         `json:"content"`
	Data           MessageData    `json:"data"`
}

// PendingToolCall captures a gated tool invocation at the moment the
// approval gate fires. Together with the persisted message row it is
// sufficient to resume execution.
type PendingToolCall struct {
	Name         string          `json:"name"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	CallID       string          `json:"call_id"`
	LLMMessageID MessageID       `json:"llm_message_id"`
}
