// internal/stream/event.go
package stream

import "github.com/user/docchat/internal/types"

// EventType is the closed set of tags every backend engine must emit.
type EventType string

const (
	EventThought        EventType = "thought"
	EventContent        EventType = "content"
	EventSource         EventType = "source"
	EventApprovalNeeded EventType = "approval_needed"
	EventApprovalResult EventType = "approval_result"
	EventResume         EventType = "resume"
	EventError          EventType = "error"
	EventFinal          EventType = "final"
)

// Approval decisions carried by approval_result events and final metadata.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Event is an immutable value record on the per-turn stream. Within one
// turn LLMMessageID is constant across every event after the placeholder
// is created; it is zero for ephemeral runs. Consumers may not reorder or
// drop events, except collapsing consecutive content deltas for display.
type Event struct {
	Type          EventType       `json:"type"`
	UserMessageID types.MessageID `json:"user_message_id"`
	LLMMessageID  types.MessageID `json:"llm_message_id"`

	// Content carries a thought snippet or a content delta.
	Content string `json:"content,omitempty"`
	// AccumulatedContent is set on final events; when present it is the
	// canonical text of the turn.
	AccumulatedContent string `json:"accumulated_content,omitempty"`

	Sources         []types.SourceNode     `json:"sources,omitempty"`
	PendingToolCall *types.PendingToolCall `json:"pending_tool_call,omitempty"`
	Decision        string                 `json:"decision,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
}

// CanonicalText returns the single text considered canonical for a final
// event: accumulated content when present, else content.
func (e Event) CanonicalText() string {
	if e.AccumulatedContent != "" {
		return e.AccumulatedContent
	}
	return e.Content
}
