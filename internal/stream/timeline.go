// internal/stream/timeline.go
package stream

import "github.com/user/docchat/internal/types"

// TimelineBuilder derives a compact audit trail from the event stream.
// Entries are appended in emission order and never reordered. Content
// deltas are intentionally not recorded to keep the timeline bounded;
// fine-grained text belongs in thought events if needed.
type TimelineBuilder struct {
	entries []types.TimelineEntry
}

func NewTimelineBuilder() *TimelineBuilder {
	return &TimelineBuilder{}
}

// Observe folds one stream event into the timeline.
func (b *TimelineBuilder) Observe(ev Event) {
	switch ev.Type {
	case EventThought:
		b.entries = append(b.entries, types.TimelineEntry{
			Type: types.TimelineThought,
			Text: ev.Content,
		})
	case EventSource:
		// Only the count is recorded, never the full payload.
		b.entries = append(b.entries, types.TimelineEntry{
			Type:  types.TimelineSources,
			Count: len(ev.Sources),
		})
	case EventApprovalNeeded:
		entry := types.TimelineEntry{Type: types.TimelineToolCall}
		if ev.PendingToolCall != nil {
			entry.Tool = ev.PendingToolCall.Name
			entry.CallID = ev.PendingToolCall.CallID
		}
		b.entries = append(b.entries, entry)
	case EventApprovalResult:
		b.entries = append(b.entries, types.TimelineEntry{
			Type: types.TimelineStatus,
			Msg:  "approval_" + ev.Decision,
		})
	case EventResume:
		b.entries = append(b.entries, types.TimelineEntry{
			Type: types.TimelineStatus,
			Msg:  "run_resumed",
		})
	case EventError:
		b.entries = append(b.entries, types.TimelineEntry{
			Type: types.TimelineStatus,
			Msg:  "run_failed",
		})
	case EventFinal:
		b.entries = append(b.entries, types.TimelineEntry{
			Type: types.TimelineStatus,
			Msg:  "run_finished",
		})
	}
}

// ToolCall records an ungated tool invocation executed inside the engine.
func (b *TimelineBuilder) ToolCall(name, callID string) {
	b.entries = append(b.entries, types.TimelineEntry{
		Type:   types.TimelineToolCall,
		Tool:   name,
		CallID: callID,
	})
}

// ToolResult records a tool observation. Text should be a short preview,
// not the full output.
func (b *TimelineBuilder) ToolResult(name, callID, text string) {
	b.entries = append(b.entries, types.TimelineEntry{
		Type:   types.TimelineToolResult,
		Tool:   name,
		CallID: callID,
		Text:   text,
	})
}

// Entries returns a copy of the timeline collected so far.
func (b *TimelineBuilder) Entries() []types.TimelineEntry {
	out := make([]types.TimelineEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
