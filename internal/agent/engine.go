// internal/agent/engine.go
package agent

import (
	"context"

	"github.com/user/docchat/internal/stream"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/llm"
)

// OutcomeKind tags the result of an engine run.
type OutcomeKind string

const (
	// OutcomeCompleted means the engine produced a final answer.
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomePaused means a gated tool is waiting for approval. A pause is
	// normal control flow, not an error; it is visible in the type instead
	// of unwinding through an exception-like path.
	OutcomePaused OutcomeKind = "paused"
)

// Outcome is the explicit result of an engine run or resumption.
type Outcome struct {
	Kind OutcomeKind
	// Content is the text accumulated during this run segment.
	Content string
	// Usage is set when the provider reported or the engine estimated it.
	Usage *types.Usage
	// Paused carries the gated call when Kind is OutcomePaused.
	Paused *types.PendingToolCall
	// Transcript is the message list at completion or pause, sufficient to
	// resume generation without re-deriving context.
	Transcript []llm.Message
}

// Hooks are the runner-owned callbacks an engine emits through. Emit
// forwards stream events (the runner fills in message ids); ToolCall and
// ToolResult feed the audit timeline for ungated executions.
type Hooks struct {
	Emit       func(stream.Event)
	ToolCall   func(name, callID string)
	ToolResult func(name, callID, preview string)
}

// Engine is one underlying execution backend. Implementations must be
// stateless across calls: everything needed to continue lives in the
// transcript and the outcome.
type Engine interface {
	Name() string

	// Run executes a turn over the transcript until a final answer or a
	// gated tool pause.
	Run(ctx context.Context, transcript []llm.Message, hooks Hooks) (Outcome, error)

	// Resume feeds the result of an externally executed gated tool back
	// into the transcript and continues generation.
	Resume(ctx context.Context, transcript []llm.Message, call types.PendingToolCall, result string, hooks Hooks) (Outcome, error)
}
