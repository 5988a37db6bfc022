// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/docchat/internal/convo"
	"github.com/user/docchat/internal/prompt"
	"github.com/user/docchat/internal/stream"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/internal/vectorsearch"
	"github.com/user/docchat/pkg/llm"
)

// CoreAgent is the framework-agnostic contract every backend satisfies.
type CoreAgent interface {
	// Chat runs one turn to completion and returns the folded result.
	Chat(ctx context.Context, message string) (*ChatResult, error)
	// Stream runs one turn, emitting events until a final, error, or
	// approval-needed event; the channel is then closed.
	Stream(ctx context.Context, message string) (<-chan stream.Event, error)
	// ResumeWithApproval continues a turn paused on a gated tool.
	ResumeWithApproval(ctx context.Context, id types.MessageID, approved bool) (<-chan stream.Event, error)
	// Messages returns the conversation history.
	Messages(ctx context.Context) ([]*types.Message, error)
	// Conversation returns the bound conversation, nil for ephemeral runs.
	Conversation() *types.Conversation
}

// ChatResult is the non-streaming view of a turn.
type ChatResult struct {
	Content      string
	Sources      []types.SourceNode
	Usage        *types.Usage
	LLMMessageID types.MessageID
	// PendingToolCall is set when the turn paused for approval instead of
	// completing.
	PendingToolCall *types.PendingToolCall
	Err             string
}

// Agent is the shared turn runner. The approval gate, timeline building,
// retrieval, persistence, and duplicate-query handling are written once
// here; backends plug in as Engine implementations.
type Agent struct {
	config    Config
	subject   types.Subject
	manager   *convo.Manager
	engine    Engine
	registry  *Registry
	retriever *vectorsearch.Searcher
	prompts   *prompt.Builder

	gate     *approvalGate
	inflight *inflightRuns
}

// NewAgent wires a runner around one engine. All parameters are required
// except retriever and prompts, which may be nil for engines that need no
// retrieval (tests mostly).
func NewAgent(
	config Config,
	subject types.Subject,
	manager *convo.Manager,
	engine Engine,
	registry *Registry,
	retriever *vectorsearch.Searcher,
	prompts *prompt.Builder,
) (*Agent, error) {
	if manager == nil {
		return nil, errors.New("conversation manager is required")
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Agent{
		config:    config.clone(),
		subject:   subject,
		manager:   manager,
		engine:    engine,
		registry:  registry,
		retriever: retriever,
		prompts:   prompts,
		gate:      newApprovalGate(),
		inflight:  newInflightRuns(),
	}, nil
}

// Conversation returns the bound conversation, nil for ephemeral runs.
func (a *Agent) Conversation() *types.Conversation {
	return a.manager.Conversation()
}

// Messages returns the conversation history.
func (a *Agent) Messages(ctx context.Context) ([]*types.Message, error) {
	return a.manager.Messages(ctx)
}

// Stream runs one turn. A concurrent call with identical message text
// joins the in-flight run instead of starting a second execution.
func (a *Agent) Stream(ctx context.Context, message string) (<-chan stream.Event, error) {
	run, started := a.inflight.joinOrStart(message)
	ch := run.subscribe()
	if started {
		go a.runTurn(ctx, message, run)
	}
	return ch, nil
}

// Chat folds a streamed turn into a single result.
func (a *Agent) Chat(ctx context.Context, message string) (*ChatResult, error) {
	events, err := a.Stream(ctx, message)
	if err != nil {
		return nil, err
	}
	return foldEvents(events), nil
}

func foldEvents(events <-chan stream.Event) *ChatResult {
	result := &ChatResult{}
	for ev := range events {
		switch ev.Type {
		case stream.EventSource:
			result.Sources = ev.Sources
		case stream.EventApprovalNeeded:
			result.LLMMessageID = ev.LLMMessageID
			result.PendingToolCall = ev.PendingToolCall
		case stream.EventError:
			result.LLMMessageID = ev.LLMMessageID
			result.Err = ev.Error
		case stream.EventFinal:
			result.LLMMessageID = ev.LLMMessageID
			result.Content = ev.CanonicalText()
			if usage, ok := ev.Metadata["usage"].(*types.Usage); ok {
				result.Usage = usage
			}
		}
	}
	return result
}

// sideEffectContext keeps persistence writes alive when the caller's
// context is already cancelled.
func sideEffectContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if ctx.Err() != nil {
		return context.WithoutCancel(ctx)
	}
	return ctx
}

// runTurn drives one full turn: persist, retrieve, generate, finalize.
func (a *Agent) runTurn(ctx context.Context, message string, run *broadcastRun) {
	defer a.inflight.finish(message)
	defer run.close()

	tb := stream.NewTimelineBuilder()
	var userID, llmID types.MessageID

	emit := func(ev stream.Event) {
		ev.UserMessageID = userID
		ev.LLMMessageID = llmID
		tb.Observe(ev)
		run.publish(ev)
	}

	// History is loaded before the new user message is stored so the
	// transcript does not carry it twice.
	history, err := a.manager.Messages(ctx)
	if err != nil {
		slog.Warn("failed to load history, continuing without it", "error", err)
	}

	userID, err = a.manager.StoreUserMessage(sideEffectContext(ctx), message)
	if err != nil {
		emit(stream.Event{Type: stream.EventError, Error: err.Error()})
		return
	}
	llmID, err = a.manager.CreatePlaceholder(sideEffectContext(ctx), types.MessageKindLLM)
	if err != nil {
		emit(stream.Event{Type: stream.EventError, Error: err.Error()})
		return
	}

	// A turn without retrieval hits emits no source event: the stream of a
	// plain turn is content deltas followed by the final, nothing else.
	sources := a.retrieve(ctx, message)
	if len(sources) > 0 {
		emit(stream.Event{Type: stream.EventSource, Sources: sources})
		if err := a.manager.UpdateSources(sideEffectContext(ctx), llmID, sources); err != nil {
			slog.Warn("failed to persist sources", "llm_message_id", int64(llmID), "error", err)
		}
	}

	transcript := a.buildTranscript(sources, history, message)

	outcome, err := a.engine.Run(ctx, transcript, a.hooks(emit, tb))
	if err != nil {
		a.failTurn(ctx, emit, userID, llmID, err)
		return
	}

	if outcome.Kind == OutcomePaused {
		a.pauseTurn(ctx, emit, tb, outcome, sources, userID, llmID, "")
		return
	}
	a.finishTurn(ctx, emit, run, tb, userID, llmID, outcome.Content, sources, outcome.Usage, nil)
}

// ResumeWithApproval re-enters a paused turn. The pending call is consumed
// on lookup, so a repeated resume for the same id fails with
// ErrPendingApprovalNotFound instead of re-executing the tool.
func (a *Agent) ResumeWithApproval(ctx context.Context, id types.MessageID, approved bool) (<-chan stream.Event, error) {
	pending, ok := a.gate.take(id)
	if !ok {
		return nil, fmt.Errorf("%w: llm_message_id=%d", ErrPendingApprovalNotFound, id)
	}

	run := newBroadcastRun()
	ch := run.subscribe()
	go a.resumeTurn(ctx, pending, approved, run, id)
	return ch, nil
}

func (a *Agent) resumeTurn(ctx context.Context, pending *pendingRun, approved bool, run *broadcastRun, llmID types.MessageID) {
	defer run.close()

	tb := pending.timeline
	if tb == nil {
		tb = stream.NewTimelineBuilder()
	}
	emit := func(ev stream.Event) {
		ev.UserMessageID = pending.userMessageID
		ev.LLMMessageID = llmID
		tb.Observe(ev)
		run.publish(ev)
	}

	if !approved {
		emit(stream.Event{Type: stream.EventApprovalResult, Decision: stream.DecisionRejected})
		metadata := map[string]any{"approval_decision": stream.DecisionRejected}
		a.finishTurn(ctx, emit, run, tb, pending.userMessageID, llmID, pending.content, pending.sources, nil, metadata)
		return
	}

	emit(stream.Event{Type: stream.EventApprovalResult, Decision: stream.DecisionApproved})

	// The engine's run already ended at the pause, so the gated tool is
	// executed here directly rather than through the engine's dispatch.
	result := a.executeGatedTool(ctx, pending.call, tb)
	emit(stream.Event{Type: stream.EventResume})

	outcome, err := a.engine.Resume(ctx, pending.transcript, pending.call, result, a.hooks(emit, tb))
	if err != nil {
		a.failTurn(ctx, emit, pending.userMessageID, llmID, err)
		return
	}

	content := pending.content + outcome.Content
	if outcome.Kind == OutcomePaused {
		a.pauseTurn(ctx, emit, tb, outcome, pending.sources, pending.userMessageID, llmID, pending.content)
		return
	}
	metadata := map[string]any{"approval_decision": stream.DecisionApproved}
	a.finishTurn(ctx, emit, run, tb, pending.userMessageID, llmID, content, pending.sources, outcome.Usage, metadata)
}

func (a *Agent) executeGatedTool(ctx context.Context, call types.PendingToolCall, tb *stream.TimelineBuilder) string {
	tool, ok := a.registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
	tb.ToolCall(call.Name, call.CallID)
	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		result = fmt.Sprintf("error: %v", err)
	}
	tb.ToolResult(call.Name, call.CallID, preview(result))
	return result
}

// hooks adapts the emit closure and timeline builder for engine callbacks.
func (a *Agent) hooks(emit func(stream.Event), tb *stream.TimelineBuilder) Hooks {
	return Hooks{
		Emit:       emit,
		ToolCall:   tb.ToolCall,
		ToolResult: tb.ToolResult,
	}
}

// retrieve runs vector search; retrieval failures degrade to no sources.
func (a *Agent) retrieve(ctx context.Context, message string) []types.SourceNode {
	if a.retriever == nil {
		return nil
	}
	results, err := a.retriever.Search(ctx, vectorsearch.Query{
		Text: message,
		TopK: a.config.TopK,
	})
	if err != nil {
		slog.Warn("retrieval failed, continuing without sources", "error", err)
		return nil
	}
	return vectorsearch.SourceNodes(results)
}

// buildTranscript assembles the engine input. The prompt builder applies
// token budgeting; without one a plain transcript is used.
func (a *Agent) buildTranscript(sources []types.SourceNode, history []*types.Message, message string) []llm.Message {
	if a.prompts != nil {
		return a.prompts.Build(a.config.SystemPrompt, a.subject, sources, history, message)
	}
	messages := make([]llm.Message, 0, len(history)+2)
	if a.config.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: a.config.SystemPrompt})
	}
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		role := "assistant"
		if msg.Kind == types.MessageKindHuman {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: message})
	return messages
}

// pauseTurn persists the AWAITING_APPROVAL state and emits the
// approval-needed event as the last event of the stream.
func (a *Agent) pauseTurn(
	ctx context.Context,
	emit func(stream.Event),
	tb *stream.TimelineBuilder,
	outcome Outcome,
	sources []types.SourceNode,
	userID, llmID types.MessageID,
	priorContent string,
) {
	call := outcome.Paused
	call.LLMMessageID = llmID

	armed := a.gate.arm(llmID, &pendingRun{
		call:          *call,
		transcript:    outcome.Transcript,
		content:       priorContent + outcome.Content,
		sources:       sources,
		userMessageID: userID,
		timeline:      tb,
	})
	if !armed {
		a.failTurn(ctx, emit, userID, llmID, fmt.Errorf("%w: llm_message_id=%d", ErrApprovalAlreadyPending, llmID))
		return
	}

	sctx := sideEffectContext(ctx)
	if err := a.manager.UpdateContent(sctx, llmID, priorContent+outcome.Content); err != nil {
		slog.Warn("failed to persist paused content", "llm_message_id", int64(llmID), "error", err)
	}
	if err := a.manager.MergeMetadata(sctx, llmID, map[string]any{"pending_tool_call": call}); err != nil {
		slog.Warn("failed to persist pending tool call", "llm_message_id", int64(llmID), "error", err)
	}
	if err := a.manager.UpdateState(sctx, llmID, types.StateAwaitingApproval); err != nil {
		slog.Warn("failed to persist awaiting_approval state", "llm_message_id", int64(llmID), "error", err)
	}

	emit(stream.Event{Type: stream.EventApprovalNeeded, PendingToolCall: call})

	if err := a.manager.UpdateTimeline(sctx, llmID, tb.Entries()); err != nil {
		slog.Warn("failed to persist timeline", "llm_message_id", int64(llmID), "error", err)
	}
}

// failTurn marks the placeholder and ends the stream with an error event.
// No final event follows an error event.
func (a *Agent) failTurn(ctx context.Context, emit func(stream.Event), userID, llmID types.MessageID, err error) {
	sctx := sideEffectContext(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if cancelErr := a.manager.Cancel(sctx, llmID, err.Error()); cancelErr != nil {
			slog.Warn("failed to persist cancelled state", "llm_message_id", int64(llmID), "error", cancelErr)
		}
	} else if markErr := a.manager.MarkError(sctx, llmID, err.Error()); markErr != nil {
		slog.Warn("failed to persist error state", "llm_message_id", int64(llmID), "error", markErr)
	}
	emit(stream.Event{Type: stream.EventError, Error: err.Error()})
}

// finishTurn emits the final event and persists the completed message.
// Persistence is best-effort: a storage failure never erases an already
// computed answer.
func (a *Agent) finishTurn(
	ctx context.Context,
	emit func(stream.Event),
	run *broadcastRun,
	tb *stream.TimelineBuilder,
	userID, llmID types.MessageID,
	content string,
	sources []types.SourceNode,
	usage *types.Usage,
	metadata map[string]any,
) {
	final := stream.Event{
		Type:               stream.EventFinal,
		UserMessageID:      userID,
		LLMMessageID:       llmID,
		AccumulatedContent: content,
		Metadata:           map[string]any{},
	}
	for k, v := range metadata {
		final.Metadata[k] = v
	}
	if usage != nil {
		final.Metadata["usage"] = usage
	}

	// Record the final in the timeline first so run_finished is part of
	// the persisted trail, then attach the timeline unless the engine
	// already did.
	tb.Observe(final)
	if _, ok := final.Metadata["timeline"]; !ok {
		final.Metadata["timeline"] = tb.Entries()
	}
	run.publish(final)

	persisted := map[string]any{}
	for k, v := range metadata {
		persisted[k] = v
	}
	if err := a.manager.Complete(sideEffectContext(ctx), llmID, content, sources, tb.Entries(), usage, persisted); err != nil {
		slog.Warn("failed to persist completed message", "llm_message_id", int64(llmID), "error", err)
	}
}

func preview(text string) string {
	const max = 120
	if len(text) <= max {
		return text
	}
	return text[:max] + "…"
}

var _ CoreAgent = (*Agent)(nil)
