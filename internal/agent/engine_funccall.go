// internal/agent/engine_funccall.go
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/docchat/internal/stream"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/llm"
)

// DefaultMaxRounds bounds the generate/tool loop when no limit is set.
const DefaultMaxRounds = 10

// FuncCallEngine drives providers that speak the native tool-call
// protocol: the model returns structured tool_calls, the engine executes
// them and feeds results back until a plain answer arrives.
type FuncCallEngine struct {
	provider  llm.Provider
	registry  *Registry
	maxRounds int
	streaming bool
}

func NewFuncCallEngine(provider llm.Provider, registry *Registry, maxRounds int, streaming bool) *FuncCallEngine {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &FuncCallEngine{
		provider:  provider,
		registry:  registry,
		maxRounds: maxRounds,
		streaming: streaming,
	}
}

func (e *FuncCallEngine) Name() string {
	return "funccall"
}

func (e *FuncCallEngine) Run(ctx context.Context, transcript []llm.Message, hooks Hooks) (Outcome, error) {
	return e.loop(ctx, transcript, hooks)
}

// Resume appends the externally executed gated tool's result and
// continues the loop. Remaining unresolved calls of the paused assistant
// message are settled before the next generation.
func (e *FuncCallEngine) Resume(ctx context.Context, transcript []llm.Message, call types.PendingToolCall, result string, hooks Hooks) (Outcome, error) {
	transcript = append(append([]llm.Message(nil), transcript...), llm.Message{
		Role:       "tool",
		ToolCallID: call.CallID,
		Content:    result,
	})
	return e.loop(ctx, transcript, hooks)
}

func (e *FuncCallEngine) loop(ctx context.Context, transcript []llm.Message, hooks Hooks) (Outcome, error) {
	var content strings.Builder
	var usage *types.Usage

	for round := 0; round < e.maxRounds; round++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}

		// Settle outstanding tool calls before generating again.
		for _, tc := range unresolvedToolCalls(transcript) {
			name := tc.Function.Name
			tool, ok := e.registry.Get(name)
			if !ok {
				transcript = appendToolResult(transcript, tc.ID, fmt.Sprintf("error: unknown tool %q", name))
				continue
			}
			if tool.RequiresApproval() {
				return Outcome{
					Kind:    OutcomePaused,
					Content: content.String(),
					Paused: &types.PendingToolCall{
						Name:      name,
						Arguments: tc.Function.Arguments,
						CallID:    tc.ID,
					},
					Transcript: transcript,
				}, nil
			}
			hooks.ToolCall(name, tc.ID)
			result, err := tool.Execute(ctx, tc.Function.Arguments)
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			hooks.ToolResult(name, tc.ID, preview(result))
			transcript = appendToolResult(transcript, tc.ID, result)
		}

		text, toolCalls, roundUsage, err := e.generate(ctx, transcript, hooks)
		if err != nil {
			return Outcome{}, err
		}
		content.WriteString(text)
		if roundUsage != nil {
			usage = addUsage(usage, roundUsage)
		}

		// Providers occasionally omit call ids; the transcript needs them
		// to pair results.
		for i := range toolCalls {
			if toolCalls[i].ID == "" {
				toolCalls[i].ID = types.NewToolCallID()
			}
		}
		transcript = append(transcript, llm.Message{
			Role:      "assistant",
			Content:   text,
			ToolCalls: toolCalls,
		})

		if len(toolCalls) == 0 {
			return Outcome{
				Kind:       OutcomeCompleted,
				Content:    content.String(),
				Usage:      usage,
				Transcript: transcript,
			}, nil
		}
	}
	return Outcome{}, fmt.Errorf("%w: %d", ErrMaxRoundsExceeded, e.maxRounds)
}

func (e *FuncCallEngine) generate(ctx context.Context, transcript []llm.Message, hooks Hooks) (string, []llm.ToolCall, *types.Usage, error) {
	tools := e.registry.AsLLMTools()

	if !e.streaming {
		resp, err := e.provider.Complete(ctx, transcript, tools)
		if err != nil {
			return "", nil, nil, fmt.Errorf("model call: %w", err)
		}
		if resp.Content != "" {
			hooks.Emit(stream.Event{Type: stream.EventContent, Content: resp.Content})
		}
		return resp.Content, resp.ToolCalls, convertUsage(resp.Usage), nil
	}

	deltas, err := e.provider.Stream(ctx, transcript, tools)
	if err != nil {
		return "", nil, nil, fmt.Errorf("model stream: %w", err)
	}
	var sb strings.Builder
	var toolCalls []llm.ToolCall
	var usage *types.Usage
	for delta := range deltas {
		if delta.Err != nil {
			return "", nil, nil, fmt.Errorf("model stream: %w", delta.Err)
		}
		if delta.Content != "" {
			sb.WriteString(delta.Content)
			hooks.Emit(stream.Event{Type: stream.EventContent, Content: delta.Content})
		}
		if delta.Done {
			toolCalls = delta.ToolCalls
			if delta.Usage != nil {
				usage = convertUsage(*delta.Usage)
			}
		}
	}
	return sb.String(), toolCalls, usage, nil
}

// unresolvedToolCalls returns tool calls of the last assistant message
// that have no matching tool result yet.
func unresolvedToolCalls(transcript []llm.Message) []llm.ToolCall {
	last := -1
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == "assistant" && len(transcript[i].ToolCalls) > 0 {
			last = i
			break
		}
		if transcript[i].Role == "assistant" {
			return nil
		}
	}
	if last == -1 {
		return nil
	}
	resolved := make(map[string]struct{})
	for _, msg := range transcript[last+1:] {
		if msg.Role == "tool" && msg.ToolCallID != "" {
			resolved[msg.ToolCallID] = struct{}{}
		}
	}
	var out []llm.ToolCall
	for _, tc := range transcript[last].ToolCalls {
		if _, ok := resolved[tc.ID]; !ok {
			out = append(out, tc)
		}
	}
	return out
}

func appendToolResult(transcript []llm.Message, callID, result string) []llm.Message {
	return append(transcript, llm.Message{
		Role:       "tool",
		ToolCallID: callID,
		Content:    result,
	})
}

func convertUsage(u llm.Usage) *types.Usage {
	if u.TotalTokens == 0 && u.InputTokens == 0 && u.OutputTokens == 0 {
		return nil
	}
	return &types.Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
}

func addUsage(total, part *types.Usage) *types.Usage {
	if total == nil {
		out := *part
		return &out
	}
	total.InputTokens += part.InputTokens
	total.OutputTokens += part.OutputTokens
	total.TotalTokens += part.TotalTokens
	return total
}

var _ Engine = (*FuncCallEngine)(nil)
