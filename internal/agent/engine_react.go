// internal/agent/engine_react.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/docchat/internal/stream"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/llm"
)

// ReActEngine drives providers without native tool support through a
// textual reason/act protocol: the model writes Thought, Action and
// Action Input lines, the engine executes the action and feeds back an
// Observation until a Final Answer arrives.
type ReActEngine struct {
	provider  llm.Provider
	registry  *Registry
	maxRounds int
}

func NewReActEngine(provider llm.Provider, registry *Registry, maxRounds int) *ReActEngine {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &ReActEngine{provider: provider, registry: registry, maxRounds: maxRounds}
}

func (e *ReActEngine) Name() string {
	return "react"
}

func (e *ReActEngine) Run(ctx context.Context, transcript []llm.Message, hooks Hooks) (Outcome, error) {
	return e.loop(ctx, e.withInstructions(transcript), hooks)
}

// Resume feeds the externally executed gated tool's result back as an
// observation. The paused transcript already carries the protocol
// instructions, so the loop continues without re-prepending them.
func (e *ReActEngine) Resume(ctx context.Context, transcript []llm.Message, call types.PendingToolCall, result string, hooks Hooks) (Outcome, error) {
	transcript = append(append([]llm.Message(nil), transcript...), observation(result))
	return e.loop(ctx, transcript, hooks)
}

func (e *ReActEngine) loop(ctx context.Context, transcript []llm.Message, hooks Hooks) (Outcome, error) {
	var usage *types.Usage

	for round := 0; round < e.maxRounds; round++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}

		resp, err := e.provider.Complete(ctx, transcript, nil)
		if err != nil {
			return Outcome{}, fmt.Errorf("model call: %w", err)
		}
		if u := convertUsage(resp.Usage); u != nil {
			usage = addUsage(usage, u)
		}

		step := parseReActStep(resp.Content)
		if step.thought != "" {
			hooks.Emit(stream.Event{Type: stream.EventThought, Content: step.thought})
		}
		transcript = append(transcript, llm.Message{Role: "assistant", Content: resp.Content})

		if step.finalAnswer != "" || step.action == "" {
			answer := step.finalAnswer
			if answer == "" {
				// A response with neither action nor final-answer marker is
				// treated as the answer itself.
				answer = strings.TrimSpace(resp.Content)
			}
			if answer != "" {
				hooks.Emit(stream.Event{Type: stream.EventContent, Content: answer})
			}
			return Outcome{
				Kind:       OutcomeCompleted,
				Content:    answer,
				Usage:      usage,
				Transcript: transcript,
			}, nil
		}

		args := json.RawMessage(step.actionInput)
		if !json.Valid(args) {
			// Non-JSON inputs are wrapped so tools always receive an object.
			wrapped, _ := json.Marshal(map[string]string{"input": step.actionInput})
			args = wrapped
		}

		tool, ok := e.registry.Get(step.action)
		if !ok {
			transcript = append(transcript, observation(fmt.Sprintf("error: unknown tool %q", step.action)))
			continue
		}
		if tool.RequiresApproval() {
			return Outcome{
				Kind: OutcomePaused,
				Paused: &types.PendingToolCall{
					Name:      step.action,
					Arguments: args,
					CallID:    types.NewToolCallID(),
				},
				Transcript: transcript,
			}, nil
		}

		callID := types.NewToolCallID()
		hooks.ToolCall(step.action, callID)
		result, err := tool.Execute(ctx, args)
		if err != nil {
			result = fmt.Sprintf("error: %v", err)
		}
		hooks.ToolResult(step.action, callID, preview(result))
		transcript = append(transcript, observation(result))
	}
	return Outcome{}, fmt.Errorf("%w: %d", ErrMaxRoundsExceeded, e.maxRounds)
}

// withInstructions folds the protocol and tool descriptions into the
// system message, prepending one when the transcript has none.
func (e *ReActEngine) withInstructions(transcript []llm.Message) []llm.Message {
	instructions := e.protocolInstructions()
	out := append([]llm.Message(nil), transcript...)
	if len(out) > 0 && out[0].Role == "system" {
		out[0].Content = out[0].Content + "\n\n" + instructions
		return out
	}
	return append([]llm.Message{{Role: "system", Content: instructions}}, out...)
}

func (e *ReActEngine) protocolInstructions() string {
	var sb strings.Builder
	sb.WriteString("You can use the following tools:\n")
	for _, tool := range e.registry.All() {
		fmt.Fprintf(&sb, "- %s: %s\n", tool.Name(), tool.Description())
	}
	sb.WriteString(`
Answer using this format:

Thought: your reasoning about what to do next
Action: the tool name, one of the tools listed above
Action Input: the tool arguments as a JSON object

After each action you receive an Observation with the tool result.
When you know the answer, respond with:

Thought: your final reasoning
Final Answer: the answer to the user's question

Respond with either one Action or a Final Answer, never both.`)
	return sb.String()
}

func observation(result string) llm.Message {
	return llm.Message{Role: "user", Content: "Observation: " + result}
}

// reactStep is one parsed model response in the reason/act protocol.
type reactStep struct {
	thought     string
	action      string
	actionInput string
	finalAnswer string
}

// parseReActStep extracts the protocol fields from a model response.
// Field values run until the next marker line, so multi-line JSON inputs
// and multi-line answers survive parsing.
func parseReActStep(text string) reactStep {
	var step reactStep
	var field *string

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Thought:"):
			step.thought = strings.TrimSpace(strings.TrimPrefix(trimmed, "Thought:"))
			field = &step.thought
		case strings.HasPrefix(trimmed, "Action:"):
			step.action = strings.TrimSpace(strings.TrimPrefix(trimmed, "Action:"))
			field = nil
		case strings.HasPrefix(trimmed, "Action Input:"):
			step.actionInput = strings.TrimSpace(strings.TrimPrefix(trimmed, "Action Input:"))
			field = &step.actionInput
		case strings.HasPrefix(trimmed, "Final Answer:"):
			step.finalAnswer = strings.TrimSpace(strings.TrimPrefix(trimmed, "Final Answer:"))
			field = &step.finalAnswer
		case field != nil && trimmed != "":
			if *field != "" {
				*field += "\n"
			}
			*field += trimmed
		}
	}
	return step
}

var _ Engine = (*ReActEngine)(nil)
