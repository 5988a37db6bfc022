// internal/prompt/builder.go
package prompt

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/llm"
)

// Builder assembles token-budgeted transcripts for the LLM.
type Builder struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates a prompt builder with the specified token budget. model
// selects the tokenizer; maxTokens is the context window; reserve is kept
// free for the model's response.
func New(model string, maxTokens, reserve int) (*Builder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Builder{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

// CountTokens returns the token count for a string.
func (b *Builder) CountTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Build assembles system prompt + retrieved context + conversation history
// into a transcript that fits the input budget. History is trimmed oldest
// first; retrieved sources are trimmed lowest ranked first.
func (b *Builder) Build(
	systemPrompt string,
	subject types.Subject,
	sources []types.SourceNode,
	history []*types.Message,
	userMessage string,
) []llm.Message {
	inputBudget := b.maxTokens - b.reserve

	sys := b.systemPrompt(systemPrompt, subject)
	remaining := inputBudget - b.CountTokens(sys) - b.CountTokens(userMessage)

	// 30% of the remainder for retrieved context, the rest for history.
	contextBudget := int(float64(remaining) * 0.3)
	contextBlock, used := b.contextBlock(sources, contextBudget)
	historyBudget := remaining - used

	var historyMessages []llm.Message
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Content == "" {
			continue
		}
		cost := b.CountTokens(msg.Content)
		if total+cost > historyBudget {
			break
		}
		role := "assistant"
		if msg.Kind == types.MessageKindHuman {
			role = "user"
		}
		historyMessages = append([]llm.Message{{Role: role, Content: msg.Content}}, historyMessages...)
		total += cost
	}

	messages := make([]llm.Message, 0, len(historyMessages)+3)
	messages = append(messages, llm.Message{Role: "system", Content: sys})
	if contextBlock != "" {
		messages = append(messages, llm.Message{Role: "system", Content: contextBlock})
	}
	messages = append(messages, historyMessages...)
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})
	return messages
}

// EstimateUsage approximates token usage for a turn from its transcript
// and output, for providers that do not report usage.
func (b *Builder) EstimateUsage(messages []llm.Message, output string) *types.Usage {
	input := 0
	for _, msg := range messages {
		input += b.CountTokens(msg.Content)
	}
	out := b.CountTokens(output)
	return &types.Usage{
		InputTokens:  input,
		OutputTokens: out,
		TotalTokens:  input + out,
	}
}

func (b *Builder) systemPrompt(base string, subject types.Subject) string {
	var sb strings.Builder
	if base != "" {
		sb.WriteString(base)
	} else {
		sb.WriteString("You are an assistant that answers questions about the user's documents.")
	}
	fmt.Fprintf(&sb, " The current subject is the %s %q.", subject.Kind, subject.Title)
	return sb.String()
}

func (b *Builder) contextBlock(sources []types.SourceNode, budget int) (string, int) {
	if len(sources) == 0 || budget <= 0 {
		return "", 0
	}
	var sb strings.Builder
	sb.WriteString("Relevant excerpts:\n")
	used := b.CountTokens("Relevant excerpts:\n")
	for _, src := range sources {
		excerpt := fmt.Sprintf("[%s] %s\n", src.AnnotationID, src.Content)
		cost := b.CountTokens(excerpt)
		if used+cost > budget {
			break
		}
		sb.WriteString(excerpt)
		used += cost
	}
	return sb.String(), used
}
