package prompt

import (
	"strings"
	"testing"

	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/llm"
)

func newTestBuilder(t *testing.T, maxTokens, reserve int) *Builder {
	t.Helper()
	b, err := New("gpt-4o-mini", maxTokens, reserve)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestBuildShape(t *testing.T) {
	b := newTestBuilder(t, 8000, 1000)
	subject := types.Subject{Kind: types.SubjectDocument, ID: "1", Title: "annual report"}

	messages := b.Build("", subject,
		[]types.SourceNode{{AnnotationID: "a1", Content: "revenue grew 12%"}},
		[]*types.Message{
			{Kind: types.MessageKindHuman, Content: "what happened last quarter?"},
			{Kind: types.MessageKindLLM, Content: "revenue grew."},
		},
		"and headcount?",
	)

	if len(messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(messages))
	}
	if messages[0].Role != "system" || !strings.Contains(messages[0].Content, "annual report") {
		t.Errorf("system prompt missing subject title: %q", messages[0].Content)
	}
	if messages[1].Role != "system" || !strings.Contains(messages[1].Content, "revenue grew 12%") {
		t.Errorf("context block missing source excerpt: %q", messages[1].Content)
	}
	if messages[2].Role != "user" || messages[3].Role != "assistant" {
		t.Errorf("history roles wrong: %s, %s", messages[2].Role, messages[3].Role)
	}
	if last := messages[len(messages)-1]; last.Role != "user" || last.Content != "and headcount?" {
		t.Errorf("last message = %s %q", last.Role, last.Content)
	}
}

func TestBuildTrimsOldestHistoryFirst(t *testing.T) {
	// A budget small enough that only recent history fits.
	b := newTestBuilder(t, 200, 50)
	subject := types.Subject{Kind: types.SubjectDocument, ID: "1", Title: "doc"}

	long := strings.Repeat("many words of ancient history ", 50)
	history := []*types.Message{
		{Kind: types.MessageKindHuman, Content: long},
		{Kind: types.MessageKindHuman, Content: "recent question"},
		{Kind: types.MessageKindLLM, Content: "recent answer"},
	}

	messages := b.Build("", subject, nil, history, "next")

	for _, msg := range messages {
		if msg.Content == long {
			t.Fatal("oversized oldest message should have been trimmed")
		}
	}
	var sawRecent bool
	for _, msg := range messages {
		if msg.Content == "recent answer" {
			sawRecent = true
		}
	}
	if !sawRecent {
		t.Error("recent history was trimmed before older history")
	}
}

func TestBuildSkipsEmptyHistoryMessages(t *testing.T) {
	b := newTestBuilder(t, 8000, 1000)
	subject := types.Subject{Kind: types.SubjectDocument, ID: "1", Title: "doc"}

	messages := b.Build("", subject, nil, []*types.Message{
		{Kind: types.MessageKindLLM, Content: ""},
		{Kind: types.MessageKindHuman, Content: "hello"},
	}, "next")

	// system + one history entry + user message
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
}

func TestBuildTruncatesLowRankedSources(t *testing.T) {
	b := newTestBuilder(t, 300, 100)
	subject := types.Subject{Kind: types.SubjectDocument, ID: "1", Title: "doc"}

	filler := strings.Repeat("padding tokens here ", 30)
	sources := []types.SourceNode{
		{AnnotationID: "top", Content: "the best passage"},
		{AnnotationID: "low", Content: filler},
	}

	messages := b.Build("", subject, sources, nil, "question")

	var contextBlock string
	for _, msg := range messages {
		if msg.Role == "system" && strings.Contains(msg.Content, "Relevant excerpts") {
			contextBlock = msg.Content
		}
	}
	if contextBlock == "" {
		t.Fatal("context block missing")
	}
	if !strings.Contains(contextBlock, "the best passage") {
		t.Error("top ranked source missing from context block")
	}
	if strings.Contains(contextBlock, filler) {
		t.Error("over-budget low ranked source was not trimmed")
	}
}

func TestCustomSystemPrompt(t *testing.T) {
	b := newTestBuilder(t, 8000, 1000)
	subject := types.Subject{Kind: types.SubjectCorpus, ID: "c1", Title: "contracts"}

	messages := b.Build("Answer tersely.", subject, nil, nil, "hi")
	if !strings.HasPrefix(messages[0].Content, "Answer tersely.") {
		t.Errorf("custom system prompt not used: %q", messages[0].Content)
	}
	if !strings.Contains(messages[0].Content, "corpus") {
		t.Errorf("subject kind missing from system prompt: %q", messages[0].Content)
	}
}

func TestEstimateUsage(t *testing.T) {
	b := newTestBuilder(t, 8000, 1000)

	usage := b.EstimateUsage([]llm.Message{
		{Role: "system", Content: "you are helpful"},
		{Role: "user", Content: "hello there"},
	}, "hi, how can I help?")

	if usage.InputTokens <= 0 || usage.OutputTokens <= 0 {
		t.Fatalf("expected positive estimates, got %+v", usage)
	}
	if usage.TotalTokens != usage.InputTokens+usage.OutputTokens {
		t.Errorf("total %d != input %d + output %d", usage.TotalTokens, usage.InputTokens, usage.OutputTokens)
	}
}
