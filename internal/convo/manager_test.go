// internal/convo/manager_test.go
package convo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/docchat/internal/state"
	"github.com/user/docchat/internal/types"
)

func newTestManager(t *testing.T, user types.UserID, opts Options) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	conversations := state.NewConversationStore(dir)
	messages := state.NewMessageStore(dir)

	subject := types.Subject{Kind: types.SubjectDocument, ID: "7", Title: "annual report"}
	m, err := NewManager(context.Background(), conversations, messages, user, subject, opts)
	if err != nil {
		t.Fatal(err)
	}
	return m, dir
}

func TestEphemeralManagerWritesNothing(t *testing.T) {
	m, dir := newTestManager(t, "", Options{})
	ctx := context.Background()

	if !m.Ephemeral() {
		t.Fatal("empty user must yield an ephemeral manager")
	}
	if m.Conversation() != nil {
		t.Error("ephemeral manager must have no conversation")
	}

	userID, err := m.StoreUserMessage(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	llmID, err := m.CreatePlaceholder(ctx, types.MessageKindLLM)
	if err != nil {
		t.Fatal(err)
	}
	if userID != 0 || llmID != 0 {
		t.Errorf("ephemeral ids must be zero, got %d and %d", userID, llmID)
	}
	if err := m.Complete(ctx, llmID, "answer", nil, nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "conversations")); !os.IsNotExist(err) {
		t.Error("ephemeral run must not touch the data directory")
	}
}

func TestManagerCreatesConversation(t *testing.T) {
	m, _ := newTestManager(t, "alice", Options{})

	conv := m.Conversation()
	if conv == nil {
		t.Fatal("expected a conversation")
	}
	if conv.Title != "annual report" {
		t.Errorf("title should default to the subject title, got %q", conv.Title)
	}
	if conv.UserID != "alice" {
		t.Errorf("expected owner alice, got %q", conv.UserID)
	}
}

func TestManagerUnknownConversationFallsBack(t *testing.T) {
	m, _ := newTestManager(t, "alice", Options{ConversationID: 999})

	conv := m.Conversation()
	if conv == nil {
		t.Fatal("expected a fresh conversation")
	}
	if conv.ID == 999 {
		t.Error("unknown id must not be reused")
	}
}

func TestManagerMessageLifecycle(t *testing.T) {
	m, _ := newTestManager(t, "alice", Options{})
	ctx := context.Background()

	userID, err := m.StoreUserMessage(ctx, "what is this about?")
	if err != nil {
		t.Fatal(err)
	}
	llmID, err := m.CreatePlaceholder(ctx, types.MessageKindLLM)
	if err != nil {
		t.Fatal(err)
	}
	if userID == 0 || llmID == 0 || userID == llmID {
		t.Fatalf("expected distinct non-zero ids, got %d and %d", userID, llmID)
	}

	placeholder, err := m.Message(ctx, llmID)
	if err != nil {
		t.Fatal(err)
	}
	if placeholder.Data.State != types.StateInProgress {
		t.Errorf("placeholder state should be in_progress, got %s", placeholder.Data.State)
	}

	sources := []types.SourceNode{{AnnotationID: "a1", Content: "excerpt", Score: 0.9}}
	timeline := []types.TimelineEntry{{Type: types.TimelineStatus, Msg: "run_finished"}}
	usage := &types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	if err := m.Complete(ctx, llmID, "the answer", sources, timeline, usage, map[string]any{"k": "v"}); err != nil {
		t.Fatal(err)
	}

	final, err := m.Message(ctx, llmID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Content != "the answer" || final.Data.State != types.StateCompleted {
		t.Errorf("unexpected final message: %+v", final)
	}
	if final.Data.CompletedAt == nil {
		t.Error("expected completed_at timestamp")
	}
	if len(final.Data.Sources) != 1 || final.Data.Usage == nil {
		t.Errorf("sources and usage should persist: %+v", final.Data)
	}
}

func TestManagerRejectsInvalidTransition(t *testing.T) {
	m, _ := newTestManager(t, "alice", Options{})
	ctx := context.Background()

	llmID, err := m.CreatePlaceholder(ctx, types.MessageKindLLM)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Complete(ctx, llmID, "done", nil, nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	err = m.UpdateState(ctx, llmID, types.StateInProgress)
	if !errors.Is(err, types.ErrInvalidStateTransition) {
		t.Errorf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestManagerAwaitingApprovalTransitions(t *testing.T) {
	m, _ := newTestManager(t, "alice", Options{})
	ctx := context.Background()

	llmID, err := m.CreatePlaceholder(ctx, types.MessageKindLLM)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateState(ctx, llmID, types.StateAwaitingApproval); err != nil {
		t.Fatal(err)
	}
	if err := m.Complete(ctx, llmID, "resumed answer", nil, nil, nil, nil); err != nil {
		t.Fatalf("awaiting_approval -> completed must be legal: %v", err)
	}
}

func TestManagerDisabledMessageKinds(t *testing.T) {
	m, _ := newTestManager(t, "alice", Options{DisableUserMessages: true, DisableLLMMessages: true})
	ctx := context.Background()

	if m.Ephemeral() {
		t.Fatal("manager should still be durable")
	}
	userID, err := m.StoreUserMessage(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	llmID, err := m.CreatePlaceholder(ctx, types.MessageKindLLM)
	if err != nil {
		t.Fatal(err)
	}
	if userID != 0 || llmID != 0 {
		t.Errorf("disabled kinds must return id 0, got %d and %d", userID, llmID)
	}

	messages, err := m.Messages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 0 {
		t.Errorf("expected no stored messages, got %d", len(messages))
	}
}
