// internal/state/message_test.go
package state

import (
	"context"
	"errors"
	"testing"

	"github.com/user/docchat/internal/types"
)

func TestMessageStoreAppendAndList(t *testing.T) {
	dir := t.TempDir()
	store := NewMessageStore(dir)
	ctx := context.Background()

	for _, content := range []string{"hello", "hi there", "what is this doc about?"} {
		msg := &types.Message{
			ConversationID: 1,
			Kind:           types.MessageKindHuman,
			Content:        content,
			Data:           types.MessageData{State: types.StateCompleted},
		}
		if err := store.Append(ctx, msg); err != nil {
			t.Fatal(err)
		}
		if msg.ID == 0 {
			t.Error("expected assigned message id")
		}
	}

	messages, err := store.List(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[0].Content != "hello" || messages[2].Content != "what is this doc about?" {
		t.Errorf("append order not preserved: %q ... %q", messages[0].Content, messages[2].Content)
	}
}

func TestMessageStoreIDsUniqueAcrossConversations(t *testing.T) {
	dir := t.TempDir()
	store := NewMessageStore(dir)
	ctx := context.Background()

	seen := make(map[types.MessageID]bool)
	for _, conv := range []types.ConversationID{1, 2, 1, 3} {
		msg := &types.Message{ConversationID: conv, Kind: types.MessageKindLLM}
		if err := store.Append(ctx, msg); err != nil {
			t.Fatal(err)
		}
		if seen[msg.ID] {
			t.Errorf("duplicate message id %d across conversations", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestMessageStoreUpdate(t *testing.T) {
	dir := t.TempDir()
	store := NewMessageStore(dir)
	ctx := context.Background()

	msg := &types.Message{
		ConversationID: 1,
		Kind:           types.MessageKindLLM,
		Data:           types.MessageData{State: types.StateInProgress},
	}
	if err := store.Append(ctx, msg); err != nil {
		t.Fatal(err)
	}

	msg.Content = "the answer"
	msg.Data.State = types.StateCompleted
	msg.Data.Timeline = []types.TimelineEntry{{Type: types.TimelineStatus, Msg: "run_finished"}}
	if err := store.Update(ctx, msg); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, 1, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "the answer" || got.Data.State != types.StateCompleted {
		t.Errorf("update not persisted: %+v", got)
	}
	if len(got.Data.Timeline) != 1 || got.Data.Timeline[0].Msg != "run_finished" {
		t.Errorf("timeline not persisted: %+v", got.Data.Timeline)
	}
}

func TestMessageStoreGetMissing(t *testing.T) {
	store := NewMessageStore(t.TempDir())

	_, err := store.Get(context.Background(), 1, 99)
	if !errors.Is(err, types.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMessageStoreUpdateMissing(t *testing.T) {
	store := NewMessageStore(t.TempDir())

	err := store.Update(context.Background(), &types.Message{ID: 5, ConversationID: 1})
	if !errors.Is(err, types.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}
