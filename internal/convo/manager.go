// internal/convo/manager.go
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/docchat/internal/types"
)

// Options configures manager construction.
type Options struct {
	// ConversationID loads an existing conversation. An id that does not
	// resolve falls back to creating a new conversation.
	ConversationID types.ConversationID
	// Title overrides the default title derived from the subject.
	Title string
	// DisableUserMessages / DisableLLMMessages skip persistence of the
	// respective message kinds while keeping the conversation durable.
	DisableUserMessages bool
	DisableLLMMessages  bool
}

// Manager owns the message lifecycle for one conversation. It is the only
// component permitted to mutate persisted conversation state. When the
// user id is empty the manager is ephemeral: every store and update call
// returns id 0 and performs no write. That branch lives here and nowhere
// else.
type Manager struct {
	conversations types.ConversationStore
	messages      types.MessageStore
	conv          *types.Conversation
	storeUser     bool
	storeLLM      bool
}

// NewManager builds a manager for the given user and subject. An empty
// user id yields an ephemeral manager that never touches the stores.
func NewManager(
	ctx context.Context,
	conversations types.ConversationStore,
	messages types.MessageStore,
	user types.UserID,
	subject types.Subject,
	opts Options,
) (*Manager, error) {
	m := &Manager{
		conversations: conversations,
		messages:      messages,
		storeUser:     !opts.DisableUserMessages,
		storeLLM:      !opts.DisableLLMMessages,
	}
	if user == "" {
		return m, nil
	}

	if opts.ConversationID != 0 {
		conv, err := conversations.Get(ctx, opts.ConversationID)
		if err == nil {
			m.conv = conv
			return m, nil
		}
		if !errors.Is(err, types.ErrConversationNotFound) {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		slog.Warn("conversation not found, creating a new one",
			"conversation_id", int64(opts.ConversationID), "user_id", string(user))
	}

	title := opts.Title
	if title == "" {
		title = subject.Title
	}
	conv := &types.Conversation{
		UserID:      user,
		SubjectKind: subject.Kind,
		SubjectID:   subject.ID,
		Title:       title,
	}
	if err := conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	m.conv = conv
	return m, nil
}

// Ephemeral reports whether this manager persists anything at all.
func (m *Manager) Ephemeral() bool {
	return m.conv == nil
}

// Conversation returns the bound conversation, nil for ephemeral runs.
func (m *Manager) Conversation() *types.Conversation {
	return m.conv
}

// StoreUserMessage persists a human message and returns its id.
func (m *Manager) StoreUserMessage(ctx context.Context, text string) (types.MessageID, error) {
	if m.conv == nil || !m.storeUser {
		return 0, nil
	}
	msg := &types.Message{
		ConversationID: m.conv.ID,
		Kind:           types.MessageKindHuman,
		Content:        text,
		Data: types.MessageData{
			State:     types.StateCompleted,
			CreatedAt: time.Now(),
		},
	}
	if err := m.messages.Append(ctx, msg); err != nil {
		return 0, fmt.Errorf("store user message: %w", err)
	}
	return msg.ID, nil
}

// StoreLLMMessage persists a completed llm message in one shot.
func (m *Manager) StoreLLMMessage(
	ctx context.Context,
	text string,
	sources []types.SourceNode,
	metadata map[string]any,
) (types.MessageID, error) {
	if m.conv == nil || !m.storeLLM {
		return 0, nil
	}
	now := time.Now()
	msg := &types.Message{
		ConversationID: m.conv.ID,
		Kind:           types.MessageKindLLM,
		Content:        text,
		Data: types.MessageData{
			State:       types.StateCompleted,
			Sources:     sources,
			Metadata:    metadata,
			CreatedAt:   now,
			CompletedAt: &now,
		},
	}
	if err := m.messages.Append(ctx, msg); err != nil {
		return 0, fmt.Errorf("store llm message: %w", err)
	}
	return msg.ID, nil
}

// CreatePlaceholder persists an in-progress message to be filled in as the
// turn advances.
func (m *Manager) CreatePlaceholder(ctx context.Context, kind types.MessageKind) (types.MessageID, error) {
	if m.conv == nil || !m.storeLLM {
		return 0, nil
	}
	msg := &types.Message{
		ConversationID: m.conv.ID,
		Kind:           kind,
		Data: types.MessageData{
			State:     types.StateInProgress,
			CreatedAt: time.Now(),
		},
	}
	if err := m.messages.Append(ctx, msg); err != nil {
		return 0, fmt.Errorf("create placeholder: %w", err)
	}
	return msg.ID, nil
}

// update applies fn to the stored message and writes it back.
func (m *Manager) update(ctx context.Context, id types.MessageID, fn func(*types.Message) error) error {
	if m.conv == nil || id == 0 {
		return nil
	}
	msg, err := m.messages.Get(ctx, m.conv.ID, id)
	if err != nil {
		return err
	}
	if err := fn(msg); err != nil {
		return err
	}
	now := time.Now()
	msg.Data.UpdatedAt = &now
	return m.messages.Update(ctx, msg)
}

// UpdateContent replaces the message content.
func (m *Manager) UpdateContent(ctx context.Context, id types.MessageID, content string) error {
	return m.update(ctx, id, func(msg *types.Message) error {
		msg.Content = content
		return nil
	})
}

// UpdateSources replaces the message's source nodes.
func (m *Manager) UpdateSources(ctx context.Context, id types.MessageID, sources []types.SourceNode) error {
	return m.update(ctx, id, func(msg *types.Message) error {
		msg.Data.Sources = sources
		return nil
	})
}

// UpdateTimeline replaces the message's timeline entries.
func (m *Manager) UpdateTimeline(ctx context.Context, id types.MessageID, timeline []types.TimelineEntry) error {
	return m.update(ctx, id, func(msg *types.Message) error {
		msg.Data.Timeline = timeline
		return nil
	})
}

// UpdateState transitions the message state, validating the move.
func (m *Manager) UpdateState(ctx context.Context, id types.MessageID, state types.MessageState) error {
	return m.update(ctx, id, func(msg *types.Message) error {
		if err := types.ValidateStateTransition(msg.Data.State, state); err != nil {
			return err
		}
		msg.Data.State = state
		return nil
	})
}

// MergeMetadata folds keys into the message's metadata map.
func (m *Manager) MergeMetadata(ctx context.Context, id types.MessageID, metadata map[string]any) error {
	return m.update(ctx, id, func(msg *types.Message) error {
		if msg.Data.Metadata == nil {
			msg.Data.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			msg.Data.Metadata[k] = v
		}
		return nil
	})
}

// Complete finalizes a message with its content, sources, timeline and
// usage, moving it to the completed state.
func (m *Manager) Complete(
	ctx context.Context,
	id types.MessageID,
	content string,
	sources []types.SourceNode,
	timeline []types.TimelineEntry,
	usage *types.Usage,
	metadata map[string]any,
) error {
	return m.update(ctx, id, func(msg *types.Message) error {
		if err := types.ValidateStateTransition(msg.Data.State, types.StateCompleted); err != nil {
			return err
		}
		now := time.Now()
		msg.Content = content
		msg.Data.State = types.StateCompleted
		if sources != nil {
			msg.Data.Sources = sources
		}
		if timeline != nil {
			msg.Data.Timeline = timeline
		}
		if usage != nil {
			msg.Data.Usage = usage
		}
		if metadata != nil {
			if msg.Data.Metadata == nil {
				msg.Data.Metadata = make(map[string]any, len(metadata))
			}
			for k, v := range metadata {
				msg.Data.Metadata[k] = v
			}
		}
		msg.Data.CompletedAt = &now
		return nil
	})
}

// Cancel moves a message to the cancelled state, recording the reason.
func (m *Manager) Cancel(ctx context.Context, id types.MessageID, reason string) error {
	return m.update(ctx, id, func(msg *types.Message) error {
		if err := types.ValidateStateTransition(msg.Data.State, types.StateCancelled); err != nil {
			return err
		}
		now := time.Now()
		msg.Data.State = types.StateCancelled
		msg.Data.CancelledAt = &now
		if msg.Data.Metadata == nil {
			msg.Data.Metadata = make(map[string]any, 1)
		}
		msg.Data.Metadata["cancel_reason"] = reason
		return nil
	})
}

// MarkError moves a message to the error state.
func (m *Manager) MarkError(ctx context.Context, id types.MessageID, errMsg string) error {
	return m.update(ctx, id, func(msg *types.Message) error {
		if err := types.ValidateStateTransition(msg.Data.State, types.StateError); err != nil {
			return err
		}
		msg.Data.State = types.StateError
		if msg.Data.Metadata == nil {
			msg.Data.Metadata = make(map[string]any, 1)
		}
		msg.Data.Metadata["error"] = errMsg
		return nil
	})
}

// Messages returns the conversation history in append order, empty for
// ephemeral runs.
func (m *Manager) Messages(ctx context.Context) ([]*types.Message, error) {
	if m.conv == nil {
		return nil, nil
	}
	return m.messages.List(ctx, m.conv.ID)
}

// Message loads one message row by id.
func (m *Manager) Message(ctx context.Context, id types.MessageID) (*types.Message, error) {
	if m.conv == nil {
		return nil, fmt.Errorf("%w: %d", types.ErrMessageNotFound, id)
	}
	return m.messages.Get(ctx, m.conv.ID, id)
}
