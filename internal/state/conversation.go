// internal/state/conversation.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/docchat/internal/types"
)

// ConversationStore is a JSON-file-backed conversation store. It keeps an
// index in conversations/conversations.json and creates a per-conversation
// directory at conversations/<id>/ for message logs.
type ConversationStore struct {
	root string
	mu   sync.RWMutex
}

// NewConversationStore creates a file-backed ConversationStore rooted at
// the given directory.
func NewConversationStore(root string) *ConversationStore {
	return &ConversationStore{root: root}
}

func (s *ConversationStore) indexPath() string {
	return filepath.Join(s.root, "conversations", "conversations.json")
}

func (s *ConversationStore) conversationsDir() string {
	return filepath.Join(s.root, "conversations")
}

func conversationDir(root string, id types.ConversationID) string {
	return filepath.Join(root, "conversations", fmt.Sprintf("%d", id))
}

// loadIndex reads conversations.json into a slice. Missing file means an
// empty store.
func (s *ConversationStore) loadIndex() ([]*types.Conversation, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read conversation index: %w", err)
	}

	var conversations []*types.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		return nil, fmt.Errorf("unmarshal conversation index: %w", err)
	}
	return conversations, nil
}

// saveIndex marshals with indentation and writes atomically.
func (s *ConversationStore) saveIndex(conversations []*types.Conversation) error {
	data, err := json.MarshalIndent(conversations, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation index: %w", err)
	}

	if err := os.MkdirAll(s.conversationsDir(), 0o755); err != nil {
		return fmt.Errorf("create conversations dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// Create assigns the next ID and UID, stamps timestamps, and persists the
// conversation.
func (s *ConversationStore) Create(_ context.Context, conv *types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversations, err := s.loadIndex()
	if err != nil {
		return err
	}

	var maxID types.ConversationID
	for _, existing := range conversations {
		if existing.ID > maxID {
			maxID = existing.ID
		}
	}
	conv.ID = maxID + 1
	if conv.UID == "" {
		conv.UID = types.NewConversationUID()
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	conversations = append(conversations, conv)
	if err := s.saveIndex(conversations); err != nil {
		return err
	}

	// Create the conversation directory on demand
	if err := os.MkdirAll(conversationDir(s.root, conv.ID), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}
	return nil
}

// Get returns the conversation with the given ID.
func (s *ConversationStore) Get(_ context.Context, id types.ConversationID) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversations, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, conv := range conversations {
		if conv.ID == id {
			return conv, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", types.ErrConversationNotFound, id)
}

// List returns all conversations, filtered by user when user is non-empty.
func (s *ConversationStore) List(_ context.Context, user types.UserID) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversations, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	if user == "" {
		return conversations, nil
	}
	filtered := make([]*types.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if conv.UserID == user {
			filtered = append(filtered, conv)
		}
	}
	return filtered, nil
}

// Update persists changes to an existing conversation, setting UpdatedAt.
func (s *ConversationStore) Update(_ context.Context, conv *types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversations, err := s.loadIndex()
	if err != nil {
		return err
	}
	for i, existing := range conversations {
		if existing.ID == conv.ID {
			conv.UpdatedAt = time.Now()
			conversations[i] = conv
			return s.saveIndex(conversations)
		}
	}
	return fmt.Errorf("%w: %d", types.ErrConversationNotFound, conv.ID)
}
