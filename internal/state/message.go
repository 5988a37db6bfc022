// internal/state/message.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/user/docchat/internal/types"
)

// MessageStore is a JSONL-backed message store. Messages are stored per
// conversation in conversations/<id>/messages.jsonl; a single counter file
// keeps message IDs unique across conversations.
type MessageStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.ConversationID]*sync.Mutex
}

// NewMessageStore creates a file-backed MessageStore rooted at the given
// directory.
func NewMessageStore(root string) *MessageStore {
	return &MessageStore{
		root:  root,
		locks: make(map[types.ConversationID]*sync.Mutex),
	}
}

// getLock returns the per-conversation mutex, creating one if needed.
func (s *MessageStore) getLock(conv types.ConversationID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[conv]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[conv] = lock
	return lock
}

func (s *MessageStore) messagesPath(conv types.ConversationID) string {
	return filepath.Join(conversationDir(s.root, conv), "messages.jsonl")
}

func (s *MessageStore) counterPath() string {
	return filepath.Join(s.root, "conversations", "messages.seq")
}

// nextID bumps and persists the global message counter. Caller must hold
// the store mutex.
func (s *MessageStore) nextID() (types.MessageID, error) {
	var last int64
	data, err := os.ReadFile(s.counterPath())
	if err == nil {
		last, err = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse message counter: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("read message counter: %w", err)
	}

	next := last + 1
	if err := os.MkdirAll(filepath.Dir(s.counterPath()), 0o755); err != nil {
		return 0, fmt.Errorf("create conversations dir: %w", err)
	}
	tmp := s.counterPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(next, 10)), 0o644); err != nil {
		return 0, fmt.Errorf("write message counter: %w", err)
	}
	if err := os.Rename(tmp, s.counterPath()); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename message counter: %w", err)
	}
	return types.MessageID(next), nil
}

// readAll loads every message in a conversation. Caller must hold the
// conversation lock.
func (s *MessageStore) readAll(conv types.ConversationID) ([]*types.Message, error) {
	f, err := os.Open(s.messagesPath(conv))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var messages []*types.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg types.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}
	return messages, nil
}

// writeAll rewrites the whole message log atomically. Caller must hold the
// conversation lock.
func (s *MessageStore) writeAll(conv types.ConversationID, messages []*types.Message) error {
	var buf strings.Builder
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	path := s.messagesPath(conv)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write temp messages: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp messages: %w", err)
	}
	return nil
}

// Append assigns a fresh ID and appends the message to its conversation log.
func (s *MessageStore) Append(_ context.Context, msg *types.Message) error {
	lock := s.getLock(msg.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	id, err := s.nextID()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	msg.ID = id

	dir := filepath.Dir(s.messagesPath(msg.ConversationID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(s.messagesPath(msg.ConversationID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Get returns a single message by ID within a conversation.
func (s *MessageStore) Get(_ context.Context, conv types.ConversationID, id types.MessageID) (*types.Message, error) {
	lock := s.getLock(conv)
	lock.Lock()
	defer lock.Unlock()

	messages, err := s.readAll(conv)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", types.ErrMessageNotFound, id)
}

// List returns all messages of a conversation in append order.
func (s *MessageStore) List(_ context.Context, conv types.ConversationID) ([]*types.Message, error) {
	lock := s.getLock(conv)
	lock.Lock()
	defer lock.Unlock()

	return s.readAll(conv)
}

// Update rewrites the row matching msg.ID.
func (s *MessageStore) Update(_ context.Context, msg *types.Message) error {
	lock := s.getLock(msg.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	messages, err := s.readAll(msg.ConversationID)
	if err != nil {
		return err
	}
	for i, existing := range messages {
		if existing.ID == msg.ID {
			messages[i] = msg
			return s.writeAll(msg.ConversationID, messages)
		}
	}
	return fmt.Errorf("%w: %d", types.ErrMessageNotFound, msg.ID)
}
