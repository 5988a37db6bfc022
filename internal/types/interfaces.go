// internal/types/interfaces.go
package types

import (
	"context"
	"errors"
)

var (
	// ErrConversationNotFound is returned by conversation stores for unknown ids.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned by message stores for unknown ids.
	ErrMessageNotFound = errors.New("message not found")
	// ErrInvalidStateTransition is returned for disallowed message state moves.
	ErrInvalidStateTransition = errors.New("invalid message state transition")
)

// ConversationStore persists conversation records. Create assigns the ID.
type ConversationStore interface {
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id ConversationID) (*Conversation, error)
	List(ctx context.Context, user UserID) ([]*Conversation, error)
	Update(ctx context.Context, conv *Conversation) error
}

// MessageStore persists message rows within a conversation. Append assigns
// the message ID; Update rewrites a row in place.
type MessageStore interface {
	Append(ctx context.Context, msg *Message) error
	Get(ctx context.Context, conv ConversationID, id MessageID) (*Message, error)
	List(ctx context.Context, conv ConversationID) ([]*Message, error)
	Update(ctx context.Context, msg *Message) error
}
