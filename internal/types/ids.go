// internal/types/ids.go
package types

import "github.com/google/uuid"

type UserID string
type SubjectID string

// ConversationID is assigned by the conversation store. Zero means "no
// conversation" (ephemeral run).
type ConversationID int64

// MessageID is assigned by the message store. Zero is the sentinel returned
// by every store call on an ephemeral run.
type MessageID int64

func NewConversationUID() string {
	return uuid.New().String()
}

func NewAnnotationID() string {
	return uuid.New().String()
}

func NewToolCallID() string {
	return uuid.New().String()
}
