package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/user/docchat/internal/stream"
)

// TurnStatus represents the lifecycle state of a queued turn.
type TurnStatus string

const (
	TurnStatusQueued   TurnStatus = "queued"
	TurnStatusRunning  TurnStatus = "running"
	TurnStatusComplete TurnStatus = "complete"
	TurnStatusFailed   TurnStatus = "failed"
)

// Turn tracks one queued chat message on its way through an agent.
type Turn struct {
	ID        string
	LaneKey   string
	Message   string
	Status    TurnStatus
	Attempts  int
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Err       error

	Ctx context.Context
	// OnEvent receives every stream event of the turn as it happens.
	OnEvent func(stream.Event)
	// OnComplete receives the turn's terminal event: final, error, or
	// approval_needed.
	OnComplete func(stream.Event)
}

// NewTurn creates a Turn in the Queued state for the given lane.
func NewTurn(laneKey, message string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		LaneKey:   laneKey,
		Message:   message,
		Status:    TurnStatusQueued,
		CreatedAt: time.Now(),
	}
}
