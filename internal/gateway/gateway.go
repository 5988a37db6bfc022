// Package gateway orders inbound chat messages into per-conversation
// lanes and dispatches them to agents under a global concurrency cap.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/docchat/internal/agent"
	"github.com/user/docchat/internal/stream"
)

// AgentResolver returns the agent that should handle a lane's turns.
type AgentResolver func(ctx context.Context, laneKey string) (agent.CoreAgent, error)

// Gateway orchestrates inbound messages into turns. It resolves the
// lane's agent, streams the turn through it, and forwards events to the
// turn's callbacks. Transient agent failures are retried per policy.
type Gateway struct {
	resolve AgentResolver
	Queue   *Queue
	retry   *RetryPolicy
}

// New creates a Gateway with the given concurrency limit for
// simultaneous turn processing.
func New(resolve AgentResolver, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	g := &Gateway{
		resolve: resolve,
		Queue:   NewQueue(concurrency),
		retry:   DefaultRetryPolicy(),
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// Start initialises the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop stops the queue and waits for outstanding turns to finish.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// TurnOption configures optional behavior on a Turn.
type TurnOption func(*Turn)

// WithOnEvent sets a callback invoked for every event of the turn.
func WithOnEvent(fn func(stream.Event)) TurnOption {
	return func(t *Turn) { t.OnEvent = fn }
}

// WithOnComplete sets a callback invoked with the turn's terminal event.
func WithOnComplete(fn func(stream.Event)) TurnOption {
	return func(t *Turn) { t.OnComplete = fn }
}

// HandleInbound wraps a message in a Turn and enqueues it on the lane.
func (g *Gateway) HandleInbound(laneKey, message string, opts ...TurnOption) (*Turn, error) {
	turn := NewTurn(laneKey, message)
	for _, opt := range opts {
		opt(turn)
	}
	if err := g.Queue.Enqueue(turn); err != nil {
		return nil, err
	}
	return turn, nil
}

// process runs one turn against its lane's agent. The stream is drained
// here; the terminal event decides the turn's status.
func (g *Gateway) process(turn *Turn) error {
	now := time.Now()
	turn.StartedAt = &now
	turn.Status = TurnStatusRunning

	a, err := g.resolve(turn.Ctx, turn.LaneKey)
	if err != nil {
		return g.fail(turn, fmt.Errorf("resolve agent: %w", err))
	}

	var terminal stream.Event
	err = g.retry.Execute(func() error {
		turn.Attempts++
		events, err := a.Stream(turn.Ctx, turn.Message)
		if err != nil {
			return err
		}
		for ev := range events {
			if turn.OnEvent != nil {
				turn.OnEvent(ev)
			}
			switch ev.Type {
			case stream.EventFinal, stream.EventError, stream.EventApprovalNeeded:
				terminal = ev
			}
		}
		return nil
	})
	if err != nil {
		return g.fail(turn, err)
	}

	ended := time.Now()
	turn.EndedAt = &ended
	if terminal.Type == stream.EventError {
		turn.Status = TurnStatusFailed
		turn.Err = errors.New(terminal.Error)
	} else {
		turn.Status = TurnStatusComplete
	}
	if turn.OnComplete != nil {
		turn.OnComplete(terminal)
	}
	return nil
}

func (g *Gateway) fail(turn *Turn, err error) error {
	ended := time.Now()
	turn.EndedAt = &ended
	turn.Status = TurnStatusFailed
	turn.Err = err
	ev := stream.Event{Type: stream.EventError, Error: err.Error()}
	if turn.OnEvent != nil {
		turn.OnEvent(ev)
	}
	if turn.OnComplete != nil {
		turn.OnComplete(ev)
	}
	return err
}
