// internal/agent/gate.go
package agent

import (
	"sync"

	"github.com/user/docchat/internal/stream"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/llm"
)

// pendingRun captures everything needed to continue a paused turn: the
// gated call, the transcript at the pause point, and the partial results
// accumulated before it.
type pendingRun struct {
	call          types.PendingToolCall
	transcript    []llm.Message
	content       string
	sources       []types.SourceNode
	userMessageID types.MessageID
	timeline      *stream.TimelineBuilder
}

// approvalGate holds paused runs keyed by llm message id. State is owned
// by the agent instance, never process-global.
type approvalGate struct {
	mu      sync.Mutex
	pending map[types.MessageID]*pendingRun
}

func newApprovalGate() *approvalGate {
	return &approvalGate{pending: make(map[types.MessageID]*pendingRun)}
}

// arm registers a paused run under its llm message id. An id that is
// already armed is refused rather than overwritten: ephemeral runs all
// share id 0, so a second concurrent anonymous pause would otherwise
// silently discard the first pending call.
func (g *approvalGate) arm(id types.MessageID, run *pendingRun) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.pending[id]; exists {
		return false
	}
	g.pending[id] = run
	return true
}

// take removes and returns the paused run for id. A pending entry can be
// taken exactly once; a second take for the same id fails.
func (g *approvalGate) take(id types.MessageID) (*pendingRun, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	run, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	return run, ok
}
