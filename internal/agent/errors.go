// internal/agent/errors.go
package agent

import "errors"

var (
	// ErrPendingApprovalNotFound is returned by ResumeWithApproval when no
	// paused state matches the given llm message id, including after a
	// pending call has already been consumed.
	ErrPendingApprovalNotFound = errors.New("pending approval not found")
	// ErrApprovalAlreadyPending ends a turn that pauses while another
	// pending approval is still armed under the same llm message id.
	ErrApprovalAlreadyPending = errors.New("approval already pending")
	// ErrMaxRoundsExceeded is returned when an engine reaches its tool
	// round budget without a final answer.
	ErrMaxRoundsExceeded = errors.New("max tool rounds exceeded")
	// ErrMissingEngine is returned by the factory for an unknown engine name.
	ErrMissingEngine = errors.New("unknown engine")
)
