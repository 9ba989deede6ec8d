// Package engine is the boundary to the external component that performs the
// actual network transfers. The orchestrator only issues commands here and
// consumes the lifecycle events the engine reports back.
package engine

import (
	"context"
	"fmt"
)

// DispatchRequest asks the engine to start one transfer.
type DispatchRequest struct {
	TaskID   string
	URL      string
	Dir      string
	Filename string
	Headers  map[string]string
}

// DispatchError is a synchronous rejection of a dispatch. Anything that goes
// wrong after the engine accepted the request arrives as an Event instead.
type DispatchError struct {
	TaskID string
	Reason string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch rejected for task %s: %s", e.TaskID, e.Reason)
}

// Event is one lifecycle or progress report. Delivery is at-least-once with
// no ordering guarantee across tasks. Optional fields are nil when the engine
// did not report them.
type Event struct {
	TaskID         string
	RawStatus      string
	ErrorMessage   string
	Progress       *float64
	Speed          *int64
	DownloadedSize *int64
	FileSize       *int64
}

// Engine is the command side of the boundary. Dispatch is synchronous
// accept/reject; pause and cancel are fire-and-forget, their outcome is only
// observed later via the event stream. UpdateConcurrencyLimit is purely
// informational: the scheduler stays the sole enforcer of the ceiling.
type Engine interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
	RequestPause(taskID string)
	RequestCancel(taskID string)
	UpdateConcurrencyLimit(n int)
}
