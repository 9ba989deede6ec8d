// Package reconcile applies engine-reported lifecycle events to the local
// task set. The normalizer keeps the engine's status vocabulary out of the
// rest of the system; the reconciler keeps event application race-free.
package reconcile

import (
	"fmt"
	"strings"

	"fetchqueue/internal/tasks"
)

// Normalize maps an engine status string onto the canonical status enum. It
// is total: unknown vocabulary fails closed to failed with a synthetic error
// message, so a task can never sit in downloading forever because the engine
// started saying something new.
func Normalize(raw string) (tasks.Status, string) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "downloading", "running", "in_progress":
		return tasks.StatusDownloading, ""
	case "waiting", "pending", "queued":
		return tasks.StatusPending, ""
	case "paused":
		return tasks.StatusPaused, ""
	case "complete", "completed", "done", "success":
		return tasks.StatusCompleted, ""
	case "error", "failed", "fail":
		return tasks.StatusFailed, ""
	case "removed", "cancelled", "canceled", "stopped":
		return tasks.StatusCancelled, ""
	default:
		return tasks.StatusFailed, fmt.Sprintf("engine reported unknown status %q", raw)
	}
}
