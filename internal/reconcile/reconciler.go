package reconcile

import (
	"errors"
	"log"

	"fetchqueue/internal/engine"
	"fetchqueue/internal/observability"
	"fetchqueue/internal/scheduler"
	"fetchqueue/internal/tasks"
)

// Reconciler consumes the engine's event stream, which is at-least-once and
// unordered across tasks, and applies it to the store. Progress ticks flow
// freely; status changes only land through the validated transition check.
type Reconciler struct {
	store   *tasks.Store
	sched   *scheduler.Scheduler
	metrics *observability.Metrics
}

func New(store *tasks.Store, sched *scheduler.Scheduler, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{store: store, sched: sched, metrics: metrics}
}

// Apply processes one engine event. No event is ever fatal: unknown tasks
// are dropped, contradictions with local terminal state are discarded and
// logged, and everything else lands atomically.
func (r *Reconciler) Apply(evt engine.Event) {
	task, err := r.store.Get(evt.TaskID)
	if err != nil {
		log.Printf("reconcile: dropping event for unknown task %s", evt.TaskID)
		if r.metrics != nil {
			r.metrics.DroppedEvents.WithLabelValues("unknown_task").Inc()
		}
		return
	}

	changed := false

	if !task.Terminal() && hasProgressFields(evt) {
		updated, err := r.store.Mutate(evt.TaskID, func(t tasks.Task) (tasks.Task, error) {
			applyProgressFields(&t, evt)
			return t, nil
		})
		if err == nil {
			task = updated
			changed = true
		}
	}

	if evt.RawStatus != "" {
		status, synthetic := Normalize(evt.RawStatus)
		if r.metrics != nil {
			r.metrics.EngineEvents.WithLabelValues(string(status)).Inc()
		}
		if status != task.Status {
			if status == tasks.StatusDownloading && task.Status != tasks.StatusPending {
				// The engine never re-admits work. A "still downloading"
				// tick for a locally paused or failed task is the race
				// between an optimistic local transition and the engine's
				// confirmation; the local decision wins.
				r.conflict(task, evt.RawStatus)
			} else {
				updated, err := r.store.Mutate(evt.TaskID, func(t tasks.Task) (tasks.Task, error) {
					t.Status = status
					switch status {
					case tasks.StatusFailed:
						t.Speed = 0
						t.Error = evt.ErrorMessage
						if t.Error == "" {
							t.Error = synthetic
						}
						if t.Error == "" {
							t.Error = "download failed"
						}
					case tasks.StatusCompleted:
						t.Speed = 0
						t.Progress = 100
						if t.FileSize > 0 {
							t.DownloadedSize = t.FileSize
						}
					case tasks.StatusCancelled, tasks.StatusPaused:
						t.Speed = 0
					}
					return t, nil
				})
				switch {
				case err == nil:
					task = updated
					changed = true
				case errors.Is(err, tasks.ErrInvalidTransition):
					r.conflict(task, evt.RawStatus)
				default:
					log.Printf("reconcile %s: %v", evt.TaskID, err)
				}
			}
		}
	}

	if !changed {
		return
	}

	r.sched.PersistTask(task)
	// A terminal transition frees a concurrency slot.
	r.sched.Process()
	r.sched.Notify()
}

func (r *Reconciler) conflict(task tasks.Task, rawStatus string) {
	log.Printf("reconcile conflict: engine reported %q for task %s in status %s, event discarded",
		rawStatus, task.ID, task.Status)
	if r.metrics != nil {
		r.metrics.ReconcileConflicts.Inc()
	}
}

func hasProgressFields(evt engine.Event) bool {
	return evt.Progress != nil || evt.Speed != nil || evt.DownloadedSize != nil || evt.FileSize != nil
}

func applyProgressFields(t *tasks.Task, evt engine.Event) {
	if evt.FileSize != nil && *evt.FileSize >= 0 {
		t.FileSize = *evt.FileSize
	}
	if evt.DownloadedSize != nil {
		size := *evt.DownloadedSize
		if size < 0 {
			size = 0
		}
		if t.FileSize > 0 && size > t.FileSize {
			size = t.FileSize
		}
		t.DownloadedSize = size
	}
	if evt.Speed != nil && *evt.Speed >= 0 {
		t.Speed = *evt.Speed
	}
	if evt.Progress != nil {
		p := *evt.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		// Progress is monotonic while downloading; a stale out-of-order
		// tick must not walk it backwards.
		if t.Status == tasks.StatusDownloading && p < t.Progress {
			p = t.Progress
		}
		t.Progress = p
	}
}
