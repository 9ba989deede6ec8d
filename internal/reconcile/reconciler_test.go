package reconcile

import (
	"strings"
	"testing"
	"time"

	"fetchqueue/internal/engine"
	"fetchqueue/internal/scheduler"
	"fetchqueue/internal/tasks"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

type fixture struct {
	store *tasks.Store
	mock  *engine.Mock
	sched *scheduler.Scheduler
	rec   *Reconciler
}

func newFixture(maxConcurrent int) *fixture {
	store := tasks.NewStore()
	mock := engine.NewMock()
	sched := scheduler.New(store, mock, maxConcurrent, "/tmp/downloads")
	return &fixture{
		store: store,
		mock:  mock,
		sched: sched,
		rec:   New(store, sched, nil),
	}
}

func (f *fixture) seed(t *testing.T, id string, status tasks.Status) {
	t.Helper()
	now := time.Now().UTC()
	err := f.store.Insert(tasks.Task{
		ID:        id,
		URL:       "https://example.com/media/" + id,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

// seedRunning puts a task into downloading through the normal admission path.
func (f *fixture) seedRunning(t *testing.T, id string) {
	t.Helper()
	f.seed(t, id, tasks.StatusPending)
	f.sched.Enqueue(id)
	task, err := f.store.Get(id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	if task.Status != tasks.StatusDownloading {
		t.Fatalf("seedRunning: status = %q, want downloading", task.Status)
	}
}

func (f *fixture) get(t *testing.T, id string) tasks.Task {
	t.Helper()
	task, err := f.store.Get(id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return task
}

func TestApplyDropsEventsForUnknownTasks(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")

	f.rec.Apply(engine.Event{TaskID: "ghost", RawStatus: "complete"})

	if got := f.get(t, "t1").Status; got != tasks.StatusDownloading {
		t.Fatalf("bystander status = %q, want untouched", got)
	}
	if f.store.Len() != 1 {
		t.Fatalf("store len = %d, want 1", f.store.Len())
	}
}

func TestApplyProgressTick(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")

	f.rec.Apply(engine.Event{
		TaskID:         "t1",
		Progress:       f64(55.5),
		Speed:          i64(250_000),
		DownloadedSize: i64(5550),
		FileSize:       i64(10000),
	})

	task := f.get(t, "t1")
	if task.Progress != 55.5 {
		t.Fatalf("progress = %v, want 55.5", task.Progress)
	}
	if task.Speed != 250_000 {
		t.Fatalf("speed = %d, want 250000", task.Speed)
	}
	if task.DownloadedSize != 5550 || task.FileSize != 10000 {
		t.Fatalf("sizes = %d/%d, want 5550/10000", task.DownloadedSize, task.FileSize)
	}
	if task.Status != tasks.StatusDownloading {
		t.Fatalf("status = %q, want unchanged by a pure progress tick", task.Status)
	}
}

func TestApplyProgressClampsOutOfRangeValues(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")

	f.rec.Apply(engine.Event{TaskID: "t1", Progress: f64(140), FileSize: i64(1000), DownloadedSize: i64(2500)})

	task := f.get(t, "t1")
	if task.Progress != 100 {
		t.Fatalf("progress = %v, want clamped to 100", task.Progress)
	}
	if task.DownloadedSize != 1000 {
		t.Fatalf("downloaded = %d, want clamped to file size", task.DownloadedSize)
	}
}

func TestApplyProgressIsMonotonicWhileDownloading(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")

	f.rec.Apply(engine.Event{TaskID: "t1", Progress: f64(60)})
	f.rec.Apply(engine.Event{TaskID: "t1", Progress: f64(40)})

	if got := f.get(t, "t1").Progress; got != 60 {
		t.Fatalf("progress after stale tick = %v, want 60 kept", got)
	}
}

func TestApplyCompletedEventFreesSlot(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")
	f.seed(t, "t2", tasks.StatusPending)
	f.sched.Enqueue("t2")
	if got := f.get(t, "t2").Status; got != tasks.StatusPending {
		t.Fatalf("t2 status = %q, want still queued", got)
	}

	f.rec.Apply(engine.Event{TaskID: "t1", RawStatus: "complete", FileSize: i64(4096), DownloadedSize: i64(4000)})

	t1 := f.get(t, "t1")
	if t1.Status != tasks.StatusCompleted {
		t.Fatalf("t1 status = %q, want %q", t1.Status, tasks.StatusCompleted)
	}
	if t1.Progress != 100 {
		t.Fatalf("t1 progress = %v, want forced to 100", t1.Progress)
	}
	if t1.DownloadedSize != 4096 {
		t.Fatalf("t1 downloaded = %d, want file size", t1.DownloadedSize)
	}
	if got := f.get(t, "t2").Status; got != tasks.StatusDownloading {
		t.Fatalf("t2 status = %q, want dispatched into the freed slot", got)
	}
}

func TestApplyDiscardsCompletionAfterLocalCancel(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")
	f.sched.Cancel("t1")

	// The engine finished before it saw the cancel. The local decision wins.
	f.rec.Apply(engine.Event{TaskID: "t1", RawStatus: "complete"})

	if got := f.get(t, "t1").Status; got != tasks.StatusCancelled {
		t.Fatalf("status = %q, want %q kept", got, tasks.StatusCancelled)
	}
}

func TestApplyNeverResumesPausedWork(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")
	f.sched.Pause("t1")

	// A late "still active" tick from before the engine processed the pause.
	f.rec.Apply(engine.Event{TaskID: "t1", RawStatus: "active", Progress: f64(35)})

	task := f.get(t, "t1")
	if task.Status != tasks.StatusPaused {
		t.Fatalf("status = %q, want %q kept", task.Status, tasks.StatusPaused)
	}
	if task.Progress != 35 {
		t.Fatalf("progress = %v, want 35 (progress still lands)", task.Progress)
	}
}

func TestApplyDemotionToPendingIsDiscarded(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")

	f.rec.Apply(engine.Event{TaskID: "t1", RawStatus: "waiting"})

	if got := f.get(t, "t1").Status; got != tasks.StatusDownloading {
		t.Fatalf("status = %q, want downloading kept", got)
	}
}

func TestApplyUnknownStatusFailsClosed(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")

	f.rec.Apply(engine.Event{TaskID: "t1", RawStatus: "quantum-entangled"})

	task := f.get(t, "t1")
	if task.Status != tasks.StatusFailed {
		t.Fatalf("status = %q, want %q", task.Status, tasks.StatusFailed)
	}
	if task.Error == "" {
		t.Fatalf("error empty, want a synthetic message")
	}
	if !strings.Contains(task.Error, "quantum-entangled") {
		t.Fatalf("error = %q, want the raw status named", task.Error)
	}
}

func TestApplyFailureCarriesEngineMessage(t *testing.T) {
	f := newFixture(2)
	f.seedRunning(t, "t1")
	f.seedRunning(t, "t2")

	f.rec.Apply(engine.Event{TaskID: "t1", RawStatus: "error", ErrorMessage: "disk full"})
	f.rec.Apply(engine.Event{TaskID: "t2", RawStatus: "error"})

	if got := f.get(t, "t1").Error; got != "disk full" {
		t.Fatalf("t1 error = %q, want the engine message", got)
	}
	if got := f.get(t, "t2").Error; got != "download failed" {
		t.Fatalf("t2 error = %q, want the fallback message", got)
	}
}

func TestApplyDuplicateTerminalEventsAreIdempotent(t *testing.T) {
	f := newFixture(1)
	f.seedRunning(t, "t1")

	f.rec.Apply(engine.Event{TaskID: "t1", RawStatus: "complete"})
	f.rec.Apply(engine.Event{TaskID: "t1", RawStatus: "complete"})

	if got := f.get(t, "t1").Status; got != tasks.StatusCompleted {
		t.Fatalf("status = %q, want %q", got, tasks.StatusCompleted)
	}
}
