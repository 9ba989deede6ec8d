// Package scheduler decides which queued tasks run now, bounded by a hard
// concurrency ceiling, and keeps the local task set consistent with the
// commands it issues to the execution engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fetchqueue/internal/engine"
	"fetchqueue/internal/observability"
	"fetchqueue/internal/tasks"
)

var ErrInvalidConcurrency = errors.New("max_concurrent must be positive")

// TaskSpec is one requested download, already parsed by whatever imported it.
type TaskSpec struct {
	URL        string            `json:"url"`
	Title      string            `json:"title,omitempty"`
	OutputPath string            `json:"output_path,omitempty"`
	Source     map[string]string `json:"source_metadata,omitempty"`
}

// queueEntry is a member of the desired-run set: a task the user asked to
// run, with its enqueue order and dispatch attempt count.
type queueEntry struct {
	id         string
	enqueuedAt time.Time
	seq        uint64
	attempts   int
}

// Notification is sent to subscribers after every applied mutation batch, not
// per sub-field, so the presentation layer can re-render efficiently.
type Notification struct {
	Revision uint64      `json:"revision"`
	Stats    tasks.Stats `json:"stats"`
}

type Scheduler struct {
	mu sync.Mutex

	store     *tasks.Store
	engine    engine.Engine
	selection *tasks.SelectionSet
	journal   tasks.Repository
	metrics   *observability.Metrics

	downloadDir   string
	queue         map[string]*queueEntry
	seq           uint64
	maxConcurrent int

	revision    uint64
	subscribers map[int]chan Notification
	nextSubID   int
}

func New(store *tasks.Store, eng engine.Engine, maxConcurrent int, downloadDir string) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		store:         store,
		engine:        eng,
		selection:     tasks.NewSelectionSet(),
		downloadDir:   downloadDir,
		queue:         make(map[string]*queueEntry),
		maxConcurrent: maxConcurrent,
		subscribers:   make(map[int]chan Notification),
	}
}

func (s *Scheduler) SetJournal(journal tasks.Repository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = journal
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = metrics
}

func (s *Scheduler) Store() *tasks.Store { return s.store }

func (s *Scheduler) Selection() *tasks.SelectionSet { return s.selection }

// Subscribe returns a channel receiving one Notification per applied mutation
// batch, plus an unsubscribe func. Slow consumers miss notifications rather
// than blocking the scheduler.
func (s *Scheduler) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 64)
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
}

// Add creates tasks from specs (status pending) and optionally enqueues them
// right away. Specs with an empty URL are skipped.
func (s *Scheduler) Add(specs []TaskSpec, enqueue bool) []tasks.Task {
	now := time.Now().UTC()
	created := make([]tasks.Task, 0, len(specs))
	for _, spec := range specs {
		url := strings.TrimSpace(spec.URL)
		if url == "" {
			continue
		}
		task := tasks.Task{
			ID:         uuid.NewString(),
			URL:        url,
			Title:      strings.TrimSpace(spec.Title),
			OutputPath: strings.TrimSpace(spec.OutputPath),
			Status:     tasks.StatusPending,
			Source:     spec.Source,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.store.Insert(task); err != nil {
			log.Printf("add task: %v", err)
			continue
		}
		created = append(created, task)
	}
	if len(created) == 0 {
		return created
	}

	s.mu.Lock()
	for _, t := range created {
		s.persist(t)
		if enqueue {
			s.enqueueLocked(t.ID)
		}
	}
	if enqueue {
		s.processLocked()
	}
	s.notifyLocked()
	s.mu.Unlock()
	return created
}

// Enqueue adds tasks to the desired-run set and runs admission. Ids that are
// unknown, terminal, or already downloading are no-ops.
func (s *Scheduler) Enqueue(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, id := range ids {
		task, err := s.store.Get(id)
		if err != nil {
			log.Printf("enqueue: %v", err)
			continue
		}
		if !task.Eligible() {
			continue
		}
		if s.enqueueLocked(id) {
			added++
		}
	}
	s.processLocked()
	s.notifyLocked()
	return added
}

func (s *Scheduler) enqueueLocked(id string) bool {
	if _, ok := s.queue[id]; ok {
		return false
	}
	s.seq++
	s.queue[id] = &queueEntry{id: id, enqueuedAt: time.Now().UTC(), seq: s.seq}
	return true
}

// Process runs one admission pass and returns how many tasks were dispatched.
// It is idempotent: with no intervening events, repeated calls converge to
// the same store state as a single call.
func (s *Scheduler) Process() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.processLocked()
	if n > 0 {
		s.notifyLocked()
	}
	return n
}

func (s *Scheduler) processLocked() int {
	// Entries whose tasks vanished or reached a terminal status no longer
	// belong to the desired-run set.
	for id := range s.queue {
		task, err := s.store.Get(id)
		if err != nil || task.Terminal() {
			delete(s.queue, id)
		}
	}

	running := len(s.store.List(func(t tasks.Task) bool { return t.Status == tasks.StatusDownloading }))
	free := s.maxConcurrent - running
	if free <= 0 {
		return 0
	}

	candidates := make([]tasks.Task, 0, len(s.queue))
	for id := range s.queue {
		task, err := s.store.Get(id)
		if err != nil || !task.Eligible() {
			continue
		}
		candidates = append(candidates, task)
	}

	// Paused before failed before pending: continuing partial work beats
	// starting fresh work and beats retrying failed work. Within a class the
	// furthest-along transfer goes first; enqueue order breaks ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := admissionRank(candidates[i].Status), admissionRank(candidates[j].Status)
		if ri != rj {
			return ri < rj
		}
		if candidates[i].Progress != candidates[j].Progress {
			return candidates[i].Progress > candidates[j].Progress
		}
		return s.queue[candidates[i].ID].seq < s.queue[candidates[j].ID].seq
	})

	dispatched := 0
	for _, candidate := range candidates {
		if dispatched >= free {
			break
		}
		if s.dispatchLocked(candidate) {
			dispatched++
		}
	}
	return dispatched
}

func admissionRank(status tasks.Status) int {
	switch status {
	case tasks.StatusPaused:
		return 0
	case tasks.StatusFailed:
		return 1
	default:
		return 2
	}
}

func (s *Scheduler) dispatchLocked(prior tasks.Task) bool {
	updated, err := s.store.Mutate(prior.ID, func(t tasks.Task) (tasks.Task, error) {
		t.Status = tasks.StatusDownloading
		t.Speed = 0
		t.Error = ""
		return t, nil
	})
	if err != nil {
		log.Printf("admit %s: %v", prior.ID, err)
		return false
	}

	if entry, ok := s.queue[prior.ID]; ok {
		entry.attempts++
	}

	dir, filename := splitOutputPath(updated.OutputPath, s.downloadDir)
	err = s.engine.Dispatch(context.Background(), engine.DispatchRequest{
		TaskID:   updated.ID,
		URL:      updated.URL,
		Dir:      dir,
		Filename: filename,
	})
	if err != nil {
		// Synchronous rejection: the task must not stay stuck in
		// downloading, so roll back to the pre-dispatch status with the
		// rejection recorded.
		log.Printf("dispatch rejected: %v", err)
		reverted := prior
		reverted.Error = err.Error()
		if restoreErr := s.store.Restore(reverted); restoreErr != nil {
			log.Printf("revert %s after rejected dispatch: %v", prior.ID, restoreErr)
		}
		if s.metrics != nil {
			s.metrics.Dispatches.WithLabelValues("rejected").Inc()
		}
		s.persist(reverted)
		return false
	}

	delete(s.queue, updated.ID)
	if s.metrics != nil {
		s.metrics.Dispatches.WithLabelValues("ok").Inc()
	}
	s.persist(updated)
	return true
}

func splitOutputPath(outputPath, fallbackDir string) (dir, filename string) {
	if strings.TrimSpace(outputPath) == "" {
		return fallbackDir, ""
	}
	dir, filename = filepath.Split(outputPath)
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	if dir == "" {
		dir = fallbackDir
	}
	return dir, filename
}

// Pause removes tasks from the desired-run set; running tasks transition to
// paused optimistically and a pause command is sent to the engine.
func (s *Scheduler) Pause(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, id := range ids {
		if _, ok := s.queue[id]; ok {
			delete(s.queue, id)
			changed = true
		}
		task, err := s.store.Get(id)
		if err != nil {
			log.Printf("pause: %v", err)
			continue
		}
		if task.Status != tasks.StatusDownloading {
			continue
		}
		updated, err := s.store.Mutate(id, func(t tasks.Task) (tasks.Task, error) {
			t.Status = tasks.StatusPaused
			t.Speed = 0
			return t, nil
		})
		if err != nil {
			log.Printf("pause %s: %v", id, err)
			continue
		}
		s.engine.RequestPause(id)
		s.persist(updated)
		changed = true
	}
	if changed {
		s.notifyLocked()
	}
}

// Cancel removes tasks from the desired-run set and transitions them to
// cancelled optimistically. Cancelling queued work is synchronous and local;
// for running work the engine is told to stop and any later contradicting
// event is discarded by the reconciler.
func (s *Scheduler) Cancel(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, id := range ids {
		if _, ok := s.queue[id]; ok {
			delete(s.queue, id)
			changed = true
		}
		task, err := s.store.Get(id)
		if err != nil {
			log.Printf("cancel: %v", err)
			continue
		}
		if task.Terminal() || task.Status == tasks.StatusFailed {
			continue
		}
		wasRunning := task.Status == tasks.StatusDownloading
		updated, err := s.store.Mutate(id, func(t tasks.Task) (tasks.Task, error) {
			t.Status = tasks.StatusCancelled
			t.Speed = 0
			return t, nil
		})
		if err != nil {
			log.Printf("cancel %s: %v", id, err)
			continue
		}
		if wasRunning {
			s.engine.RequestCancel(id)
		}
		s.persist(updated)
		changed = true
	}
	if changed {
		s.processLocked()
		s.notifyLocked()
	}
}

// Retry re-admits failed tasks: the error is cleared, progress is kept (the
// engine resumes partial files), and the task joins the desired-run set.
func (s *Scheduler) Retry(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, id := range ids {
		task, err := s.store.Get(id)
		if err != nil {
			log.Printf("retry: %v", err)
			continue
		}
		if task.Status != tasks.StatusFailed {
			continue
		}
		updated, err := s.store.Mutate(id, func(t tasks.Task) (tasks.Task, error) {
			t.Error = ""
			return t, nil
		})
		if err != nil {
			log.Printf("retry %s: %v", id, err)
			continue
		}
		s.enqueueLocked(id)
		s.persist(updated)
		changed = true
	}
	if changed {
		s.processLocked()
		s.notifyLocked()
	}
}

// Delete destroys tasks: active engine work is cancelled, the ids leave the
// desired-run set and the selection set, and the journal rows are removed.
func (s *Scheduler) Delete(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		task, err := s.store.Get(id)
		if err != nil {
			continue
		}
		if task.Status == tasks.StatusDownloading {
			s.engine.RequestCancel(id)
		}
		delete(s.queue, id)
	}
	s.selection.Deselect(ids...)
	removed := s.store.Remove(ids...)
	s.deleteJournal(ids...)
	if removed > 0 {
		s.processLocked()
		s.notifyLocked()
	}
	return removed
}

// SetMaxConcurrent hot-reloads the admission ceiling and reruns admission, so
// a raised limit dispatches immediately and a lowered one simply stops new
// admissions. The engine is informed but the scheduler stays the enforcer.
func (s *Scheduler) SetMaxConcurrent(n int) error {
	if n < 1 {
		return ErrInvalidConcurrency
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConcurrent = n
	s.engine.UpdateConcurrencyLimit(n)
	s.processLocked()
	s.notifyLocked()
	return nil
}

func (s *Scheduler) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

// QueueDepth reports the desired-run set size.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) Stats() tasks.Stats {
	return tasks.Aggregate(s.store)
}

// Notify publishes a change notification for a mutation batch applied
// outside the scheduler's own mutators (the reconciler's event application).
func (s *Scheduler) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyLocked()
}

func (s *Scheduler) notifyLocked() {
	s.revision++
	stats := tasks.Aggregate(s.store)

	if s.metrics != nil {
		s.metrics.TasksByStatus.WithLabelValues(string(tasks.StatusPending)).Set(float64(stats.Pending))
		s.metrics.TasksByStatus.WithLabelValues(string(tasks.StatusDownloading)).Set(float64(stats.Active))
		s.metrics.TasksByStatus.WithLabelValues(string(tasks.StatusPaused)).Set(float64(stats.Paused))
		s.metrics.TasksByStatus.WithLabelValues(string(tasks.StatusCompleted)).Set(float64(stats.Completed))
		s.metrics.TasksByStatus.WithLabelValues(string(tasks.StatusFailed)).Set(float64(stats.Failed))
		s.metrics.TasksByStatus.WithLabelValues(string(tasks.StatusCancelled)).Set(float64(stats.Cancelled))
		s.metrics.QueueDepth.Set(float64(len(s.queue)))
		s.metrics.ActiveDownloads.Set(float64(stats.Active))
	}

	note := Notification{Revision: s.revision, Stats: stats}
	for _, ch := range s.subscribers {
		select {
		case ch <- note:
		default:
		}
	}
}

// RestoreFromJournal reloads journaled tasks at boot. The engine that owned
// any in-flight work is gone, so non-terminal tasks come back as paused and
// the user decides what resumes.
func (s *Scheduler) RestoreFromJournal(ctx context.Context) (int, error) {
	s.mu.Lock()
	journal := s.journal
	s.mu.Unlock()
	if journal == nil {
		return 0, nil
	}

	persisted, err := journal.ListTasks(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("journal list: %w", err)
	}
	restored := 0
	for _, task := range persisted {
		if !task.Terminal() {
			task.Status = tasks.StatusPaused
			task.Speed = 0
		}
		if err := s.store.Upsert(task); err != nil {
			log.Printf("restore %s: %v", task.ID, err)
			continue
		}
		restored++
	}
	if restored > 0 {
		s.Notify()
	}
	return restored, nil
}

func (s *Scheduler) persist(task tasks.Task) {
	journal := s.journal
	if journal == nil {
		return
	}
	go func(snapshot tasks.Task) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := journal.SaveTask(ctx, snapshot); err != nil {
			log.Printf("journal save %s: %v", snapshot.ID, err)
		}
	}(task.Clone())
}

// PersistTask journals a snapshot mutated outside the scheduler (the
// reconciler's event application path).
func (s *Scheduler) PersistTask(task tasks.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist(task)
}

func (s *Scheduler) deleteJournal(ids ...string) {
	journal := s.journal
	if journal == nil || len(ids) == 0 {
		return
	}
	go func(ids []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := journal.DeleteTasks(ctx, ids...); err != nil {
			log.Printf("journal delete: %v", err)
		}
	}(append([]string(nil), ids...))
}
