package engine

import (
	"context"
	"sync"
)

// Mock is an in-memory engine for tests and for running the service without
// an aria2 daemon. It records every command and lets callers script dispatch
// rejections and emit events by hand.
type Mock struct {
	mu         sync.Mutex
	dispatched []DispatchRequest
	paused     []string
	cancelled  []string
	limit      int
	rejections map[string]string
	handler    func(Event)
}

func NewMock() *Mock {
	return &Mock{rejections: make(map[string]string)}
}

// SetHandler wires the event sink; Emit delivers through it.
func (m *Mock) SetHandler(handler func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// RejectDispatch makes the next dispatches for taskID fail with reason.
func (m *Mock) RejectDispatch(taskID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[taskID] = reason
}

func (m *Mock) Dispatch(_ context.Context, req DispatchRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason, ok := m.rejections[req.TaskID]; ok {
		return &DispatchError{TaskID: req.TaskID, Reason: reason}
	}
	m.dispatched = append(m.dispatched, req)
	return nil
}

func (m *Mock) RequestPause(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = append(m.paused, taskID)
}

func (m *Mock) RequestCancel(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, taskID)
}

func (m *Mock) UpdateConcurrencyLimit(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = n
}

// Emit pushes an event through the registered handler, as if the real engine
// had reported it.
func (m *Mock) Emit(evt Event) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(evt)
	}
}

func (m *Mock) Dispatched() []DispatchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DispatchRequest, len(m.dispatched))
	copy(out, m.dispatched)
	return out
}

func (m *Mock) Paused() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.paused))
	copy(out, m.paused)
	return out
}

func (m *Mock) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}

func (m *Mock) Limit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}
