// Package queue serializes the operations of each session: one FIFO queue
// and one executor goroutine per session, spawned lazily on first enqueue.
// Operations of different sessions run in parallel; within a session at
// most one operation is running at any time.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/loomdev/loom/internal/bus"
	"github.com/loomdev/loom/internal/logger"
	"github.com/loomdev/loom/internal/session"
)

// shutdownTimeout bounds the graceful join of all executors at exit.
const shutdownTimeout = 5 * time.Second

// Op is one unit of work on a session's queue. Run executes with a
// cancellable context; returning an error marks the operation failed.
type Op struct {
	ID        string
	SessionID string
	Kind      session.OperationKind
	Payload   string
	Run       func(ctx context.Context) error
}

// OperationStore persists operation lifecycle changes. Satisfied by
// *store.Store.
type OperationStore interface {
	PutOperation(o session.Operation) error
	UpdateOperationState(opID string, state session.OperationState, opErr string) error
}

// Manager owns the per-session workers.
type Manager struct {
	store OperationStore
	bus   *bus.Bus

	mu       sync.Mutex
	workers  map[string]*worker
	shutdown bool
}

// NewManager returns an empty manager.
func NewManager(store OperationStore, b *bus.Bus) *Manager {
	return &Manager{
		store:   store,
		bus:     b,
		workers: make(map[string]*worker),
	}
}

// Enqueue appends an operation to its session's queue, spawning the worker
// if this is the session's first operation. The operation is persisted as
// pending before it is queued.
func (m *Manager) Enqueue(op Op) error {
	if err := m.store.PutOperation(session.Operation{
		ID:        op.ID,
		SessionID: op.SessionID,
		Kind:      op.Kind,
		Payload:   op.Payload,
		State:     session.OpPending,
	}); err != nil {
		return err
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.finish(op, session.FailureAbandoned)
		return nil
	}
	w, ok := m.workers[op.SessionID]
	if !ok {
		w = newWorker(op.SessionID, m)
		m.workers[op.SessionID] = w
		go w.run()
	}
	m.mu.Unlock()

	w.enqueue(op)
	return nil
}

// Cancel fires the cancellation of the session's running operation and
// drops queued Prompt/Reply operations. PollMerge survives. Cancelling an
// idle session is a no-op.
func (m *Manager) Cancel(sessionID string) {
	m.mu.Lock()
	w := m.workers[sessionID]
	m.mu.Unlock()
	if w == nil {
		return
	}
	w.cancel()
}

// Pending returns the kinds queued behind the running operation.
func (m *Manager) Pending(sessionID string) []session.OperationKind {
	m.mu.Lock()
	w := m.workers[sessionID]
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.pendingKinds()
}

// Running returns the kind currently executing, or "" when idle.
func (m *Manager) Running(sessionID string) session.OperationKind {
	m.mu.Lock()
	w := m.workers[sessionID]
	m.mu.Unlock()
	if w == nil {
		return ""
	}
	return w.runningKind()
}

// StopSession terminates a session's worker: the running operation is
// cancelled and remaining queued operations are abandoned. Blocks until
// the executor has exited.
func (m *Manager) StopSession(sessionID string) {
	m.mu.Lock()
	w := m.workers[sessionID]
	delete(m.workers, sessionID)
	m.mu.Unlock()
	if w == nil {
		return
	}
	w.stop()
	<-w.done
}

// Shutdown stops all workers: cancel, then join with a bounded wait.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}

	deadline := time.After(shutdownTimeout)
	for _, w := range workers {
		select {
		case <-w.done:
		case <-deadline:
			logger.Warn("Queue: shutdown timed out waiting for session %s", w.sessionID)
			return
		}
	}
}

// finish records a terminal state for an operation that never ran.
func (m *Manager) finish(op Op, failure string) {
	if err := m.store.UpdateOperationState(op.ID, session.OpFailed, failure); err != nil {
		logger.Error("Queue: failed to mark op %s %s: %v", op.ID, failure, err)
	}
	m.bus.Publish(bus.OperationFinished{
		SessionID:   op.SessionID,
		OperationID: op.ID,
		Kind:        string(op.Kind),
		Err:         failure,
	})
}
