package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/loomdev/loom/internal/bus"
	"github.com/loomdev/loom/internal/logger"
	"github.com/loomdev/loom/internal/session"
)

// worker executes one session's operations in FIFO order.
type worker struct {
	sessionID string
	mgr       *Manager

	mu      sync.Mutex
	queue   []Op
	running session.OperationKind
	cancelR context.CancelFunc

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newWorker(sessionID string, mgr *Manager) *worker {
	return &worker{
		sessionID: sessionID,
		mgr:       mgr,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *worker) enqueue(op Op) {
	w.mu.Lock()
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// cancel fires the running operation's context and drops queued
// Prompt/Reply ops. PollMerge is never dropped by cancel.
func (w *worker) cancel() {
	w.mu.Lock()
	var dropped []Op
	kept := w.queue[:0]
	for _, op := range w.queue {
		if op.Kind == session.OpPrompt || op.Kind == session.OpReply {
			dropped = append(dropped, op)
		} else {
			kept = append(kept, op)
		}
	}
	w.queue = kept
	cancelR := w.cancelR
	w.mu.Unlock()

	for _, op := range dropped {
		w.mgr.finish(op, session.FailureCancelled)
	}
	if cancelR != nil {
		cancelR()
	}
}

func (w *worker) stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	w.mu.Lock()
	cancelR := w.cancelR
	w.mu.Unlock()
	if cancelR != nil {
		cancelR()
	}
}

func (w *worker) pendingKinds() []session.OperationKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	kinds := make([]session.OperationKind, len(w.queue))
	for i, op := range w.queue {
		kinds[i] = op.Kind
	}
	return kinds
}

func (w *worker) runningKind() session.OperationKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *worker) pop() (Op, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return Op{}, false
	}
	op := w.queue[0]
	w.queue = w.queue[1:]
	return op, true
}

// run is the executor loop. It exits when the worker is stopped, draining
// any remaining operations as abandoned.
func (w *worker) run() {
	defer close(w.done)

	log := logger.WithComponent("queue")
	log.Debug("worker started", "sessionID", w.sessionID)

	for {
		select {
		case <-w.quit:
			w.drain()
			log.Debug("worker stopped", "sessionID", w.sessionID)
			return
		default:
		}

		op, ok := w.pop()
		if !ok {
			select {
			case <-w.wake:
				continue
			case <-w.quit:
				w.drain()
				log.Debug("worker stopped", "sessionID", w.sessionID)
				return
			}
		}

		w.execute(op)
	}
}

func (w *worker) execute(op Op) {
	ctx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.running = op.Kind
	w.cancelR = cancel
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		w.running = ""
		w.cancelR = nil
		w.mu.Unlock()
	}()

	if err := w.mgr.store.UpdateOperationState(op.ID, session.OpRunning, ""); err != nil {
		logger.Error("Queue: failed to mark op %s running: %v", op.ID, err)
	}
	w.mgr.bus.Publish(bus.OperationStarted{
		SessionID:   op.SessionID,
		OperationID: op.ID,
		Kind:        string(op.Kind),
	})

	err := op.Run(ctx)

	var state session.OperationState
	var errText string
	switch {
	case err == nil:
		state = session.OpCompleted
	case errors.Is(err, context.Canceled):
		state = session.OpFailed
		errText = session.FailureCancelled
	default:
		state = session.OpFailed
		errText = err.Error()
	}

	if err := w.mgr.store.UpdateOperationState(op.ID, state, errText); err != nil {
		logger.Error("Queue: failed to finish op %s: %v", op.ID, err)
	}
	w.mgr.bus.Publish(bus.OperationFinished{
		SessionID:   op.SessionID,
		OperationID: op.ID,
		Kind:        string(op.Kind),
		Err:         errText,
	})
}

// drain abandons every queued operation after the executor decides to
// exit.
func (w *worker) drain() {
	w.mu.Lock()
	remaining := w.queue
	w.queue = nil
	w.mu.Unlock()

	for _, op := range remaining {
		w.mgr.finish(op, session.FailureAbandoned)
	}
}
