// Package bus carries typed events from background tasks to the single
// reducer. Background tasks never mutate app state directly; they publish
// events here, giving one serialization point and a replayable trail.
package bus

import (
	"github.com/loomdev/loom/internal/logger"
)

// Event is implemented by every bus event.
type Event interface {
	isEvent()
}

// SessionCreated announces a freshly inserted session.
type SessionCreated struct {
	SessionID string
}

// SessionUpdated carries a column patch to apply and persist.
type SessionUpdated struct {
	SessionID string
	Patch     map[string]any
}

// SessionDeleted announces a hard-deleted session.
type SessionDeleted struct {
	SessionID string
}

// StatusChanged requests a status transition. The reducer rejects illegal
// transitions.
type StatusChanged struct {
	SessionID string
	Old       string
	New       string
}

// OutputAppended carries one streamed chunk of agent output.
type OutputAppended struct {
	SessionID string
	Chunk     string
}

// UsageRecorded carries token totals from one completed invocation.
type UsageRecorded struct {
	SessionID    string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// OperationStarted marks a queued operation as running.
type OperationStarted struct {
	SessionID   string
	OperationID string
	Kind        string
}

// OperationFinished carries the terminal result of an operation.
type OperationFinished struct {
	SessionID   string
	OperationID string
	Kind        string
	Err         string
}

// PrStateChanged carries a fresh poll result for a session's PR.
type PrStateChanged struct {
	SessionID string
	State     string
}

// RefreshSessions requests a project-scoped reload of the snapshot list.
type RefreshSessions struct {
	ProjectID string
}

// Tick is the low-frequency safety refresh.
type Tick struct{}

func (SessionCreated) isEvent()    {}
func (SessionUpdated) isEvent()    {}
func (SessionDeleted) isEvent()    {}
func (StatusChanged) isEvent()     {}
func (OutputAppended) isEvent()    {}
func (UsageRecorded) isEvent()     {}
func (OperationStarted) isEvent()  {}
func (OperationFinished) isEvent() {}
func (PrStateChanged) isEvent()    {}
func (RefreshSessions) isEvent()   {}
func (Tick) isEvent()              {}

// Bus is a single-consumer event channel. Publishing is buffered so
// background tasks are not coupled to the reducer's pace under normal
// load.
type Bus struct {
	events chan Event
}

// New returns a bus with the given buffer size; a size of zero or less
// selects the default of 256.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{events: make(chan Event, buffer)}
}

// Publish enqueues an event for the reducer.
func (b *Bus) Publish(ev Event) {
	select {
	case b.events <- ev:
	default:
		// The reducer has stalled badly; block rather than drop, since
		// dropped events would desynchronize snapshots from the store.
		logger.Warn("Bus: event buffer full, publisher blocking")
		b.events <- ev
	}
}

// Events returns the consumer channel. There must be exactly one consumer.
func (b *Bus) Events() <-chan Event {
	return b.events
}
