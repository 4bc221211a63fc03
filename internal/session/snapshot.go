package session

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Snapshot is the render-friendly immutable view of a session. The UI reads
// snapshots; it never reads the database directly.
type Snapshot struct {
	Session Session

	// Transcript is the streaming output buffer accumulated so far.
	Transcript string
	// PendingOps are the kinds queued behind the running operation.
	PendingOps []OperationKind
	// RunningOp is the kind currently executing, or "" when idle.
	RunningOp OperationKind
	// Busy is true while an operation is running.
	Busy bool

	// Display fields derived for the UI.
	AgeDisplay    string
	TokensDisplay string
}

// BuildSnapshot assembles a snapshot from a session row, the live output
// buffer, and the queue state. Pure function of its inputs.
func BuildSnapshot(sess Session, transcript string, pending []OperationKind, running OperationKind, now time.Time) Snapshot {
	pendingCopy := make([]OperationKind, len(pending))
	copy(pendingCopy, pending)

	return Snapshot{
		Session:       sess,
		Transcript:    transcript,
		PendingOps:    pendingCopy,
		RunningOp:     running,
		Busy:          running != "",
		AgeDisplay:    humanize.Time(time.Unix(sess.CreatedAt, 0)),
		TokensDisplay: humanize.Comma(sess.InputTokens) + " in / " + humanize.Comma(sess.OutputTokens) + " out",
	}
}
