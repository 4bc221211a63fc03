package controller

import (
	"testing"
	"time"

	"github.com/loomdev/loom/internal/session"
)

// seedSession inserts a session directly, bypassing worktree creation.
func seedSession(t *testing.T, f *fixture, id string, status session.Status) session.Session {
	t.Helper()
	sess := session.Session{
		ID:             id,
		ProjectID:      f.project.ID,
		Status:         status,
		AgentKind:      session.AgentClaude,
		Model:          "sonnet",
		PermissionMode: session.PermissionSuggest,
		BranchName:     "loom/" + id,
		WorktreePath:   "/tmp/worktrees/" + id,
		BaseCommit:     "base0001",
	}
	if err := f.store.InsertSession(sess); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	return sess
}

func seedRunningOp(t *testing.T, f *fixture, opID, sessionID string, kind session.OperationKind) {
	t.Helper()
	if err := f.store.PutOperation(session.Operation{
		ID: opID, SessionID: sessionID, Kind: kind, State: session.OpRunning,
	}); err != nil {
		t.Fatalf("failed to seed operation: %v", err)
	}
}

func TestRecoverInterruptedFirstPrompt(t *testing.T) {
	f := newFixture(t)
	seedSession(t, f, "s1", session.StatusInProgress)
	seedRunningOp(t, f, "op1", "s1", session.OpPrompt)

	if err := f.ctl.Recover(); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	sess, _ := f.store.GetSession("s1")
	if sess.Status != session.StatusNew {
		t.Errorf("status = %s, want new (no prior review history)", sess.Status)
	}
	ops, _ := f.store.ListOperations("s1")
	if ops[0].State != session.OpFailed || ops[0].Error != session.FailureInterrupted {
		t.Errorf("operation = %+v, want failed interrupted", ops[0])
	}
}

func TestRecoverInterruptedReply(t *testing.T) {
	f := newFixture(t)
	seedSession(t, f, "s1", session.StatusInProgress)

	// A completed first exchange means the session has review history.
	if err := f.store.PutOperation(session.Operation{
		ID: "op0", SessionID: "s1", Kind: session.OpPrompt, State: session.OpCompleted,
	}); err != nil {
		t.Fatal(err)
	}
	seedRunningOp(t, f, "op1", "s1", session.OpReply)

	if err := f.ctl.Recover(); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	sess, _ := f.store.GetSession("s1")
	if sess.Status != session.StatusReview {
		t.Errorf("status = %s, want review", sess.Status)
	}
}

func TestRecoverInterruptedPRCreation(t *testing.T) {
	f := newFixture(t)
	seedSession(t, f, "s1", session.StatusCreatingPullRequest)
	seedRunningOp(t, f, "op1", "s1", session.OpCreatePR)

	if err := f.ctl.Recover(); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	sess, _ := f.store.GetSession("s1")
	if sess.Status != session.StatusReview {
		t.Errorf("status = %s, want review", sess.Status)
	}
}

func TestRecoverResumesPolling(t *testing.T) {
	f := newFixture(t)
	sess := seedSession(t, f, "s1", session.StatusPullRequest)
	if err := f.store.UpdateSessionFields(sess.ID, map[string]any{
		"pr_url": "https://github.com/acme/widget/pull/3",
	}); err != nil {
		t.Fatal(err)
	}
	seedRunningOp(t, f, "op1", "s1", session.OpPollMerge)

	if err := f.ctl.Recover(); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	stored, _ := f.store.GetSession("s1")
	if stored.Status != session.StatusPullRequest {
		t.Errorf("status = %s, want pull_request", stored.Status)
	}

	// A fresh poll-merge operation is queued in place of the interrupted one.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ops, _ := f.store.ListOperations("s1")
		fresh := 0
		for _, op := range ops {
			if op.Kind == session.OpPollMerge && op.State != session.OpFailed {
				fresh++
			}
		}
		if fresh > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no poll-merge operation was re-enqueued")
}

func TestRecoverStrandedTransientSession(t *testing.T) {
	f := newFixture(t)
	// Transient status but no unfinished operation rows at all.
	seedSession(t, f, "s1", session.StatusInProgress)
	seedSession(t, f, "s2", session.StatusCreatingPullRequest)

	if err := f.ctl.Recover(); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	s1, _ := f.store.GetSession("s1")
	if s1.Status != session.StatusNew {
		t.Errorf("s1 status = %s, want new", s1.Status)
	}
	s2, _ := f.store.GetSession("s2")
	if s2.Status != session.StatusReview {
		t.Errorf("s2 status = %s, want review", s2.Status)
	}
}

func TestRecoverPostcondition(t *testing.T) {
	f := newFixture(t)
	seedSession(t, f, "s1", session.StatusInProgress)
	seedRunningOp(t, f, "op1", "s1", session.OpPrompt)
	seedSession(t, f, "s2", session.StatusCreatingPullRequest)
	seedRunningOp(t, f, "op2", "s2", session.OpCreatePR)
	seedSession(t, f, "s3", session.StatusReview)
	if err := f.store.PutOperation(session.Operation{
		ID: "op3", SessionID: "s3", Kind: session.OpTitle, State: session.OpPending,
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.ctl.Recover(); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	unfinished, err := f.store.ListUnfinishedOperations()
	if err != nil {
		t.Fatal(err)
	}
	if len(unfinished) != 0 {
		t.Errorf("unfinished operations remain: %+v", unfinished)
	}

	sessions, _ := f.store.ListAllSessions()
	for _, sess := range sessions {
		if sess.Status.Transient() {
			t.Errorf("session %s left in transient status %s", sess.ID, sess.Status)
		}
	}
}
