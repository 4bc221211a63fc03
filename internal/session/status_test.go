package session

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	legal := []struct {
		from, to Status
	}{
		{StatusNew, StatusInProgress},
		{StatusInProgress, StatusReview},
		{StatusReview, StatusInProgress},
		{StatusReview, StatusCreatingPullRequest},
		{StatusReview, StatusDone},
		{StatusCreatingPullRequest, StatusPullRequest},
		{StatusCreatingPullRequest, StatusReview},
		{StatusPullRequest, StatusDone},
		{StatusPullRequest, StatusReview},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	all := []Status{StatusNew, StatusInProgress, StatusReview, StatusCreatingPullRequest, StatusPullRequest, StatusDone}
	legalSet := make(map[[2]Status]bool)
	for _, tc := range legal {
		legalSet[[2]Status{tc.from, tc.to}] = true
	}
	for _, from := range all {
		for _, to := range all {
			if legalSet[[2]Status{from, to}] {
				continue
			}
			if CanTransition(from, to) {
				t.Errorf("expected %s -> %s to be illegal", from, to)
			}
		}
	}
}

func TestNewOnlyTransitionsToInProgress(t *testing.T) {
	for _, to := range []Status{StatusNew, StatusReview, StatusCreatingPullRequest, StatusPullRequest, StatusDone} {
		if CanTransition(StatusNew, to) {
			t.Errorf("New -> %s should be forbidden", to)
		}
	}
	if !CanTransition(StatusNew, StatusInProgress) {
		t.Error("New -> InProgress should be legal")
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusInProgress.Transient() || !StatusCreatingPullRequest.Transient() {
		t.Error("expected InProgress and CreatingPullRequest to be transient")
	}
	for _, s := range []Status{StatusNew, StatusReview, StatusPullRequest, StatusDone} {
		if s.Transient() {
			t.Errorf("expected %s to be stable", s)
		}
	}
	if !StatusDone.Terminal() {
		t.Error("expected Done to be terminal")
	}
	if Status("bogus").Valid() {
		t.Error("expected bogus status to be invalid")
	}
}

func TestBuildSnapshot(t *testing.T) {
	now := time.Now()
	sess := Session{
		ID:           "s1",
		Status:       StatusInProgress,
		InputTokens:  1200,
		OutputTokens: 345,
		CreatedAt:    now.Add(-time.Hour).Unix(),
	}

	snap := BuildSnapshot(sess, "hello", []OperationKind{OpTitle}, OpPrompt, now)

	if !snap.Busy {
		t.Error("expected busy with a running op")
	}
	if snap.RunningOp != OpPrompt {
		t.Errorf("running op = %q, want %q", snap.RunningOp, OpPrompt)
	}
	if snap.Transcript != "hello" {
		t.Errorf("transcript = %q", snap.Transcript)
	}
	if len(snap.PendingOps) != 1 || snap.PendingOps[0] != OpTitle {
		t.Errorf("pending ops = %v", snap.PendingOps)
	}
	if snap.TokensDisplay == "" || snap.AgeDisplay == "" {
		t.Error("expected display fields to be populated")
	}

	idle := BuildSnapshot(sess, "", nil, "", now)
	if idle.Busy {
		t.Error("expected idle snapshot to not be busy")
	}
}

func TestSnapshotIsolatedFromCallerSlices(t *testing.T) {
	pending := []OperationKind{OpReply}
	snap := BuildSnapshot(Session{}, "", pending, "", time.Now())
	pending[0] = OpCreatePR
	if snap.PendingOps[0] != OpReply {
		t.Error("snapshot shares pending slice with caller")
	}
}
