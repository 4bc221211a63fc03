package store

import (
	"path/filepath"
	"testing"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestProject(t *testing.T, s *Store, id, path string) session.Project {
	t.Helper()
	p, err := s.UpsertProject(session.Project{ID: id, Path: path, DisplayName: filepath.Base(path)})
	if err != nil {
		t.Fatalf("failed to upsert project: %v", err)
	}
	return p
}

func insertTestSession(t *testing.T, s *Store, id, projectID string) session.Session {
	t.Helper()
	sess := session.Session{
		ID:             id,
		ProjectID:      projectID,
		Status:         session.StatusNew,
		AgentKind:      session.AgentClaude,
		Model:          "sonnet",
		PermissionMode: session.PermissionSuggest,
		BranchName:     "loom/" + id,
		WorktreePath:   "/tmp/worktrees/" + id,
		BaseCommit:     "abc123",
	}
	if err := s.InsertSession(sess); err != nil {
		t.Fatalf("failed to insert session: %v", err)
	}
	return sess
}

func TestOpenCreatesDirectoryAndMigrates(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "nested", "db.sqlite"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	// Re-open is idempotent: migrations are recorded and skipped.
	s2, err := Open(filepath.Join(dir, "nested", "db.sqlite"))
	if err != nil {
		t.Fatalf("re-open failed: %v", err)
	}
	s2.Close()
}

func TestProjectRoundTrip(t *testing.T) {
	s := openTestStore(t)

	p := insertTestProject(t, s, "p1", "/tmp/repo")
	if p.CreatedAt == 0 || p.UpdatedAt == 0 {
		t.Error("expected timestamps to be auto-stamped")
	}

	// Upsert with the same path keeps the original id.
	again, err := s.UpsertProject(session.Project{ID: "p2", Path: "/tmp/repo", DisplayName: "renamed"})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if again.ID != "p1" {
		t.Errorf("upsert changed project id: %s", again.ID)
	}
	if again.DisplayName != "renamed" {
		t.Errorf("display name not refreshed: %s", again.DisplayName)
	}

	if err := s.TouchProjectOpened("p1"); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	got, err := s.GetProject("p1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastOpenedAt == 0 {
		t.Error("expected last_opened_at to be set")
	}

	projects, err := s.ListProjects()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("got %d projects, want 1", len(projects))
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	insertTestProject(t, s, "p1", "/tmp/repo")
	insertTestSession(t, s, "s1", "p1")

	got, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != session.StatusNew || got.AgentKind != session.AgentClaude {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.CreatedAt == 0 {
		t.Error("expected created_at to be auto-stamped")
	}

	if err := s.UpdateSessionFields("s1", map[string]any{
		"status": string(session.StatusInProgress),
		"title":  "add README",
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ = s.GetSession("s1")
	if got.Status != session.StatusInProgress || got.Title != "add README" {
		t.Errorf("patch not applied: %+v", got)
	}

	if err := s.UpdateSessionFields("s1", map[string]any{"branch_name": "x"}); err == nil {
		t.Error("expected non-patchable column to be rejected")
	}
	if err := s.UpdateSessionFields("missing", map[string]any{"title": "x"}); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestBranchUniquePerProject(t *testing.T) {
	s := openTestStore(t)
	insertTestProject(t, s, "p1", "/tmp/repo")
	insertTestSession(t, s, "s1", "p1")

	dup := session.Session{
		ID: "s2", ProjectID: "p1", Status: session.StatusNew,
		AgentKind: session.AgentClaude, Model: "sonnet",
		PermissionMode: session.PermissionSuggest,
		BranchName:     "loom/s1", BaseCommit: "abc",
	}
	if err := s.InsertSession(dup); err == nil {
		t.Error("expected duplicate branch in project to be rejected")
	}
}

func TestListSessionsFilter(t *testing.T) {
	s := openTestStore(t)
	insertTestProject(t, s, "p1", "/tmp/repo")
	insertTestSession(t, s, "s1", "p1")
	insertTestSession(t, s, "s2", "p1")
	if err := s.UpdateSessionFields("s2", map[string]any{"status": string(session.StatusDone)}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListSessions("p1", SessionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d sessions, want 2", len(all))
	}

	live, err := s.ListSessions("p1", SessionFilter{ExcludeDone: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].ID != "s1" {
		t.Errorf("unexpected live sessions: %+v", live)
	}

	done, err := s.ListSessions("p1", SessionFilter{Statuses: []session.Status{session.StatusDone}})
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || done[0].ID != "s2" {
		t.Errorf("unexpected done sessions: %+v", done)
	}
}

func TestRecordUsageAccumulates(t *testing.T) {
	s := openTestStore(t)
	insertTestProject(t, s, "p1", "/tmp/repo")
	insertTestSession(t, s, "s1", "p1")

	if err := s.RecordUsage("s1", "sonnet", 100, 50); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordUsage("s1", "sonnet", 30, 20); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordUsage("s1", "haiku", 5, 1); err != nil {
		t.Fatal(err)
	}

	usage, err := s.ListUsage("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(usage) != 2 {
		t.Fatalf("got %d usage rows, want 2", len(usage))
	}
	for _, u := range usage {
		switch u.Model {
		case "sonnet":
			if u.InputTokens != 130 || u.OutputTokens != 70 || u.InvocationCount != 2 {
				t.Errorf("sonnet usage not accumulated: %+v", u)
			}
		case "haiku":
			if u.InvocationCount != 1 {
				t.Errorf("haiku usage wrong: %+v", u)
			}
		}
	}

	sess, _ := s.GetSession("s1")
	if sess.InputTokens != 135 || sess.OutputTokens != 71 {
		t.Errorf("session totals = %d/%d, want 135/71", sess.InputTokens, sess.OutputTokens)
	}

	if err := s.RecordUsage("s1", "sonnet", -1, 0); err == nil {
		t.Error("expected negative usage to be rejected")
	}
}

func TestUsageSurvivesSessionDeletion(t *testing.T) {
	s := openTestStore(t)
	insertTestProject(t, s, "p1", "/tmp/repo")
	insertTestSession(t, s, "s1", "p1")
	if err := s.RecordUsage("s1", "sonnet", 10, 5); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSession("s1"); err != nil {
		t.Fatal(err)
	}

	var count int
	var sid any
	row := s.reader.QueryRow(`SELECT COUNT(*), MAX(session_id) FROM session_usage`)
	if err := row.Scan(&count, &sid); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("usage rows = %d, want 1", count)
	}
	if sid != nil {
		t.Errorf("expected session_id to be NULL after deletion, got %v", sid)
	}
}

func TestOperationLifecycle(t *testing.T) {
	s := openTestStore(t)
	insertTestProject(t, s, "p1", "/tmp/repo")
	insertTestSession(t, s, "s1", "p1")

	op := session.Operation{ID: "op1", SessionID: "s1", Kind: session.OpPrompt, Payload: "add README", State: session.OpPending}
	if err := s.PutOperation(op); err != nil {
		t.Fatal(err)
	}

	unfinished, err := s.ListUnfinishedOperations()
	if err != nil {
		t.Fatal(err)
	}
	if len(unfinished) != 1 || unfinished[0].ID != "op1" {
		t.Fatalf("unexpected unfinished ops: %+v", unfinished)
	}

	if err := s.UpdateOperationState("op1", session.OpRunning, ""); err != nil {
		t.Fatal(err)
	}
	ops, _ := s.ListOperations("s1")
	if ops[0].State != session.OpRunning || ops[0].StartedAt == 0 {
		t.Errorf("running op not stamped: %+v", ops[0])
	}

	if err := s.UpdateOperationState("op1", session.OpCompleted, ""); err != nil {
		t.Fatal(err)
	}
	ops, _ = s.ListOperations("s1")
	if ops[0].State != session.OpCompleted || ops[0].FinishedAt == 0 {
		t.Errorf("completed op not stamped: %+v", ops[0])
	}

	unfinished, _ = s.ListUnfinishedOperations()
	if len(unfinished) != 0 {
		t.Errorf("expected no unfinished ops, got %+v", unfinished)
	}

	has, err := s.HasCompletedOperation("s1", session.OpPrompt, session.OpReply)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("expected completed prompt to be found")
	}
}

func TestFailOperationAndSetStatus(t *testing.T) {
	s := openTestStore(t)
	insertTestProject(t, s, "p1", "/tmp/repo")
	insertTestSession(t, s, "s1", "p1")
	if err := s.UpdateSessionFields("s1", map[string]any{"status": string(session.StatusInProgress)}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutOperation(session.Operation{ID: "op1", SessionID: "s1", Kind: session.OpPrompt, State: session.OpRunning}); err != nil {
		t.Fatal(err)
	}

	if err := s.FailOperationAndSetStatus("op1", session.FailureInterrupted, "s1", session.StatusNew); err != nil {
		t.Fatal(err)
	}

	sess, _ := s.GetSession("s1")
	if sess.Status != session.StatusNew {
		t.Errorf("status = %s, want new", sess.Status)
	}
	ops, _ := s.ListOperations("s1")
	if ops[0].State != session.OpFailed || ops[0].Error != session.FailureInterrupted {
		t.Errorf("op not failed interrupted: %+v", ops[0])
	}
}
