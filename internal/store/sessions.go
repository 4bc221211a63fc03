package store

import (
	"database/sql"
	"fmt"
	"strings"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/session"
)

// sessionColumns is the canonical column list shared by all session queries.
const sessionColumns = `id, project_id, title, status, agent_kind, model, permission_mode,
	branch_name, worktree_path, base_commit, pr_url, pr_state,
	input_tokens, output_tokens, created_at, updated_at`

// patchableColumns whitelists the columns UpdateSessionFields may touch.
var patchableColumns = map[string]bool{
	"title":           true,
	"status":          true,
	"model":           true,
	"permission_mode": true,
	"worktree_path":   true,
	"pr_url":          true,
	"pr_state":        true,
	"input_tokens":    true,
	"output_tokens":   true,
}

// InsertSession stores a new session row.
func (s *Store) InsertSession(sess session.Session) error {
	const op = apperrors.Op("store.InsertSession")

	_, err := s.writer.Exec(`
		INSERT INTO session (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, nullable(sess.Title), string(sess.Status),
		string(sess.AgentKind), sess.Model, string(sess.PermissionMode),
		sess.BranchName, nullable(sess.WorktreePath), sess.BaseCommit,
		nullable(sess.PRURL), nullable(sess.PRState),
		sess.InputTokens, sess.OutputTokens, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	return nil
}

// UpdateSessionFields applies a column patch to one session. Unknown
// columns are rejected rather than silently dropped.
func (s *Store) UpdateSessionFields(sessionID string, patch map[string]any) error {
	const op = apperrors.Op("store.UpdateSessionFields")

	if len(patch) == 0 {
		return nil
	}

	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+1)
	for col, val := range patch {
		if !patchableColumns[col] {
			return apperrors.E(op, apperrors.KindInvalid, fmt.Sprintf("column %q is not patchable", col))
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	args = append(args, sessionID)

	res, err := s.writer.Exec(`UPDATE session SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.E(op, apperrors.KindNotFound, sessionID)
	}
	return nil
}

// DeleteSession removes a session row. Operations cascade; usage rows keep
// their history with session_id set to NULL.
func (s *Store) DeleteSession(sessionID string) error {
	const op = apperrors.Op("store.DeleteSession")

	if _, err := s.writer.Exec(`DELETE FROM session WHERE id = ?`, sessionID); err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(sessionID string) (session.Session, error) {
	const op = apperrors.Op("store.GetSession")

	row := s.reader.QueryRow(`SELECT `+sessionColumns+` FROM session WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return session.Session{}, apperrors.E(op, apperrors.KindNotFound, sessionID, err)
	}
	if err != nil {
		return session.Session{}, apperrors.E(op, apperrors.KindData, err)
	}
	return sess, nil
}

// SessionFilter narrows ListSessions. The zero value lists everything.
type SessionFilter struct {
	Statuses    []session.Status
	ExcludeDone bool
}

// ListSessions returns a project's sessions, newest first.
func (s *Store) ListSessions(projectID string, filter SessionFilter) ([]session.Session, error) {
	const op = apperrors.Op("store.ListSessions")

	query := `SELECT ` + sessionColumns + ` FROM session WHERE project_id = ?`
	args := []any{projectID}

	if len(filter.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Statuses))
		query += ` AND status IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.ExcludeDone {
		query += ` AND status != ?`
		args = append(args, string(session.StatusDone))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.reader.Query(query, args...)
	if err != nil {
		return nil, apperrors.E(op, apperrors.KindData, err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, apperrors.E(op, apperrors.KindData, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListAllSessions returns every session across projects. Used by recovery
// and by the prune command.
func (s *Store) ListAllSessions() ([]session.Session, error) {
	const op = apperrors.Op("store.ListAllSessions")

	rows, err := s.reader.Query(`SELECT ` + sessionColumns + ` FROM session ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, apperrors.E(op, apperrors.KindData, err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, apperrors.E(op, apperrors.KindData, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RecordUsage accumulates token usage for a (session, model) pair and bumps
// the invocation count. Counts only ever grow.
func (s *Store) RecordUsage(sessionID, model string, in, out int64) error {
	const op = apperrors.Op("store.RecordUsage")

	if in < 0 || out < 0 {
		return apperrors.E(op, apperrors.KindInvalid, "negative token counts")
	}

	tx, err := s.writer.Begin()
	if err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO session_usage (session_id, model, input_tokens, output_tokens, invocation_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(session_id, model) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			invocation_count = invocation_count + 1`,
		sessionID, model, in, out); err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}

	if _, err := tx.Exec(`
		UPDATE session SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ?
		WHERE id = ?`, in, out, sessionID); err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	return nil
}

// ListUsage returns the accumulated usage rows for a session.
func (s *Store) ListUsage(sessionID string) ([]session.Usage, error) {
	const op = apperrors.Op("store.ListUsage")

	rows, err := s.reader.Query(`
		SELECT session_id, model, input_tokens, output_tokens, invocation_count, created_at
		FROM session_usage WHERE session_id = ? ORDER BY model`, sessionID)
	if err != nil {
		return nil, apperrors.E(op, apperrors.KindData, err)
	}
	defer rows.Close()

	var usage []session.Usage
	for rows.Next() {
		var u session.Usage
		var sid sql.NullString
		if err := rows.Scan(&sid, &u.Model, &u.InputTokens, &u.OutputTokens, &u.InvocationCount, &u.CreatedAt); err != nil {
			return nil, apperrors.E(op, apperrors.KindData, err)
		}
		u.SessionID = sid.String
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

func scanSession(r rowScanner) (session.Session, error) {
	var sess session.Session
	var title, worktree, prURL, prState sql.NullString
	var status, agentKind, permMode string
	err := r.Scan(&sess.ID, &sess.ProjectID, &title, &status, &agentKind, &sess.Model, &permMode,
		&sess.BranchName, &worktree, &sess.BaseCommit, &prURL, &prState,
		&sess.InputTokens, &sess.OutputTokens, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return sess, err
	}
	sess.Title = title.String
	sess.Status = session.Status(status)
	sess.AgentKind = session.AgentKind(agentKind)
	sess.PermissionMode = session.PermissionMode(permMode)
	sess.WorktreePath = worktree.String
	sess.PRURL = prURL.String
	sess.PRState = prState.String
	return sess, nil
}
