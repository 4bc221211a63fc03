package store

import (
	"database/sql"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/session"
)

// PutOperation inserts or replaces an operation row.
func (s *Store) PutOperation(o session.Operation) error {
	const op = apperrors.Op("store.PutOperation")

	_, err := s.writer.Exec(`
		INSERT INTO operation (id, session_id, kind, payload, state, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			error = excluded.error`,
		o.ID, o.SessionID, string(o.Kind), o.Payload, string(o.State),
		nullableInt(o.StartedAt), nullableInt(o.FinishedAt), nullable(o.Error))
	if err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	return nil
}

// UpdateOperationState moves an operation through its lifecycle, stamping
// started_at and finished_at as appropriate.
func (s *Store) UpdateOperationState(opID string, state session.OperationState, opErr string) error {
	const op = apperrors.Op("store.UpdateOperationState")

	var err error
	switch state {
	case session.OpRunning:
		_, err = s.writer.Exec(`
			UPDATE operation SET state = ?, started_at = strftime('%s','now') WHERE id = ?`,
			string(state), opID)
	case session.OpCompleted, session.OpFailed:
		_, err = s.writer.Exec(`
			UPDATE operation SET state = ?, finished_at = strftime('%s','now'), error = ? WHERE id = ?`,
			string(state), nullable(opErr), opID)
	default:
		_, err = s.writer.Exec(`UPDATE operation SET state = ? WHERE id = ?`, string(state), opID)
	}
	if err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	return nil
}

// FailOperationAndSetStatus marks an operation failed and moves its session
// to a new status in a single transaction. Used by the recovery reconciler.
func (s *Store) FailOperationAndSetStatus(opID, failure, sessionID string, status session.Status) error {
	const op = apperrors.Op("store.FailOperationAndSetStatus")

	tx, err := s.writer.Begin()
	if err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE operation SET state = ?, finished_at = strftime('%s','now'), error = ?
		WHERE id = ?`, string(session.OpFailed), failure, opID); err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	if _, err := tx.Exec(`UPDATE session SET status = ? WHERE id = ?`,
		string(status), sessionID); err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	return nil
}

// ListUnfinishedOperations returns operations still pending or running,
// oldest first. Consulted by recovery on startup.
func (s *Store) ListUnfinishedOperations() ([]session.Operation, error) {
	const op = apperrors.Op("store.ListUnfinishedOperations")

	rows, err := s.reader.Query(`
		SELECT id, session_id, kind, payload, state, started_at, finished_at, error
		FROM operation
		WHERE state IN (?, ?)
		ORDER BY COALESCE(started_at, 0), id`,
		string(session.OpPending), string(session.OpRunning))
	if err != nil {
		return nil, apperrors.E(op, apperrors.KindData, err)
	}
	defer rows.Close()

	var ops []session.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, apperrors.E(op, apperrors.KindData, err)
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

// ListOperations returns all operations for a session, oldest first.
func (s *Store) ListOperations(sessionID string) ([]session.Operation, error) {
	const op = apperrors.Op("store.ListOperations")

	rows, err := s.reader.Query(`
		SELECT id, session_id, kind, payload, state, started_at, finished_at, error
		FROM operation WHERE session_id = ?
		ORDER BY COALESCE(started_at, 0), id`, sessionID)
	if err != nil {
		return nil, apperrors.E(op, apperrors.KindData, err)
	}
	defer rows.Close()

	var ops []session.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, apperrors.E(op, apperrors.KindData, err)
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

// HasCompletedOperation reports whether the session ever completed an
// operation of one of the given kinds. Recovery uses this to decide whether
// an interrupted session had prior Review history.
func (s *Store) HasCompletedOperation(sessionID string, kinds ...session.OperationKind) (bool, error) {
	const op = apperrors.Op("store.HasCompletedOperation")

	for _, kind := range kinds {
		var n int
		err := s.reader.QueryRow(`
			SELECT COUNT(*) FROM operation
			WHERE session_id = ? AND kind = ? AND state = ?`,
			sessionID, string(kind), string(session.OpCompleted)).Scan(&n)
		if err != nil {
			return false, apperrors.E(op, apperrors.KindData, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func scanOperation(r rowScanner) (session.Operation, error) {
	var o session.Operation
	var kind, state string
	var started, finished sql.NullInt64
	var opErr sql.NullString
	err := r.Scan(&o.ID, &o.SessionID, &kind, &o.Payload, &state, &started, &finished, &opErr)
	if err != nil {
		return o, err
	}
	o.Kind = session.OperationKind(kind)
	o.State = session.OperationState(state)
	o.StartedAt = started.Int64
	o.FinishedAt = finished.Int64
	o.Error = opErr.String
	return o, nil
}
