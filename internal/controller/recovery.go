package controller

import (
	"os"

	"github.com/loomdev/loom/internal/logger"
	"github.com/loomdev/loom/internal/paths"
	"github.com/loomdev/loom/internal/session"
)

// Recover reconciles persisted in-flight operations after a restart. It
// runs after migrations and before the UI serves input, writing the store
// directly: the reducer loop is not running yet.
//
// Postconditions: no operation is pending or running, and no session is
// left in a transient status.
func (c *Controller) Recover() error {
	log := logger.WithComponent("recovery")

	ops, err := c.store.ListUnfinishedOperations()
	if err != nil {
		return err
	}
	log.Info("reconciling interrupted operations", "count", len(ops))

	var resumePolls []string
	for _, op := range ops {
		sess, err := c.store.GetSession(op.SessionID)
		if err != nil {
			// Session row is gone; the operation is dangling.
			log.Warn("operation without session", "opID", op.ID, "sessionID", op.SessionID)
			if err := c.store.UpdateOperationState(op.ID, session.OpFailed, session.FailureAbandoned); err != nil {
				return err
			}
			continue
		}

		if op.State == session.OpPending {
			// Never started; nothing to reconcile beyond marking it.
			if err := c.store.UpdateOperationState(op.ID, session.OpFailed, session.FailureAbandoned); err != nil {
				return err
			}
			continue
		}

		switch sess.Status {
		case session.StatusInProgress:
			prior, err := c.priorStableStatus(sess.ID)
			if err != nil {
				return err
			}
			log.Info("interrupted agent operation", "opID", op.ID, "sessionID", sess.ID, "restoredStatus", prior)
			if err := c.store.FailOperationAndSetStatus(op.ID, session.FailureInterrupted, sess.ID, prior); err != nil {
				return err
			}

		case session.StatusCreatingPullRequest:
			log.Info("interrupted PR creation", "opID", op.ID, "sessionID", sess.ID)
			if err := c.store.FailOperationAndSetStatus(op.ID, session.FailureInterrupted, sess.ID, session.StatusReview); err != nil {
				return err
			}

		case session.StatusPullRequest:
			if err := c.store.UpdateOperationState(op.ID, session.OpFailed, session.FailureInterrupted); err != nil {
				return err
			}
			if op.Kind == session.OpPollMerge {
				resumePolls = append(resumePolls, sess.ID)
			}

		default:
			if err := c.store.UpdateOperationState(op.ID, session.OpFailed, session.FailureInterrupted); err != nil {
				return err
			}
		}
	}

	// Sessions can be stranded in a transient status with no unfinished
	// operation when the crash landed between the operation's terminal
	// write and the status write.
	sessions, err := c.store.ListAllSessions()
	if err != nil {
		return err
	}
	polling := make(map[string]bool, len(resumePolls))
	for _, id := range resumePolls {
		polling[id] = true
	}
	for _, sess := range sessions {
		switch sess.Status {
		case session.StatusInProgress:
			prior, err := c.priorStableStatus(sess.ID)
			if err != nil {
				return err
			}
			log.Info("stranded transient session", "sessionID", sess.ID, "restoredStatus", prior)
			if err := c.store.UpdateSessionFields(sess.ID, map[string]any{"status": string(prior)}); err != nil {
				return err
			}
		case session.StatusCreatingPullRequest:
			log.Info("stranded transient session", "sessionID", sess.ID, "restoredStatus", session.StatusReview)
			if err := c.store.UpdateSessionFields(sess.ID, map[string]any{"status": string(session.StatusReview)}); err != nil {
				return err
			}
		case session.StatusPullRequest:
			if !polling[sess.ID] && sess.PRURL != "" {
				resumePolls = append(resumePolls, sess.ID)
			}
		}
	}

	c.logOrphanedWorktrees(sessions)

	for _, id := range resumePolls {
		log.Info("resuming merge polling", "sessionID", id)
		c.SchedulePollMerge(id, 0)
	}
	return nil
}

// priorStableStatus decides where an interrupted in-progress session
// returns to: Review when it has a completed exchange, otherwise New.
func (c *Controller) priorStableStatus(sessionID string) (session.Status, error) {
	hasHistory, err := c.store.HasCompletedOperation(sessionID, session.OpPrompt, session.OpReply)
	if err != nil {
		return session.StatusReview, err
	}
	if hasHistory {
		return session.StatusReview, nil
	}
	return session.StatusNew, nil
}

// logOrphanedWorktrees reports worktree directories with no session row.
// Recovery never deletes filesystem data it did not create in this run.
func (c *Controller) logOrphanedWorktrees(sessions []session.Session) {
	entries, err := os.ReadDir(paths.WorktreesDir(c.dataDir))
	if err != nil {
		return
	}

	known := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		known[sess.ID] = true
	}

	for _, entry := range entries {
		if entry.IsDir() && !known[entry.Name()] {
			logger.Warn("Recovery: orphaned worktree %s (no matching session); leaving in place",
				paths.WorktreePath(c.dataDir, entry.Name()))
		}
	}
}

// LoadInitial populates the in-memory session map for the active project
// after recovery, before the first render.
func (c *Controller) LoadInitial(projectID string) {
	c.activeProject = projectID
	c.reloadProject(projectID)
}
