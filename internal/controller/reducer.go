package controller

import (
	"github.com/loomdev/loom/internal/bus"
	"github.com/loomdev/loom/internal/logger"
	"github.com/loomdev/loom/internal/session"
	"github.com/loomdev/loom/internal/store"
)

// Reduce applies one event to the session map and persists any durable
// change. It is the only writer to in-memory session state and must be
// called from a single goroutine (the UI event loop).
func (c *Controller) Reduce(ev bus.Event) {
	switch e := ev.(type) {
	case bus.SessionCreated:
		sess, err := c.store.GetSession(e.SessionID)
		if err != nil {
			logger.Error("Reducer: created session %s not in store: %v", e.SessionID, err)
			return
		}
		c.sessions[e.SessionID] = &sess
		c.handleFor(e.SessionID)

	case bus.SessionUpdated:
		sess, ok := c.sessions[e.SessionID]
		if !ok {
			logger.Warn("Reducer: update for unknown session %s", e.SessionID)
			return
		}
		if err := c.store.UpdateSessionFields(e.SessionID, e.Patch); err != nil {
			logger.Error("Reducer: failed to persist patch for %s: %v", e.SessionID, err)
			return
		}
		applyPatch(sess, e.Patch)

	case bus.SessionDeleted:
		delete(c.sessions, e.SessionID)
		delete(c.handles, e.SessionID)

	case bus.StatusChanged:
		sess, ok := c.sessions[e.SessionID]
		if !ok {
			logger.Warn("Reducer: status change for unknown session %s", e.SessionID)
			return
		}
		from := sess.Status
		to := session.Status(e.New)
		if string(from) != e.Old {
			logger.Warn("Reducer: stale status change for %s: have %s, event says %s -> %s",
				e.SessionID, from, e.Old, e.New)
		}
		if !session.CanTransition(from, to) {
			logger.Warn("Reducer: rejecting illegal transition %s -> %s for session %s", from, to, e.SessionID)
			return
		}
		if err := c.store.UpdateSessionFields(e.SessionID, map[string]any{"status": string(to)}); err != nil {
			logger.Error("Reducer: failed to persist status for %s: %v", e.SessionID, err)
			return
		}
		sess.Status = to

	case bus.OutputAppended:
		c.handleFor(e.SessionID).transcript.WriteString(e.Chunk)

	case bus.UsageRecorded:
		if err := c.store.RecordUsage(e.SessionID, e.Model, e.InputTokens, e.OutputTokens); err != nil {
			logger.Error("Reducer: failed to record usage for %s: %v", e.SessionID, err)
			return
		}
		if sess, ok := c.sessions[e.SessionID]; ok {
			sess.InputTokens += e.InputTokens
			sess.OutputTokens += e.OutputTokens
		}

	case bus.OperationStarted:
		logger.Debug("Reducer: op %s (%s) started for session %s", e.OperationID, e.Kind, e.SessionID)

	case bus.OperationFinished:
		if e.Err != "" {
			logger.Info("Reducer: op %s (%s) finished with error for session %s: %s",
				e.OperationID, e.Kind, e.SessionID, e.Err)
		} else {
			logger.Debug("Reducer: op %s (%s) finished for session %s", e.OperationID, e.Kind, e.SessionID)
		}

	case bus.PrStateChanged:
		sess, ok := c.sessions[e.SessionID]
		if !ok {
			return
		}
		if err := c.store.UpdateSessionFields(e.SessionID, map[string]any{"pr_state": e.State}); err != nil {
			logger.Error("Reducer: failed to persist pr_state for %s: %v", e.SessionID, err)
			return
		}
		sess.PRState = e.State

	case bus.RefreshSessions:
		c.reloadProject(e.ProjectID)

	case bus.Tick:
		// Safety refresh; the UI re-reads snapshots after every event.
	}
}

// reloadProject replaces the in-memory sessions of one project with the
// store's view. Transcript buffers of still-present sessions survive.
func (c *Controller) reloadProject(projectID string) {
	sessions, err := c.store.ListSessions(projectID, store.SessionFilter{})
	if err != nil {
		logger.Error("Reducer: failed to reload sessions for project %s: %v", projectID, err)
		return
	}

	for id, sess := range c.sessions {
		if sess.ProjectID == projectID {
			delete(c.sessions, id)
		}
	}
	for i := range sessions {
		sess := sessions[i]
		c.sessions[sess.ID] = &sess
		c.handleFor(sess.ID)
	}
}

// applyPatch maps persisted column patches onto the in-memory struct.
func applyPatch(sess *session.Session, patch map[string]any) {
	for col, val := range patch {
		switch col {
		case "title":
			sess.Title = patchString(val)
		case "status":
			sess.Status = session.Status(patchString(val))
		case "model":
			sess.Model = patchString(val)
		case "permission_mode":
			sess.PermissionMode = session.PermissionMode(patchString(val))
		case "worktree_path":
			sess.WorktreePath = patchString(val)
		case "pr_url":
			sess.PRURL = patchString(val)
		case "pr_state":
			sess.PRState = patchString(val)
		case "input_tokens":
			sess.InputTokens = patchInt(val)
		case "output_tokens":
			sess.OutputTokens = patchInt(val)
		}
	}
}

func patchString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func patchInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
