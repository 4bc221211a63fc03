package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomdev/loom/internal/agent"
	"github.com/loomdev/loom/internal/bus"
	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/git"
	"github.com/loomdev/loom/internal/logger"
	"github.com/loomdev/loom/internal/paths"
	"github.com/loomdev/loom/internal/pr"
	"github.com/loomdev/loom/internal/queue"
	"github.com/loomdev/loom/internal/session"
	"github.com/loomdev/loom/internal/templates"
)

// titleMaxLength caps generated session titles, commit-subject style.
const titleMaxLength = 72

// OpenProject upserts the project for a repository path, makes it the
// active project, and loads its sessions.
func (c *Controller) OpenProject(repoPath string) (session.Project, error) {
	const op = apperrors.Op("controller.OpenProject")

	ctx := context.Background()
	if err := c.git.ValidateRepo(ctx, repoPath); err != nil {
		return session.Project{}, err
	}

	project, err := c.store.UpsertProject(session.Project{
		ID:          uuid.New().String(),
		Path:        repoPath,
		DisplayName: filepath.Base(repoPath),
	})
	if err != nil {
		return session.Project{}, apperrors.E(op, err)
	}
	if err := c.store.TouchProjectOpened(project.ID); err != nil {
		logger.Warn("Controller: failed to touch project %s: %v", project.ID, err)
	}

	c.activeProject = project.ID
	c.bus.Publish(bus.RefreshSessions{ProjectID: project.ID})
	return project, nil
}

// SwitchProject changes the active project. Merge polling for sessions of
// other projects keeps running; only the snapshot list is reloaded.
func (c *Controller) SwitchProject(projectID string) {
	c.activeProject = projectID
	if err := c.store.TouchProjectOpened(projectID); err != nil {
		logger.Warn("Controller: failed to touch project %s: %v", projectID, err)
	}
	c.bus.Publish(bus.RefreshSessions{ProjectID: projectID})
}

// CreateSession inserts a new session in the active project and allocates
// its worktree. No agent is invoked; the session waits for its first
// prompt.
func (c *Controller) CreateSession(projectID string) (session.Session, error) {
	const op = apperrors.Op("controller.CreateSession")

	project, err := c.store.GetProject(projectID)
	if err != nil {
		return session.Session{}, err
	}

	id := uuid.New().String()
	ctx := context.Background()

	wt, err := c.git.CreateWorktree(ctx, project.Path, paths.WorktreePath(c.dataDir, id),
		c.cfg.BranchPrefix, id, "")
	if err != nil {
		return session.Session{}, err
	}

	sess := session.Session{
		ID:             id,
		ProjectID:      projectID,
		Status:         session.StatusNew,
		AgentKind:      session.AgentKind(c.cfg.DefaultAgent),
		Model:          c.cfg.DefaultModel,
		PermissionMode: session.PermissionMode(c.cfg.DefaultPermissionMode),
		BranchName:     wt.BranchName,
		WorktreePath:   wt.Path,
		BaseCommit:     wt.BaseCommit,
	}
	if err := c.store.InsertSession(sess); err != nil {
		// Roll the worktree back so disk state matches the store.
		if rmErr := c.git.RemoveWorktree(ctx, project.Path, wt.Path, wt.BranchName); rmErr != nil {
			logger.Error("Controller: failed to roll back worktree %s: %v", wt.Path, rmErr)
		}
		return session.Session{}, apperrors.E(op, err)
	}

	c.bus.Publish(bus.SessionCreated{SessionID: id})
	logger.Info("Controller: created session %s branch=%s", id, wt.BranchName)
	return sess, nil
}

// SubmitPrompt sends the user's prompt to the session's agent. The first
// prompt moves New -> InProgress; later prompts are replies moving
// Review -> InProgress.
func (c *Controller) SubmitPrompt(sessionID, text string) error {
	const op = apperrors.Op("controller.SubmitPrompt")

	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	var kind session.OperationKind
	switch sess.Status {
	case session.StatusNew:
		kind = session.OpPrompt
	case session.StatusReview:
		kind = session.OpReply
	default:
		return apperrors.E(op, apperrors.KindInvalid,
			fmt.Sprintf("cannot prompt a session in %s", sess.Status))
	}

	c.bus.Publish(bus.StatusChanged{
		SessionID: sessionID,
		Old:       string(sess.Status),
		New:       string(session.StatusInProgress),
	})
	c.bus.Publish(bus.OutputAppended{SessionID: sessionID, Chunk: promptMarker(text)})

	opID := uuid.New().String()
	return c.queue.Enqueue(queue.Op{
		ID:        opID,
		SessionID: sessionID,
		Kind:      kind,
		Payload:   text,
		Run: func(ctx context.Context) error {
			return c.runAgentOp(ctx, sessionID, kind, text)
		},
	})
}

// promptMarker renders the user's prompt into the transcript.
func promptMarker(text string) string {
	return "\n> " + strings.TrimSpace(text) + "\n\n"
}

// runAgentOp executes one prompt/reply/focused-review invocation on the
// worker goroutine. All state changes flow through the bus.
func (c *Controller) runAgentOp(ctx context.Context, sessionID string, kind session.OperationKind, prompt string) error {
	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}

	backend, err := c.backendFor(sess.AgentKind)
	if err != nil {
		c.surfaceOpError(sessionID, session.StatusInProgress, err)
		return err
	}

	inv, err := backend.Start(ctx, agent.StartParams{
		SessionID:      sessionID,
		WorktreePath:   sess.WorktreePath,
		Model:          sess.Model,
		PermissionMode: sess.PermissionMode,
		Prompt:         prompt,
	})
	if err != nil {
		c.surfaceOpError(sessionID, session.StatusInProgress, err)
		return err
	}

	var streamErr string
	cancelled := false
	for chunk := range inv.Chunks() {
		switch chunk.Kind {
		case agent.ChunkOutput:
			c.bus.Publish(bus.OutputAppended{SessionID: sessionID, Chunk: chunk.Text})
		case agent.ChunkToolUse:
			c.bus.Publish(bus.OutputAppended{SessionID: sessionID, Chunk: "[tool] " + chunk.Text + "\n"})
		case agent.ChunkError:
			streamErr = chunk.Text
		case agent.ChunkCancelled:
			cancelled = true
		case agent.ChunkCompleted:
		}
	}

	usage := inv.Usage()
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		c.bus.Publish(bus.UsageRecorded{
			SessionID:    sessionID,
			Model:        sess.Model,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		})
	}

	if cancelled {
		c.revertAfterCancel(sessionID)
		return ctx.Err()
	}

	if streamErr != "" {
		// The session is not failed; the user may retry with a reply.
		c.bus.Publish(bus.OutputAppended{
			SessionID: sessionID,
			Chunk:     "\n[agent error] " + streamErr + "\n",
		})
		c.bus.Publish(bus.StatusChanged{
			SessionID: sessionID,
			Old:       string(session.StatusInProgress),
			New:       string(session.StatusReview),
		})
		return apperrors.E(apperrors.Op("controller.runAgentOp"), apperrors.KindAgent, streamErr)
	}

	// Commit whatever the agent left in the worktree.
	message := sess.Title
	if message == "" {
		message = "wip"
	}
	commitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, committed, err := c.git.CommitAll(commitCtx, sess.WorktreePath, message); err != nil {
		logger.Warn("Controller: commit after agent run failed for %s: %v", sessionID, err)
	} else if committed {
		logger.Debug("Controller: committed agent work for %s", sessionID)
	}

	c.bus.Publish(bus.StatusChanged{
		SessionID: sessionID,
		Old:       string(session.StatusInProgress),
		New:       string(session.StatusReview),
	})

	if c.notifier != nil && c.cfg.Notifications {
		c.notifier.SessionReady(sess.Title)
	}

	if kind == session.OpPrompt && sess.Title == "" {
		c.enqueueTitle(sessionID, prompt)
	}
	return nil
}

// revertAfterCancel returns a cancelled session to its prior stable
// state: Review if it has history, New for an interrupted first prompt.
// This revert is a lifecycle operation outside the status machine, so it
// travels as a patch rather than a StatusChanged event.
func (c *Controller) revertAfterCancel(sessionID string) {
	prior := session.StatusReview
	hasHistory, err := c.store.HasCompletedOperation(sessionID, session.OpPrompt, session.OpReply)
	if err != nil {
		logger.Error("Controller: cannot determine prior state for %s: %v", sessionID, err)
	} else if !hasHistory {
		prior = session.StatusNew
	}

	c.bus.Publish(bus.OutputAppended{SessionID: sessionID, Chunk: "\n[cancelled]\n"})
	c.bus.Publish(bus.SessionUpdated{
		SessionID: sessionID,
		Patch:     map[string]any{"status": string(prior)},
	})
}

// surfaceOpError reports an operation failure on the session's output
// buffer and reverts to the prior stable state.
func (c *Controller) surfaceOpError(sessionID string, from session.Status, err error) {
	c.bus.Publish(bus.OutputAppended{
		SessionID: sessionID,
		Chunk:     "\n[error] " + err.Error() + "\n",
	})
	to := session.StatusReview
	if !session.CanTransition(from, to) {
		return
	}
	c.bus.Publish(bus.StatusChanged{
		SessionID: sessionID,
		Old:       string(from),
		New:       string(to),
	})
}

// enqueueTitle schedules title summarization after the first completed
// response.
func (c *Controller) enqueueTitle(sessionID, prompt string) {
	opID := uuid.New().String()
	err := c.queue.Enqueue(queue.Op{
		ID:        opID,
		SessionID: sessionID,
		Kind:      session.OpTitle,
		Run: func(ctx context.Context) error {
			return c.runTitleOp(ctx, sessionID, prompt)
		},
	})
	if err != nil {
		logger.Warn("Controller: failed to enqueue title op for %s: %v", sessionID, err)
	}
}

// runTitleOp asks the agent for a one-line commit-style title.
func (c *Controller) runTitleOp(ctx context.Context, sessionID, prompt string) error {
	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Title != "" {
		return nil
	}

	rendered, err := templates.Title(templates.Data{SessionSummary: prompt})
	if err != nil {
		return err
	}

	backend, err := c.backendFor(sess.AgentKind)
	if err != nil {
		return err
	}
	inv, err := backend.Start(ctx, agent.StartParams{
		SessionID:      sessionID,
		WorktreePath:   sess.WorktreePath,
		Model:          sess.Model,
		PermissionMode: session.PermissionReadOnly,
		Prompt:         rendered,
	})
	if err != nil {
		return err
	}

	var out strings.Builder
	for chunk := range inv.Chunks() {
		if chunk.Kind == agent.ChunkOutput {
			out.WriteString(chunk.Text)
		}
	}

	usage := inv.Usage()
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		c.bus.Publish(bus.UsageRecorded{
			SessionID:    sessionID,
			Model:        sess.Model,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		})
	}

	title := firstLine(out.String())
	if title == "" {
		return nil
	}
	if len(title) > titleMaxLength {
		title = title[:titleMaxLength]
	}
	c.bus.Publish(bus.SessionUpdated{
		SessionID: sessionID,
		Patch:     map[string]any{"title": title},
	})
	return nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// FocusedReview runs the focused-review prompt over the session's current
// diff. Available from Review, using the same pipeline as a reply.
func (c *Controller) FocusedReview(sessionID string) error {
	const op = apperrors.Op("controller.FocusedReview")

	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusReview {
		return apperrors.E(op, apperrors.KindInvalid,
			fmt.Sprintf("focused review requires review status, session is %s", sess.Status))
	}

	diffCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	diff, err := c.git.DiffAgainst(diffCtx, sess.WorktreePath, sess.BaseCommit)
	cancel()
	if err != nil {
		return err
	}

	rendered, err := templates.FocusedReview(templates.Data{
		Prompt:            sess.Title,
		FocusedReviewDiff: diff,
	})
	if err != nil {
		return err
	}

	c.bus.Publish(bus.StatusChanged{
		SessionID: sessionID,
		Old:       string(session.StatusReview),
		New:       string(session.StatusInProgress),
	})

	return c.queue.Enqueue(queue.Op{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Kind:      session.OpFocusedReview,
		Run: func(ctx context.Context) error {
			return c.runAgentOp(ctx, sessionID, session.OpFocusedReview, rendered)
		},
	})
}

// CreatePullRequest pushes the session branch and opens a PR.
func (c *Controller) CreatePullRequest(sessionID string) error {
	const op = apperrors.Op("controller.CreatePullRequest")

	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusReview {
		return apperrors.E(op, apperrors.KindInvalid,
			fmt.Sprintf("cannot create a PR from %s", sess.Status))
	}

	c.bus.Publish(bus.StatusChanged{
		SessionID: sessionID,
		Old:       string(session.StatusReview),
		New:       string(session.StatusCreatingPullRequest),
	})

	return c.queue.Enqueue(queue.Op{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Kind:      session.OpCreatePR,
		Run: func(ctx context.Context) error {
			return c.runCreatePROp(ctx, sessionID)
		},
	})
}

func (c *Controller) runCreatePROp(ctx context.Context, sessionID string) error {
	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	project, err := c.store.GetProject(sess.ProjectID)
	if err != nil {
		return err
	}

	baseBranch := c.git.DefaultBranch(ctx, project.Path)
	url, err := c.prDriver.Create(ctx, sess.WorktreePath, sess.BranchName, baseBranch)
	if err != nil {
		c.bus.Publish(bus.OutputAppended{
			SessionID: sessionID,
			Chunk:     "\n[pr error] " + err.Error() + "\n",
		})
		c.bus.Publish(bus.StatusChanged{
			SessionID: sessionID,
			Old:       string(session.StatusCreatingPullRequest),
			New:       string(session.StatusReview),
		})
		return err
	}

	c.bus.Publish(bus.SessionUpdated{
		SessionID: sessionID,
		Patch:     map[string]any{"pr_url": url, "pr_state": string(pr.StateOpen)},
	})
	c.bus.Publish(bus.StatusChanged{
		SessionID: sessionID,
		Old:       string(session.StatusCreatingPullRequest),
		New:       string(session.StatusPullRequest),
	})

	c.SchedulePollMerge(sessionID, 0)
	return nil
}

// SchedulePollMerge enqueues the next merge poll for a session. The
// failures count drives the transient-error backoff.
func (c *Controller) SchedulePollMerge(sessionID string, failures int) {
	err := c.queue.Enqueue(queue.Op{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Kind:      session.OpPollMerge,
		Payload:   strconv.Itoa(failures),
		Run: func(ctx context.Context) error {
			return c.runPollMergeOp(ctx, sessionID, failures)
		},
	})
	if err != nil {
		logger.Error("Controller: failed to schedule merge poll for %s: %v", sessionID, err)
	}
}

// runPollMergeOp waits out the poll interval, checks the PR's remote
// state, and either reschedules itself or resolves the session.
func (c *Controller) runPollMergeOp(ctx context.Context, sessionID string, failures int) error {
	delay := c.cfg.PRPollInterval()
	if failures > 0 {
		delay = pr.Backoff(failures)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}

	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusPullRequest || sess.PRURL == "" {
		// Resolved elsewhere; stop polling.
		return nil
	}

	state, err := c.prDriver.Poll(ctx, sess.WorktreePath, sess.PRURL)
	if err != nil {
		if apperrors.Retryable(err) && ctx.Err() == nil {
			logger.Debug("Controller: transient poll failure for %s (attempt %d): %v", sessionID, failures+1, err)
			c.SchedulePollMerge(sessionID, failures+1)
			return nil
		}
		return err
	}

	c.bus.Publish(bus.PrStateChanged{SessionID: sessionID, State: string(state)})

	switch state {
	case pr.StateOpen:
		c.SchedulePollMerge(sessionID, 0)

	case pr.StateMerged:
		c.bus.Publish(bus.StatusChanged{
			SessionID: sessionID,
			Old:       string(session.StatusPullRequest),
			New:       string(session.StatusDone),
		})
		c.removeWorktreeForDone(sessionID, sess)
		if c.notifier != nil && c.cfg.Notifications {
			c.notifier.PRMerged(sess.Title)
		}

	case pr.StateClosed, pr.StateFailed:
		c.bus.Publish(bus.OutputAppended{
			SessionID: sessionID,
			Chunk:     "\n[pr] pull request closed without merge\n",
		})
		c.bus.Publish(bus.StatusChanged{
			SessionID: sessionID,
			Old:       string(session.StatusPullRequest),
			New:       string(session.StatusReview),
		})
	}
	return nil
}

// removeWorktreeForDone tears down the worktree once a session reaches
// Done, keeping the on-disk worktree set aligned with live sessions.
func (c *Controller) removeWorktreeForDone(sessionID string, sess session.Session) {
	if sess.WorktreePath == "" {
		return
	}
	project, err := c.store.GetProject(sess.ProjectID)
	if err != nil {
		logger.Error("Controller: cannot resolve project for %s: %v", sessionID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.git.RemoveWorktree(ctx, project.Path, sess.WorktreePath, ""); err != nil {
		logger.Warn("Controller: failed to remove worktree for done session %s: %v", sessionID, err)
		return
	}
	c.bus.Publish(bus.SessionUpdated{
		SessionID: sessionID,
		Patch:     map[string]any{"worktree_path": nil},
	})
}

// LocalMerge merges the session branch into the base branch of the main
// repository. Runs in the background; results arrive as events.
func (c *Controller) LocalMerge(sessionID string) error {
	const op = apperrors.Op("controller.LocalMerge")

	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusReview {
		return apperrors.E(op, apperrors.KindInvalid,
			fmt.Sprintf("cannot merge a session in %s", sess.Status))
	}

	go c.runLocalMerge(*sess)
	return nil
}

func (c *Controller) runLocalMerge(sess session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	project, err := c.store.GetProject(sess.ProjectID)
	if err != nil {
		c.bus.Publish(bus.OutputAppended{SessionID: sess.ID, Chunk: "\n[merge error] " + err.Error() + "\n"})
		return
	}

	message := sess.Title
	if message == "" {
		message = "wip"
	}
	if _, _, err := c.git.CommitAll(ctx, sess.WorktreePath, message); err != nil {
		c.bus.Publish(bus.OutputAppended{SessionID: sess.ID, Chunk: "\n[merge error] " + err.Error() + "\n"})
		return
	}

	result, err := c.git.MergeToBase(ctx, project.Path, sess.BranchName, "")
	if err != nil {
		c.bus.Publish(bus.OutputAppended{SessionID: sess.ID, Chunk: "\n[merge error] " + err.Error() + "\n"})
		return
	}

	switch result {
	case git.MergeOK:
		c.bus.Publish(bus.StatusChanged{
			SessionID: sess.ID,
			Old:       string(session.StatusReview),
			New:       string(session.StatusDone),
		})
		c.removeWorktreeForDone(sess.ID, sess)

	case git.MergeConflict:
		c.bus.Publish(bus.OutputAppended{
			SessionID: sess.ID,
			Chunk:     "\n[merge] conflicts with the base branch; resolve via a reply or merge manually\n",
		})

	case git.MergeBlocked:
		c.bus.Publish(bus.OutputAppended{
			SessionID: sess.ID,
			Chunk:     "\n[merge] base branch has advanced; rebase required before merging\n",
		})
	}
}

// CancelSession fires the cancellation side-channel: the running
// operation's context is cancelled and queued prompts/replies are
// dropped. A no-op on idle sessions.
func (c *Controller) CancelSession(sessionID string) {
	c.queue.Cancel(sessionID)
}

// DeleteSession tears a session down: cancel in-flight work, drain the
// queue, remove the worktree, delete the row. Deletion is a lifecycle
// operation outside the status machine and is legal from any status.
func (c *Controller) DeleteSession(sessionID string) error {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	copied := *sess

	go func() {
		c.queue.StopSession(copied.ID)

		if copied.WorktreePath != "" {
			project, err := c.store.GetProject(copied.ProjectID)
			if err == nil {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := c.git.RemoveWorktree(ctx, project.Path, copied.WorktreePath, copied.BranchName); err != nil {
					logger.Warn("Controller: failed to remove worktree for deleted session %s: %v", copied.ID, err)
				}
				cancel()
			}
		}

		if err := c.store.DeleteSession(copied.ID); err != nil {
			logger.Error("Controller: failed to delete session %s: %v", copied.ID, err)
			return
		}
		c.bus.Publish(bus.SessionDeleted{SessionID: copied.ID})
		logger.Info("Controller: deleted session %s", copied.ID)
	}()
	return nil
}
