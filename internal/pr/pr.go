// Package pr drives the pull-request lifecycle through the gh CLI: pushing
// the session branch, creating the PR, and polling its merge state.
package pr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/loomdev/loom/internal/errors"
	pexec "github.com/loomdev/loom/internal/exec"
	"github.com/loomdev/loom/internal/logger"
)

// State is the remote lifecycle state of a pull request.
type State string

const (
	StateOpen   State = "open"
	StateMerged State = "merged"
	StateClosed State = "closed"
	StateFailed State = "failed"
)

// PollInterval is the merge-poll cadence while a session has an open PR.
const PollInterval = 15 * time.Second

// maxBackoff caps the retry delay on transient polling failures.
const maxBackoff = 2 * time.Minute

// Driver invokes the external PR tooling in session worktrees.
type Driver struct {
	executor pexec.CommandExecutor
}

// NewDriver returns a Driver backed by the given executor.
func NewDriver(executor pexec.CommandExecutor) *Driver {
	return &Driver{executor: executor}
}

// Create pushes the session branch and opens a pull request against the
// base branch. Returns the PR URL parsed from the tool's output.
func (d *Driver) Create(ctx context.Context, worktreePath, branch, baseBranch string) (string, error) {
	const op = apperrors.Op("pr.Create")

	if err := d.executor.LookPath("gh"); err != nil {
		return "", apperrors.E(op, apperrors.KindEnvironment, "gh CLI not found - install from https://cli.github.com", err)
	}

	out, err := d.executor.CombinedOutput(ctx, worktreePath, "git", "push", "-u", "origin", branch)
	if err != nil {
		return "", apperrors.E(op, apperrors.KindGit,
			fmt.Sprintf("failed to push: %s", strings.TrimSpace(string(out))), err)
	}

	args := []string{"pr", "create", "--head", branch, "--fill"}
	if baseBranch != "" && baseBranch != "HEAD" {
		args = append(args, "--base", baseBranch)
	}
	out, err = d.executor.CombinedOutput(ctx, worktreePath, "gh", args...)
	if err != nil {
		return "", apperrors.E(op, apperrors.KindOperation,
			fmt.Sprintf("PR creation failed: %s", strings.TrimSpace(string(out))), err)
	}

	url := ParseURL(string(out))
	if url == "" {
		return "", apperrors.E(op, apperrors.KindOperation,
			fmt.Sprintf("no PR URL in gh output: %s", strings.TrimSpace(string(out))))
	}
	logger.Info("PR: created %s for branch %s", url, branch)
	return url, nil
}

// ParseURL extracts the first https:// URL appearing on a line by itself,
// which is the gh CLI's conventional output shape.
func ParseURL(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "https://") && !strings.ContainsAny(line, " \t") {
			return line
		}
	}
	return ""
}

// prView mirrors the fields requested from gh pr view.
type prView struct {
	State    string `json:"state"`
	MergedAt string `json:"mergedAt"`
}

// Poll queries the remote state of a pull request. Transport failures are
// transient; an unknown state is reported as failed.
func (d *Driver) Poll(ctx context.Context, worktreePath, url string) (State, error) {
	const op = apperrors.Op("pr.Poll")

	out, err := d.executor.Output(ctx, worktreePath, "gh", "pr", "view", url, "--json", "state,mergedAt")
	if err != nil {
		return StateFailed, apperrors.E(op, apperrors.KindTransient, "gh pr view failed", err)
	}

	var view prView
	if err := json.Unmarshal(out, &view); err != nil {
		return StateFailed, apperrors.E(op, apperrors.KindTransient, "unparseable gh output", err)
	}

	switch strings.ToUpper(view.State) {
	case "OPEN":
		return StateOpen, nil
	case "MERGED":
		return StateMerged, nil
	case "CLOSED":
		if view.MergedAt != "" {
			return StateMerged, nil
		}
		return StateClosed, nil
	default:
		return StateFailed, nil
	}
}

// Backoff returns the delay before the next poll after `failures`
// consecutive transient errors: the base interval doubled per failure,
// capped at two minutes.
func Backoff(failures int) time.Duration {
	delay := PollInterval
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
