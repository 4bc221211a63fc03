// Package git manages per-session worktrees: creation, commits, diffs,
// local merges, and teardown.
package git

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	apperrors "github.com/loomdev/loom/internal/errors"
	pexec "github.com/loomdev/loom/internal/exec"
	"github.com/loomdev/loom/internal/logger"
)

// MergeResult is the outcome of a local merge attempt.
type MergeResult int

const (
	// MergeOK means the branch merged cleanly into the base branch.
	MergeOK MergeResult = iota
	// MergeConflict means the merge produced conflict markers and was aborted.
	MergeConflict
	// MergeBlocked means the base branch has advanced in a way that
	// requires a rebase before merging.
	MergeBlocked
)

// shortIDLength is the slice of the base36-encoded session id used in
// branch names.
const shortIDLength = 7

// branchRetryLimit caps collision-suffix retries when deriving branch names.
const branchRetryLimit = 10

var validBranchNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// Service performs git operations through a swappable executor.
type Service struct {
	executor pexec.CommandExecutor
}

// NewService returns a Service backed by the given executor.
func NewService(executor pexec.CommandExecutor) *Service {
	return &Service{executor: executor}
}

// ShortID returns the 7-char base36 slice of a session id used in branch
// names.
func ShortID(sessionID string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
			return r
		case r >= 'A' && r <= 'F':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, sessionID)

	n := new(big.Int)
	if _, ok := n.SetString(cleaned, 16); !ok {
		// Non-hex id; fall back to raw bytes.
		n.SetBytes([]byte(sessionID))
	}
	encoded := n.Text(36)
	if len(encoded) < shortIDLength {
		encoded = encoded + strings.Repeat("0", shortIDLength-len(encoded))
	}
	return encoded[:shortIDLength]
}

// ValidateBranchName checks a branch name against git's naming rules.
func ValidateBranchName(branch string) error {
	const op = apperrors.Op("git.ValidateBranchName")

	if branch == "" {
		return apperrors.E(op, apperrors.KindInvalid, "branch name is empty")
	}
	if strings.HasPrefix(branch, "-") {
		return apperrors.E(op, apperrors.KindInvalid, "branch name cannot start with '-'")
	}
	if strings.HasSuffix(branch, ".lock") {
		return apperrors.E(op, apperrors.KindInvalid, "branch name cannot end with '.lock'")
	}
	if strings.Contains(branch, "..") {
		return apperrors.E(op, apperrors.KindInvalid, "branch name cannot contain '..'")
	}
	if !validBranchNameRegex.MatchString(branch) {
		return apperrors.E(op, apperrors.KindInvalid, "branch name contains invalid characters")
	}
	return nil
}

// BranchExists checks whether a branch is already present in the repo.
func (s *Service) BranchExists(ctx context.Context, repoPath, branch string) bool {
	_, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// DeriveBranchName produces "<prefix>/<short-id>" for a session, retrying
// with an incrementing suffix on collision.
func (s *Service) DeriveBranchName(ctx context.Context, repoPath, prefix, sessionID string) (string, error) {
	const op = apperrors.Op("git.DeriveBranchName")

	base := fmt.Sprintf("%s/%s", prefix, ShortID(sessionID))
	candidate := base
	for i := 2; i <= branchRetryLimit+1; i++ {
		if !s.BranchExists(ctx, repoPath, candidate) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", apperrors.E(op, apperrors.KindGit, fmt.Sprintf("could not find a free branch name near %s", base))
}

// ResolveCommit resolves a rev to a full commit id.
func (s *Service) ResolveCommit(ctx context.Context, repoPath, rev string) (string, error) {
	const op = apperrors.Op("git.ResolveCommit")

	out, err := s.executor.Output(ctx, repoPath, "git", "rev-parse", rev)
	if err != nil {
		return "", apperrors.E(op, apperrors.KindGit, fmt.Sprintf("cannot resolve %q", rev), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DefaultBranch returns the repository's default branch, preferring
// origin's HEAD reference and falling back to main/master.
func (s *Service) DefaultBranch(ctx context.Context, repoPath string) string {
	out, err := s.executor.Output(ctx, repoPath, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(string(out))
		if strings.HasPrefix(ref, "refs/remotes/origin/") {
			return strings.TrimPrefix(ref, "refs/remotes/origin/")
		}
	}

	if _, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "main"); err == nil {
		return "main"
	}
	if _, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "master"); err == nil {
		return "master"
	}
	return "main"
}

// ValidateRepo checks that a path is inside a git repository.
func (s *Service) ValidateRepo(ctx context.Context, path string) error {
	const op = apperrors.Op("git.ValidateRepo")

	out, err := s.executor.CombinedOutput(ctx, path, "git", "rev-parse", "--git-dir")
	if err != nil {
		return apperrors.E(op, apperrors.KindEnvironment,
			fmt.Sprintf("not a git repository: %s", strings.TrimSpace(string(out))), err)
	}
	return nil
}

// Worktree describes a freshly created session worktree.
type Worktree struct {
	Path       string
	BranchName string
	BaseCommit string
}

// CreateWorktree creates the session's worktree at worktreePath on a new
// branch cut from baseBranch.
func (s *Service) CreateWorktree(ctx context.Context, repoPath, worktreePath, prefix, sessionID, baseBranch string) (Worktree, error) {
	const op = apperrors.Op("git.CreateWorktree")

	branch, err := s.DeriveBranchName(ctx, repoPath, prefix, sessionID)
	if err != nil {
		return Worktree{}, err
	}

	if baseBranch == "" {
		baseBranch = s.DefaultBranch(ctx, repoPath)
	}
	baseCommit, err := s.ResolveCommit(ctx, repoPath, baseBranch)
	if err != nil {
		// Local-only repos may have no named branch yet; fall back to HEAD.
		baseCommit, err = s.ResolveCommit(ctx, repoPath, "HEAD")
		if err != nil {
			return Worktree{}, err
		}
		baseBranch = "HEAD"
	}

	logger.Debug("Git: creating worktree branch=%s path=%s base=%s", branch, worktreePath, baseCommit)
	out, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "add", "-b", branch, worktreePath, baseCommit)
	if err != nil {
		return Worktree{}, apperrors.E(op, apperrors.KindGit,
			fmt.Sprintf("failed to create worktree: %s", strings.TrimSpace(string(out))), err)
	}

	return Worktree{Path: worktreePath, BranchName: branch, BaseCommit: baseCommit}, nil
}

// RemoveWorktree removes a worktree, prunes references, and best-effort
// deletes its branch.
func (s *Service) RemoveWorktree(ctx context.Context, repoPath, worktreePath, branch string) error {
	const op = apperrors.Op("git.RemoveWorktree")

	out, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "remove", worktreePath, "--force")
	if err != nil {
		return apperrors.E(op, apperrors.KindGit,
			fmt.Sprintf("failed to remove worktree: %s", strings.TrimSpace(string(out))), err)
	}

	if out, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "prune"); err != nil {
		logger.Warn("Git: worktree prune failed: %s - %v", string(out), err)
	}

	if branch != "" {
		if out, err := s.executor.CombinedOutput(ctx, repoPath, "git", "branch", "-D", branch); err != nil {
			logger.Warn("Git: branch delete failed (may already be gone): %s", strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// IsClean reports whether the worktree has no staged, unstaged, or
// untracked changes.
func (s *Service) IsClean(ctx context.Context, worktreePath string) (bool, error) {
	const op = apperrors.Op("git.IsClean")

	out, err := s.executor.Output(ctx, worktreePath, "git", "status", "--porcelain")
	if err != nil {
		return false, apperrors.E(op, apperrors.KindGit, err)
	}
	return len(strings.TrimSpace(string(out))) == 0, nil
}

// CommitAll stages all tracked and untracked changes (gitignored content
// excluded) and commits with the given message. Returns ok=false on a clean
// tree with no commit made.
func (s *Service) CommitAll(ctx context.Context, worktreePath, message string) (string, bool, error) {
	const op = apperrors.Op("git.CommitAll")

	clean, err := s.IsClean(ctx, worktreePath)
	if err != nil {
		return "", false, err
	}
	if clean {
		return "", false, nil
	}

	if message == "" {
		message = "wip"
	}

	if out, err := s.executor.CombinedOutput(ctx, worktreePath, "git", "add", "-A"); err != nil {
		return "", false, apperrors.E(op, apperrors.KindGit,
			fmt.Sprintf("git add failed: %s", strings.TrimSpace(string(out))), err)
	}
	if out, err := s.executor.CombinedOutput(ctx, worktreePath, "git", "commit", "-m", message); err != nil {
		return "", false, apperrors.E(op, apperrors.KindGit,
			fmt.Sprintf("git commit failed: %s", strings.TrimSpace(string(out))), err)
	}

	commit, err := s.ResolveCommit(ctx, worktreePath, "HEAD")
	if err != nil {
		return "", false, err
	}
	logger.Debug("Git: committed %s in %s", commit, worktreePath)
	return commit, true, nil
}

// DiffAgainst returns the unified diff of the worktree against the
// session's base commit.
func (s *Service) DiffAgainst(ctx context.Context, worktreePath, baseCommit string) (string, error) {
	const op = apperrors.Op("git.DiffAgainst")

	out, err := s.executor.Output(ctx, worktreePath, "git", "diff", "--no-ext-diff", baseCommit)
	if err != nil {
		return "", apperrors.E(op, apperrors.KindGit, err)
	}
	return string(out), nil
}

// BaseAdvanced reports whether baseBranch has commits not reachable from
// the session branch. Such a merge needs a rebase first.
func (s *Service) BaseAdvanced(ctx context.Context, repoPath, branch, baseBranch string) (bool, error) {
	const op = apperrors.Op("git.BaseAdvanced")

	out, err := s.executor.Output(ctx, repoPath, "git", "rev-list", "--count", branch+".."+baseBranch)
	if err != nil {
		return false, apperrors.E(op, apperrors.KindGit, err)
	}
	return strings.TrimSpace(string(out)) != "0", nil
}

// MergeToBase merges the session branch into the base branch in the main
// repository. Conflicting merges are aborted.
func (s *Service) MergeToBase(ctx context.Context, repoPath, branch, baseBranch string) (MergeResult, error) {
	const op = apperrors.Op("git.MergeToBase")

	if baseBranch == "" || baseBranch == "HEAD" {
		baseBranch = s.DefaultBranch(ctx, repoPath)
	}

	advanced, err := s.BaseAdvanced(ctx, repoPath, branch, baseBranch)
	if err != nil {
		return MergeBlocked, err
	}
	if advanced {
		logger.Info("Git: merge blocked, %s has advanced past %s", baseBranch, branch)
		return MergeBlocked, nil
	}

	if out, err := s.executor.CombinedOutput(ctx, repoPath, "git", "checkout", baseBranch); err != nil {
		return MergeBlocked, apperrors.E(op, apperrors.KindGit,
			fmt.Sprintf("failed to checkout %s: %s", baseBranch, strings.TrimSpace(string(out))), err)
	}

	out, err := s.executor.CombinedOutput(ctx, repoPath, "git", "merge", branch, "--no-edit")
	if err != nil {
		if strings.Contains(string(out), "CONFLICT") {
			if abortOut, abortErr := s.executor.CombinedOutput(ctx, repoPath, "git", "merge", "--abort"); abortErr != nil {
				logger.Warn("Git: merge abort failed: %s", strings.TrimSpace(string(abortOut)))
			}
			return MergeConflict, nil
		}
		return MergeBlocked, apperrors.E(op, apperrors.KindGit,
			fmt.Sprintf("merge failed: %s", strings.TrimSpace(string(out))), err)
	}

	logger.Info("Git: merged %s into %s", branch, baseBranch)
	return MergeOK, nil
}
