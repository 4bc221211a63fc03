// Package session defines the domain model: sessions, their status state
// machine, in-flight operations, and the render snapshot.
package session

import (
	"time"
)

// AgentKind identifies which external agent backend drives a session.
type AgentKind string

const (
	AgentClaude AgentKind = "claude"
	AgentGemini AgentKind = "gemini"
	AgentCodex  AgentKind = "codex"
)

// Valid reports whether the kind names a known adapter.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentClaude, AgentGemini, AgentCodex:
		return true
	}
	return false
}

// PermissionMode controls how aggressively the agent is permitted to act.
type PermissionMode string

const (
	PermissionReadOnly PermissionMode = "read-only"
	PermissionSuggest  PermissionMode = "suggest"
	PermissionWrite    PermissionMode = "write"
)

// Project is a repository the user has opened. Created on first selection
// of a directory; never destroyed implicitly.
type Project struct {
	ID           string
	Path         string
	DisplayName  string
	IsFavorite   bool
	CreatedAt    int64
	UpdatedAt    int64
	LastOpenedAt int64
}

// Session is one conversation with an agent, bound to one git worktree and
// one branch.
type Session struct {
	ID             string
	ProjectID      string
	Title          string
	Status         Status
	AgentKind      AgentKind
	Model          string
	PermissionMode PermissionMode
	BranchName     string
	WorktreePath   string
	BaseCommit     string
	PRURL          string
	PRState        string
	InputTokens    int64
	OutputTokens   int64
	CreatedAt      int64
	UpdatedAt      int64
}

// Age returns how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(s.CreatedAt, 0))
}

// Usage is one accumulated (session, model) usage row.
type Usage struct {
	SessionID       string
	Model           string
	InputTokens     int64
	OutputTokens    int64
	InvocationCount int64
	CreatedAt       int64
}

// OperationKind names a unit of work executed by a session's worker queue.
type OperationKind string

const (
	OpPrompt        OperationKind = "prompt"
	OpReply         OperationKind = "reply"
	OpCreatePR      OperationKind = "create_pr"
	OpPollMerge     OperationKind = "poll_merge"
	OpTitle         OperationKind = "title"
	OpFocusedReview OperationKind = "focused_review"
)

// OperationState is the lifecycle of a queued operation.
type OperationState string

const (
	OpPending   OperationState = "pending"
	OpRunning   OperationState = "running"
	OpCompleted OperationState = "completed"
	OpFailed    OperationState = "failed"
)

// Operation is the persisted record of an in-flight unit of work, kept so
// interrupted operations can be reconciled on restart.
type Operation struct {
	ID         string
	SessionID  string
	Kind       OperationKind
	Payload    string
	State      OperationState
	StartedAt  int64
	FinishedAt int64
	Error      string
}

// Failure markers recorded on operations that did not run to completion.
const (
	FailureInterrupted = "interrupted"
	FailureAbandoned   = "abandoned"
	FailureCancelled   = "cancelled"
)
