// Package agent defines the capability contract for driving external
// coding agents and the adapters that satisfy it for each supported tool.
package agent

import (
	"context"
	"sync"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/session"
)

// Environment variables adapters set on the agent process.
const (
	EnvModel          = "AGENT_MODEL"
	EnvPermissionMode = "AGENT_PERMISSION_MODE"
)

// ChunkKind discriminates streamed chunk events.
type ChunkKind int

const (
	// ChunkOutput is agent-produced text.
	ChunkOutput ChunkKind = iota
	// ChunkToolUse is a one-line summary of a tool invocation.
	ChunkToolUse
	// ChunkError is a backend-reported error message.
	ChunkError
	// ChunkCompleted closes a successful stream.
	ChunkCompleted
	// ChunkCancelled closes a stream terminated by Cancel.
	ChunkCancelled
)

// ChunkEvent is one normalized event from the agent's output stream.
type ChunkEvent struct {
	Kind ChunkKind
	Text string
}

// UsageTotals are the token counts reported for one invocation.
type UsageTotals struct {
	InputTokens  int64
	OutputTokens int64
}

// StartParams describe one agent invocation.
type StartParams struct {
	SessionID      string
	WorktreePath   string
	Model          string
	PermissionMode session.PermissionMode
	Prompt         string
}

// Invocation is a running agent process. Chunks closes when the agent
// completes, errors, or is cancelled; Usage is valid after that.
type Invocation struct {
	chunks chan ChunkEvent
	cancel context.CancelFunc

	mu    sync.Mutex
	usage UsageTotals
}

func newInvocation(cancel context.CancelFunc) *Invocation {
	return &Invocation{
		chunks: make(chan ChunkEvent, 64),
		cancel: cancel,
	}
}

// Chunks returns the event stream.
func (inv *Invocation) Chunks() <-chan ChunkEvent {
	return inv.chunks
}

// Cancel terminates the in-flight invocation. The stream closes with a
// ChunkCancelled event.
func (inv *Invocation) Cancel() {
	if inv.cancel != nil {
		inv.cancel()
	}
}

// Usage returns the token totals reported by the backend. Zero until the
// stream has completed.
func (inv *Invocation) Usage() UsageTotals {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.usage
}

func (inv *Invocation) setUsage(u UsageTotals) {
	inv.mu.Lock()
	inv.usage = u
	inv.mu.Unlock()
}

// Backend launches agent invocations. One implementation exists per
// session.AgentKind; selection is data-driven.
type Backend interface {
	Start(ctx context.Context, params StartParams) (*Invocation, error)
}

// ForKind returns the adapter for an agent kind.
func ForKind(kind session.AgentKind) (Backend, error) {
	const op = apperrors.Op("agent.ForKind")

	switch kind {
	case session.AgentClaude:
		return &ClaudeBackend{}, nil
	case session.AgentGemini:
		return &GeminiBackend{}, nil
	case session.AgentCodex:
		return &CodexBackend{}, nil
	default:
		return nil, apperrors.E(op, apperrors.KindInvalid, "unknown agent kind: "+string(kind))
	}
}

// Selector resolves backends; the controller depends on this rather than
// the concrete adapters so tests can substitute a fake.
type Selector func(kind session.AgentKind) (Backend, error)
