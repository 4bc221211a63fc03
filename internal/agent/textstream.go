package agent

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/logger"
)

// GeminiBackend drives the gemini CLI, which writes plain text to stdout.
type GeminiBackend struct{}

func (b *GeminiBackend) Start(ctx context.Context, params StartParams) (*Invocation, error) {
	args := []string{"-p", params.Prompt, "--yolo"}
	if params.Model != "" {
		args = append(args, "--model", params.Model)
	}
	return startTextStream(ctx, "gemini", args, params)
}

// CodexBackend drives the codex CLI in non-interactive exec mode.
type CodexBackend struct{}

func (b *CodexBackend) Start(ctx context.Context, params StartParams) (*Invocation, error) {
	args := []string{"exec", params.Prompt}
	if params.Model != "" {
		args = append(args, "--model", params.Model)
	}
	return startTextStream(ctx, "codex", args, params)
}

// startTextStream launches a plain-text agent CLI and relays each output
// line as a ChunkOutput event. Token usage is not reported by these tools.
func startTextStream(ctx context.Context, binary string, args []string, params StartParams) (*Invocation, error) {
	op := apperrors.Op("agent.startTextStream")

	runCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = params.WorktreePath
	cmd.Env = append(os.Environ(),
		EnvModel+"="+params.Model,
		EnvPermissionMode+"="+string(params.PermissionMode))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, apperrors.E(op, apperrors.KindAgent, "failed to create stdout pipe", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, apperrors.E(op, apperrors.KindEnvironment, "failed to start "+binary, err)
	}

	inv := newInvocation(cancel)
	go func() {
		defer close(inv.chunks)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			inv.chunks <- ChunkEvent{Kind: ChunkOutput, Text: scanner.Text() + "\n"}
		}

		err := cmd.Wait()
		if runCtx.Err() != nil {
			logger.Debug("%s: invocation cancelled session=%s", binary, params.SessionID)
			inv.chunks <- ChunkEvent{Kind: ChunkCancelled}
			return
		}
		if err != nil {
			inv.chunks <- ChunkEvent{Kind: ChunkError, Text: fmt.Sprintf("%s exited: %v", binary, err)}
			return
		}
		inv.chunks <- ChunkEvent{Kind: ChunkCompleted}
	}()
	return inv, nil
}
