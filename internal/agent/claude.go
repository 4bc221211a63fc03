package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/logger"
	"github.com/loomdev/loom/internal/session"
)

// ClaudeBackend drives the claude CLI in stream-json mode.
type ClaudeBackend struct{}

// streamMessage mirrors the claude CLI's stream-json output records.
type streamMessage struct {
	Type    string `json:"type"`    // "system", "assistant", "user", "result"
	Subtype string `json:"subtype"` // "init", "success", ...
	Message struct {
		Content []struct {
			Type  string          `json:"type"` // "text", "tool_use"
			Text  string          `json:"text,omitempty"`
			Name  string          `json:"name,omitempty"`
			Input json.RawMessage `json:"input,omitempty"`
		} `json:"content"`
	} `json:"message"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Usage  struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func claudePermissionFlag(mode session.PermissionMode) string {
	switch mode {
	case session.PermissionReadOnly:
		return "plan"
	case session.PermissionWrite:
		return "acceptEdits"
	default:
		return "default"
	}
}

// Start launches the claude CLI in the session worktree and streams its
// output as normalized chunk events.
func (b *ClaudeBackend) Start(ctx context.Context, params StartParams) (*Invocation, error) {
	const op = apperrors.Op("agent.ClaudeBackend.Start")

	runCtx, cancel := context.WithCancel(ctx)

	args := []string{
		"-p", params.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", claudePermissionFlag(params.PermissionMode),
	}
	if params.Model != "" {
		args = append(args, "--model", params.Model)
	}

	cmd := exec.CommandContext(runCtx, "claude", args...)
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
		return nil, apperrors.E(op, apperrors.KindEnvironment, "failed to start claude", err)
	}

	inv := newInvocation(cancel)
	go b.stream(runCtx, cmd, stdout, inv, params.SessionID)
	return inv, nil
}

func (b *ClaudeBackend) stream(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, inv *Invocation, sessionID string) {
	defer close(inv.chunks)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var usage UsageTotals
	completed := false
	for scanner.Scan() {
		for _, chunk := range parseStreamLine(scanner.Text(), &usage) {
			if chunk.Kind == ChunkCompleted {
				completed = true
				continue
			}
			inv.chunks <- chunk
		}
	}

	err := cmd.Wait()
	inv.setUsage(usage)

	if ctx.Err() != nil {
		logger.Debug("Claude: invocation cancelled session=%s", sessionID)
		inv.chunks <- ChunkEvent{Kind: ChunkCancelled}
		return
	}
	if err != nil && !completed {
		inv.chunks <- ChunkEvent{Kind: ChunkError, Text: fmt.Sprintf("claude exited: %v", err)}
		return
	}
	inv.chunks <- ChunkEvent{Kind: ChunkCompleted}
}

// parseStreamLine parses one stream-json line into zero or more chunk
// events, accumulating usage totals from result records.
func parseStreamLine(line string, usage *UsageTotals) []ChunkEvent {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var msg streamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		logger.Debug("Claude: unparseable stream line: %v", err)
		return nil
	}

	var chunks []ChunkEvent
	switch msg.Type {
	case "assistant":
		for _, content := range msg.Message.Content {
			switch content.Type {
			case "text":
				if content.Text != "" {
					chunks = append(chunks, ChunkEvent{Kind: ChunkOutput, Text: content.Text})
				}
			case "tool_use":
				chunks = append(chunks, ChunkEvent{Kind: ChunkToolUse, Text: summarizeToolUse(content.Name, content.Input)})
			}
		}

	case "result":
		usage.InputTokens += msg.Usage.InputTokens
		usage.OutputTokens += msg.Usage.OutputTokens
		if msg.Error != "" {
			chunks = append(chunks, ChunkEvent{Kind: ChunkError, Text: msg.Error})
		} else {
			chunks = append(chunks, ChunkEvent{Kind: ChunkCompleted})
		}

	case "system", "user":
		// Init records and tool results are internal; not surfaced.
	}
	return chunks
}

// summarizeToolUse extracts a brief description from a tool_use input.
func summarizeToolUse(name string, input json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err == nil {
		for _, key := range []string{"file_path", "path", "pattern", "command", "url"} {
			if v, ok := fields[key].(string); ok && v != "" {
				if len(v) > 80 {
					v = v[:80] + "…"
				}
				return fmt.Sprintf("%s(%s)", name, v)
			}
		}
	}
	return name
}
