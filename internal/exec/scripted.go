package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Response is a canned result for one scripted command.
type Response struct {
	Stdout string
	Stderr string
	Err    error
}

// ScriptedExecutor returns canned responses keyed by command line. It is
// used by tests and demo recordings in place of RealExecutor.
type ScriptedExecutor struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []string
	// Default is returned for commands with no scripted response.
	Default Response
	// MissingBinaries simulates binaries absent from PATH.
	MissingBinaries map[string]bool
}

// NewScriptedExecutor returns an empty scripted executor. Unscripted
// commands succeed with empty output.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{
		responses:       make(map[string]Response),
		MissingBinaries: make(map[string]bool),
	}
}

func commandKey(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

// Script registers a canned response for a command line. A command with no
// exact entry also matches any scripted line that is a prefix of it.
func (e *ScriptedExecutor) Script(cmdline string, resp Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses[cmdline] = resp
}

// Calls returns the command lines executed so far, in order.
func (e *ScriptedExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallCount returns how many executed command lines contain substr.
func (e *ScriptedExecutor) CallCount(substr string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

func (e *ScriptedExecutor) lookup(name string, args []string) Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := commandKey(name, args)
	e.calls = append(e.calls, key)
	if resp, ok := e.responses[key]; ok {
		return resp
	}
	// Fall back to prefix matches so tests can script "git merge" without
	// spelling out every flag.
	for k, resp := range e.responses {
		if strings.HasPrefix(key, k) {
			return resp
		}
	}
	return e.Default
}

func (e *ScriptedExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	resp := e.lookup(name, args)
	return []byte(resp.Stdout), []byte(resp.Stderr), resp.Err
}

func (e *ScriptedExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	stdout, _, err := e.Run(ctx, dir, name, args...)
	return stdout, err
}

func (e *ScriptedExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	stdout, stderr, err := e.Run(ctx, dir, name, args...)
	return append(stdout, stderr...), err
}

func (e *ScriptedExecutor) LookPath(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.MissingBinaries[name] {
		return fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return nil
}
