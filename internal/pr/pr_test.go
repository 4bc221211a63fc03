package pr

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/loomdev/loom/internal/errors"
	pexec "github.com/loomdev/loom/internal/exec"
)

var ctx = context.Background()

func TestParseURL(t *testing.T) {
	cases := []struct {
		name, output, want string
	}{
		{
			name:   "url on its own line",
			output: "Creating pull request for loom/abc into main\n\nhttps://github.com/acme/widget/pull/42\n",
			want:   "https://github.com/acme/widget/pull/42",
		},
		{
			name:   "no url",
			output: "something went wrong\n",
			want:   "",
		},
		{
			name:   "url embedded in prose is skipped",
			output: "see https://github.com/acme/widget/pull/42 for details\n",
			want:   "",
		},
		{
			name:   "first standalone url wins",
			output: "https://github.com/acme/widget/pull/1\nhttps://github.com/acme/widget/pull/2\n",
			want:   "https://github.com/acme/widget/pull/1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseURL(tc.output); got != tc.want {
				t.Errorf("ParseURL = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	executor := pexec.NewScriptedExecutor()
	executor.Script("gh pr create", pexec.Response{Stdout: "https://github.com/acme/widget/pull/7\n"})
	driver := NewDriver(executor)

	url, err := driver.Create(ctx, "/wt", "loom/abc", "main")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if url != "https://github.com/acme/widget/pull/7" {
		t.Errorf("url = %q", url)
	}
	if executor.CallCount("git push -u origin loom/abc") != 1 {
		t.Errorf("branch not pushed: %v", executor.Calls())
	}
}

func TestCreateRequiresGh(t *testing.T) {
	executor := pexec.NewScriptedExecutor()
	executor.MissingBinaries["gh"] = true
	driver := NewDriver(executor)

	_, err := driver.Create(ctx, "/wt", "loom/abc", "main")
	if !apperrors.Is(err, apperrors.KindEnvironment) {
		t.Errorf("expected environment error, got %v", err)
	}
}

func TestCreatePushFailure(t *testing.T) {
	executor := pexec.NewScriptedExecutor()
	executor.Script("git push", pexec.Response{Stderr: "remote: denied", Err: errors.New("exit 1")})
	driver := NewDriver(executor)

	if _, err := driver.Create(ctx, "/wt", "loom/abc", "main"); err == nil {
		t.Fatal("expected push failure to propagate")
	}
	if executor.CallCount("gh pr create") != 0 {
		t.Error("pr create should not run after a failed push")
	}
}

func TestPoll(t *testing.T) {
	cases := []struct {
		name, stdout string
		want         State
	}{
		{"open", `{"state":"OPEN","mergedAt":""}`, StateOpen},
		{"merged", `{"state":"MERGED","mergedAt":"2026-08-05T10:00:00Z"}`, StateMerged},
		{"closed", `{"state":"CLOSED","mergedAt":""}`, StateClosed},
		{"closed but merged", `{"state":"CLOSED","mergedAt":"2026-08-05T10:00:00Z"}`, StateMerged},
		{"unknown", `{"state":"WEIRD"}`, StateFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			executor := pexec.NewScriptedExecutor()
			executor.Script("gh pr view", pexec.Response{Stdout: tc.stdout})
			driver := NewDriver(executor)

			state, err := driver.Poll(ctx, "/wt", "https://github.com/acme/widget/pull/7")
			if err != nil {
				t.Fatalf("poll failed: %v", err)
			}
			if state != tc.want {
				t.Errorf("state = %q, want %q", state, tc.want)
			}
		})
	}
}

func TestPollTransientFailure(t *testing.T) {
	executor := pexec.NewScriptedExecutor()
	executor.Script("gh pr view", pexec.Response{Err: errors.New("network unreachable")})
	driver := NewDriver(executor)

	_, err := driver.Poll(ctx, "/wt", "https://github.com/acme/widget/pull/7")
	if !apperrors.Is(err, apperrors.KindTransient) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	if Backoff(0) != PollInterval {
		t.Errorf("Backoff(0) = %v, want %v", Backoff(0), PollInterval)
	}
	if Backoff(1) != 30*time.Second {
		t.Errorf("Backoff(1) = %v", Backoff(1))
	}
	if Backoff(2) != time.Minute {
		t.Errorf("Backoff(2) = %v", Backoff(2))
	}
	for i := 3; i < 20; i++ {
		if Backoff(i) != 2*time.Minute {
			t.Errorf("Backoff(%d) = %v, want cap of 2m", i, Backoff(i))
		}
	}
}
