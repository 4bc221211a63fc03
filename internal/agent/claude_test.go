package agent

import (
	"context"
	"testing"
	"time"

	"github.com/loomdev/loom/internal/session"
)

func TestParseStreamLine(t *testing.T) {
	t.Run("assistant text", func(t *testing.T) {
		var usage UsageTotals
		chunks := parseStreamLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`, &usage)
		if len(chunks) != 1 || chunks[0].Kind != ChunkOutput || chunks[0].Text != "hello" {
			t.Errorf("chunks = %+v", chunks)
		}
	})

	t.Run("tool use", func(t *testing.T) {
		var usage UsageTotals
		chunks := parseStreamLine(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"main.go"}}]}}`, &usage)
		if len(chunks) != 1 || chunks[0].Kind != ChunkToolUse {
			t.Fatalf("chunks = %+v", chunks)
		}
		if chunks[0].Text != "Edit(main.go)" {
			t.Errorf("tool summary = %q", chunks[0].Text)
		}
	})

	t.Run("result with usage", func(t *testing.T) {
		var usage UsageTotals
		chunks := parseStreamLine(`{"type":"result","result":"ok","usage":{"input_tokens":120,"output_tokens":45}}`, &usage)
		if len(chunks) != 1 || chunks[0].Kind != ChunkCompleted {
			t.Errorf("chunks = %+v", chunks)
		}
		if usage.InputTokens != 120 || usage.OutputTokens != 45 {
			t.Errorf("usage = %+v", usage)
		}
	})

	t.Run("result with error", func(t *testing.T) {
		var usage UsageTotals
		chunks := parseStreamLine(`{"type":"result","error":"rate limited"}`, &usage)
		if len(chunks) != 1 || chunks[0].Kind != ChunkError || chunks[0].Text != "rate limited" {
			t.Errorf("chunks = %+v", chunks)
		}
	})

	t.Run("system and user records are silent", func(t *testing.T) {
		var usage UsageTotals
		if chunks := parseStreamLine(`{"type":"system","subtype":"init"}`, &usage); len(chunks) != 0 {
			t.Errorf("system chunks = %+v", chunks)
		}
		if chunks := parseStreamLine(`{"type":"user","message":{"content":[{"type":"tool_result"}]}}`, &usage); len(chunks) != 0 {
			t.Errorf("user chunks = %+v", chunks)
		}
	})

	t.Run("garbage is skipped", func(t *testing.T) {
		var usage UsageTotals
		if chunks := parseStreamLine("not json at all", &usage); len(chunks) != 0 {
			t.Errorf("garbage chunks = %+v", chunks)
		}
		if chunks := parseStreamLine("", &usage); chunks != nil {
			t.Errorf("empty line chunks = %+v", chunks)
		}
	})
}

func TestForKind(t *testing.T) {
	for _, kind := range []session.AgentKind{session.AgentClaude, session.AgentGemini, session.AgentCodex} {
		if _, err := ForKind(kind); err != nil {
			t.Errorf("ForKind(%s) failed: %v", kind, err)
		}
	}
	if _, err := ForKind("copilot"); err == nil {
		t.Error("unknown kind should be rejected")
	}
}

func TestFakeBackendPlaysScript(t *testing.T) {
	b := NewFakeBackend()
	b.Script(FakeInvocation{
		Chunks: []ChunkEvent{
			{Kind: ChunkOutput, Text: "hi"},
			{Kind: ChunkCompleted},
		},
		Usage: UsageTotals{InputTokens: 3, OutputTokens: 2},
	})

	inv, err := b.Start(context.Background(), StartParams{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}

	var kinds []ChunkKind
	for chunk := range inv.Chunks() {
		kinds = append(kinds, chunk.Kind)
	}
	if len(kinds) != 2 || kinds[0] != ChunkOutput || kinds[1] != ChunkCompleted {
		t.Errorf("kinds = %v", kinds)
	}
	if u := inv.Usage(); u.InputTokens != 3 || u.OutputTokens != 2 {
		t.Errorf("usage = %+v", u)
	}
}

func TestFakeBackendCancel(t *testing.T) {
	b := NewFakeBackend()
	b.Block = true

	inv, err := b.Start(context.Background(), StartParams{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan ChunkKind, 1)
	go func() {
		last := ChunkCompleted
		for chunk := range inv.Chunks() {
			last = chunk.Kind
		}
		done <- last
	}()

	inv.Cancel()
	select {
	case last := <-done:
		if last != ChunkCancelled {
			t.Errorf("last chunk = %v, want cancelled", last)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not close the stream")
	}
}
