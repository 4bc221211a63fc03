package templates

import (
	"strings"
	"testing"
)

func TestTitleSubstitutesSummary(t *testing.T) {
	out, err := Title(Data{SessionSummary: "added a README and a LICENSE"})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(out, "added a README and a LICENSE") {
		t.Errorf("summary not substituted:\n%s", out)
	}
	if strings.Contains(out, "{{") {
		t.Errorf("unresolved placeholders remain:\n%s", out)
	}
}

func TestFocusedReviewSubstitutesPromptAndDiff(t *testing.T) {
	out, err := FocusedReview(Data{
		Prompt:            "add input validation",
		FocusedReviewDiff: "--- a/main.go\n+++ b/main.go\n@@ -1 +1 @@",
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(out, "add input validation") {
		t.Errorf("prompt not substituted:\n%s", out)
	}
	if !strings.Contains(out, "+++ b/main.go") {
		t.Errorf("diff not substituted:\n%s", out)
	}
}

func TestUnusedPlaceholdersRenderEmpty(t *testing.T) {
	out, err := FocusedReview(Data{})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if strings.Contains(out, "{{") {
		t.Errorf("unresolved placeholders remain:\n%s", out)
	}
}
