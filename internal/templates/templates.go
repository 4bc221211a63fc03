// Package templates renders the prompt templates used for title
// generation and focused review. Built-in templates are embedded; users
// may override them under ~/.config/loom/templates/.
package templates

import (
	"embed"
	"os"
	"path/filepath"

	"github.com/cbroglie/mustache"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/paths"
)

//go:embed title.md focused_review.md
var builtin embed.FS

// Data carries the recognized placeholders. Unused fields render empty.
type Data struct {
	Prompt            string
	SessionSummary    string
	FocusedReviewDiff string
}

func (d Data) context() map[string]string {
	return map[string]string{
		"prompt":              d.Prompt,
		"session_summary":     d.SessionSummary,
		"focused_review_diff": d.FocusedReviewDiff,
	}
}

// load returns the template text, preferring a user override.
func load(name string) (string, error) {
	const op = apperrors.Op("templates.load")

	if dir, err := paths.ConfigDir(); err == nil {
		override := filepath.Join(dir, "templates", name)
		if data, err := os.ReadFile(override); err == nil {
			return string(data), nil
		}
	}

	data, err := builtin.ReadFile(name)
	if err != nil {
		return "", apperrors.E(op, apperrors.KindEnvironment, "missing template "+name, err)
	}
	return string(data), nil
}

func render(name string, d Data) (string, error) {
	const op = apperrors.Op("templates.render")

	tmpl, err := load(name)
	if err != nil {
		return "", err
	}
	out, err := mustache.Render(tmpl, d.context())
	if err != nil {
		return "", apperrors.E(op, apperrors.KindInvalid, "template render failed", err)
	}
	return out, nil
}

// Title renders the title-generation prompt over a session summary.
func Title(d Data) (string, error) {
	return render("title.md", d)
}

// FocusedReview renders the focused-review prompt over a session diff.
func FocusedReview(d Data) (string, error) {
	return render("focused_review.md", d)
}
