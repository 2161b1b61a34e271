// Package ui provides terminal output for scan, review, and apply:
// a plain text renderer for CI and pipes, and a bubbletea review
// browser for interactive terminals.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/driftsync/driftsync/internal/engine"
)

// Renderer consumes engine progress events.
type Renderer interface {
	// Handle processes one progress event. It may be called from
	// multiple goroutines.
	Handle(ev engine.Event)
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
}

// NewConfig creates a Config with the given output.
func NewConfig(output io.Writer) Config {
	return Config{Output: output}
}

// CanReview reports whether the interactive review browser can run:
// interactive terminal, not CI, not forced plain.
func CanReview(cfg Config) bool {
	if cfg.ForcePlain {
		return false
	}
	if !IsTTY(cfg.Output) {
		return false
	}
	return !DetectCI()
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
