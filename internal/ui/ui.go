// Package ui shows ingestion progress, as a bubbletea view on terminals and
// as plain lines everywhere else.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/Aman-CERP/docindex/internal/output"
)

// Stage is an ingestion stage.
type Stage int

const (
	// StageRendering splits a document into page images.
	StageRendering Stage = iota
	// StageExtracting runs vision extraction and stores the elements.
	StageExtracting
	// StageComplete indicates every document was handled.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageRendering:
		return "Rendering"
	case StageExtracting:
		return "Extracting"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageRendering:
		return "RENDER"
	case StageExtracting:
		return "EXTRACT"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is one progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent is a failure or warning during ingestion.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// CompletionStats summarises a whole ingest run.
type CompletionStats struct {
	Documents      int
	Pages          int
	Elements       int
	FailedPages    int
	InsertFailures int
	Errors         int
	Warnings       int
	Duration       time.Duration
}

// Renderer displays progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)

	// Complete shows the summary.
	Complete(stats CompletionStats)

	Stop() error
}

// Config configures a Renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the TUI renderer for interactive terminals and the
// plain renderer for pipes, CI and --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !output.IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
