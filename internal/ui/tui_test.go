package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/output"
)

// newTestTUI builds a renderer around a model without a running program.
func newTestTUI() *TUIRenderer {
	tracker := NewProgressTracker()
	model := newIngestModel(tracker)
	model.styles = output.NoColorStyles()
	return &TUIRenderer{tracker: tracker, model: model, done: make(chan struct{})}
}

func TestNewTUIRenderer_FailsForNonTTY(t *testing.T) {
	// Given: a non-TTY buffer
	cfg := NewConfig(&bytes.Buffer{})

	// When: creating a TUI renderer
	r, err := NewTUIRenderer(cfg)

	// Then: it is refused
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestTUIRenderer_NewDocumentRestartsCount(t *testing.T) {
	// Given: a renderer part way through a 10 page document
	r := newTestTUI()
	r.UpdateProgress(ProgressEvent{Stage: StageExtracting, Current: 6, Total: 10, CurrentFile: "a.pdf"})

	// When: a 3 page document starts
	r.UpdateProgress(ProgressEvent{Stage: StageExtracting, Total: 3, CurrentFile: "b.pdf"})
	r.UpdateProgress(ProgressEvent{Stage: StageExtracting, Current: 1, Total: 3, CurrentFile: "b.pdf"})

	// Then: the tracker counts pages of the new document
	stats := r.tracker.Stats()
	assert.Equal(t, 1, stats.Current)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, "b.pdf", stats.CurrentFile)
}

func TestTUIRenderer_CompleteAndStopWithoutProgram(t *testing.T) {
	r := newTestTUI()
	r.AddError(ErrorEvent{File: "a.pdf", Err: errors.New("boom")})

	r.Complete(CompletionStats{Documents: 1})

	assert.Equal(t, StageComplete, r.tracker.Stats().Stage)
	assert.Equal(t, 1, r.tracker.Stats().ErrorCount)
	require.NoError(t, r.Stop())
}

func TestIngestModel_StageIndicators(t *testing.T) {
	// Given: a model in the extraction stage
	r := newTestTUI()
	r.UpdateProgress(ProgressEvent{Stage: StageExtracting, Current: 2, Total: 8, CurrentFile: "docs/reports/annual.pdf"})

	// When: rendering
	view := r.model.View()

	// Then: both stages, the page count and the file are shown
	assert.Contains(t, view, "● Render")
	assert.Contains(t, view, "Extract")
	assert.Contains(t, view, "2 / 8 pages")
	assert.Contains(t, view, "annual.pdf")
	assert.Contains(t, view, "q to quit")
}

func TestIngestModel_UnknownTotal(t *testing.T) {
	r := newTestTUI()

	view := r.model.View()

	assert.Contains(t, view, "Rendering...")
}

func TestIngestModel_StatusBarCounts(t *testing.T) {
	r := newTestTUI()
	r.AddError(ErrorEvent{File: "a.pdf", Err: errors.New("render failed")})
	r.AddError(ErrorEvent{File: "b.pdf", Err: errors.New("page 2 skipped"), IsWarn: true})
	r.AddError(ErrorEvent{File: "b.pdf", Err: errors.New("page 3 skipped"), IsWarn: true})

	view := r.model.View()

	assert.Contains(t, view, "2 warnings")
	assert.Contains(t, view, "1 errors")
}

func TestIngestModel_CompleteQuitsAndSummarises(t *testing.T) {
	// Given: a model
	r := newTestTUI()

	// When: the completion message arrives
	_, cmd := r.model.Update(completeMsg(CompletionStats{
		Documents:   2,
		Pages:       9,
		Elements:    31,
		FailedPages: 1,
		Duration:    75 * time.Second,
	}))

	// Then: the program quits and the summary is shown
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	view := r.model.View()
	assert.Contains(t, view, "Ingestion Complete")
	assert.Contains(t, view, "31")
	assert.Contains(t, view, "1m 15s")
	assert.Contains(t, view, "1 pages failed extraction")
}

func TestIngestModel_QuitKey(t *testing.T) {
	r := newTestTUI()

	_, cmd := r.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	require.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", r.model.View())
}

func TestIngestModel_WindowSize(t *testing.T) {
	r := newTestTUI()

	r.model.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	assert.Equal(t, 20, r.model.progressBar.Width)

	r.model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 100, r.model.progressBar.Width)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m", formatDuration(2*time.Minute))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 1m", formatDuration(61*time.Minute))
}

func TestTruncateFilePath(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		maxLen int
	}{
		{"short", "docs/a.pdf", 50},
		{"nested", "docs/reports/very/deeply/nested/directory/annual.pdf", 30},
		{"no separators", "an-extremely-long-file-name-for-a-report.pdf", 20},
		{"long file name", "docs/an-extremely-long-file-name-for-a-report.pdf", 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateFilePath(tt.path, tt.maxLen)

			assert.LessOrEqual(t, len(got), tt.maxLen)
			assert.Contains(t, got, ".pdf")
			if len(tt.path) > tt.maxLen {
				assert.Contains(t, got, "...")
			} else {
				assert.Equal(t, tt.path, got)
			}
		})
	}
}
