package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/docindex/internal/output"
)

// TUIRenderer draws progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *ingestModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !output.IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIngestModel(tracker)
	if cfg.NoColor || output.NoColor() {
		model.styles = output.NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	var runCtx context.Context
	runCtx, r.cancel = context.WithCancel(ctx)

	opts := []tea.ProgramOption{tea.WithContext(runCtx), tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.apply(event)
	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// apply moves the tracker to event's stage when the stage or its total
// changes; a new document restarts the page count.
func (r *TUIRenderer) apply(event ProgressEvent) {
	stats := r.tracker.Stats()
	if event.Stage != stats.Stage || event.Total != stats.Total {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile, event.Message)
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer. It waits at most two seconds for the program.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	r.cancel()
	r.program = nil
	return nil
}

type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// ingestModel is the bubbletea model. State lives in the tracker.
type ingestModel struct {
	tracker     *ProgressTracker
	width       int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      output.Styles
}

func newIngestModel(tracker *ProgressTracker) *ingestModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(output.ColorLime))

	p := progress.New(
		progress.WithSolidFill(output.ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &ingestModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      output.DefaultStyles(),
		width:       80,
	}
}

// Init implements tea.Model.
func (m *ingestModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *ingestModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(msg.Width-20, 20)

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// progressUpdateMsg and errorMsg only trigger a redraw.
	return m, nil
}

// View implements tea.Model.
func (m *ingestModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := max(m.width-4, 40)
	stats := m.tracker.Stats()

	sections := []string{
		m.renderStages(stats.Stage),
		m.styles.Dim.Render(strings.Repeat("─", width)),
		m.renderProgress(stats),
	}
	if stats.CurrentFile != "" {
		sections = append(sections, m.styles.Dim.Render(truncateFilePath(stats.CurrentFile, width-2)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(output.ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render("docindex ingest"),
		panel.Render(strings.Join(sections, "\n")),
	) + "\n" + m.renderStatusBar(stats)
}

func (m *ingestModel) renderStages(current Stage) string {
	var parts []string
	for _, s := range []struct {
		stage Stage
		name  string
	}{
		{StageRendering, "Render"},
		{StageExtracting, "Extract"},
	} {
		switch {
		case s.stage < current:
			parts = append(parts, m.styles.Success.Render("● "+s.name))
		case s.stage == current:
			parts = append(parts, m.styles.Header.Render(m.spinner.View()+" "+s.name))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.name))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *ingestModel) renderProgress(stats ProgressStats) string {
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), stats.Stage)
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Header.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))

	unit := "pages"
	if stats.Stage == StageRendering {
		unit = "documents"
	}
	count := fmt.Sprintf("%d / %d %s", stats.Current, stats.Total, unit)
	if stats.ETA > 0 {
		count += "  •  ETA: " + formatDuration(stats.ETA)
	}
	return fmt.Sprintf("%s  %s\n%s", bar, pct, m.styles.Label.Render(count))
}

func (m *ingestModel) renderStatusBar(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *ingestModel) renderComplete() string {
	label := func(s string) string { return m.styles.Label.Render(fmt.Sprintf("%-10s", s)) }
	value := func(v any) string { return m.styles.Header.Render(fmt.Sprint(v)) }

	lines := []string{
		m.styles.Success.Render("✓ Ingestion Complete"),
		"",
		label("Documents:") + " " + value(m.stats.Documents),
		label("Pages:") + " " + value(m.stats.Pages),
		label("Elements:") + " " + value(m.stats.Elements),
		label("Duration:") + " " + value(formatDuration(m.stats.Duration)),
	}
	if m.stats.FailedPages > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d pages failed extraction", m.stats.FailedPages)))
	}
	if m.stats.InsertFailures > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d elements not stored", m.stats.InsertFailures)))
	}
	if m.stats.Errors > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(output.ColorLime)).
		Padding(1, 2).
		Width(max(m.width-4, 40))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncateFilePath shortens path to maxLen, keeping the file name.
func truncateFilePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}

	parts := strings.Split(path, "/")
	filename := parts[len(parts)-1]
	if len(parts) == 1 || len(filename)+4 > maxLen {
		if maxLen < 4 {
			return "..."
		}
		return "..." + filename[len(filename)-maxLen+3:]
	}

	remaining := maxLen - len(filename) - 4 // ".../"
	prefix := strings.Join(parts[:len(parts)-1], "/")
	if remaining <= 0 {
		return ".../" + filename
	}
	return "..." + prefix[len(prefix)-remaining:] + "/" + filename
}

var _ Renderer = (*TUIRenderer)(nil)
