// Package output formats docindex CLI output. Styling is applied only when
// the destination is a terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/docindex/internal/store"
)

// Palette (ANSI 256).
const (
	ColorLime     = "154"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds the lipgloss styles used by Writer.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Label   lipgloss.Style
	Dim     lipgloss.Style
}

// DefaultStyles returns the coloured styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
	}
}

// NoColorStyles returns styles that render text unchanged.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
	}
}

// Writer provides formatted output for CLI.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a Writer, colouring output when out is a terminal.
func New(out io.Writer) *Writer {
	return NewWithColor(out, IsTTY(out) && !NoColor())
}

// NewWithColor creates a Writer with colour forced on or off.
func NewWithColor(out io.Writer, color bool) *Writer {
	styles := NoColorStyles()
	if color {
		styles = DefaultStyles()
	}
	return &Writer{out: out, styles: styles}
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NoColor reports whether NO_COLOR is set.
func NoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a bold section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// KeyValue prints an indented "key: value" line.
func (w *Writer) KeyValue(key string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.styles.Label.Render(key+":"), value)
}

// Code prints a block with each line indented.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Hit prints one search result. rank is 1-based; pages are shown 1-based.
func (w *Writer) Hit(rank int, collection string, el store.Element) {
	name := el.Name
	if name == "" {
		name = "(unnamed)"
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n",
		w.styles.Header.Render(fmt.Sprintf("%d.", rank)), name)
	_, _ = fmt.Fprintf(w.out, "   %s\n", w.styles.Dim.Render(fmt.Sprintf(
		"%s | page %d | doc %s | box (%g, %g, %g, %g) | id %s",
		collection, el.Page+1, el.DocID, el.Box[0], el.Box[1], el.Box[2], el.Box[3], el.ID)))
	if content := strings.TrimSpace(el.Content); content != "" {
		for _, line := range strings.Split(truncate(content, 400), "\n") {
			_, _ = fmt.Fprintf(w.out, "   %s\n", line)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
