// Package output prints the human-readable results of shelf commands:
// status lines, key/value summaries, path lists and aligned tables.
package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Aman-CERP/shelf/internal/ui"
)

// maxListed caps how many paths List prints before summarising the rest.
const maxListed = 20

const fieldWidth = 14

// Writer formats command output. Colors are used only on terminals.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New returns a writer for out.
func New(out io.Writer) *Writer {
	noColor := !ui.IsTTY(out) || ui.DetectNoColor()
	return &Writer{out: out, styles: ui.GetStyles(noColor)}
}

// Status prints a message behind an icon; an empty icon indents instead.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Header prints a bold section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// Success prints a message with a checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a message with a warning sign.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints a message with a cross.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Field prints an aligned "label: value" line.
func (w *Writer) Field(label string, value any) {
	pad := max(fieldWidth-len(label)-1, 0)
	_, _ = fmt.Fprintf(w.out, "  %s%s %v\n", w.styles.Label.Render(label+":"), strings.Repeat(" ", pad), value)
}

// List prints a titled list of items. Long lists are cut after maxListed
// entries with a count of the rest. Empty lists print nothing.
func (w *Writer) List(title string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s (%d)\n", title, len(items))
	for i, item := range items {
		if i == maxListed {
			_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Dim.Render(fmt.Sprintf("... and %d more", len(items)-maxListed)))
			break
		}
		_, _ = fmt.Fprintf(w.out, "    %s\n", item)
	}
}

// Table prints rows under headers with aligned columns.
func (w *Writer) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "  %s\n", strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintf(tw, "  %s\n", strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
