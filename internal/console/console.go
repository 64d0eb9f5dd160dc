// Package console formats run summaries and log lines for an operator
// terminal.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/agent-racer/runwatch/internal/run"
	"github.com/charmbracelet/lipgloss"
)

// TimeFormat is the layout of the summary timestamp.
const TimeFormat = "2006-01-02 15:04:05"

// Reporter writes summary and log lines to w. When w is a color terminal
// the run tag and stream name are styled; otherwise output is plain text.
type Reporter struct {
	w        io.Writer
	idStyle  lipgloss.Style
	outStyle lipgloss.Style
	errStyle lipgloss.Style
	sumStyle lipgloss.Style
}

// NewReporter returns a Reporter bound to w. The color profile is detected
// from w itself, so buffers and pipes get no escape sequences.
func NewReporter(w io.Writer) *Reporter {
	r := lipgloss.NewRenderer(w)
	return &Reporter{
		w:        w,
		idStyle:  r.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		outStyle: r.NewStyle().Foreground(lipgloss.Color("2")),
		errStyle: r.NewStyle().Foreground(lipgloss.Color("1")),
		sumStyle: r.NewStyle().Faint(true),
	}
}

// Summary writes one summary line.
func (r *Reporter) Summary(s run.Summary) error {
	ts := r.sumStyle.Render("[" + s.At.Format(TimeFormat) + "]")
	_, err := fmt.Fprintf(r.w, "%s runs: running=%d finished=%d unknown=%d\n",
		ts, s.Running, s.Finished, s.Unknown)
	return err
}

// Lines writes lines in order, each prefixed with its run and stream. The
// batch goes out in a single write.
func (r *Reporter) Lines(lines []run.Line) error {
	if len(lines) == 0 {
		return nil
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(r.idStyle.Render("[" + l.RunID + "]"))
		b.WriteByte(' ')
		b.WriteString(r.streamStyle(l.Stream).Render(l.Stream))
		b.WriteString(": ")
		b.WriteString(strings.ToValidUTF8(l.Text, "\uFFFD"))
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Reporter) streamStyle(stream string) lipgloss.Style {
	if stream == "stderr" {
		return r.errStyle
	}
	return r.outStyle
}
