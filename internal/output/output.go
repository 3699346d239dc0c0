// Package output formats CLI results. Terminals get human-readable text;
// pipes and redirects get JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/chatindex/internal/engine"
	"github.com/Aman-CERP/chatindex/internal/message"
)

// Format selects how results are rendered.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (use: auto, text, json)", s)
	}
}

// Writer provides formatted output for the CLI.
type Writer struct {
	out  io.Writer
	json bool
}

// New creates a Writer. FormatAuto picks text for terminals and JSON
// otherwise.
func New(out io.Writer, format Format) *Writer {
	useJSON := format == FormatJSON
	if format == FormatAuto || format == "" {
		useJSON = !IsTerminal(out)
	}
	return &Writer{out: out, json: useJSON}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// JSONMode reports whether the writer emits JSON.
func (w *Writer) JSONMode() bool {
	return w.json
}

// JSON writes v as indented JSON regardless of mode.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Result writes v as JSON in JSON mode, otherwise calls text.
func (w *Writer) Result(v any, text func()) error {
	if w.json {
		return w.JSON(v)
	}
	text()
	return nil
}

// Status prints a status message with an icon. Suppressed in JSON mode.
func (w *Writer) Status(icon, msg string) {
	if w.json {
		return
	}
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

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Messages renders a search result page.
func (w *Writer) Messages(res *engine.Result) error {
	return w.Result(res, func() {
		if len(res.Messages) == 0 {
			_, _ = fmt.Fprintln(w.out, "No messages found.")
			return
		}
		for _, m := range res.Messages {
			_, _ = fmt.Fprintln(w.out, formatMessage(m))
		}
		more := ""
		if res.More {
			more = ", more available"
		}
		_, _ = fmt.Fprintf(w.out, "\n%d of %d messages%s\n", res.Returned, res.Total, more)
	})
}

// Progress prints an in-place batch counter. Suppressed in JSON mode.
func (w *Writer) Progress(batches, messages int) {
	if w.json {
		return
	}
	_, _ = fmt.Fprintf(w.out, "\r%s %d batches, %d messages", spinner(batches), batches, messages)
}

// ProgressDone completes a progress line.
func (w *Writer) ProgressDone() {
	if !w.json {
		_, _ = fmt.Fprintln(w.out)
	}
}

func formatMessage(m message.Record) string {
	when := m.IngestionDate
	if ms, err := m.IngestedAt(); err == nil {
		when = time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
	}
	text := strings.Join(strings.Fields(m.Text), " ")
	if len(text) > 120 {
		text = text[:117] + "..."
	}
	line := fmt.Sprintf("%s  %-12s %s", when, m.SenderID, text)
	if m.HasFiles() {
		line += "  [" + strconv.Itoa(max(len(m.AttachmentNames), 1)) + " file(s)]"
	}
	return line
}

func spinner(i int) string {
	return string(`|/-\`[i%4])
}
