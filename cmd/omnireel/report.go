package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"omnireel/internal/jobs"
)

type level int

const (
	levelInfo level = iota
	levelOK
	levelWarn
	levelError
)

var levelStyles = map[level]struct {
	tag    string
	colors text.Colors
}{
	levelInfo:  {"info", text.Colors{text.FgHiBlack}},
	levelOK:    {"ok", text.Colors{text.FgGreen}},
	levelWarn:  {"warn", text.Colors{text.FgYellow}},
	levelError: {"error", text.Colors{text.FgRed, text.Bold}},
}

// report prints labelled key/value sections for status, job detail and
// preflight output. Level tags are colored only on a terminal.
type report struct {
	w     io.Writer
	color bool
}

func newReport(w io.Writer) *report {
	return &report{w: w, color: isTerminal(w)}
}

func (r *report) section(title string) {
	title = strings.TrimSpace(title)
	if r.color {
		title = text.Bold.Sprint(title)
	}
	fmt.Fprintf(r.w, "%s\n%s\n", title, strings.Repeat("=", text.RuneWidthWithoutEscSequences(title)))
}

// line writes "  label  tag  message". Empty messages print the tag alone.
func (r *report) line(label string, lv level, message string) {
	style := levelStyles[lv]
	tag := fmt.Sprintf("%-5s", style.tag)
	if r.color {
		tag = style.colors.Sprint(tag)
	}
	fmt.Fprintf(r.w, "  %-20s %s %s\n", label, tag, message)
}

func (r *report) blank() { fmt.Fprintln(r.w) }

// jobLevel maps a job status to the level it is reported at.
func jobLevel(status jobs.Status) level {
	switch status {
	case jobs.StatusDone:
		return levelOK
	case jobs.StatusBlocked:
		return levelWarn
	case jobs.StatusFailed:
		return levelError
	default:
		return levelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
