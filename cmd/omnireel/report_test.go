package main

import (
	"bytes"
	"strings"
	"testing"

	"omnireel/internal/jobs"
)

func TestReportPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	r := newReport(&buf)
	if r.color {
		t.Fatal("buffer should not be treated as a terminal")
	}
	r.section("Daemon")
	r.line("Reporting API", levelInfo, "disabled")
	r.line("Daemon", levelWarn, "not running")

	want := "Daemon\n======\n" +
		"  Reporting API        info  disabled\n" +
		"  Daemon               warn  not running\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected output:\n%q\nwant:\n%q", got, want)
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatal("plain output carries escape sequences")
	}
}

func TestReportColorUnderlineIgnoresEscapes(t *testing.T) {
	var buf bytes.Buffer
	r := &report{w: &buf, color: true}
	r.section("Jobs")
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected title and underline, got %q", buf.String())
	}
	if lines[1] != "====" {
		t.Fatalf("underline should match visible title width, got %q", lines[1])
	}
}

func TestJobLevel(t *testing.T) {
	cases := map[jobs.Status]level{
		jobs.StatusPending: levelInfo,
		jobs.StatusRunning: levelInfo,
		jobs.StatusDone:    levelOK,
		jobs.StatusBlocked: levelWarn,
		jobs.StatusFailed:  levelError,
	}
	for status, want := range cases {
		if got := jobLevel(status); got != want {
			t.Errorf("jobLevel(%s) = %d, want %d", status, got, want)
		}
	}
}
