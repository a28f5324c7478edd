package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
)

var titleCaser = cases.Title(language.English)

// formatLabel turns snake_case identifiers into "Title Case" labels.
func formatLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}

func formatDisplayTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDisplayTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatDisplayTime(*t)
}

func formatCost(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 4, 64)
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit-1]) + "…"
}

func buildJobStatsRows(stats map[jobs.Status]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range jobs.AllStatuses() {
		if count := stats[status]; count > 0 {
			rows = append(rows, []string{formatLabel(string(status)), strconv.Itoa(count)})
		}
	}
	return rows
}

func buildJobListRows(list []*jobs.Job) [][]string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		stage := formatLabel(string(job.Stage))
		if !job.Status.IsTerminal() {
			stage = formatLabel(string(jobs.FirstIncomplete(job.Results)))
		}
		detail := job.BlockedReason
		if job.Status == jobs.StatusBlocked && job.ResumeAt != nil {
			detail = fmt.Sprintf("%s (resume %s)", detail, formatDisplayTime(*job.ResumeAt))
		}
		if job.Status == jobs.StatusFailed {
			detail = job.ErrorMessage
		}
		rows = append(rows, []string{
			job.ID,
			truncate(job.Title, 40),
			formatLabel(string(job.Status)),
			stage,
			formatDisplayTime(job.CreatedAt),
			truncate(detail, 60),
		})
	}
	return rows
}

func buildResultRows(results []jobs.StageResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			formatLabel(string(r.Stage)),
			yesNo(r.CacheHit),
			strings.Join(r.Provenance.Providers(), ", "),
			strconv.Itoa(len(r.Provenance.Calls)),
			r.Duration.Round(time.Millisecond).String(),
			formatCost(r.CostEstimate),
		})
	}
	return rows
}

func buildLedgerRows(records []ledger.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		transition := ""
		if rec.ToStatus != "" {
			transition = rec.FromStatus + "→" + rec.ToStatus
			if rec.FromStatus == "" {
				transition = rec.ToStatus
			}
		}
		who := rec.Provider
		if rec.Capability != "" {
			who = rec.Capability + "/" + rec.Provider
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.Seq, 10),
			formatDisplayTime(rec.CreatedAt),
			rec.JobID,
			formatLabel(string(rec.Kind)),
			rec.Stage,
			who,
			transition,
			truncate(rec.Reason, 60),
		})
	}
	return rows
}
