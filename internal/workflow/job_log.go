package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"omnireel/internal/config"
	"omnireel/internal/jobs"
	"omnireel/internal/logging"
)

// JobLogFile is the per-job log written into the job artifact directory.
const JobLogFile = "job.log"

// JobLogs gives every job run its own JSON log file next to its artifacts,
// in addition to the daemon log.
type JobLogs struct {
	cfg *config.Config
}

// NewJobLogs creates the per-job log factory.
func NewJobLogs(cfg *config.Config) *JobLogs {
	return &JobLogs{cfg: cfg}
}

// Path returns the log file of a job.
func (j *JobLogs) Path(jobID string) string {
	return filepath.Join(j.cfg.JobArtifactDir(jobID), JobLogFile)
}

// Open returns a logger writing to both base and the job log, plus a close
// function. If the file cannot be opened base is returned unchanged.
func (j *JobLogs) Open(base *slog.Logger, job *jobs.Job) (*slog.Logger, func()) {
	noop := func() {}
	if j == nil || j.cfg == nil || strings.TrimSpace(j.cfg.Paths.ArtifactDir) == "" {
		return base, noop
	}
	file, err := j.openFile(job.ID)
	if err != nil {
		base.Warn("job log unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_log_unavailable"),
			logging.String(logging.FieldErrorHint, "check paths.artifact_dir permissions"),
		)
		return base, noop
	}
	fileLogger, err := logging.NewWriter(file, logging.Options{Level: j.cfg.Logging.Level, Format: "json"})
	if err != nil {
		file.Close()
		return base, noop
	}
	logger := slog.New(logging.Tee(base.Handler(), fileLogger.Handler()))
	return logger, func() { _ = file.Close() }
}

func (j *JobLogs) openFile(jobID string) (*os.File, error) {
	path := j.Path(jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure job log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}
	return file, nil
}
