package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"omnireel/internal/config"
	"omnireel/internal/daemon"
	"omnireel/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the omnireel daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("omnireel-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.LogFileName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Paths.LogDir, "omnireel-*.log", logPath, cfg.Logging.RetentionDays)
	logConfigSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "omnireel.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("create daemon",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_create_failed"),
			logging.String(logging.FieldErrorHint, "check paths.database_path and the [knowledge] section"),
		)
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and directory permissions"),
			logging.String(logging.FieldImpact, "no jobs will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("omnireel daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// ensureCurrentLogPointer points <log_dir>/omnireel.log at the active run log.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logging.LogFileName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded by a running daemon, or 0.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.DataDir, "omnireel.pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(trimNewline(data)))
	if err != nil {
		return 0
	}
	return pid
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Int("workers", cfg.Workflow.Workers),
		logging.Int("providers", len(cfg.Providers)),
		logging.Int("capabilities", len(cfg.Capabilities)),
		logging.String("knowledge_driver", cfg.Knowledge.Driver),
		logging.Bool("api_enabled", cfg.API.Enabled),
		logging.Bool("ntfy_enabled", cfg.Notifications.NtfyTopic != ""),
		logging.Int64("cache_max_bytes", cfg.CacheMaxBytes()),
	)
}
