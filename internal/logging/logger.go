package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogFileName is the daemon log written under paths.log_dir.
const LogFileName = "omnireel.log"

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// OutputPaths holds "stdout", "stderr" or file paths. Files are opened
	// in append mode and their directories created. Empty means stdout.
	OutputPaths []string
	// Development adds the caller to every line, not only debug ones.
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	w, err := openOutputs(opts.OutputPaths)
	if err != nil {
		return nil, err
	}
	return NewWriter(w, opts)
}

// NewWriter constructs a logger over an already open writer. The caller owns
// the writer.
func NewWriter(w io.Writer, opts Options) (*slog.Logger, error) {
	lvl := new(slog.LevelVar)
	lvl.Set(parseLevel(opts.Level))
	withSource := opts.Development || lvl.Level() <= slog.LevelDebug

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		return slog.New(newConsoleHandler(w, lvl, withSource)), nil
	case "json":
		return slog.New(newJSONHandler(w, lvl, withSource)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLevel maps a config level name to a slog level; unknown names are info.
func parseLevel(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

func openOutputs(paths []string) (io.Writer, error) {
	var (
		writers []io.Writer
		opened  = map[string]bool{}
	)
	for _, raw := range paths {
		target := strings.TrimSpace(raw)
		if target == "" || opened[target] {
			continue
		}
		opened[target] = true

		switch target {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, fmt.Errorf("ensure log dir for %s: %w", target, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", target, err)
			}
			writers = append(writers, f)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

// newJSONHandler emits {"ts", "level", "msg", "src"} plus attributes, with
// UTC second-precision timestamps and lowercase levels.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, withSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: withSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339))
			case slog.LevelKey:
				return slog.String(slog.LevelKey, strings.ToLower(a.Value.String()))
			case slog.SourceKey:
				if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
					return slog.String("src", fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return a
		},
	})
}
