package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"prolicense/internal/config"
)

// process-wide logger state set by InitializeLogger
var (
	loggerMu   sync.Mutex
	rootLogger *slog.Logger
	logFile    *os.File
)

// InitializeLogger builds the daemon's JSON logger from cfg and makes it the
// slog default. Later calls return the first logger unchanged.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if rootLogger != nil {
		return rootLogger, nil
	}

	w, err := logWriter(cfg)
	if err != nil {
		return nil, err
	}
	rootLogger = NewLogger(cfg.Level, w)
	slog.SetDefault(rootLogger)
	return rootLogger, nil
}

// NewLogger returns a JSON logger on w that adds trace_id from the context
// passed to the *Context methods.
func NewLogger(level string, w io.Writer) *slog.Logger {
	json := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLogLevel(level)})
	return slog.New(traceHandler{json})
}

// GetLogger returns the initialized logger or slog.Default.
func GetLogger() *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if rootLogger == nil {
		return slog.Default()
	}
	return rootLogger
}

// CloseLogFile closes the file opened for "file" or "both" output.
func CloseLogFile() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	return closeLogFile()
}

// ResetLoggerForTesting forgets the initialized logger.
func ResetLoggerForTesting() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	_ = closeLogFile()
	rootLogger = nil
}

func closeLogFile() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// ParseLogLevel maps a config level name to slog. Unknown names mean info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// logWriter picks the destination. stdout belongs to CLI output, so console
// logs go to stderr.
func logWriter(cfg config.LoggingConfig) (io.Writer, error) {
	output := strings.ToLower(cfg.Output)
	if output != "file" && output != "both" {
		return os.Stderr, nil
	}

	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cfg.FilePath, err)
	}
	logFile = f

	if output == "both" {
		return io.MultiWriter(os.Stderr, f), nil
	}
	return f, nil
}

// traceHandler adds trace_id to every record logged with a traced context.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetTraceID(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}
