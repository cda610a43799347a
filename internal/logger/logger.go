package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/nishaddevendra/pdf-qa-core/internal/config"
)

var Logger *slog.Logger

// Init initializes structured logging to w based on configuration.
// The tool server MUST call InitStderr instead: stdout is reserved for
// JSON-RPC response frames and must never carry a log line.
func Init(cfg *config.Config, w io.Writer) {
	Logger = build(cfg, w)
}

// InitStderr is the tool server's entry point — logs never touch stdout.
func InitStderr(cfg *config.Config) {
	Logger = build(cfg, os.Stderr)
}

func build(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	debug := cfg.GinMode == "debug"
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	}

	handler := slog.NewJSONHandler(w, opts)
	l := slog.New(handler)
	l.Info("structured logging initialized", "level", level.String())
	return l
}

func Info(msg string, args ...any) {
	if Logger != nil {
		Logger.Info(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if Logger != nil {
		Logger.Error(msg, args...)
	}
}

func Debug(msg string, args ...any) {
	if Logger != nil {
		Logger.Debug(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if Logger != nil {
		Logger.Warn(msg, args...)
	}
}
