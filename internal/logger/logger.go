// Package logger is the process-wide structured logger of thl.
//
// It wraps log/slog behind package-level functions so that the log code and
// the CLI share one configuration:
//
//	logger.Info("rotated log segment", logger.Segment(name), logger.BaseSeqno(base))
//
// Operations that span several log lines attach a LogContext to their
// context and log through the *Ctx variants; the context fields are then
// prepended to every line.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, bool) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), true
		}
	}
	return LevelInfo, false
}

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// sink is where log lines go and how they are rendered.
type sink struct {
	w     io.Writer
	color bool
	json  bool
}

var (
	// threshold is shared by every handler, so a level change needs no
	// rebuild.
	threshold slog.LevelVar

	mu      sync.RWMutex
	out     = sink{w: os.Stderr}
	slogger *slog.Logger
)

func init() {
	// stdout carries CLI output, so logs default to stderr.
	out.color = isTerminal(os.Stderr.Fd())
	threshold.Set(slog.LevelInfo)
	rebuild()
}

// rebuild replaces the handler after a change of sink.
func rebuild() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: &threshold}
	var h slog.Handler
	if out.json {
		h = slog.NewJSONHandler(out.w, opts)
	} else {
		h = NewColorTextHandler(out.w, opts, out.color)
	}
	slogger = slog.New(h)
}

// Init configures level, format and output. Empty fields keep their
// current value. Output is "stdout", "stderr", or a file appended to.
func Init(cfg Config) error {
	if cfg.Output != "" {
		w, color, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		mu.Lock()
		out.w, out.color = w, color
		mu.Unlock()
		rebuild()
	}
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	return nil
}

func openOutput(name string) (io.Writer, bool, error) {
	switch strings.ToLower(name) {
	case "stdout":
		return os.Stdout, isTerminal(os.Stdout.Fd()), nil
	case "stderr":
		return os.Stderr, isTerminal(os.Stderr.Fd()), nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open log file %q: %w", name, err)
	}
	return f, false, nil
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	if l, ok := ParseLevel(name); ok {
		threshold.Set(l.slog())
	}
}

// SetFormat switches between "text" and "json". Unknown names are ignored.
func SetFormat(format string) {
	switch strings.ToLower(format) {
	case "text":
		mu.Lock()
		out.json = false
		mu.Unlock()
	case "json":
		mu.Lock()
		out.json = true
		mu.Unlock()
	default:
		return
	}
	rebuild()
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

func logAt(ctx context.Context, level slog.Level, msg string, args []any) {
	l := getLogger()
	if !l.Enabled(ctx, level) {
		return
	}
	if lc := FromContext(ctx); lc != nil {
		args = append(lc.attrs(), args...)
	}
	l.Log(ctx, level, msg, args...)
}

// Debug logs at debug level: Debug("message", "key", value, ...)
func Debug(msg string, args ...any) { logAt(context.Background(), slog.LevelDebug, msg, args) }

// Info logs at info level.
func Info(msg string, args ...any) { logAt(context.Background(), slog.LevelInfo, msg, args) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { logAt(context.Background(), slog.LevelWarn, msg, args) }

// Error logs at error level.
func Error(msg string, args ...any) { logAt(context.Background(), slog.LevelError, msg, args) }

// DebugCtx logs at debug level with the LogContext fields of ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelDebug, msg, args)
}

// InfoCtx logs at info level with the LogContext fields of ctx.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelInfo, msg, args)
}

// WarnCtx logs at warn level with the LogContext fields of ctx.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelWarn, msg, args)
}

// ForDir returns a logger bound to a log directory. Components keep one
// per open log so every line names the directory it concerns.
func ForDir(dir string) *slog.Logger {
	return getLogger().With(KeyDir, dir)
}

// Duration returns the time since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
