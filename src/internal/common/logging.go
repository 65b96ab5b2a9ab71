package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LogTrace LogLevel = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
)

// LevelTrace sits below slog.LevelDebug so forwarded server trace records keep
// their own severity.
const LevelTrace = slog.Level(-8)

var logLevelNames = map[LogLevel]string{
	LogTrace: "trace",
	LogDebug: "debug",
	LogInfo:  "info",
	LogWarn:  "warn",
	LogError: "error",
}

// String returns the lower-case level name used in config files and server logs.
func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Slog maps the level onto the slog scale.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogTrace:
		return LevelTrace
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel parses a level name case-insensitively. "warning" is accepted
// as an alias for "warn".
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LogTrace, true
	case "debug":
		return LogDebug, true
	case "info":
		return LogInfo, true
	case "warn", "warning":
		return LogWarn, true
	case "error":
		return LogError, true
	default:
		return LogInfo, false
	}
}

var (
	stderrLevel  = new(slog.LevelVar)
	stderrLogger atomic.Pointer[slog.Logger]
)

func init() {
	if os.Getenv(EnvDebug) == trueStr {
		stderrLevel.Set(slog.LevelDebug)
	}
	SetOutput(os.Stderr)
}

// SetOutput redirects host logging. Terminals get the text handler, anything
// else gets JSON lines.
func SetOutput(w io.Writer) {
	opts := &slog.HandlerOptions{Level: stderrLevel, ReplaceAttr: replaceLevelName}

	var handler slog.Handler
	if isTerminal(w) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	stderrLogger.Store(slog.New(handler))
}

// SetLevel sets the minimum level of host logging.
func SetLevel(level LogLevel) {
	stderrLevel.Set(level.Slog())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level <= LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// SafeLogger writes printf-style messages to stderr only, so that stdout stays
// free for the editor bridge protocol.
type SafeLogger struct {
	prefix string
}

// NewSafeLogger creates a new safe logger with the given prefix
func NewSafeLogger(prefix string) *SafeLogger {
	return &SafeLogger{prefix: prefix}
}

func (l *SafeLogger) log(level slog.Level, format string, args ...interface{}) {
	logger := stderrLogger.Load()
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.Log(ctx, level, fmt.Sprintf(format, args...), "component", l.prefix)
}

// Debug logs a debug message
func (l *SafeLogger) Debug(format string, args ...interface{}) {
	l.log(slog.LevelDebug, format, args...)
}

// Info logs an info message
func (l *SafeLogger) Info(format string, args ...interface{}) {
	l.log(slog.LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *SafeLogger) Warn(format string, args ...interface{}) {
	l.log(slog.LevelWarn, format, args...)
}

// Error logs an error message
func (l *SafeLogger) Error(format string, args ...interface{}) {
	l.log(slog.LevelError, format, args...)
}

// Global logger instances for convenience
var (
	CLILogger       = NewSafeLogger("CLI")
	ServerLogger    = NewSafeLogger("Server")
	UpdateLogger    = NewSafeLogger("Updater")
	WorkspaceLogger = NewSafeLogger("Workspace")
	BridgeLogger    = NewSafeLogger("Bridge")
)

// LogSink is the per-workspace destination for records emitted by a reference
// server. Logging after Close is a no-op.
type LogSink struct {
	name   string
	logger *slog.Logger
	closer io.Closer

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// OpenLogSink opens (appending) <dir>/<name>.log.
func OpenLogSink(dir, name string) (*LogSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, SanitizeFileName(name)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	return newLogSink(name, file, file), nil
}

// NewLogSink wraps an arbitrary writer. If w is an io.Closer it is closed by Close.
func NewLogSink(name string, w io.Writer) *LogSink {
	closer, _ := w.(io.Closer)
	return newLogSink(name, w, closer)
}

func newLogSink(name string, w io.Writer, closer io.Closer) *LogSink {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       LevelTrace,
		ReplaceAttr: replaceLevelName,
	})
	return &LogSink{
		name:   name,
		logger: slog.New(handler).With("workspace", name),
		closer: closer,
	}
}

// Name returns the workspace name the sink was opened for.
func (s *LogSink) Name() string {
	return s.name
}

// Log writes one record at the given level.
func (s *LogSink) Log(level LogLevel, msg string, attrs ...slog.Attr) {
	if s == nil || s.closed.Load() {
		return
	}
	s.logger.LogAttrs(context.Background(), level.Slog(), msg, attrs...)
}

// Close closes the underlying writer once.
func (s *LogSink) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}

// SanitizeFileName replaces anything outside [A-Za-z0-9._-] with '_'.
func SanitizeFileName(name string) string {
	if name == "" {
		return "workspace"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
