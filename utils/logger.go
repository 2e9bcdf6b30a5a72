package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string onto a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var levelTags = map[Level]struct {
	label string
	color string
}{
	LevelDebug: {"DEBUG", "\033[36m"},
	LevelInfo:  {"INFO ", "\033[32m"},
	LevelWarn:  {"WARN ", "\033[33m"},
	LevelError: {"ERROR", "\033[31m"},
}

// Logger provides leveled logging throughout the application. Component
// loggers created with With share the parent's output and level.
type Logger struct {
	out    *output
	level  Level
	prefix string
	now    func() time.Time
}

type output struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// NewLogger creates a Logger writing to stdout at info level.
func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, LevelInfo)
}

// NewLoggerTo creates a Logger writing to w. Colors are enabled only when w
// is a terminal.
func NewLoggerTo(w io.Writer, level Level) *Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Logger{
		out:   &output{w: w, color: color},
		level: level,
		now:   time.Now,
	}
}

// NewNopLogger discards everything. Handy in tests.
func NewNopLogger() *Logger {
	return NewLoggerTo(io.Discard, LevelError+1)
}

// With returns a logger that prefixes every line with [component].
func (l *Logger) With(component string) *Logger {
	child := *l
	child.prefix = l.prefix + "[" + component + "] "
	return &child
}

// SetLevel changes the minimum level for this logger.
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

func (l *Logger) timestamp() string {
	return l.now().Format("2006-01-02 15:04:05")
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	tag := levelTags[level]
	label := tag.label
	if l.out.color {
		label = tag.color + tag.label + "\033[0m"
	}
	line := fmt.Sprintf("[%s] %s %s%s\n", l.timestamp(), label, l.prefix, fmt.Sprintf(format, args...))

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	_, _ = io.WriteString(l.out.w, line)
}

func (l *Logger) Info(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.logf(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.logf(LevelError, format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.logf(LevelDebug, format, args...)
}
