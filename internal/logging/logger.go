// Package logging provides structured logging for the surrogate
// optimization service. Entries are written as JSON or plain text with
// a fixed timestamp/level/message/caller core plus free-form fields.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"
)

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	DebugLevel LogLevel = "DEBUG"
	InfoLevel  LogLevel = "INFO"
	WarnLevel  LogLevel = "WARN"
	ErrorLevel LogLevel = "ERROR"
	// FatalLevel logs the entry and then exits the process.
	FatalLevel LogLevel = "FATAL"
)

// rank orders levels for threshold filtering. Unknown levels rank
// below Debug and are never emitted.
func rank(level LogLevel) int {
	switch level {
	case DebugLevel:
		return 1
	case InfoLevel:
		return 2
	case WarnLevel:
		return 3
	case ErrorLevel:
		return 4
	case FatalLevel:
		return 5
	}
	return 0
}

// Config selects the log threshold, format and destination.
type Config struct {
	// Level is the minimum level to emit: debug, info, warn, error or fatal.
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
	// Output is "stdout", "stderr" or a file path opened for append.
	Output string `yaml:"output"`
}

// Logger writes structured log entries at or above its threshold.
// Loggers are immutable; WithFields and friends return derived copies.
type Logger struct {
	level  LogLevel
	output io.Writer
	text   bool
	fields map[string]interface{}
}

// New creates a JSON logger with the given threshold and destination.
func New(level LogLevel, output io.Writer) *Logger {
	return &Logger{level: level, output: output}
}

// NewLogger creates a logger from a Config. A nil config yields an
// info-level JSON logger on stderr.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{Level: "info", Format: "json", Output: "stderr"}
	}

	level := LogLevel(strings.ToUpper(cfg.Level))
	if rank(level) == 0 {
		level = InfoLevel
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
		output = f
	}

	return &Logger{
		level:  level,
		output: output,
		text:   cfg.Format == "text",
	}, nil
}

// WithFields returns a logger that attaches the given fields to every entry.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, output: l.output, text: l.text, fields: merged}
}

// WithField returns a logger that attaches one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithError returns a logger with the error field set.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.emit(DebugLevel, msg, first(fields))
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.emit(InfoLevel, msg, first(fields))
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.emit(WarnLevel, msg, first(fields))
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.emit(ErrorLevel, msg, first(fields))
}

// Fatal logs the entry and exits with status 1.
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.emit(FatalLevel, msg, first(fields))
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

func (l *Logger) enabled(level LogLevel) bool {
	r := rank(level)
	return r > 0 && r >= rank(l.level)
}

// emit is called two frames below the public logging method, so the
// caller lookup skips emit and the Debug/Info/... wrapper.
func (l *Logger) emit(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"message":   msg,
		"caller":    callSite(3),
	}
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}

	if l.text {
		l.writeText(entry)
	} else {
		l.writeJSON(entry, level, msg)
	}

	if level == FatalLevel {
		os.Exit(1)
	}
}

func (l *Logger) writeJSON(entry map[string]interface{}, level LogLevel, msg string) {
	data, err := json.Marshal(entry)
	if err != nil {
		// Some field value is unmarshalable; keep the core of the entry.
		fmt.Fprintf(l.output, "%s [%s] %s (unloggable fields: %v)\n",
			entry["timestamp"], level, msg, err)
		return
	}
	data = append(data, '\n')
	_, _ = l.output.Write(data)
}

func (l *Logger) writeText(entry map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", entry["timestamp"], entry["level"], entry["message"])

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "timestamp", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry[k])
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(l.output, b.String())
}

// callSite returns "pkg/file.go:line" for the frame skip levels up.
func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// CtxLogger is a Logger that can be stored in and recovered from a
// context, so request-scoped fields follow the request.
type CtxLogger struct {
	*Logger
}

type ctxLoggerKey struct{}

// FromContext returns the context's logger, or an info-level stderr
// logger when the context carries none.
func FromContext(ctx context.Context) *CtxLogger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*CtxLogger); ok {
		return logger
	}
	return &CtxLogger{New(InfoLevel, os.Stderr)}
}

// WithContext returns a context carrying this logger.
func (l *CtxLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}
