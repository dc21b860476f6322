// Package logging provides simple structured logging for nbdclient.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps stdlib log with level support and lightweight structured
// context (key/value pairs bound via With*).
type Logger struct {
	logger  *log.Logger
	level   LogLevel
	format  string // "text" or "json"
	noColor bool
	fields  []kv
	mu      *sync.Mutex
}

type kv struct {
	key string
	val interface{}
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "text" (default) or "json"
	Output  io.Writer
	Sync    bool // kept for config-shape parity; logging is always synchronous
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger:  log.New(output, "", log.LstdFlags),
		level:   config.Level,
		format:  format,
		noColor: config.NoColor,
		mu:      &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// with returns a copy of l carrying an additional bound key/value pair.
// Used by WithConn/WithCommand/WithError to build request-scoped loggers
// without mutating the parent.
func (l *Logger) with(key string, val interface{}) *Logger {
	fields := make([]kv, len(l.fields), len(l.fields)+1)
	copy(fields, l.fields)
	fields = append(fields, kv{key, val})
	return &Logger{
		logger:  l.logger,
		level:   l.level,
		format:  l.format,
		noColor: l.noColor,
		fields:  fields,
		mu:      l.mu,
	}
}

// WithConn returns a logger that tags every message with a connection tag.
func (l *Logger) WithConn(connTag int) *Logger {
	return l.with("conn", connTag)
}

// WithCommand returns a logger that tags every message with a command's
// handle and type name.
func (l *Logger) WithCommand(handle uint64, cmdType string) *Logger {
	return l.with("handle", handle).with("type", cmdType)
}

// WithError returns a logger that tags every message with an error.
func (l *Logger) WithError(err error) *Logger {
	return l.with("error", err)
}

func formatArgs(fields []kv, args []any) string {
	var result string
	emit := func(k string, v interface{}) {
		if result != "" {
			result += " "
		}
		result += fmt.Sprintf("%v=%v", k, v)
	}
	for _, f := range fields {
		emit(f.key, f.val)
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			emit(fmt.Sprintf("%v", args[i]), args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.format == "json" {
		l.logger.Printf(`{"level":%q,"msg":%q%s}`, prefix, msg, jsonTail(l.fields, args))
		return
	}
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(l.fields, args))
}

func jsonTail(fields []kv, args []any) string {
	var tail string
	emit := func(k string, v interface{}) {
		tail += fmt.Sprintf(`,%q:%q`, k, fmt.Sprintf("%v", v))
	}
	for _, f := range fields {
		emit(f.key, f.val)
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			emit(fmt.Sprintf("%v", args[i]), args[i+1])
		}
	}
	return tail
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, args...) }

// Printf-style logging, for call sites migrated from the Printf/Debugf
// interfaces.Logger contract.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf satisfies interfaces.Logger alongside Debugf.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
