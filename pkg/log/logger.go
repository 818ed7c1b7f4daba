package log

import (
	"sync"
	"time"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string into a Level. Empty input maps to InfoLevel.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "info", "INFO":
		return InfoLevel, nil
	case "debug", "DEBUG":
		return DebugLevel, nil
	case "warn", "warning", "WARN":
		return WarnLevel, nil
	case "error", "ERROR":
		return ErrorLevel, nil
	}
	return InfoLevel, &InvalidLevelError{Input: s}
}

// InvalidLevelError reports an unrecognized level string.
type InvalidLevelError struct{ Input string }

func (e *InvalidLevelError) Error() string { return "log: invalid level " + e.Input }

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field from a key and an arbitrary value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Str builds a string Field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an int Field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 builds an int64 Field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Dur builds a duration Field rendered as its string form.
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value.String()} }

// Err builds an error Field under the conventional "error" key.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags log entries with a component name.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// Entry represents a single log entry handed to formatters and outputs.
type Entry struct {
	Level     Level
	Message   string
	Fields    []Field
	Timestamp time.Time
}

// Logger is the structured logging interface used across Courier components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger carrying the extra fields on every entry.
	With(fields ...Field) Logger

	// WithComponent tags all entries with a component name.
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Formatter renders an Entry into bytes.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(entry *Entry, formatted []byte) error
}

// LoggerOption configures a BaseLogger.
type LoggerOption func(*BaseLogger)

// BaseLogger implements Logger over a formatter and a set of outputs.
type BaseLogger struct {
	mu        sync.Mutex
	level     Level
	fields    []Field
	formatter Formatter
	outputs   []Output
}

// NewLogger creates a logger with the given options. Defaults: InfoLevel,
// text formatting, console output.
func NewLogger(options ...LoggerOption) Logger {
	l := &BaseLogger{level: InfoLevel, formatter: &TextFormatter{}}
	for _, opt := range options {
		opt(l)
	}
	if len(l.outputs) == 0 {
		l.outputs = append(l.outputs, NewConsoleOutput())
	}
	return l
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.level = level }
}

// WithFormatter sets the formatter.
func WithFormatter(f Formatter) LoggerOption {
	return func(l *BaseLogger) { l.formatter = f }
}

// WithOutput adds an output.
func WithOutput(o Output) LoggerOption {
	return func(l *BaseLogger) { l.outputs = append(l.outputs, o) }
}

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	entry := &Entry{
		Level:     level,
		Message:   msg,
		Timestamp: time.Now(),
		Fields:    make([]Field, 0, len(l.fields)+len(fields)),
	}
	entry.Fields = append(entry.Fields, l.fields...)
	entry.Fields = append(entry.Fields, fields...)
	formatted, err := l.formatter.Format(entry)
	if err != nil {
		return
	}
	for _, out := range l.outputs {
		_ = out.Write(entry, formatted)
	}
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *BaseLogger) With(fields ...Field) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	child := &BaseLogger{
		level:     l.level,
		formatter: l.formatter,
		outputs:   l.outputs,
		fields:    make([]Field, 0, len(l.fields)+len(fields)),
	}
	child.fields = append(child.fields, l.fields...)
	child.fields = append(child.fields, fields...)
	return child
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *BaseLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *BaseLogger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}
