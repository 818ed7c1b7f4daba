package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"sync"
)

// JSONFormatter renders entries as single-line JSON objects.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	m := make(map[string]interface{}, len(entry.Fields)+3)
	m["ts"] = entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	m["level"] = entry.Level.String()
	m["msg"] = entry.Message
	for _, fld := range entry.Fields {
		m[fld.Key] = fld.Value
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TextFormatter renders entries as "ts LEVEL msg key=value ...".
type TextFormatter struct{}

// Format implements Formatter.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(entry.Timestamp.Format("2006-01-02T15:04:05.000"))
	buf.WriteByte(' ')
	buf.WriteString(entry.Level.String())
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)
	for _, fld := range entry.Fields {
		fmt.Fprintf(&buf, " %s=%v", fld.Key, fld.Value)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ConsoleOutput writes formatted entries to stderr.
type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleOutput creates a ConsoleOutput writing to stderr.
func NewConsoleOutput() *ConsoleOutput { return &ConsoleOutput{w: os.Stderr} }

// NewWriterOutput creates an Output writing to an arbitrary writer.
func NewWriterOutput(w io.Writer) *ConsoleOutput { return &ConsoleOutput{w: w} }

// Write implements Output.
func (o *ConsoleOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.w.Write(formatted)
	return err
}

// RedirectStdLog routes standard-library log output (used by Pebble among
// others) through the provided Logger at InfoLevel.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogBridge{logger: logger})
}

type stdLogBridge struct{ logger Logger }

func (b stdLogBridge) Write(p []byte) (int, error) {
	msg := string(bytes.TrimRight(p, "\n"))
	b.logger.Info(msg, Str("source", "stdlog"))
	return len(p), nil
}
