package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", DebugLevel, true},
		{"info", InfoLevel, true},
		{"warning", WarnLevel, true},
		{"error", ErrorLevel, true},
		{"", InfoLevel, true},
		{"verbose", InfoLevel, false},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if (err == nil) != c.ok {
			t.Fatalf("ParseLevel(%q) err=%v", c.in, err)
		}
		if err == nil && got != c.want {
			t.Fatalf("ParseLevel(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithLevel(WarnLevel), WithOutput(NewWriterOutput(&buf)))
	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn entry missing: %q", out)
	}
}

func TestWithFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(NewWriterOutput(&buf)))
	child := logger.WithComponent("delivery").With(Str("recipient", "wba.1"))
	child.Info("enqueued", Int("attempts", 0))
	out := buf.String()
	for _, want := range []string{"component=delivery", "recipient=wba.1", "attempts=0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithFormatter(&JSONFormatter{}), WithOutput(NewWriterOutput(&buf)))
	logger.Error("boom", Err(nil), Str("op", "ack"))
	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("invalid json output: %v (%q)", err, buf.String())
	}
	if m["level"] != "ERROR" || m["msg"] != "boom" || m["op"] != "ack" {
		t.Fatalf("unexpected json entry: %v", m)
	}
}
