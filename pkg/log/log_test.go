// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %v, expected: %v", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %q, expected: %q", i, l, expected[i])
		}
	}
}

func TestWriterAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if got := strings.Join(tw.lines, ""); got != "no newline\n" {
		t.Errorf("got %q, want trailing newline", got)
	}
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		s    string
		want Level
	}{
		{"warning", Warning},
		{"WARN", Warning},
		{"info", Info},
		{"", Info},
		{"Debug", Debug},
	} {
		got, err := ParseLevel(tc.s)
		if err != nil || got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v", tc.s, got, err, tc.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Errorf("ParseLevel(loud) succeeded")
	}
}

func TestGoogleEmitter(t *testing.T) {
	var b bytes.Buffer
	e, err := NewEmitter("text", &b)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	l := &BasicLogger{Level: Info, Emitter: e}
	l.Infof("hit %d", 42)
	l.Debugf("not logged")
	got := b.String()
	if !strings.HasPrefix(got, "I") || !strings.HasSuffix(got, "] hit 42\n") {
		t.Errorf("unexpected line %q", got)
	}
	if !strings.Contains(got, "log_test.go:") {
		t.Errorf("line %q does not name the caller", got)
	}
}

func TestJSONEmitter(t *testing.T) {
	for _, format := range []string{"json", "json-k8s"} {
		var b bytes.Buffer
		e, err := NewEmitter(format, &b)
		if err != nil {
			t.Fatalf("NewEmitter(%q): %v", format, err)
		}
		e.Emit(0, Warning, time.Unix(0, 0), "flushed %d", 3)
		var m map[string]any
		if err := json.Unmarshal(b.Bytes(), &m); err != nil {
			t.Fatalf("%s: bad json %q: %v", format, b.String(), err)
		}
		key := "msg"
		if format == "json-k8s" {
			key = "log"
		}
		if msg, _ := m[key].(string); !strings.HasSuffix(msg, "flushed 3") {
			t.Errorf("%s: %s = %q", format, key, msg)
		}
		if m["level"] != "warning" {
			t.Errorf("%s: level = %v", format, m["level"])
		}
	}
	if _, err := NewEmitter("xml", &bytes.Buffer{}); err == nil {
		t.Errorf("NewEmitter(xml) succeeded")
	}
}

type countingLogger struct {
	infos int
}

func (c *countingLogger) Debugf(string, ...any) {}

func (c *countingLogger) Infof(string, ...any) { c.infos++ }

func (c *countingLogger) Warningf(string, ...any) {}

func (c *countingLogger) IsLogging(level Level) bool { return true }

func TestRateLimitedLogger(t *testing.T) {
	c := &countingLogger{}
	rl := RateLimitedLogger(c, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Infof("miss")
	}
	if c.infos != 1 {
		t.Errorf("got %d messages through the limiter, want 1", c.infos)
	}
}

func TestRateLimitedLoggerReportsDropped(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: &buf}}
	rl := RateLimitedLogger(l, time.Hour)
	rl.Debugf("below level")
	rl.Infof("miss %d", 0)
	rl.Infof("miss %d", 1)
	rl.Infof("miss %d", 2)

	rl.(*rateLimitedLogger).limit.SetLimit(rate.Inf)
	rl.Infof("miss %d", 3)

	want := "miss 0\nmiss 3 (2 earlier messages dropped)\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCommandFileOpts(t *testing.T) {
	o := CommandFileOpts{Command: "replay", Start: time.Unix(0, 7)}
	if got := o.Build("/tmp/tlbctl.%COMMAND%.%TIMESTAMP%.log"); got != "/tmp/tlbctl.replay.7.log" {
		t.Errorf("Build = %q", got)
	}
}
