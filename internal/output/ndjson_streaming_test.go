package output

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// firstLine returns a sink writing through a large bufio.Writer into a pipe
// and a channel yielding the first line read from the other end. A sink that
// does not flush per write never delivers that line.
func firstLine(t *testing.T) (*bufio.Writer, <-chan string) {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() {
		_ = pw.Close()
		_ = pr.Close()
	})
	lines := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(pr).ReadString('\n')
		if err == nil {
			lines <- line
		}
		close(lines)
	}()
	return bufio.NewWriterSize(pw, 64*1024), lines
}

func awaitLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-lines:
		if !ok {
			t.Fatal("pipe closed before a full line arrived")
		}
		return line
	case <-time.After(250 * time.Millisecond):
		t.Fatal("no line within 250ms; sink did not flush")
	}
	return ""
}

func TestStreamingSinks_FlushEachEvent(t *testing.T) {
	tests := []struct {
		name  string
		sink  func(io.Writer) Sink
		event Event
		want  []string
	}{
		{
			name: "emit ndjson",
			sink: func(w io.Writer) Sink {
				s, _ := NewEmitSink(w, "ndjson")
				return s
			},
			event: Event{Type: EventRunStarted, RunID: "run-1"},
			want:  []string{`"type":"run.started"`, `"run_id":"run-1"`},
		},
		{
			name:  "console ndjson",
			sink:  func(w io.Writer) Sink { return NewConsoleSink(w, "ndjson") },
			event: Event{Type: EventServiceStarted, Service: testService, Version: "4.01"},
			want:  []string{`"type":"service.started"`, `"service":"` + testService + `"`, `"odata_version":"4.01"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, lines := firstLine(t)
			if err := tt.sink(w).Write(tt.event); err != nil {
				t.Fatalf("Write: %v", err)
			}
			line := awaitLine(t, lines)
			for _, want := range tt.want {
				if !strings.Contains(line, want) {
					t.Errorf("line %q missing %s", line, want)
				}
			}
		})
	}
}

func TestFileSink_NDJSON_WritesIncrementally(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.ndjson")

	s, err := NewFileSink(path, "ndjson")
	if err != nil {
		t.Fatalf("NewFileSink returned error: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Write(Event{Type: EventRunStarted, RunID: "run-1"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	b1, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(b1), "\"type\":\"run.started\"") {
		t.Fatalf("expected run.started to be present after first Write, got %q", string(b1))
	}
	if !strings.HasSuffix(string(b1), "\n") {
		t.Fatalf("expected first Write to end with newline, got %q", string(b1))
	}

	if err := s.Write(Event{Type: EventRunFinished, ExitCode: 1}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	b2, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b2)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 ndjson lines after two Writes, got %d: %q", len(lines), string(b2))
	}
}
