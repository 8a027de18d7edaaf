package output

import (
	"fmt"
	"io"
	"sync"

	"odatacheck/internal/rules"
)

// NewEmitSink returns a stdout sink for --emit. "ndjson" streams one event
// per line as results arrive; "json" buffers results and writes a single
// array when closed.
func NewEmitSink(w io.Writer, format string) (Sink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	switch format {
	case "ndjson":
		return &eventStream{w: w}, nil
	case "json":
		return &resultArray{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported emit format: %s", format)
	}
}

type eventStream struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *eventStream) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeNDJSON(s.w, v)
}

func (s *eventStream) Close() error { return nil }

// resultArray drops lifecycle events.
type resultArray struct {
	mu      sync.Mutex
	w       io.Writer
	results []rules.Result
}

func (s *resultArray) Write(v any) error {
	if r, ok := v.(rules.Result); ok {
		s.mu.Lock()
		s.results = append(s.results, r)
		s.mu.Unlock()
	}
	return nil
}

func (s *resultArray) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONArray(s.w, s.results)
}
