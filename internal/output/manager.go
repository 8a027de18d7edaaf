package output

import (
	"errors"
	"fmt"
	"sync"
)

// Sink receives rule results and lifecycle events.
type Sink interface {
	Write(v any) error
	Close() error
}

// ErrClosed is returned by a Manager after Close.
var ErrClosed = errors.New("output manager is closed")

// Manager broadcasts to every sink under one lock, so a sink never sees
// interleaved writes from concurrently validated services.
type Manager struct {
	mu     sync.Mutex
	sinks  []Sink
	closed bool
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) AddSink(s Sink) error {
	if s == nil {
		return fmt.Errorf("sink must not be nil")
	}
	return m.locked(func() error {
		m.sinks = append(m.sinks, s)
		return nil
	})
}

func (m *Manager) Write(v any) error {
	return m.locked(func() error {
		return broadcast(m.sinks, "write", "errors writing to sinks", func(s Sink) error { return s.Write(v) })
	})
}

// Close closes every sink even when some fail. Later calls are no-ops.
func (m *Manager) Close() error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return broadcast(m.sinks, "close", "errors closing sinks", Sink.Close)
}

func (m *Manager) locked(fn func() error) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return fn()
}

func broadcast(sinks []Sink, op, summary string, fn func(Sink) error) error {
	var errs []error
	for _, s := range sinks {
		if err := fn(s); err != nil {
			errs = append(errs, fmt.Errorf("%s %T: %w", op, s, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", summary, errors.Join(errs...))
}
