package output

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type recordingSink struct {
	writes   []any
	writeErr error
	closeErr error
}

func (s *recordingSink) Write(v any) error {
	s.writes = append(s.writes, v)
	return s.writeErr
}

func (s *recordingSink) Close() error {
	return s.closeErr
}

type otherSink struct{ recordingSink }

func TestManager(t *testing.T) {
	t.Run("writes to all sinks", func(t *testing.T) {
		a, b := &recordingSink{}, &otherSink{}
		mgr := NewManager()
		for _, s := range []Sink{a, b} {
			if err := mgr.AddSink(s); err != nil {
				t.Fatalf("AddSink error: %v", err)
			}
		}
		for _, v := range []string{"v1", "v2"} {
			if err := mgr.Write(v); err != nil {
				t.Fatalf("Write(%s) error: %v", v, err)
			}
		}
		if err := mgr.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
		if len(a.writes) != 2 || len(b.writes) != 2 {
			t.Fatalf("writes: a=%d b=%d, want 2 each", len(a.writes), len(b.writes))
		}
	})

	t.Run("AddSink rejects nil", func(t *testing.T) {
		if err := NewManager().AddSink(nil); err == nil {
			t.Fatalf("AddSink(nil) want error, got nil")
		}
	})

	t.Run("nil manager", func(t *testing.T) {
		var mgr *Manager
		if err := mgr.Write("v"); err == nil {
			t.Fatalf("Write on nil manager want error")
		}
	})

	tests := []struct {
		name string
		a, b *recordingSink
		call func(*Manager) error
		want []string
	}{
		{
			name: "Write aggregates sink errors",
			a:    &recordingSink{writeErr: errors.New("boom-a")},
			b:    &recordingSink{writeErr: errors.New("boom-b")},
			call: func(m *Manager) error { return m.Write("v") },
			want: []string{"errors writing to sinks", "boom-a", "boom-b", "recordingSink", "otherSink"},
		},
		{
			name: "Close aggregates sink errors",
			a:    &recordingSink{closeErr: errors.New("close-a")},
			b:    &recordingSink{closeErr: errors.New("close-b")},
			call: func(m *Manager) error { return m.Close() },
			want: []string{"errors closing sinks", "close-a", "close-b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager()
			_ = mgr.AddSink(tt.a)
			_ = mgr.AddSink(&otherSink{recordingSink: recordingSink{writeErr: tt.b.writeErr, closeErr: tt.b.closeErr}})

			err := tt.call(mgr)
			if err == nil {
				t.Fatalf("want error, got nil")
			}
			for _, want := range tt.want {
				if !strings.Contains(err.Error(), want) {
					t.Fatalf("error missing %q; got: %s", want, err)
				}
			}
		})
	}
}

func TestManager_ConcurrentWritesAreSerialised(t *testing.T) {
	s := &recordingSink{}
	mgr := NewManager()
	if err := mgr.AddSink(s); err != nil {
		t.Fatalf("AddSink: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = mgr.Write(fmt.Sprintf("v%d", i))
		}(i)
	}
	wg.Wait()

	if len(s.writes) != 50 {
		t.Fatalf("want 50 writes, got %d", len(s.writes))
	}
}

func TestManager_ClosedRejectsWrites(t *testing.T) {
	s := &recordingSink{}
	mgr := NewManager()
	_ = mgr.AddSink(s)
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := mgr.Write("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write after Close = %v, want ErrClosed", err)
	}
	if err := mgr.AddSink(&recordingSink{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("AddSink after Close = %v, want ErrClosed", err)
	}
	if len(s.writes) != 0 {
		t.Fatalf("unexpected writes %v", s.writes)
	}
}
