package fetcher

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
)

func TestMemo_ConcurrentLoadsShareOneCall(t *testing.T) {
	var m memo
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.load("svc:metadata", func() (any, error) {
				calls.Add(1)
				<-release
				return "csdl", nil
			})
			if err != nil || v != "csdl" {
				t.Errorf("load() = %v, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
}

func TestMemo_CachesSuccessOnly(t *testing.T) {
	var m memo
	calls := 0
	failing := func() (any, error) {
		calls++
		return nil, errors.New("503")
	}
	for i := 0; i < 2; i++ {
		if _, err := m.load("k", failing); err == nil {
			t.Fatal("expected error")
		}
	}
	if calls != 2 {
		t.Fatalf("errors must not be cached, got %d calls", calls)
	}

	ok := func() (any, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 3; i++ {
		v, err := m.load("k", ok)
		if err != nil || v != 42 {
			t.Fatalf("load() = %v, %v", v, err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected cached value after first success, got %d calls", calls)
	}
}

func TestDocumentKey(t *testing.T) {
	a := documentKey(&odata.Service{Root: "HTTP://Host/svc/"}, data.DepServiceMetadata, map[string]string{"b": "2", "a": "1"})
	b := documentKey(&odata.Service{Root: "http://host/svc/"}, data.DepServiceMetadata, map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	c := documentKey(&odata.Service{Root: "http://host/svc/"}, data.DepServiceMetadata, map[string]string{"a": "1 b=2"})
	if c == b {
		t.Fatal("parameter values must not collide with separators")
	}
}
