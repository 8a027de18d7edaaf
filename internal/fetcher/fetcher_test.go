package fetcher_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"odatacheck/internal/data"
	"odatacheck/internal/fetcher"
	"odatacheck/internal/odata"
)

type testCycleFetcher struct {
	key    data.DependencyKey
	target data.DependencyKey
}

func (t *testCycleFetcher) Key() data.DependencyKey { return t.key }

func (t *testCycleFetcher) Fetch(ctx context.Context, svc *odata.Service, _ map[string]string, f *fetcher.Fetcher) (any, error) {
	return f.Fetch(ctx, svc, t.target, nil)
}

type testValueFetcher struct {
	key   data.DependencyKey
	calls *int32
}

func (t *testValueFetcher) Key() data.DependencyKey { return t.key }

func (t *testValueFetcher) Fetch(_ context.Context, svc *odata.Service, params map[string]string, _ *fetcher.Fetcher) (any, error) {
	atomic.AddInt32(t.calls, 1)
	return svc.Root + params["p"], nil
}

const (
	testValueKey  data.DependencyKey = "test.value"
	testCycleAKey data.DependencyKey = "test.cycle.a"
	testCycleBKey data.DependencyKey = "test.cycle.b"
)

var (
	testValueCalls int32
	testOnce       sync.Once
)

func ensureTestFetchersRegistered() {
	testOnce.Do(func() {
		fetcher.RegisterDataFetcher(&testValueFetcher{key: testValueKey, calls: &testValueCalls})
		fetcher.RegisterDataFetcher(&testCycleFetcher{key: testCycleAKey, target: testCycleBKey})
		fetcher.RegisterDataFetcher(&testCycleFetcher{key: testCycleBKey, target: testCycleAKey})
	})
}

func newTestFetcher(t *testing.T, serverURL string) *fetcher.Fetcher {
	t.Helper()
	client, err := odata.NewClient(context.Background(), serverURL)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return fetcher.NewFetcher(client, fetcher.NewRequestBudget(0, 0))
}

func TestFetcher_CachesPerServiceAndParams(t *testing.T) {
	ensureTestFetchersRegistered()
	f := newTestFetcher(t, "http://odata.invalid/svc")
	atomic.StoreInt32(&testValueCalls, 0)

	svc := &odata.Service{Root: "http://odata.invalid/svc/"}
	for i := 0; i < 3; i++ {
		v, err := f.Fetch(context.Background(), svc, testValueKey, map[string]string{"p": "x"})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if v != "http://odata.invalid/svc/x" {
			t.Fatalf("value = %v", v)
		}
	}
	if _, err := f.Fetch(context.Background(), svc, testValueKey, map[string]string{"p": "y"}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := atomic.LoadInt32(&testValueCalls); got != 2 {
		t.Fatalf("expected 2 underlying fetches, got %d", got)
	}
}

func TestFetcher_DetectsFetchCycle(t *testing.T) {
	ensureTestFetchersRegistered()
	f := newTestFetcher(t, "http://odata.invalid/svc")

	_, err := f.Fetch(context.Background(), &odata.Service{Root: "http://odata.invalid/svc/"}, testCycleAKey, nil)
	if err == nil || !strings.Contains(err.Error(), "dependency cycle detected") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestFetcher_Validation(t *testing.T) {
	ensureTestFetchersRegistered()
	f := newTestFetcher(t, "http://odata.invalid/svc")

	tests := []struct {
		name string
		svc  *odata.Service
		key  data.DependencyKey
		want string
	}{
		{"nil service", nil, testValueKey, "nil service"},
		{"empty key", &odata.Service{Root: "http://x/"}, "", "empty dependency key"},
		{"empty root", &odata.Service{}, testValueKey, "service root is required"},
		{"unknown key", &odata.Service{Root: "http://x/"}, "nope", "unsupported dependency key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), tt.svc, tt.key, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q, got %v", tt.want, err)
			}
		})
	}

	var nilFetcher *fetcher.Fetcher
	if _, err := nilFetcher.Fetch(context.Background(), &odata.Service{Root: "http://x/"}, testValueKey, nil); err == nil {
		t.Fatalf("expected error for nil fetcher")
	}
}

func TestFetcher_DoAndGetChargeBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/svc/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, srv.URL+"/svc")
	if _, err := f.Do(context.Background(), odata.Get("People")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	_, err := f.Get(context.Background(), "missing", "")
	var se *odata.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if got := f.Budget().Used(); got != 2 {
		t.Fatalf("budget used = %d, want 2", got)
	}
}
