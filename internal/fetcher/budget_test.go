package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"odatacheck/internal/odata"
)

func TestRequestBudget(t *testing.T) {
	fixedNow := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("Acquire ok", func(t *testing.T) {
		b := NewRequestBudget(0, 0)
		b.now = func() time.Time { return fixedNow }

		if err := b.Acquire(context.Background(), 2); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if got := b.Used(); got != 2 {
			t.Fatalf("Used() = %d, want 2", got)
		}
	})

	t.Run("Acquire rejects bad input", func(t *testing.T) {
		b := NewRequestBudget(0, 0)
		var nilCtx context.Context
		if err := b.Acquire(nilCtx, 1); err == nil {
			t.Fatalf("expected error for nil context")
		}
		if err := b.Acquire(context.Background(), 0); err == nil {
			t.Fatalf("expected error for n=0")
		}
		var nilBudget *RequestBudget
		if err := nilBudget.Acquire(context.Background(), 1); err == nil {
			t.Fatalf("expected error for nil budget")
		}
	})

	t.Run("Retry-After seconds sets cooldown on 429", func(t *testing.T) {
		b := NewRequestBudget(0, 0)
		b.now = func() time.Time { return fixedNow }

		resp := &odata.Response{StatusCode: http.StatusTooManyRequests, Header: make(http.Header)}
		resp.Header.Set("Retry-After", "30")
		b.UpdateFromResponse(resp)

		if got, want := b.CooldownUntil(), fixedNow.Add(30*time.Second); !got.Equal(want) {
			t.Fatalf("cooldown = %v, want %v", got, want)
		}
	})

	t.Run("Retry-After HTTP date on 503", func(t *testing.T) {
		b := NewRequestBudget(0, 0)
		b.now = func() time.Time { return fixedNow }

		at := fixedNow.Add(2 * time.Minute)
		resp := &odata.Response{StatusCode: http.StatusServiceUnavailable, Header: make(http.Header)}
		resp.Header.Set("Retry-After", at.Format(http.TimeFormat))
		b.UpdateFromResponse(resp)

		if got := b.CooldownUntil(); !got.Equal(at) {
			t.Fatalf("cooldown = %v, want %v", got, at)
		}
	})

	t.Run("Retry-After ignored on success", func(t *testing.T) {
		b := NewRequestBudget(0, 0)
		b.now = func() time.Time { return fixedNow }

		resp := &odata.Response{StatusCode: http.StatusOK, Header: make(http.Header)}
		resp.Header.Set("Retry-After", "30")
		b.UpdateFromResponse(resp)

		if got := b.CooldownUntil(); !got.IsZero() {
			t.Fatalf("cooldown = %v, want zero", got)
		}
	})

	t.Run("Acquire waits out cooldown until context is cancelled", func(t *testing.T) {
		b := NewRequestBudget(0, 0)
		resp := &odata.Response{StatusCode: http.StatusTooManyRequests, Header: make(http.Header)}
		resp.Header.Set("Retry-After", "60")
		b.UpdateFromResponse(resp)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := b.Acquire(ctx, 1)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("rate limit paces requests", func(t *testing.T) {
		b := NewRequestBudget(20, 1)
		start := time.Now()
		for i := 0; i < 3; i++ {
			if err := b.Acquire(context.Background(), 1); err != nil {
				t.Fatalf("Acquire: %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
			t.Fatalf("3 requests at 20 rps took %v, expected >= ~100ms", elapsed)
		}
	})
}
