package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"odatacheck/internal/odata"

	"golang.org/x/time/rate"
)

// RequestBudget paces requests against a service: a token-bucket rate limit
// plus a cooldown whenever the service answers 429 or 503 with Retry-After.
type RequestBudget struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	now      func() time.Time
	cooldown time.Time
	notifyCh chan struct{}
	used     int
}

// NewRequestBudget allows rps requests per second with the given burst.
// rps <= 0 disables the rate limit; the Retry-After cooldown still applies.
func NewRequestBudget(rps float64, burst int) *RequestBudget {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RequestBudget{
		limiter:  rate.NewLimiter(limit, burst),
		now:      time.Now,
		notifyCh: make(chan struct{}),
	}
}

// Used returns how many requests have been admitted.
func (b *RequestBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// CooldownUntil returns the end of the current Retry-After cooldown.
func (b *RequestBudget) CooldownUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}

func (b *RequestBudget) Acquire(ctx context.Context, n int) error {
	if ctx == nil {
		return fmt.Errorf("Acquire: nil context")
	}
	if n <= 0 {
		return fmt.Errorf("Acquire: n must be > 0 (got %d)", n)
	}
	if b == nil {
		return fmt.Errorf("Acquire: nil RequestBudget")
	}
	if b.now == nil || b.limiter == nil {
		return fmt.Errorf("Acquire: RequestBudget not initialized (use NewRequestBudget)")
	}
	if b.notifyCh == nil {
		return fmt.Errorf("Acquire: RequestBudget.notifyCh is nil (use NewRequestBudget)")
	}

	if err := b.waitCooldown(ctx); err != nil {
		return err
	}
	if err := b.limiter.WaitN(ctx, n); err != nil {
		return err
	}
	b.mu.Lock()
	b.used += n
	b.mu.Unlock()
	return nil
}

func (b *RequestBudget) waitCooldown(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()
		if !now.Before(b.cooldown) {
			b.mu.Unlock()
			return nil
		}
		until := b.cooldown
		ch := b.notifyCh
		b.mu.Unlock()

		timer := time.NewTimer(until.Sub(now))
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return ctx.Err()
		case <-ch:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}

func (b *RequestBudget) signalLocked() {
	if b.notifyCh == nil {
		b.notifyCh = make(chan struct{})
		return
	}
	close(b.notifyCh)
	b.notifyCh = make(chan struct{})
}

// UpdateFromResponse extends the cooldown when a 429 or 503 response
// carries Retry-After (delta seconds or an HTTP date).
func (b *RequestBudget) UpdateFromResponse(resp *odata.Response) {
	if resp == nil || b == nil || b.now == nil {
		return
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return
	}
	retryAfter := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retryAfter == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var until time.Time
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		if seconds <= 0 {
			return
		}
		until = now.Add(time.Duration(seconds) * time.Second)
	} else if at, err := http.ParseTime(retryAfter); err == nil {
		until = at
	} else {
		return
	}

	if until.After(b.cooldown) {
		b.cooldown = until
		b.signalLocked()
	}
}
