package fetcher

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
)

// Fetcher loads the shared documents of one service. Every request it makes,
// including rule probes issued through Do, is charged to the request budget.
type Fetcher struct {
	client *odata.Client
	budget *RequestBudget
	docs   *memo
}

type fetchChainKey struct{}

func NewFetcher(client *odata.Client, budget *RequestBudget) *Fetcher {
	return &Fetcher{
		client: client,
		budget: budget,
		docs:   &memo{},
	}
}

func (f *Fetcher) Budget() *RequestBudget {
	return f.budget
}

func (f *Fetcher) Client() *odata.Client {
	return f.client
}

// Do issues a rule probe within the request budget.
func (f *Fetcher) Do(ctx context.Context, req odata.Request) (*odata.Response, error) {
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	if err := f.budget.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	resp, err := f.client.Do(ctx, req)
	f.budget.UpdateFromResponse(resp)
	return resp, err
}

// Get fetches a shared document within the request budget. Non-2xx
// responses are returned as *odata.StatusError.
func (f *Fetcher) Get(ctx context.Context, ref, accept string) (*odata.Response, error) {
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	if err := f.budget.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	resp, err := f.client.Fetch(ctx, ref, accept)
	f.budget.UpdateFromResponse(resp)
	return resp, err
}

func (f *Fetcher) check(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("Fetch: nil context")
	}
	if f == nil {
		return fmt.Errorf("Fetch: nil Fetcher")
	}
	if f.client == nil {
		return fmt.Errorf("Fetch: nil OData client (use NewFetcher)")
	}
	if f.budget == nil {
		return fmt.Errorf("Fetch: nil request budget (use NewFetcher)")
	}
	if f.docs == nil {
		return fmt.Errorf("Fetch: nil document cache (use NewFetcher)")
	}
	return nil
}

func (f *Fetcher) Fetch(ctx context.Context, svc *odata.Service, key data.DependencyKey, params map[string]string) (any, error) {
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, fmt.Errorf("Fetch: nil service")
	}
	if key == "" {
		return nil, fmt.Errorf("Fetch: empty dependency key")
	}
	if svc.Root == "" {
		return nil, fmt.Errorf("Fetch: service root is required")
	}

	provider, ok := ResolveDataFetcher(key)
	if !ok {
		return nil, fmt.Errorf("unsupported dependency key: %s", key)
	}

	id := documentKey(svc, key, params)
	ctx, err := withFetchChain(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.docs.load(id, func() (any, error) {
		return provider.Fetch(ctx, svc, params, f)
	})
}

// withFetchChain records id on the chain of documents being loaded and
// rejects a provider that transitively requests its own document.
func withFetchChain(ctx context.Context, id string) (context.Context, error) {
	chain, _ := ctx.Value(fetchChainKey{}).([]string)
	if slices.Contains(chain, id) {
		return nil, fmt.Errorf("Fetch: dependency cycle detected: %s -> %s", strings.Join(chain, " -> "), id)
	}
	return context.WithValue(ctx, fetchChainKey{}, append(slices.Clip(chain), id)), nil
}

// documentKey identifies a document across services and parameter variants.
// Service roots compare case-insensitively.
func documentKey(svc *odata.Service, key data.DependencyKey, params map[string]string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(svc.Root))
	b.WriteByte(' ')
	b.WriteString(string(key))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		b.WriteByte(' ')
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
