package fetcher

import (
	"context"
	"fmt"
	"sync"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
)

// DataFetcher loads one kind of shared service document. Providers register
// themselves from init.
type DataFetcher interface {
	Key() data.DependencyKey
	Fetch(ctx context.Context, svc *odata.Service, params map[string]string, f *Fetcher) (any, error)
}

var providers sync.Map // data.DependencyKey -> DataFetcher

// RegisterDataFetcher panics on a nil provider, an empty key or a duplicate key.
func RegisterDataFetcher(df DataFetcher) {
	if df == nil {
		panic("fetcher: nil data fetcher")
	}
	key := df.Key()
	if key == "" {
		panic("fetcher: data fetcher with empty key")
	}
	if _, dup := providers.LoadOrStore(key, df); dup {
		panic(fmt.Sprintf("fetcher: duplicate data fetcher for %s", key))
	}
}

func ResolveDataFetcher(key data.DependencyKey) (DataFetcher, bool) {
	v, ok := providers.Load(key)
	if !ok {
		return nil, false
	}
	return v.(DataFetcher), true
}
