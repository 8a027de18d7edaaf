package providers

import (
	"context"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/data/models"
	"odatacheck/internal/fetcher"
	"odatacheck/internal/odata"
)

type metadataFetcher struct{}

func (m *metadataFetcher) Key() data.DependencyKey { return data.DepServiceMetadata }

func (m *metadataFetcher) Fetch(ctx context.Context, svc *odata.Service, _ map[string]string, f *fetcher.Fetcher) (any, error) {
	resp, err := f.Get(ctx, "$metadata", "application/xml")
	if err != nil {
		return nil, err
	}
	md, err := models.ParseMetadata(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", resp.URL, err)
	}
	return md, nil
}

func init() {
	fetcher.RegisterDataFetcher(&metadataFetcher{})
}
