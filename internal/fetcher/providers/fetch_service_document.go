package providers

import (
	"context"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/data/models"
	"odatacheck/internal/fetcher"
	"odatacheck/internal/odata"
)

type serviceDocumentFetcher struct{}

func (s *serviceDocumentFetcher) Key() data.DependencyKey { return data.DepServiceRoot }

// Fetch loads the JSON service document. A document that parses but does not
// match the JSON format is still returned; judging it is a rule's job.
func (s *serviceDocumentFetcher) Fetch(ctx context.Context, svc *odata.Service, _ map[string]string, f *fetcher.Fetcher) (any, error) {
	resp, err := f.Get(ctx, "", "application/json")
	if err != nil {
		return nil, err
	}
	doc, err := models.ParseServiceDocument(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", resp.URL, err)
	}
	doc.Version = resp.Header.Get("OData-Version")
	return doc, nil
}

func init() {
	fetcher.RegisterDataFetcher(&serviceDocumentFetcher{})
}
