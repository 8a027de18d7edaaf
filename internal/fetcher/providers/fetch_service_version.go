package providers

import (
	"context"
	"strings"

	"odatacheck/internal/data"
	"odatacheck/internal/data/models"
	"odatacheck/internal/fetcher"
	"odatacheck/internal/odata"
)

type serviceVersionFetcher struct{}

func (v *serviceVersionFetcher) Key() data.DependencyKey { return data.DepServiceVersion }

// Fetch resolves the service's OData version from the service document's
// OData-Version header, falling back to what discovery recorded. An unknown
// version is "", not an error.
func (v *serviceVersionFetcher) Fetch(ctx context.Context, svc *odata.Service, _ map[string]string, f *fetcher.Fetcher) (any, error) {
	val, err := f.Fetch(ctx, svc, data.DepServiceRoot, nil)
	if err != nil {
		return nil, err
	}
	if doc, ok := val.(*models.ServiceDocument); ok && doc != nil {
		if version := strings.TrimSpace(doc.Version); version != "" {
			return version, nil
		}
	}
	return svc.Version, nil
}

func init() {
	fetcher.RegisterDataFetcher(&serviceVersionFetcher{})
}
