package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"odatacheck/internal/config"
	"odatacheck/internal/data"
	"odatacheck/internal/fetcher"
	"odatacheck/internal/odata"
)

// ServiceTarget is one resolved service together with the fetcher that
// probes it. Each service gets its own client, circuit breaker and request
// budget.
type ServiceTarget struct {
	Service *odata.Service
	Fetcher *fetcher.Fetcher
	// ResolveErr records why the version probe failed, if it did. The
	// service is still validated; its rules report Inconclusive.
	ResolveErr error
}

// Root is the normalized service root.
func (t ServiceTarget) Root() string {
	if t.Service == nil {
		return ""
	}
	return t.Service.Root
}

// ClientOptions builds the odata client options shared by every target.
func ClientOptions(cfg *config.Config, logger zerolog.Logger) ([]odata.Option, error) {
	headers, err := config.ParseHeaders(cfg.Targeting.Headers)
	if err != nil {
		return nil, err
	}
	auth, err := odata.AuthOptions(cfg.Credentials())
	if err != nil {
		return nil, err
	}
	opts := []odata.Option{
		odata.WithVerbose(cfg.Runtime.Verbose, logger),
		odata.WithHeaders(headers),
		odata.WithTimeout(cfg.Runtime.RequestTimeout),
		odata.WithMaxVersion(cfg.Targeting.MaxVersion),
		odata.WithBreaker(cfg.Runtime.BreakerFailures, cfg.Runtime.BreakerCooldown),
	}
	return append(opts, auth...), nil
}

// ResolveServices normalizes and deduplicates the configured service roots,
// builds a fetcher per service and probes each root for its OData version.
// Invalid roots are fatal; unreachable services are not.
func ResolveServices(ctx context.Context, cfg *config.Config, logger zerolog.Logger, extra ...odata.Option) ([]ServiceTarget, error) {
	roots, err := normalizeRoots(cfg.Targeting.Services)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no services to validate")
	}

	opts, err := ClientOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	headers, _ := config.ParseHeaders(cfg.Targeting.Headers)
	targets := make([]ServiceTarget, 0, len(roots))
	for _, root := range roots {
		client, err := odata.NewClient(ctx, root, opts...)
		if err != nil {
			return nil, err
		}
		svc := &odata.Service{Root: client.Root(), Headers: headers}
		f := fetcher.NewFetcher(client, fetcher.NewRequestBudget(cfg.Runtime.RPS, cfg.Runtime.Burst))
		t := ServiceTarget{Service: svc, Fetcher: f}

		v, err := f.Fetch(ctx, svc, data.DepServiceVersion, nil)
		if err != nil {
			t.ResolveErr = err
			logger.Warn().Str("service", root).Err(err).Msg("service root probe failed")
		} else if version, ok := v.(string); ok {
			svc.Version = version
		}
		logger.Debug().Str("service", root).Str("version", svc.Version).Msg("service resolved")
		targets = append(targets, t)
	}
	return targets, nil
}

func normalizeRoots(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, r := range raw {
		root, err := odata.NormalizeRoot(r)
		if err != nil {
			return nil, err
		}
		if seen[root] {
			continue
		}
		seen[root] = true
		out = append(out, root)
	}
	sort.Strings(out)
	return out, nil
}
