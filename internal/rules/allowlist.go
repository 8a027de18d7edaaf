package rules

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"odatacheck/internal/odata"
)

// AllowList handles common waiver logic for rules.
// It supports waiving by service root (exact match), glob pattern, and OData version.
type AllowList struct {
	Services map[string]bool
	Patterns []string
	Versions []string
}

// Options returns the standard configuration options for waivers.
func (a *AllowList) Options() []Option {
	return []Option{
		{
			Name:        "allow.services",
			Description: "Comma-separated list of service roots whose failures are waived.",
		},
		{
			Name:        "allow.patterns",
			Description: "Comma-separated list of wildcard patterns matched against the service root or its host (e.g. staging.*).",
		},
		{
			Name:        "allow.versions",
			Description: "Comma-separated list of OData versions. Failures on a service reporting one of them are waived.",
		},
	}
}

// Configure parses the configuration options to populate the AllowList.
func (a *AllowList) Configure(opts map[string]string) {
	a.Services = make(map[string]bool)
	a.Patterns = nil
	a.Versions = nil

	for _, s := range splitOption(opts["allow.services"]) {
		if root, err := odata.NormalizeRoot(s); err == nil {
			s = root
		}
		a.Services[strings.ToLower(s)] = true
	}
	for _, s := range splitOption(opts["allow.patterns"]) {
		// Patterns are lowercased to support case-insensitive matching
		a.Patterns = append(a.Patterns, strings.ToLower(s))
	}
	a.Versions = append(a.Versions, splitOption(opts["allow.versions"])...)
}

func splitOption(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(val, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsAllowed checks if the service is waived by any of the configured rules.
// It returns true and a reason string if allowed, otherwise false and empty string.
func (a *AllowList) IsAllowed(svc *odata.Service) (bool, string) {
	if svc == nil {
		return false, ""
	}

	root := strings.ToLower(svc.Root)
	if a.Services[root] {
		return true, "allow.services"
	}

	candidates := []string{root, strings.TrimSuffix(root, "/")}
	if u, err := url.Parse(root); err == nil && u.Host != "" {
		candidates = append(candidates, u.Host)
	}
	for _, pattern := range a.Patterns {
		for _, c := range candidates {
			if matched, _ := path.Match(pattern, c); matched {
				return true, "allow.patterns"
			}
		}
	}

	if svc.Version != "" {
		for _, v := range a.Versions {
			if v == svc.Version {
				return true, "allow.versions"
			}
		}
	}

	return false, ""
}

// CheckOutcome applies the waiver: a failure on a waived service becomes a
// pass marked Waived. Error messages move into the outcome message so the
// details stay a plain audit trail.
func (a *AllowList) CheckOutcome(svc *odata.Service, out Outcome) Outcome {
	if out.Verdict != VerdictFail {
		return out
	}
	allowed, reason := a.IsAllowed(svc)
	if !allowed {
		return out
	}
	msg := out.Message
	if msg == "" {
		msg = strings.Join(out.ErrorMessages(), "; ")
	}
	waived := Outcome{
		Rule:    out.Rule,
		Verdict: VerdictPass,
		Message: fmt.Sprintf("Waived failure: %s (waived by %s)", msg, reason),
		Waived:  true,
		Details: clearErrors(cloneDetails(out.Details)),
	}
	return waived
}
