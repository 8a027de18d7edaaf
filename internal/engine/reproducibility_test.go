package engine

import (
	"strings"
	"testing"
	"time"

	"odatacheck/internal/config"
)

func TestBuildReproducibilityCommand(t *testing.T) {
	cfg := config.New()
	cfg.Targeting.Services = []string{"https://example.com/svc/"}
	cfg.Targeting.Headers = []string{"X-Api-Key=abc123"}
	cfg.Rules.Selector = "Minimal.*,!Minimal.Conformance.4"
	cfg.Rules.Levels = []string{"MUST"}
	cfg.Rules.Evidence = "full"
	cfg.Runtime.Parallelism = 2
	cfg.Runtime.RequestTimeout = 5 * time.Second
	cfg.Runtime.FailFast = true
	cfg.Auth.ClientID = "client"
	cfg.Auth.ClientSecret = "s3cret"
	cfg.Auth.TokenURL = "https://login.example.com/token"

	got := buildReproducibilityCommand(cfg)

	for _, want := range []string{
		"odatacheck validate",
		"--service https://example.com/svc/",
		"--header 'X-Api-Key=<redacted>'",
		"--rules 'Minimal.*,!Minimal.Conformance.4'",
		"--level MUST",
		"--evidence full",
		"--parallelism 2",
		"--request-timeout 5s",
		"--fail-fast",
		"--client-id client",
		"--client-secret '<redacted>'",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("command %q missing %q", got, want)
		}
	}
	for _, secret := range []string{"abc123", "s3cret"} {
		if strings.Contains(got, secret) {
			t.Fatalf("command leaked %q: %s", secret, got)
		}
	}
	for _, unchanged := range []string{"--concurrency", "--timeout ", "--max-version"} {
		if strings.Contains(got, unchanged) {
			t.Errorf("default flag %q should be omitted: %s", unchanged, got)
		}
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"plain":     "plain",
		"":          "''",
		"a b":       "'a b'",
		"it's":      `'it'\''s'`,
		"Minimal.*": "'Minimal.*'",
	}
	for in, want := range tests {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
