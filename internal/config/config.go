package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields that affect
	// validation behavior, keep these in sync:
	// - CLI flags in internal/cli/validate.go
	// - report reproducibility command in internal/engine/engine.go:buildReproducibilityCommand
	Targeting Targeting `yaml:"targeting"`
	Rules     Rules     `yaml:"rules"`
	Output    Output    `yaml:"output"`
	Runtime   Runtime   `yaml:"runtime"`
	Auth      Auth      `yaml:"auth"`
	Store     Store     `yaml:"store"`
}

type Targeting struct {
	// Services are the service root URLs to validate (see --service).
	// Values may be provided as repeated flags and/or comma-separated lists.
	Services []string `yaml:"services"`

	// Headers are extra request headers sent with every probe, as Name=Value
	// (see --header).
	Headers []string `yaml:"headers"`

	// MaxVersion is sent as OData-MaxVersion (see --max-version).
	// Allowed values: 4.0, 4.01.
	MaxVersion string `yaml:"max_version"`

	// DryRun resolves services and prints the plan without probing rules (see --dry-run).
	DryRun bool `yaml:"dry_run"`
}

type Rules struct {
	// Selector selects which rules to run.
	// Empty means all rules; otherwise it is a rule selector expression (see --rules).
	Selector string `yaml:"selector"`

	// Levels keeps only rules of these requirement levels (see --level).
	// Allowed values: MUST, SHOULD, MAY. Empty means all.
	Levels []string `yaml:"levels"`

	// Include and Exclude filter rules by name using path.Match globs
	// (see --include-rule, --exclude-rule).
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// Catalogs are extra YAML files declaring composite rules (see --catalog).
	Catalogs []string `yaml:"catalogs"`

	// Set provides per-rule option overrides from the CLI.
	// Entries are of the form ruleID.option=value (repeatable; comma-separated accepted; see --set).
	Set []string `yaml:"set"`

	// Evidence controls how much of each probe is kept in results (see --evidence).
	// Allowed values: minimal, standard, full.
	Evidence string `yaml:"evidence"`
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string `yaml:"console_format"`

	// ConsoleFilterVerdict filters console output by verdict (see --console-filter-verdict).
	// Allowed values: PASS, FAIL, INCONCLUSIVE.
	ConsoleFilterVerdict []string `yaml:"console_filter_verdict"`

	// Report writes a Markdown report to this path (see --report).
	Report string `yaml:"report"`

	// Out writes structured output to this path (see --out).
	Out string `yaml:"out"`

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson, csv, sarif. If empty, it is inferred from the --out file extension.
	OutFormat string `yaml:"out_format"`

	// Emit writes an additional structured event stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string `yaml:"emit"`

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool `yaml:"no_console"`

	// Baseline compares verdicts against a previously written snapshot (see --baseline).
	Baseline string `yaml:"baseline"`

	// WriteBaseline writes this run's verdict snapshot to a path (see --write-baseline).
	WriteBaseline string `yaml:"write_baseline"`

	// Issue publishes the Markdown report as a GitHub issue in OWNER/REPO (see --issue).
	Issue string `yaml:"issue"`
}

type Runtime struct {
	// Concurrency controls how many services are validated at once (see --concurrency).
	// Must be >= 1.
	Concurrency int `yaml:"concurrency"`

	// Parallelism controls how many leaf rules run at once per service (see --parallelism).
	// Must be >= 1.
	Parallelism int `yaml:"parallelism"`

	// Timeout is the global timeout for the run (see --timeout).
	// Must be > 0.
	Timeout time.Duration `yaml:"timeout"`

	// RequestTimeout bounds a single probe (see --request-timeout).
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RPS limits probes per second per service; 0 means unlimited (see --rps).
	RPS float64 `yaml:"rps"`

	// Burst is the token bucket size for --rps (see --burst).
	Burst int `yaml:"burst"`

	// BreakerFailures consecutive transport failures open the circuit for a
	// service (see --breaker-failures).
	BreakerFailures uint32 `yaml:"breaker_failures"`

	// BreakerCooldown is how long an open circuit refuses probes (see --breaker-cooldown).
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	// FailFast stops the run on the first fatal error (see --fail-fast).
	FailFast bool `yaml:"fail_fast"`

	// Verbose enables probe logging and full error details.
	Verbose bool `yaml:"verbose"`

	// LogLevel and LogFormat configure diagnostics on stderr (see --log-level, --log-format).
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type Auth struct {
	// Token is a static bearer token for the target services (see --token).
	// ODATA_TOKEN is used when empty.
	Token string `yaml:"token"`

	// ClientID, ClientSecret, TokenURL and Scopes select the OAuth2 client
	// credentials grant instead of a static token.
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

type Store struct {
	// DSN is a PostgreSQL connection string; results are persisted when set (see --store-dsn).
	DSN string `yaml:"dsn"`
}

func New() *Config {
	return &Config{
		Targeting: Targeting{
			MaxVersion: odata.Version401,
		},
		Rules: Rules{
			Evidence: "standard",
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			Concurrency:     4,
			Parallelism:     8,
			Timeout:         10 * time.Minute,
			RequestTimeout:  30 * time.Second,
			Burst:           1,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
			LogLevel:        "info",
			LogFormat:       "console",
		},
	}
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Targeting.Services = splitCommaList(c.Targeting.Services)
	c.Rules.Set = splitCommaList(c.Rules.Set)
	c.Rules.Levels = splitCommaList(c.Rules.Levels)
	c.Rules.Include = splitCommaList(c.Rules.Include)
	c.Rules.Exclude = splitCommaList(c.Rules.Exclude)
	c.Rules.Catalogs = splitCommaList(c.Rules.Catalogs)
	c.Auth.Scopes = splitCommaList(c.Auth.Scopes)
	c.Output.ConsoleFilterVerdict = splitCommaList(c.Output.ConsoleFilterVerdict)

	// Targeting validation
	if len(c.Targeting.Services) == 0 {
		return errors.New("at least one --service must be provided")
	}
	for i, s := range c.Targeting.Services {
		root, err := odata.NormalizeRoot(s)
		if err != nil {
			return fmt.Errorf("invalid --service value: %w", err)
		}
		c.Targeting.Services[i] = root
	}
	if _, err := ParseHeaders(c.Targeting.Headers); err != nil {
		return err
	}
	c.Targeting.MaxVersion = strings.TrimSpace(c.Targeting.MaxVersion)
	if c.Targeting.MaxVersion == "" {
		c.Targeting.MaxVersion = odata.Version401
	}
	if c.Targeting.MaxVersion != odata.Version40 && c.Targeting.MaxVersion != odata.Version401 {
		return fmt.Errorf("unsupported --max-version: %s (must be one of: 4.0, 4.01)", c.Targeting.MaxVersion)
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}
	for i, v := range c.Output.ConsoleFilterVerdict {
		v = strings.ToUpper(strings.TrimSpace(v))
		if !rules.Verdict(v).Valid() {
			return fmt.Errorf("unsupported --console-filter-verdict: %s (must be one of: PASS, FAIL, INCONCLUSIVE)", v)
		}
		c.Output.ConsoleFilterVerdict[i] = v
	}

	for _, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v == "" {
			return errors.New("--emit must be one of: json, ndjson")
		}
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", v)
		}
	}

	if c.Output.Issue != "" {
		owner, repo, ok := strings.Cut(strings.TrimSpace(c.Output.Issue), "/")
		if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			return fmt.Errorf("invalid --issue value %q: expected OWNER/REPO", c.Output.Issue)
		}
	}

	// Rules validation
	c.Rules.Evidence = normalizeEnumValue(c.Rules.Evidence)
	if c.Rules.Evidence == "" {
		return errors.New("--evidence must be one of: minimal, standard, full")
	}
	if c.Rules.Evidence != "minimal" && c.Rules.Evidence != "standard" && c.Rules.Evidence != "full" {
		return fmt.Errorf("unsupported --evidence: %s (must be one of: minimal, standard, full)", c.Rules.Evidence)
	}
	for i, l := range c.Rules.Levels {
		level, err := rules.ParseLevel(l)
		if err != nil {
			return fmt.Errorf("invalid --level value: %w", err)
		}
		c.Rules.Levels[i] = string(level)
	}
	for _, p := range append(append([]string(nil), c.Rules.Include...), c.Rules.Exclude...) {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid rule pattern %q: %w", p, err)
		}
	}

	// Runtime validation
	if c.Runtime.Concurrency <= 0 {
		return errors.New("--concurrency must be >= 1")
	}
	if c.Runtime.Parallelism <= 0 {
		return errors.New("--parallelism must be >= 1")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	if c.Runtime.RequestTimeout <= 0 {
		return errors.New("--request-timeout must be > 0")
	}
	if c.Runtime.RPS < 0 {
		return errors.New("--rps must be >= 0")
	}
	if c.Runtime.Burst <= 0 {
		c.Runtime.Burst = 1
	}
	c.Runtime.LogFormat = normalizeEnumValue(c.Runtime.LogFormat)
	if c.Runtime.LogFormat != "console" && c.Runtime.LogFormat != "json" {
		return fmt.Errorf("unsupported --log-format: %s (must be one of: console, json)", c.Runtime.LogFormat)
	}

	// Auth validation
	if c.Auth.ClientID != "" || c.Auth.ClientSecret != "" {
		if c.Auth.ClientID == "" || c.Auth.ClientSecret == "" || c.Auth.TokenURL == "" {
			return errors.New("--client-id, --client-secret and --token-url must be provided together")
		}
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			case ".csv":
				c.Output.OutFormat = "csv"
			case ".sarif":
				c.Output.OutFormat = "sarif"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else {
			switch c.Output.OutFormat {
			case "json", "ndjson", "csv", "sarif":
			default:
				return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
			}
		}
	}

	// Ruleset option syntax validation (rule.option=value)
	if len(c.Rules.Set) > 0 {
		if _, err := ParseRuleOptionAssignments(c.Rules.Set); err != nil {
			return err
		}
	}

	return nil
}

// Credentials returns the target-service credentials in the form the odata
// client understands.
func (c *Config) Credentials() odata.Credentials {
	return odata.Credentials{
		Token:        c.Auth.Token,
		ClientID:     c.Auth.ClientID,
		ClientSecret: c.Auth.ClientSecret,
		TokenURL:     c.Auth.TokenURL,
		Scopes:       c.Auth.Scopes,
	}
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ParseHeaders parses Name=Value (or Name: Value) entries.
func ParseHeaders(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, raw := range values {
		sep := "="
		if i, j := strings.Index(raw, ":"), strings.Index(raw, "="); i >= 0 && (j < 0 || i < j) {
			sep = ":"
		}
		name, value, ok := strings.Cut(raw, sep)
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --header entry %q: expected Name=Value", raw)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

// ParseRuleOptionAssignments parses values of the form "ruleID.option=value"
// into target -> value, where target is "ruleID.option".
//
// Rule IDs and option names both contain dots (Minimal.Conformance.1001 and
// allow.services), so the split between them needs the registered rule IDs;
// see SplitRuleOption.
//
// Notes:
// - Entries may be provided via repeated flags and/or comma-delimited lists.
// - This validates syntax only (no validation of rule IDs or option names).
// - Empty values are allowed ("rule.option=").
func ParseRuleOptionAssignments(values []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, raw := range splitCommaList(values) {
		target, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set entry %q: expected rule.option=value", raw)
		}
		target = strings.TrimSpace(target)
		i := strings.Index(target, ".")
		if i <= 0 || i == len(target)-1 || strings.HasSuffix(target, ".") {
			return nil, fmt.Errorf("invalid --set entry %q: expected non-empty rule and option", raw)
		}
		out[target] = strings.TrimSpace(value)
	}
	return out, nil
}

// SplitRuleOption splits target into the longest rule ID from ids that
// prefixes it and the option name that follows.
func SplitRuleOption(target string, ids []string) (ruleID, option string, ok bool) {
	for _, id := range ids {
		if len(id) <= len(ruleID) || !strings.HasPrefix(target, id+".") {
			continue
		}
		ruleID, option = id, target[len(id)+1:]
	}
	return ruleID, option, ruleID != "" && option != ""
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
