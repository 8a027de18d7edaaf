package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"odatacheck/internal/config"
	"odatacheck/internal/flags"
)

// buildReproducibilityCommand renders a validate command line that repeats
// the run. Secrets (tokens, client secrets, header values) are never
// included; header names are kept with a placeholder value.
func buildReproducibilityCommand(cfg *config.Config) string {
	def := config.New()
	args := []string{"odatacheck", "validate"}

	add := func(name, value string) {
		args = append(args, "--"+name, shellQuote(value))
	}
	addList := func(name string, values []string) {
		for _, v := range values {
			add(name, v)
		}
	}
	addBool := func(name string, v bool) {
		if v {
			args = append(args, "--"+name)
		}
	}
	addDuration := func(name string, v, d time.Duration) {
		if v != d {
			add(name, v.String())
		}
	}

	addList(flags.FlagService, cfg.Targeting.Services)
	for _, h := range cfg.Targeting.Headers {
		name, _, _ := strings.Cut(h, "=")
		add(flags.FlagHeader, strings.TrimSpace(name)+"=<redacted>")
	}
	if cfg.Targeting.MaxVersion != def.Targeting.MaxVersion {
		add(flags.FlagMaxVersion, cfg.Targeting.MaxVersion)
	}

	if cfg.Rules.Selector != "" {
		add(flags.FlagRules, cfg.Rules.Selector)
	}
	addList(flags.FlagLevel, cfg.Rules.Levels)
	addList(flags.FlagIncludeRule, cfg.Rules.Include)
	addList(flags.FlagExcludeRule, cfg.Rules.Exclude)
	addList(flags.FlagCatalog, cfg.Rules.Catalogs)
	addList(flags.FlagSet, cfg.Rules.Set)
	if cfg.Rules.Evidence != def.Rules.Evidence {
		add(flags.FlagEvidence, cfg.Rules.Evidence)
	}

	if cfg.Runtime.Concurrency != def.Runtime.Concurrency {
		add(flags.FlagConcurrency, strconv.Itoa(cfg.Runtime.Concurrency))
	}
	if cfg.Runtime.Parallelism != def.Runtime.Parallelism {
		add(flags.FlagParallelism, strconv.Itoa(cfg.Runtime.Parallelism))
	}
	addDuration(flags.FlagTimeout, cfg.Runtime.Timeout, def.Runtime.Timeout)
	addDuration(flags.FlagRequestTimeout, cfg.Runtime.RequestTimeout, def.Runtime.RequestTimeout)
	if cfg.Runtime.RPS != def.Runtime.RPS {
		add(flags.FlagRPS, strconv.FormatFloat(cfg.Runtime.RPS, 'f', -1, 64))
	}
	if cfg.Runtime.Burst != def.Runtime.Burst {
		add(flags.FlagBurst, strconv.Itoa(cfg.Runtime.Burst))
	}
	if cfg.Runtime.BreakerFailures != def.Runtime.BreakerFailures {
		add(flags.FlagBreakerFailures, fmt.Sprint(cfg.Runtime.BreakerFailures))
	}
	addDuration(flags.FlagBreakerCooldown, cfg.Runtime.BreakerCooldown, def.Runtime.BreakerCooldown)
	addBool(flags.FlagFailFast, cfg.Runtime.FailFast)

	if cfg.Auth.Token != "" {
		add(flags.FlagToken, "<redacted>")
	}
	if cfg.Auth.ClientID != "" {
		add(flags.FlagClientID, cfg.Auth.ClientID)
		add(flags.FlagClientSecret, "<redacted>")
		add(flags.FlagTokenURL, cfg.Auth.TokenURL)
		addList(flags.FlagScope, cfg.Auth.Scopes)
	}

	return strings.Join(args, " ")
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`*?[]{}()<>|&;#~!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
