package flags

// Package flags defines canonical CLI flag names shared across the CLI and engine.
// Keeping these as constants helps avoid drift between Cobra flag wiring and other
// code paths that need to reference flags (e.g. report reproducibility command
// generation).
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringSliceVar(&cfg.Targeting.Services, flags.FlagService, nil, "...")
//	arg := "--" + flags.FlagService
const (
	// Global
	FlagConfig    = "config"
	FlagVerbose   = "verbose"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"

	// Targeting
	FlagService    = "service"
	FlagHeader     = "header"
	FlagMaxVersion = "max-version"
	FlagDryRun     = "dry-run"

	// Rules
	FlagRules       = "rules"
	FlagLevel       = "level"
	FlagIncludeRule = "include-rule"
	FlagExcludeRule = "exclude-rule"
	FlagCatalog     = "catalog"
	FlagSet         = "set"
	FlagEvidence    = "evidence"

	// Output
	FlagConsoleFormat        = "console-format"
	FlagConsoleFilterVerdict = "console-filter-verdict"
	FlagReport               = "report"
	FlagOut                  = "out"
	FlagOutFormat            = "out-format"
	FlagEmit                 = "emit"
	FlagNoConsole            = "no-console"
	FlagBaseline             = "baseline"
	FlagWriteBaseline        = "write-baseline"
	FlagIssue                = "issue"

	// Runtime
	FlagConcurrency     = "concurrency"
	FlagParallelism     = "parallelism"
	FlagTimeout         = "timeout"
	FlagRequestTimeout  = "request-timeout"
	FlagRPS             = "rps"
	FlagBurst           = "burst"
	FlagBreakerFailures = "breaker-failures"
	FlagBreakerCooldown = "breaker-cooldown"
	FlagFailFast        = "fail-fast"

	// Auth
	FlagToken        = "token"
	FlagClientID     = "client-id"
	FlagClientSecret = "client-secret"
	FlagTokenURL     = "token-url"
	FlagScope        = "scope"

	// Store and server
	FlagStoreDSN = "store-dsn"
	FlagListen   = "listen"
)
