package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"odatacheck/internal/config"
	"odatacheck/internal/engine"
	"odatacheck/internal/flags"
	"odatacheck/internal/odata"
	"odatacheck/internal/store"
)

const validateHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
	ODATA_TOKEN            bearer token sent to the target services when --token is not given
	ODATACHECK_LOG_LEVEL   default log level when --log-level is not given
	GITHUB_TOKEN           token used by --issue (falls back to "gh auth token")

  Examples:
    # macOS/Linux
    export ODATA_TOKEN="<your_token>"
    odatacheck validate --service https://example.com/odata/

    # OAuth2 client credentials
    odatacheck validate --service https://example.com/odata/ \
      --client-id app --client-secret "$SECRET" --token-url https://login.example.com/token

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasHelpSubCommands}}Additional help topics:
{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate one or more OData services",
	Long: `Validate one or more OData services against the registered conformance rules.

Each service root is probed for its OData-Version, the shared documents
(service document, $metadata) are fetched once per service, and every selected
rule is evaluated. Composite rules derive their verdict from the rules they
reference.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write JSON, NDJSON, CSV (one row per detail) or SARIF to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown report grouped by top-level rule
	- --issue: publish the Markdown report as a GitHub issue
	- --no-console: suppress the console sink (use with --emit/--out for machine output)

	NDJSON mode emits one JSON object per line. Objects are lifecycle Events with a
	"type" field (run.started, service.started, rule.result, service.finished, run.finished).
	Rule results are represented as an Event with type "rule.result" and a nested
	"result" object.

Exit codes:
	0 = every selected rule passed or was waived
	1 = failures detected (or a verdict regressed against --baseline)
	2 = partial run (some rules or services could not be evaluated)
	3 = fatal error (validation did not run)

Examples:
  odatacheck validate --service https://services.odata.org/TripPinRESTierService/

  # Only MUST rules of the Minimal level, with full evidence
  odatacheck validate --service https://example.com/odata/ --rules 'Minimal.*' --level must --evidence full

  # Waive a known failure for one service
  odatacheck validate --service https://example.com/odata/ \
    --set Minimal.Conformance.1007.allow.services=https://example.com/odata/

  # Stream machine-readable events to stdout
  odatacheck validate --service https://example.com/odata/ --no-console --emit ndjson
`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 && cmd.Flags().NFlag() == 0 && configPath == "" {
			_ = cmd.Help()
			return
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		code := runValidate(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		stop()
		os.Exit(code)
	},
}

// runValidate runs one validation and returns the process exit code.
func runValidate(ctx context.Context, c *config.Config, stdout, stderr io.Writer) int {
	if err := c.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	eng := engine.NewEngine(logger)
	eng.Stdout = stdout

	if c.Store.DSN == "" || c.Targeting.DryRun {
		return eng.Run(ctx, c)
	}

	st, err := store.Open(ctx, c.Store.DSN)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	defer func() { _ = st.Close() }()

	jobID := uuid.NewString()
	if err := st.CreateJob(ctx, store.Job{
		ID:       jobID,
		Status:   store.StatusRunning,
		Services: c.Targeting.Services,
		Selector: c.Rules.Selector,
	}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	logger.Info().Str("job_id", jobID).Msg("recording results")

	eng.Recorder = st
	eng.JobID = jobID
	code := eng.Run(ctx, c)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := st.FinishJob(finishCtx, jobID, eng.RunID, code, ""); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("failed to record job outcome")
		if code == 0 {
			code = 2
		}
	}
	return code
}

// addRuntimeFlags binds the probe and scheduling limits shared by validate
// and serve.
func addRuntimeFlags(fs *pflag.FlagSet, c *config.Config) {
	def := config.New()
	fs.IntVar(&c.Runtime.Concurrency, flags.FlagConcurrency, def.Runtime.Concurrency, "Services validated at once")
	fs.IntVar(&c.Runtime.Parallelism, flags.FlagParallelism, def.Runtime.Parallelism, "Leaf rules evaluated at once per service")
	fs.DurationVar(&c.Runtime.Timeout, flags.FlagTimeout, def.Runtime.Timeout, "Global timeout for a run")
	fs.DurationVar(&c.Runtime.RequestTimeout, flags.FlagRequestTimeout, def.Runtime.RequestTimeout, "Timeout for a single probe")
	fs.Float64Var(&c.Runtime.RPS, flags.FlagRPS, 0, "Probes per second per service (0 = unlimited)")
	fs.IntVar(&c.Runtime.Burst, flags.FlagBurst, def.Runtime.Burst, "Token bucket size for --rps")
	fs.Uint32Var(&c.Runtime.BreakerFailures, flags.FlagBreakerFailures, def.Runtime.BreakerFailures, "Consecutive transport failures that open a service's circuit")
	fs.DurationVar(&c.Runtime.BreakerCooldown, flags.FlagBreakerCooldown, def.Runtime.BreakerCooldown, "How long an open circuit refuses probes")
}

// addAuthFlags binds credentials for the target services.
func addAuthFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Auth.Token, flags.FlagToken, "", "Bearer token for the target services (default: $"+odata.TokenEnv+")")
	fs.StringVar(&c.Auth.ClientID, flags.FlagClientID, "", "OAuth2 client ID (client credentials grant)")
	fs.StringVar(&c.Auth.ClientSecret, flags.FlagClientSecret, "", "OAuth2 client secret")
	fs.StringVar(&c.Auth.TokenURL, flags.FlagTokenURL, "", "OAuth2 token endpoint")
	fs.StringSliceVar(&c.Auth.Scopes, flags.FlagScope, nil, "OAuth2 scopes (repeatable; comma-separated accepted)")
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.SetHelpTemplate(validateHelpTemplate)

	// MAINTAINER NOTE: If you add/change/remove any validation-affecting flags
	// here, keep the report reproducibility command generator in sync:
	// internal/engine/reproducibility.go:buildReproducibilityCommand.
	//
	// Output flags are intentionally omitted from the reproducibility command.
	fs := validateCmd.Flags()

	// Targeting
	fs.StringSliceVar(&cfg.Targeting.Services, flags.FlagService, nil, "Service root URL to validate (repeatable; comma-separated accepted)")
	fs.StringSliceVar(&cfg.Targeting.Headers, flags.FlagHeader, nil, "Extra request header as Name=Value sent with every probe (repeatable)")
	fs.StringVar(&cfg.Targeting.MaxVersion, flags.FlagMaxVersion, cfg.Targeting.MaxVersion, "OData-MaxVersion sent with every probe: 4.0|4.01")
	fs.BoolVar(&cfg.Targeting.DryRun, flags.FlagDryRun, false, "Resolve services and print the selected rules without evaluating them")

	// Rules
	fs.StringVar(&cfg.Rules.Selector, flags.FlagRules, "", "Rule selector: names or globs, '!' excludes (empty = all rules)")
	fs.StringSliceVar(&cfg.Rules.Levels, flags.FlagLevel, nil, "Keep only rules of these levels: must|should|may (repeatable)")
	fs.StringSliceVar(&cfg.Rules.Include, flags.FlagIncludeRule, nil, "Keep only rules whose name matches a glob (repeatable)")
	fs.StringSliceVar(&cfg.Rules.Exclude, flags.FlagExcludeRule, nil, "Drop rules whose name matches a glob; wins over --include-rule (repeatable)")
	fs.StringSliceVar(&cfg.Rules.Catalogs, flags.FlagCatalog, nil, "YAML file declaring extra composite rules (repeatable)")
	fs.StringSliceVar(&cfg.Rules.Set, flags.FlagSet, nil, "Per-rule options as ruleID.option=value (repeatable; comma-separated accepted)")
	fs.StringVar(&cfg.Rules.Evidence, flags.FlagEvidence, cfg.Rules.Evidence, "Evidence kept per probe: minimal|standard|full")

	// Output
	fs.StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, cfg.Output.ConsoleFormat, "Console output format: text|json|ndjson")
	fs.StringSliceVar(&cfg.Output.ConsoleFilterVerdict, flags.FlagConsoleFilterVerdict, nil, "Filter console output by verdict (PASS, FAIL, INCONCLUSIVE). Comma-separated.")
	fs.StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown report to this path")
	fs.StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	fs.StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson|csv|sarif (default: inferred from file extension)")
	fs.StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	fs.BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")
	fs.StringVar(&cfg.Output.Baseline, flags.FlagBaseline, "", "Compare verdicts against a snapshot written by --write-baseline")
	fs.StringVar(&cfg.Output.WriteBaseline, flags.FlagWriteBaseline, "", "Write this run's verdict snapshot to a path")
	fs.StringVar(&cfg.Output.Issue, flags.FlagIssue, "", "Publish the Markdown report as a GitHub issue in OWNER/REPO")

	// Runtime
	addRuntimeFlags(fs, cfg)
	fs.BoolVar(&cfg.Runtime.FailFast, flags.FlagFailFast, false, "Stop after the first service that could not be fully evaluated")

	// Auth
	addAuthFlags(fs, cfg)

	// Store
	fs.StringVar(&cfg.Store.DSN, flags.FlagStoreDSN, "", "PostgreSQL DSN; when set, the run and its results are recorded as a job")
}
