package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"odatacheck/internal/baseline"
	"odatacheck/internal/config"
	gh "odatacheck/internal/github"
	"odatacheck/internal/metrics"
	"odatacheck/internal/odata"
	"odatacheck/internal/output"
	"odatacheck/internal/rules"
)

func exitCodeForRun(fatal, partial, failures bool) int {
	// Exit code contract:
	// 0 = every selected rule passed or was waived
	// 1 = failures detected (or a verdict regressed against the baseline)
	// 2 = partial run (some rules could not be evaluated)
	// 3 = fatal error (validation did not run)
	if fatal {
		return 3
	}
	if partial {
		return 2
	}
	if failures {
		return 1
	}
	return 0
}

type Engine struct {
	// Registry is the rule set to validate with; rules.Default() when nil.
	// Each run works on a clone, so --set waivers never leak between runs.
	Registry *rules.Registry
	Logger   zerolog.Logger
	// Stdout receives console and --emit output; os.Stdout when nil.
	Stdout io.Writer

	// Publisher publishes the report for --issue. When nil a GitHub client
	// is built from the ambient GitHub token.
	Publisher output.IssuePublisher
	// Recorder persists results under JobID when both are set.
	Recorder output.ResultRecorder
	JobID    string

	// ClientOptions are appended to every service client's options.
	ClientOptions []odata.Option

	// RunID is set by Run.
	RunID string

	// schedulerExecute is a test seam for streaming execution.
	// If nil, Engine uses the real scheduler.
	schedulerExecute func(ctx context.Context, cfg *config.Config, plan *ValidationPlan) (<-chan ServiceExecutionResult, <-chan error)
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{Logger: logger}
}

func (e *Engine) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

func (e *Engine) registry() *rules.Registry {
	if e.Registry == nil {
		return rules.Default()
	}
	return e.Registry
}

// Run validates every configured service and returns the process exit code.
func (e *Engine) Run(ctx context.Context, cfg *config.Config) int {
	started := time.Now()
	defer func() { metrics.ObserveRun(time.Since(started)) }()

	e.RunID = uuid.NewString()
	logger := e.Logger.With().Str("run_id", e.RunID).Logger()

	if cfg.Runtime.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Runtime.Timeout)
		defer cancel()
	}

	logger.Info().Msg("resolving rules")
	reg, selected, err := prepareRules(e.registry(), cfg)
	if err != nil {
		logger.Error().Err(err).Msg("error resolving rules")
		return exitCodeForRun(true, false, false)
	}
	logger.Info().Int("rules", len(selected)).Msg("rules selected")

	logger.Info().Msg("resolving services")
	targets, err := ResolveServices(ctx, cfg, logger, e.ClientOptions...)
	if err != nil {
		logger.Error().Err(err).Msg("error resolving services")
		return exitCodeForRun(true, false, false)
	}
	logger.Info().Int("services", len(targets)).Msg("services resolved")

	if cfg.Targeting.DryRun {
		e.printDryRun(targets, selected)
		return 0
	}

	plan := NewValidationPlan()
	for _, t := range targets {
		if err := plan.AddService(ctx, reg, t, selected); err != nil {
			logger.Error().Err(err).Str("service", t.Root()).Msg("error planning service")
			return exitCodeForRun(true, false, false)
		}
	}

	outMgr, err := e.setupOutputManager(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("error creating output sinks")
		return exitCodeForRun(true, false, false)
	}

	_ = outMgr.Write(output.Event{
		Type:     output.EventRunStarted,
		RunID:    e.RunID,
		Command:  buildReproducibilityCommand(cfg),
		Services: len(plan.ServicePlans),
		Rules:    plan.SelectedCount(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resCh, errCh := e.executePlanStream(runCtx, cfg, plan)
	dispatcher := &Dispatcher{
		Registry:    reg,
		Parallelism: cfg.Runtime.Parallelism,
		Verbose:     cfg.Runtime.Verbose,
		Evidence:    cfg.Rules.Evidence,
		Logger:      logger,
		RunID:       e.RunID,
	}
	all, partial, failures, stopped := evaluateStreamingResults(runCtx, cfg, plan, dispatcher, resCh, outMgr, cancel)

	var schedErr error
	for err := range errCh {
		if err != nil {
			schedErr = err
		}
	}
	fatal := false
	switch {
	case schedErr == nil:
	case errors.Is(schedErr, context.Canceled) && stopped:
		logger.Warn().Msg("run stopped early (--fail-fast)")
	case errors.Is(schedErr, context.Canceled), errors.Is(schedErr, context.DeadlineExceeded):
		logger.Error().Err(schedErr).Msg("run interrupted")
		partial = true
	default:
		logger.Error().Err(schedErr).Msg("scheduler failed")
		fatal = true
	}
	if len(all) < expectedResults(plan) {
		partial = true
	}
	for _, t := range targets {
		if t.ResolveErr != nil {
			partial = true
		}
	}

	drift, regressed, err := applyBaseline(cfg, all)
	if err != nil {
		logger.Error().Err(err).Msg("baseline")
		partial = true
	}
	failures = failures || regressed

	var total output.Counts
	for _, r := range all {
		total.Add(r)
	}
	code := exitCodeForRun(fatal, partial, failures)
	_ = outMgr.Write(output.Event{Type: output.EventRunFinished, RunID: e.RunID, Counts: &total, ExitCode: code, Drift: drift})
	if err := outMgr.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing output sinks")
		if code == 0 {
			code = exitCodeForRun(false, true, false)
		}
	}
	logger.Info().
		Int("pass", total.Pass).
		Int("fail", total.Fail).
		Int("inconclusive", total.Inconclusive).
		Int("exit_code", code).
		Dur("elapsed", time.Since(started)).
		Msg("run finished")
	return code
}

func (e *Engine) executePlanStream(ctx context.Context, cfg *config.Config, plan *ValidationPlan) (<-chan ServiceExecutionResult, <-chan error) {
	if e.schedulerExecute != nil {
		return e.schedulerExecute(ctx, cfg, plan)
	}

	scheduler, err := NewScheduler(cfg.Runtime.Concurrency)
	if err != nil {
		resCh := make(chan ServiceExecutionResult)
		errCh := make(chan error, 1)
		close(resCh)
		errCh <- err
		close(errCh)
		return resCh, errCh
	}
	return scheduler.Execute(ctx, plan)
}

// evaluateStreamingResults dispatches each service as soon as its shared
// documents are fetched and forwards its results to the sinks. A service's
// events are written as one block. With --fail-fast the first service with
// evaluation errors cancels the rest.
func evaluateStreamingResults(ctx context.Context, cfg *config.Config, plan *ValidationPlan, d *Dispatcher, resCh <-chan ServiceExecutionResult, outMgr *output.Manager, cancel context.CancelFunc) (all []rules.Result, partial, failures, stopped bool) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for res := range resCh {
		sp := plan.ServicePlans[res.Root]
		if sp == nil {
			mu.Lock()
			partial = true
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(sp *ServicePlan, res ServiceExecutionResult) {
			defer wg.Done()
			sr := d.Evaluate(ctx, sp, res)

			var counts output.Counts
			svcFailures := false
			for _, r := range sr.Results {
				counts.Add(r)
				if r.Verdict == rules.VerdictFail && !r.Waived {
					svcFailures = true
				}
			}

			mu.Lock()
			defer mu.Unlock()
			_ = outMgr.Write(output.Event{Type: output.EventServiceStarted, RunID: d.RunID, Service: sr.Root, Version: sr.Version})
			for _, r := range sr.Results {
				_ = outMgr.Write(r)
			}
			_ = outMgr.Write(output.Event{Type: output.EventServiceFinished, RunID: d.RunID, Service: sr.Root, Counts: &counts})

			all = append(all, sr.Results...)
			partial = partial || sr.Partial
			failures = failures || svcFailures
			if sr.Partial && cfg.Runtime.FailFast && !stopped {
				stopped = true
				cancel()
			}
		}(sp, res)
	}
	wg.Wait()

	sort.SliceStable(all, func(i, j int) bool { return all[i].Service < all[j].Service })
	return all, partial, failures, stopped
}

func expectedResults(plan *ValidationPlan) int {
	n := 0
	for _, sp := range plan.ServicePlans {
		n += len(sp.Selected)
	}
	return n
}

// prepareRules clones the registry, adds --catalog composites, validates
// the rule graph, applies --set options and returns the selected rules.
func prepareRules(base *rules.Registry, cfg *config.Config) (*rules.Registry, []rules.Rule, error) {
	reg := base.Clone()
	for _, path := range cfg.Rules.Catalogs {
		loaded, err := rules.LoadCatalogFile(path)
		if err != nil {
			return nil, nil, err
		}
		for _, r := range loaded {
			if err := reg.Add(r); err != nil {
				return nil, nil, fmt.Errorf("catalog %s: %w", path, err)
			}
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid rule graph: %w", err)
	}

	selected, err := reg.Resolve(cfg.Rules.Selector)
	if err != nil {
		return nil, nil, err
	}
	selected = FilterRules(selected, cfg)
	if len(selected) == 0 {
		return nil, nil, fmt.Errorf("no rules selected")
	}

	if err := applyRuleOptionsIfAny(reg, cfg); err != nil {
		return nil, nil, fmt.Errorf("configuring rules: %w", err)
	}
	return reg, selected, nil
}

// applyRuleOptionsIfAny applies per-rule configuration supplied via repeated
// --set flags, routed to the matching rule's Configure method.
//
// Example:
//
//	odatacheck validate --service https://host/svc/ --set Minimal.Conformance.1.allow.services=https://legacy.example/*
func applyRuleOptionsIfAny(reg *rules.Registry, cfg *config.Config) error {
	if len(cfg.Rules.Set) == 0 {
		return nil
	}

	assignments, err := config.ParseRuleOptionAssignments(cfg.Rules.Set)
	if err != nil {
		return err
	}

	all := reg.List()
	ids := make([]string, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID())
	}

	perRule := make(map[string]map[string]string)
	targets := make([]string, 0, len(assignments))
	for target := range assignments {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		ruleID, option, ok := config.SplitRuleOption(target, ids)
		if !ok {
			return fmt.Errorf("unknown rule in --set %q", target)
		}
		if perRule[ruleID] == nil {
			perRule[ruleID] = make(map[string]string)
		}
		perRule[ruleID][option] = assignments[target]
	}

	for ruleID, opts := range perRule {
		r, _ := reg.Get(ruleID)
		cr, ok := r.(rules.ConfigurableRule)
		if !ok {
			return fmt.Errorf("rule %q does not support options", ruleID)
		}

		allowed := make(map[string]struct{})
		for _, opt := range cr.Options() {
			allowed[opt.Name] = struct{}{}
		}
		for name := range opts {
			if _, ok := allowed[name]; !ok {
				return fmt.Errorf("unknown option %q for rule %q", name, ruleID)
			}
		}

		if err := cr.Configure(opts); err != nil {
			return fmt.Errorf("configure rule %q: %w", ruleID, err)
		}
	}
	return nil
}

func (e *Engine) setupOutputManager(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*output.Manager, error) {
	outMgr := output.NewManager()
	add := func(s output.Sink, err error) error {
		if err != nil {
			_ = outMgr.Close()
			return err
		}
		if err := outMgr.AddSink(s); err != nil {
			_ = outMgr.Close()
			return err
		}
		return nil
	}

	if !cfg.Output.NoConsole {
		if err := add(output.NewConsoleSink(e.stdout(), cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterVerdict...), nil); err != nil {
			return nil, err
		}
	}

	for _, emit := range cfg.Output.Emit {
		if err := add(output.NewEmitSink(e.stdout(), emit)); err != nil {
			return nil, err
		}
	}

	if cfg.Output.Out != "" {
		if err := add(output.NewOutSink(cfg.Output.Out, cfg.Output.OutFormat)); err != nil {
			return nil, err
		}
	}

	if cfg.Output.Report != "" {
		if err := add(output.NewReportSink(cfg.Output.Report)); err != nil {
			return nil, err
		}
	}

	if cfg.Output.Issue != "" {
		publisher := e.Publisher
		if publisher == nil {
			p, err := newGitHubPublisher(ctx, cfg, logger)
			if err != nil {
				_ = outMgr.Close()
				return nil, err
			}
			publisher = p
		}
		if err := add(output.NewIssueSink(ctx, publisher, cfg.Output.Issue, output.DefaultIssueTitle, logger)); err != nil {
			return nil, err
		}
	}

	if e.Recorder != nil && e.JobID != "" {
		if err := add(output.NewStoreSink(ctx, e.Recorder, e.JobID)); err != nil {
			return nil, err
		}
	}

	return outMgr, nil
}

func newGitHubPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*gh.Client, error) {
	token, source, err := gh.ResolveToken(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("--issue needs a GitHub token: %w", err)
	}
	logger.Debug().Str("source", string(source)).Msg("github token resolved")
	return gh.NewClient(ctx, token, gh.WithVerbose(cfg.Runtime.Verbose, logger))
}

// applyBaseline compares this run with --baseline and writes
// --write-baseline. Only regressions count as failures.
func applyBaseline(cfg *config.Config, results []rules.Result) ([]baseline.Drift, bool, error) {
	current := baseline.NewSnapshot(results)
	var (
		drift     []baseline.Drift
		regressed bool
		errs      []error
	)
	if cfg.Output.Baseline != "" {
		prev, err := baseline.Load(cfg.Output.Baseline)
		if err != nil {
			errs = append(errs, err)
		} else {
			drift = baseline.Compare(prev, current)
			for _, d := range drift {
				if d.Regressed() {
					regressed = true
				}
			}
		}
	}
	if cfg.Output.WriteBaseline != "" {
		if err := baseline.Write(cfg.Output.WriteBaseline, current); err != nil {
			errs = append(errs, err)
		}
	}
	return drift, regressed, errors.Join(errs...)
}

func (e *Engine) printDryRun(targets []ServiceTarget, selected []rules.Rule) {
	w := e.stdout()
	fmt.Fprintln(w, "Resolved services:")
	for _, t := range targets {
		version := t.Service.Version
		if version == "" {
			version = "unknown"
		}
		fmt.Fprintf(w, "%s (OData %s)\n", t.Root(), version)
	}
	ids := make([]string, 0, len(selected))
	for _, r := range selected {
		ids = append(ids, r.ID())
	}
	sort.Strings(ids)
	fmt.Fprintln(w, "Selected rules:")
	fmt.Fprintln(w, strings.Join(ids, "\n"))
}
