package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"odatacheck/internal/data"
	"odatacheck/internal/metrics"
	"odatacheck/internal/rules"
)

// Dispatcher evaluates a service plan. Leaf rules run concurrently;
// composites run afterwards in plan order, each reading the memoized
// outcomes of the rules it references. Every rule in the plan is evaluated
// exactly once per service.
type Dispatcher struct {
	Registry    *rules.Registry
	Parallelism int
	Verbose     bool
	Evidence    string
	Logger      zerolog.Logger
	RunID       string
}

// ServiceResults is what one service contributed to a run.
type ServiceResults struct {
	Root    string
	Version string
	// Results holds the selected rules only, in plan order.
	Results []rules.Result
	// Partial is set when at least one rule could not be evaluated.
	Partial bool
}

type evaluation struct {
	outcome rules.Outcome
	err     string
}

func (d *Dispatcher) Evaluate(ctx context.Context, sp *ServicePlan, res ServiceExecutionResult) ServiceResults {
	dc := res.Data
	if dc == nil {
		dc = data.NewMapDataContext(map[data.DependencyKey]any{})
	}
	svc := sp.Target.Service
	version := svc.Version

	var (
		mu   sync.Mutex
		memo = make(map[string]evaluation, len(sp.Rules))
	)
	record := func(id string, ev evaluation) {
		mu.Lock()
		memo[id] = ev
		mu.Unlock()
	}

	limit := d.Parallelism
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, r := range sp.Rules {
		if r.Descriptor().Composite() {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			ev := d.evaluateLeaf(gctx, sp, r, dc, res.DepErrs)
			metrics.ObserveVerdict(string(ev.outcome.Verdict), string(r.Descriptor().Level), time.Since(start))
			record(r.ID(), ev)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range sp.Rules {
		if !r.Descriptor().Composite() {
			continue
		}
		start := time.Now()
		ev := d.evaluateComposite(ctx, sp, r, dc, memo)
		metrics.ObserveVerdict(string(ev.outcome.Verdict), string(r.Descriptor().Level), time.Since(start))
		memo[r.ID()] = ev
	}

	out := ServiceResults{Root: svc.Root, Version: version}
	for _, r := range sp.Rules {
		if !sp.Selected[r.ID()] {
			continue
		}
		ev := memo[r.ID()]
		result := rules.NewResult(svc, r, ev.outcome)
		if ev.err != "" {
			result.Error = ev.err
			out.Partial = true
		}
		out.Results = append(out.Results, trimEvidence(result, d.Evidence))
	}
	return out
}

func (d *Dispatcher) evaluateLeaf(ctx context.Context, sp *ServicePlan, r rules.Rule, dc data.DataContext, depErrs map[data.DependencyKey]error) evaluation {
	id := r.ID()
	if sp.NotApplicable[id] {
		return evaluation{outcome: notApplicable(id, sp.Target.Service.Version)}
	}
	if r.Descriptor().Skipped() {
		out, _ := r.Evaluate(ctx, rules.NewRuleContext(sp.Target.Service, dc, nil))
		return evaluation{outcome: out.Tagged(id)}
	}
	if ctx.Err() != nil {
		return evaluation{outcome: rules.ErrorOutcome(id, ctx.Err()), err: ctx.Err().Error()}
	}

	deps := sp.Declared[id]
	if msg, ok := d.missingDependencies(dc, deps, depErrs); ok {
		return evaluation{outcome: rules.Inconclusive(msg, rules.Detail{Rule: id}).Tagged(id)}
	}

	tracked := data.NewTrackingDataContext(dc)
	out, err := r.Evaluate(ctx, rules.NewRuleContext(sp.Target.Service, tracked, sp.Target.Fetcher))
	if undeclared := tracked.Undeclared(deps); len(undeclared) > 0 {
		msg := fmt.Sprintf("Rule accessed undeclared dependencies: %s. Declare them in Dependencies().", joinKeys(undeclared))
		if err != nil {
			msg = fmt.Sprintf("%s (evaluation error: %v)", msg, err)
		}
		d.Logger.Error().Str("rule", id).Str("service", sp.Target.Root()).Msg(msg)
		return evaluation{outcome: rules.Inconclusive(msg, rules.Detail{Rule: id}).Tagged(id), err: msg}
	}
	if err != nil {
		d.Logger.Warn().Str("rule", id).Str("service", sp.Target.Root()).Err(err).Msg("rule evaluation failed")
		return evaluation{outcome: rules.ErrorOutcome(id, err), err: err.Error()}
	}
	return evaluation{outcome: out.Tagged(id)}
}

func (d *Dispatcher) evaluateComposite(ctx context.Context, sp *ServicePlan, r rules.Rule, dc data.DataContext, memo map[string]evaluation) evaluation {
	id := r.ID()
	if sp.NotApplicable[id] {
		return evaluation{outcome: notApplicable(id, sp.Target.Service.Version)}
	}
	refs := d.Registry.References(r)
	children := make([]rules.Outcome, 0, len(refs))
	for _, ref := range refs {
		ev, ok := memo[ref]
		if !ok {
			// Expand guarantees children come first; a gap is a planning bug.
			msg := fmt.Sprintf("Referenced rule %s was not evaluated", ref)
			return evaluation{outcome: rules.Inconclusive(msg, rules.Detail{Rule: id}).Tagged(id), err: msg}
		}
		children = append(children, ev.outcome)
	}
	rc := rules.NewRuleContext(sp.Target.Service, dc, sp.Target.Fetcher).WithChildren(children)
	out, err := r.Evaluate(ctx, rc)
	if err != nil {
		return evaluation{outcome: rules.ErrorOutcome(id, err), err: err.Error()}
	}
	return evaluation{outcome: out.Tagged(id)}
}

// missingDependencies reports the documents a rule declared but that are not
// available, presenting fetch errors when known.
func (d *Dispatcher) missingDependencies(dc data.DataContext, deps []data.DependencyKey, depErrs map[data.DependencyKey]error) (string, bool) {
	var missing []string
	var failed []string
	for _, k := range deps {
		if _, ok := dc.Get(k); ok {
			continue
		}
		if err := depErrs[k]; err != nil {
			failed = append(failed, presentDependencyError(k, err, d.Verbose))
			continue
		}
		missing = append(missing, string(k))
	}
	if len(failed) > 0 {
		return strings.Join(failed, "; "), true
	}
	if len(missing) > 0 {
		return fmt.Sprintf("Missing dependencies: %v", missing), true
	}
	return "", false
}

func notApplicable(id, version string) rules.Outcome {
	return rules.Inconclusive(fmt.Sprintf("Not applicable to OData %s", version), rules.Detail{Rule: id}).Tagged(id)
}

func joinKeys(keys []data.DependencyKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
