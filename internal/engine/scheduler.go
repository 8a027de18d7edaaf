package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"odatacheck/internal/data"
)

// ServiceExecutionResult carries the shared documents fetched for one
// service and the errors for those that could not be fetched.
type ServiceExecutionResult struct {
	Root    string
	Data    data.DataContext
	DepErrs map[data.DependencyKey]error
}

// Scheduler fetches the declared documents of up to concurrency services at
// a time.
type Scheduler struct {
	concurrency int
}

func NewScheduler(concurrency int) (*Scheduler, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", concurrency)
	}
	return &Scheduler{concurrency: concurrency}, nil
}

// Execute sends one result per service as its documents become available.
// Fetch failures are recorded on the result, not reported as errors. The
// error channel carries at most one value: an invalid plan, a service
// without a fetcher, or the cancellation of ctx. Both channels are closed
// when all work has stopped.
func (s *Scheduler) Execute(ctx context.Context, plan *ValidationPlan) (<-chan ServiceExecutionResult, <-chan error) {
	results := make(chan ServiceExecutionResult)
	errs := make(chan error, 1)
	go func() {
		defer close(results)
		defer close(errs)
		if err := s.run(ctx, plan, results); err != nil {
			errs <- err
		}
	}()
	return results, errs
}

func (s *Scheduler) run(ctx context.Context, plan *ValidationPlan, out chan<- ServiceExecutionResult) error {
	switch {
	case ctx == nil:
		return errors.New("context is nil")
	case plan == nil:
		return errors.New("validation plan is nil")
	case plan.ServicePlans == nil:
		return errors.New("validation plan is not initialized (ServicePlans is nil); use NewValidationPlan")
	case s == nil:
		return errors.New("scheduler is nil")
	case s.concurrency <= 0:
		return fmt.Errorf("scheduler concurrency must be >= 1, got %d", s.concurrency)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, root := range plan.Roots() {
		if gctx.Err() != nil {
			break
		}
		sp := plan.ServicePlans[root]
		if sp == nil || sp.Target.Fetcher == nil {
			g.Go(func() error { return fmt.Errorf("service %s has no fetcher", root) })
			break
		}
		g.Go(func() error {
			fetchDocuments(gctx, sp, out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// fetchDocuments loads sp's dependencies in priority order and sends the
// result unless ctx ends first.
func fetchDocuments(ctx context.Context, sp *ServicePlan, out chan<- ServiceExecutionResult) {
	docs := make(map[data.DependencyKey]any)
	failed := make(map[data.DependencyKey]error)
	for _, key := range sp.SortedDependencies() {
		if ctx.Err() != nil {
			return
		}
		req := sp.Dependencies[key]
		v, err := sp.Target.Fetcher.Fetch(ctx, sp.Target.Service, req.Key, req.Params)
		if err != nil {
			failed[req.Key] = err
			continue
		}
		docs[req.Key] = v
	}
	if v := sp.Target.Service.Version; v != "" {
		if _, ok := docs[data.DepServiceVersion]; !ok {
			docs[data.DepServiceVersion] = v
		}
	}
	if ctx.Err() != nil {
		return
	}
	select {
	case out <- ServiceExecutionResult{Root: sp.Target.Root(), Data: data.NewMapDataContext(docs), DepErrs: failed}:
	case <-ctx.Done():
	}
}
