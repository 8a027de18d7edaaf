package engine

import (
	"context"
	"fmt"
	"sort"

	"odatacheck/internal/data"
	"odatacheck/internal/rules"
)

type ValidationPlan struct {
	ServicePlans map[string]*ServicePlan
}

// ServicePlan is the work for one service: the selected rules, everything
// they reference in evaluation order, and the shared documents to fetch.
type ServicePlan struct {
	Target ServiceTarget
	// Rules is the expanded set, children before the composites that use them.
	Rules []rules.Rule
	// Selected names the rules whose results are reported.
	Selected     map[string]bool
	Dependencies map[data.DependencyKey]data.DependencyRequest
	// Declared holds each rule's declared dependencies.
	Declared map[string][]data.DependencyKey
	// NotApplicable names expanded rules that do not target the service's
	// OData version.
	NotApplicable map[string]bool
}

func NewValidationPlan() *ValidationPlan {
	return &ValidationPlan{
		ServicePlans: make(map[string]*ServicePlan),
	}
}

// AddService plans selected rules for one service. Selected rules that do
// not apply to the service's version are dropped; referenced rules that do
// not apply are kept so composites see them as Inconclusive.
func (p *ValidationPlan) AddService(ctx context.Context, reg *rules.Registry, target ServiceTarget, selected []rules.Rule) error {
	if ctx == nil {
		return fmt.Errorf("context is nil")
	}
	if p == nil {
		return fmt.Errorf("validation plan is nil")
	}
	if p.ServicePlans == nil {
		return fmt.Errorf("validation plan is not initialized (ServicePlans is nil); use NewValidationPlan")
	}
	if reg == nil {
		return fmt.Errorf("rule registry is nil")
	}
	if target.Service == nil {
		return fmt.Errorf("service is nil")
	}

	selected = ApplicableRules(selected, target.Service.Version)
	expanded, err := reg.Expand(selected)
	if err != nil {
		return err
	}

	sp := &ServicePlan{
		Target:        target,
		Rules:         expanded,
		Selected:      make(map[string]bool, len(selected)),
		Dependencies:  make(map[data.DependencyKey]data.DependencyRequest),
		Declared:      make(map[string][]data.DependencyKey, len(expanded)),
		NotApplicable: make(map[string]bool),
	}
	for _, r := range selected {
		sp.Selected[r.ID()] = true
	}

	for _, r := range expanded {
		if !r.Descriptor().AppliesTo(target.Service.Version) {
			sp.NotApplicable[r.ID()] = true
			continue
		}
		deps, err := r.Dependencies(ctx, target.Service)
		if err != nil {
			return fmt.Errorf("failed to get dependencies for rule %s: %w", r.ID(), err)
		}
		sp.Declared[r.ID()] = deps
		for _, d := range deps {
			if _, exists := sp.Dependencies[d]; !exists {
				sp.Dependencies[d] = data.DependencyRequest{Key: d}
			}
		}
	}

	p.ServicePlans[target.Root()] = sp
	return nil
}

// Roots returns the planned service roots in sorted order.
func (p *ValidationPlan) Roots() []string {
	roots := make([]string, 0, len(p.ServicePlans))
	for root := range p.ServicePlans {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// SelectedCount is the number of distinct rules reported across services.
func (p *ValidationPlan) SelectedCount() int {
	seen := make(map[string]bool)
	for _, sp := range p.ServicePlans {
		for id := range sp.Selected {
			seen[id] = true
		}
	}
	return len(seen)
}

// SortedDependencies returns the list of dependency keys sorted by priority (P0 first).
func (sp *ServicePlan) SortedDependencies() []data.DependencyKey {
	keys := make([]data.DependencyKey, 0, len(sp.Dependencies))
	for k := range sp.Dependencies {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		p1 := data.Priority(keys[i])
		p2 := data.Priority(keys[j])
		if p1 != p2 {
			return p1 < p2
		}
		return keys[i] < keys[j]
	})

	return keys
}
