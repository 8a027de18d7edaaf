package rules

import (
	"context"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
)

// CompositeRule derives its outcome from the rules named in its descriptor.
// The dispatcher evaluates the children first and hands their outcomes in
// through RuleContext.WithChildren.
type CompositeRule struct {
	desc        Descriptor
	title       string
	description string
}

// NewCompositeRule validates desc and builds a composite rule.
func NewCompositeRule(desc Descriptor, title, description string) (*CompositeRule, error) {
	if desc.Info == nil {
		return nil, fmt.Errorf("rule %s: composite rule needs dependency info", desc.Name)
	}
	if desc.Type == "" {
		desc.Type = DependencyNone
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	info := *desc.Info
	info.Rules = append([]string(nil), desc.Info.Rules...)
	desc.Info = &info
	return &CompositeRule{desc: desc, title: title, description: description}, nil
}

func (r *CompositeRule) ID() string             { return r.desc.Name }
func (r *CompositeRule) Title() string          { return r.title }
func (r *CompositeRule) Description() string    { return r.description }
func (r *CompositeRule) Descriptor() Descriptor { return r.desc }

func (r *CompositeRule) Dependencies(ctx context.Context, svc *odata.Service) ([]data.DependencyKey, error) {
	return nil, nil
}

func (r *CompositeRule) Evaluate(ctx context.Context, rc *RuleContext) (Outcome, error) {
	Require(rc)
	return Compose(r.desc.Name, r.desc.Info.Policy, rc.Children()), nil
}

// SkipRule is declared but never evaluated; it is always Inconclusive.
type SkipRule struct {
	desc        Descriptor
	title       string
	description string
	reason      string
}

func NewSkipRule(desc Descriptor, title, description, reason string) *SkipRule {
	desc.Type = DependencySkip
	if reason == "" {
		reason = "Rule is declared as skipped and is not evaluated"
	}
	return &SkipRule{desc: desc, title: title, description: description, reason: reason}
}

func (r *SkipRule) ID() string             { return r.desc.Name }
func (r *SkipRule) Title() string          { return r.title }
func (r *SkipRule) Description() string    { return r.description }
func (r *SkipRule) Descriptor() Descriptor { return r.desc }

func (r *SkipRule) Dependencies(ctx context.Context, svc *odata.Service) ([]data.DependencyKey, error) {
	return nil, nil
}

func (r *SkipRule) Evaluate(ctx context.Context, rc *RuleContext) (Outcome, error) {
	return SkippedOutcome(r.desc.Name, r.reason), nil
}

// SkippedOutcome is the outcome of a rule declared as skipped.
func SkippedOutcome(name, reason string) Outcome {
	return Inconclusive(reason, Detail{Rule: name}).Tagged(name)
}
