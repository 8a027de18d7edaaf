package rules

import (
	"context"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
)

type Rule interface {
	ID() string
	Title() string
	Description() string

	// Descriptor returns the static identity of the rule. Descriptor().Name
	// equals ID().
	Descriptor() Descriptor

	// Dependencies declares the shared service documents this rule reads.
	Dependencies(ctx context.Context, svc *odata.Service) ([]data.DependencyKey, error)

	// Evaluate computes the rule's outcome. Leaf rules probe through
	// rc.Prober and read only declared documents from rc.Data; composite
	// rules combine rc.Children(). An error means the rule could not run.
	Evaluate(ctx context.Context, rc *RuleContext) (Outcome, error)
}

type Option struct {
	Name        string
	Description string
	Default     string
}

type ConfigurableRule interface {
	Rule
	Options() []Option
	Configure(opts map[string]string) error
}

// Prober issues HTTP probes against the service under test.
type Prober interface {
	Do(ctx context.Context, req odata.Request) (*odata.Response, error)
}
