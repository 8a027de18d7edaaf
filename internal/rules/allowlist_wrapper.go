package rules

import "context"

// AllowListWrapper applies the per-rule waiver options to a rule's outcome.
// Everything except Evaluate and the option methods is promoted from Rule.
type AllowListWrapper struct {
	Rule
	allowList AllowList
}

func (w *AllowListWrapper) Evaluate(ctx context.Context, rc *RuleContext) (Outcome, error) {
	out, err := w.Rule.Evaluate(ctx, rc)
	if err != nil {
		return out, err
	}
	return w.allowList.CheckOutcome(rc.Svc(), out), nil
}

// Unwrap returns the rule without its waiver state.
func (w *AllowListWrapper) Unwrap() Rule {
	return w.Rule
}

// Options lists the waiver options followed by the rule's own.
func (w *AllowListWrapper) Options() []Option {
	opts := w.allowList.Options()
	if cr, ok := w.Rule.(ConfigurableRule); ok {
		opts = append(opts, cr.Options()...)
	}
	return opts
}

func (w *AllowListWrapper) Configure(opts map[string]string) error {
	w.allowList.Configure(opts)
	if cr, ok := w.Rule.(ConfigurableRule); ok {
		return cr.Configure(opts)
	}
	return nil
}
