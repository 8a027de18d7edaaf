package rules

import (
	"fmt"

	"odatacheck/internal/odata"
)

func ServiceRoot(svc *odata.Service) string {
	if svc == nil {
		return ""
	}
	return svc.Root
}

// NewResult reports an outcome under the rule's name.
func NewResult(svc *odata.Service, r Rule, out Outcome) Result {
	d := r.Descriptor()
	out = out.Tagged(d.Name)
	return Result{
		RuleID:  d.Name,
		Service: ServiceRoot(svc),
		Level:   d.Level,
		Verdict: out.Verdict.normalize(),
		Message: out.Message,
		Waived:  out.Waived,
		Details: out.Details,
	}
}

// ErrorOutcome is the outcome of a rule whose evaluation returned an error.
func ErrorOutcome(name string, err error) Outcome {
	return Inconclusive(fmt.Sprintf("Evaluation failed: %v", err)).Tagged(name)
}

// ErrorResult reports a rule that could not be evaluated.
func ErrorResult(svc *odata.Service, r Rule, err error) Result {
	res := NewResult(svc, r, ErrorOutcome(r.ID(), err))
	res.Error = err.Error()
	return res
}

// Outcome reconstructs the outcome carried by a result.
func (r Result) Outcome() Outcome {
	return Outcome{
		Rule:    r.RuleID,
		Verdict: r.Verdict,
		Message: r.Message,
		Waived:  r.Waived,
		Details: cloneDetails(r.Details),
	}
}
