package rules

import (
	"context"
	"fmt"
	"strings"
)

// Merge concatenates the children's details in child order into a new
// slice, re-tagging every copy with parent. Nothing is deduplicated and
// Inconclusive children contribute like any other.
func Merge(parent string, children []Outcome) []Detail {
	var out []Detail
	for _, c := range children {
		for _, d := range c.Details {
			cp := d.Clone()
			cp.Rule = parent
			out = append(out, cp)
		}
	}
	return out
}

// Compose derives the outcome of a composite rule from its children's
// outcomes, given in evaluation order.
func Compose(parent string, policy Policy, children []Outcome) Outcome {
	out := Outcome{
		Rule:    parent,
		Verdict: Combine(policy, children),
		Details: Merge(parent, children),
	}
	out.Message = summarize(policy, children, out.Verdict)
	if out.Verdict == VerdictPass {
		clearErrors(out.Details)
	} else if !out.HasError() {
		out.Details = append(out.Details, Detail{Rule: parent, ErrorMessage: out.Message})
	}
	return out
}

func summarize(policy Policy, children []Outcome, v Verdict) string {
	if len(children) == 0 {
		return "No rules to combine"
	}
	switch policy {
	case PolicyAllPass, PolicyAllMinimal:
	default:
		return fmt.Sprintf("Unknown combination policy %q", policy)
	}
	var failed, inconclusive []string
	for i, c := range children {
		name := c.Rule
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		switch c.Verdict.normalize() {
		case VerdictFail:
			failed = append(failed, name)
		case VerdictInconclusive:
			inconclusive = append(inconclusive, name)
		}
	}
	switch v {
	case VerdictFail:
		return fmt.Sprintf("%d of %d rules failed: %s", len(failed), len(children), strings.Join(failed, ", "))
	case VerdictInconclusive:
		return fmt.Sprintf("%d of %d rules could not be verified: %s", len(inconclusive), len(children), strings.Join(inconclusive, ", "))
	default:
		return fmt.Sprintf("All %d rules passed", len(children))
	}
}

// Check is one step of a sequential rule.
type Check func(ctx context.Context) Outcome

// Sequence runs checks in order and stops at the first one that does not
// pass; later checks are never invoked. The returned outcome is that of the
// last check run, with the details of the earlier passing checks in front.
func Sequence(ctx context.Context, checks ...Check) Outcome {
	if len(checks) == 0 {
		return Inconclusive("No checks to run")
	}
	var trail []Detail
	for i, check := range checks {
		out := check(ctx)
		if out.Verdict != VerdictPass || i == len(checks)-1 {
			out.Details = append(trail, cloneDetails(out.Details)...)
			return out
		}
		trail = append(trail, cloneDetails(out.Details)...)
	}
	return Inconclusive("No checks to run")
}
