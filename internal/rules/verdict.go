package rules

// Verdict is the tri-state result of one verification unit.
type Verdict string

const (
	VerdictPass         Verdict = "PASS"
	VerdictFail         Verdict = "FAIL"
	VerdictInconclusive Verdict = "INCONCLUSIVE"
)

// Valid reports whether v is one of the three known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictFail, VerdictInconclusive:
		return true
	default:
		return false
	}
}

// normalize maps anything unknown to Inconclusive; an unrecognised verdict
// must never be read as a pass or a failure.
func (v Verdict) normalize() Verdict {
	if v.Valid() {
		return v
	}
	return VerdictInconclusive
}

// And is three-valued conjunction: Fail dominates, then Inconclusive, and
// Pass is the identity.
//
//	And(Inconclusive, Fail) == Fail
//	And(Inconclusive, Pass) == Inconclusive
func And(a, b Verdict) Verdict {
	a, b = a.normalize(), b.normalize()
	switch {
	case a == VerdictFail || b == VerdictFail:
		return VerdictFail
	case a == VerdictInconclusive || b == VerdictInconclusive:
		return VerdictInconclusive
	default:
		return VerdictPass
	}
}

// Combine reduces child outcomes to one verdict under the given policy.
// Zero children yield Inconclusive: nothing was verified.
func Combine(policy Policy, children []Outcome) Verdict {
	switch policy {
	case PolicyAllPass, PolicyAllMinimal:
	default:
		return VerdictInconclusive
	}
	if len(children) == 0 {
		return VerdictInconclusive
	}
	v := VerdictPass
	for _, c := range children {
		v = And(v, c.Verdict)
	}
	return v
}
