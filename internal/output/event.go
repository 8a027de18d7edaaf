package output

import (
	"odatacheck/internal/baseline"
	"odatacheck/internal/rules"
)

// Lifecycle event types, in the order a run emits them.
const (
	EventRunStarted      = "run.started"
	EventServiceStarted  = "service.started"
	EventRuleResult      = "rule.result"
	EventServiceFinished = "service.finished"
	EventRunFinished     = "run.finished"
)

// Event is a lifecycle record for NDJSON streaming output.
//
// JSON mode remains an aggregate of rules.Result values; only NDJSON sinks
// and the report see lifecycle events.
type Event struct {
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	// Command reproduces the run without secrets (run.started only).
	Command string `json:"command,omitempty"`
	Service string `json:"service,omitempty"`
	// Version is the negotiated OData version (service.started only).
	Version string `json:"odata_version,omitempty"`
	*rules.Result
	Services int     `json:"services,omitempty"`
	Rules    int     `json:"rules,omitempty"`
	Counts   *Counts `json:"counts,omitempty"`
	ExitCode int     `json:"exit_code,omitempty"`
	// Drift lists verdicts that changed since the baseline (run.finished only).
	Drift []baseline.Drift `json:"drift,omitempty"`
}

// Counts tallies verdicts for one service or a whole run.
type Counts struct {
	Pass         int `json:"pass"`
	Fail         int `json:"fail"`
	Inconclusive int `json:"inconclusive"`
	Waived       int `json:"waived,omitempty"`
}

// Add records r.
func (c *Counts) Add(r rules.Result) {
	switch r.Verdict {
	case rules.VerdictPass:
		c.Pass++
	case rules.VerdictFail:
		c.Fail++
	default:
		c.Inconclusive++
	}
	if r.Waived {
		c.Waived++
	}
}

// Total is the number of results recorded.
func (c Counts) Total() int {
	return c.Pass + c.Fail + c.Inconclusive
}

func eventFromResult(r rules.Result) Event {
	return Event{Type: EventRuleResult, Service: r.Service, Result: &r}
}
