package output

import (
	"fmt"
	"sync"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"odatacheck/internal/rules"
)

const toolURI = "https://github.com/odatacheck/odatacheck"

// SarifSink writes failing and inconclusive results as a SARIF 2.1.0 log so
// code-scanning dashboards can track conformance findings.
type SarifSink struct {
	path    string
	mu      sync.Mutex
	results []rules.Result
}

func NewSarifSink(path string) (*SarifSink, error) {
	if path == "" {
		return nil, fmt.Errorf("output path required")
	}
	return &SarifSink{path: path}, nil
}

func (s *SarifSink) Write(v any) error {
	r, ok := v.(rules.Result)
	if !ok || r.Verdict == rules.VerdictPass {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *SarifSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := BuildSarif(s.results)
	if err != nil {
		return err
	}
	f, err := createOutputFile(s.path)
	if err != nil {
		return err
	}
	if err := report.PrettyWrite(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write SARIF report: %w", err)
	}
	return f.Close()
}

// BuildSarif converts non-passing results into a SARIF report with one
// reporting descriptor per rule.
func BuildSarif(results []rules.Result) (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("failed to create SARIF report: %w", err)
	}

	run := sarif.NewRunWithInformationURI("odatacheck", toolURI)
	for _, r := range results {
		if r.Verdict == rules.VerdictPass {
			continue
		}
		level := sarifLevel(r)
		rule := run.AddRule(r.RuleID).
			WithDescription(ruleDescription(r.RuleID)).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: level})

		msg := r.Message
		if msg == "" {
			msg = string(r.Verdict)
		}
		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(resultURI(r))),
		)
		result := sarif.NewRuleResult(rule.ID).
			WithMessage(sarif.NewTextMessage(msg)).
			WithLevel(level).
			WithLocations([]*sarif.Location{location})
		run.AddResult(result)
	}
	report.AddRun(run)
	return report, nil
}

// sarifLevel maps requirement level and verdict onto SARIF levels: a failed
// MUST is an error, a failed SHOULD a warning, everything else a note.
func sarifLevel(r rules.Result) string {
	if r.Verdict != rules.VerdictFail {
		return "note"
	}
	switch r.Level {
	case rules.LevelMust:
		return "error"
	case rules.LevelShould:
		return "warning"
	default:
		return "note"
	}
}

func ruleDescription(id string) string {
	if rule, ok := rules.Default().Get(id); ok {
		if d := rule.Description(); d != "" {
			return d
		}
		return rule.Title()
	}
	return id
}

// resultURI is the URL of the first failing probe, falling back to the
// service root.
func resultURI(r rules.Result) string {
	for _, d := range r.Details {
		if d.ErrorMessage != "" && d.URL != "" {
			return d.URL
		}
	}
	return r.Service
}
