package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"odatacheck/internal/baseline"
	"odatacheck/internal/rules"
)

func TestMarkdownReportContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	s, err := NewReportSink(path)
	if err != nil {
		t.Fatalf("NewReportSink failed: %v", err)
	}

	other := "https://other.example/svc/"
	writes := []any{
		Event{Type: EventRunStarted, RunID: "run-42", Services: 2},
		Event{Type: EventServiceStarted, Service: testService, Version: "4.01"},
		Event{Type: EventServiceStarted, Service: other},
		result("Minimal.Conformance.1001", rules.VerdictPass),
		failing("Minimal.Conformance.1003", "OData-Version header missing",
			rules.Detail{Rule: "Minimal.Conformance.1003", Method: "GET", URL: testService + "People", Response: &rules.ResponseInfo{StatusCode: 200}, ErrorMessage: "no OData-Version header"}),
		rules.Result{Service: other, RuleID: "Intermediate.Conformance.1006", Verdict: rules.VerdictInconclusive, Message: "no filterable | property"},
		rules.Result{Service: other, RuleID: "Minimal.Conformance.1007", Verdict: rules.VerdictPass, Waived: true, Message: "waived by allow-list"},
		Event{Type: EventRunFinished, ExitCode: 1, Drift: []baseline.Drift{
			{Service: testService, RuleID: "Minimal.Conformance.1003", Previous: rules.VerdictPass, Current: rules.VerdictFail},
		}},
	}
	for _, w := range writes {
		if err := s.Write(w); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	out := string(b)

	required := []string{
		"# OData Conformance Report",
		"Run `run-42`.",
		"Validated 2 service(s) against 4 rule(s): 2 pass, 1 fail, 1 inconclusive.",
		"Exit code 1 (failures found).",
		"## Summary",
		"| " + testService + " | 4.01 | 1 | 1 | 0 | 0 |",
		"| " + other + " | unknown | 1 | 0 | 1 | 1 |",
		"## Conformance by category",
		"| Minimal | 2 | 1 | 0 |",
		"| Intermediate | 0 | 0 | 1 |",
		"### Minimal.Conformance.1003 (MUST)",
		"- Reason: OData-Version header missing",
		"`GET " + testService + "People` (HTTP 200): no OData-Version header",
		"## Inconclusive",
		`no filterable \| property`,
		"## Waived",
		"## Baseline drift",
		"| Minimal.Conformance.1003 | " + testService + " | PASS | FAIL |",
		"## Rules evaluated",
	}
	for _, want := range required {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderReport_CleanRun(t *testing.T) {
	code := 0
	out := RenderReport(ReportData{
		Services: []ServiceInfo{{Root: testService, Version: "4.0"}},
		Results:  []rules.Result{result("Minimal.Conformance.1001", rules.VerdictPass)},
		ExitCode: &code,
	})

	for _, want := range []string{"No failures.", "Every selected rule reached a verdict.", "Exit code 0 (conformant)."} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	for _, unwanted := range []string{"## Waived", "## Baseline drift"} {
		if strings.Contains(out, unwanted) {
			t.Fatalf("report should not contain %q:\n%s", unwanted, out)
		}
	}
}

func TestRenderReport_ServiceWithoutResultsStillListed(t *testing.T) {
	out := RenderReport(ReportData{Services: []ServiceInfo{{Root: testService}}})
	if !strings.Contains(out, "| "+testService+" | unknown | 0 | 0 | 0 | 0 |") {
		t.Fatalf("expected empty service row:\n%s", out)
	}
	if !strings.Contains(out, "No rules evaluated.") {
		t.Fatalf("expected empty category section:\n%s", out)
	}
}
