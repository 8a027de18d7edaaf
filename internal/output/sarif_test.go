package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"odatacheck/internal/rules"
)

func TestBuildSarif_LevelsAndLocations(t *testing.T) {
	should := failing("Minimal.Conformance.1007", "metadata level ignored")
	should.Level = rules.LevelShould
	inconclusive := result("Intermediate.Conformance.1006", rules.VerdictInconclusive)
	inconclusive.Message = "no filterable property"

	report, err := BuildSarif([]rules.Result{
		result("Minimal.Conformance.1001", rules.VerdictPass),
		failing("Minimal.Conformance.1003", "missing OData-Version",
			rules.Detail{Rule: "Minimal.Conformance.1003", URL: testService + "People", ErrorMessage: "missing header"}),
		should,
		inconclusive,
	})
	if err != nil {
		t.Fatalf("BuildSarif: %v", err)
	}
	if len(report.Runs) != 1 {
		t.Fatalf("want 1 run, got %d", len(report.Runs))
	}
	run := report.Runs[0]
	if len(run.Results) != 3 {
		t.Fatalf("passing results must be omitted, got %d results", len(run.Results))
	}

	levels := map[string]string{}
	uris := map[string]string{}
	for _, r := range run.Results {
		levels[*r.RuleID] = *r.Level
		uris[*r.RuleID] = *r.Locations[0].PhysicalLocation.ArtifactLocation.URI
	}
	want := map[string]string{
		"Minimal.Conformance.1003":      "error",
		"Minimal.Conformance.1007":      "warning",
		"Intermediate.Conformance.1006": "note",
	}
	for id, lvl := range want {
		if levels[id] != lvl {
			t.Fatalf("%s level = %q, want %q", id, levels[id], lvl)
		}
	}
	if uris["Minimal.Conformance.1003"] != testService+"People" {
		t.Fatalf("expected failing probe URL as location, got %q", uris["Minimal.Conformance.1003"])
	}
	if uris["Minimal.Conformance.1007"] != testService {
		t.Fatalf("expected service root as fallback location, got %q", uris["Minimal.Conformance.1007"])
	}
}

func TestSarifSink_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.sarif")
	s, err := NewSarifSink(path)
	if err != nil {
		t.Fatalf("NewSarifSink: %v", err)
	}
	_ = s.Write(Event{Type: EventRunStarted})
	_ = s.Write(failing("Minimal.Conformance.1005", "plain text error body"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc struct {
		Version string `json:"version"`
		Runs    []struct {
			Tool struct {
				Driver struct {
					Name string `json:"name"`
				} `json:"driver"`
			} `json:"tool"`
			Results []json.RawMessage `json:"results"`
		} `json:"runs"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode SARIF: %v", err)
	}
	if doc.Version != "2.1.0" || len(doc.Runs) != 1 || doc.Runs[0].Tool.Driver.Name != "odatacheck" {
		t.Fatalf("unexpected SARIF document: %s", raw)
	}
	if len(doc.Runs[0].Results) != 1 {
		t.Fatalf("want 1 result, got %d", len(doc.Runs[0].Results))
	}
}
