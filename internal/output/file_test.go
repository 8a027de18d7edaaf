package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"odatacheck/internal/rules"
)

func TestInferFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "out.json", want: "json"},
		{path: "out.NDJSON", want: "ndjson"},
		{path: "out.jsonl", want: "ndjson"},
		{path: "reports/out.csv", want: "csv"},
		{path: "out.sarif", want: "sarif"},
		{path: "out.unknown", wantErr: true},
		{path: "out", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := InferFormat(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewOutSink_PicksImplementation(t *testing.T) {
	dir := t.TempDir()

	s, err := NewOutSink(filepath.Join(dir, "out.sarif"), "")
	if err != nil {
		t.Fatalf("NewOutSink: %v", err)
	}
	if _, ok := s.(*SarifSink); !ok {
		t.Fatalf("want *SarifSink, got %T", s)
	}

	s, err = NewOutSink(filepath.Join(dir, "nested", "out.txt"), "csv")
	if err != nil {
		t.Fatalf("NewOutSink: %v", err)
	}
	if _, ok := s.(*FileSink); !ok {
		t.Fatalf("want *FileSink, got %T", s)
	}
	_ = s.Close()

	if _, err := NewFileSink(filepath.Join(dir, "out.json"), "xml"); err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFileSink_JSON_AggregatesResults_AndIgnoresEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	s, err := NewFileSink(path, "json")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	if err := s.Write(Event{Type: EventRunStarted}); err != nil {
		t.Fatalf("Write event failed: %v", err)
	}
	_ = s.Write(result("Minimal.Conformance.1001", rules.VerdictPass))
	_ = s.Write(failing("Minimal.Conformance.1002", "nope"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var got []rules.Result
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v\nbody=%s", err, string(b))
	}
	if len(got) != 2 || got[0].RuleID != "Minimal.Conformance.1001" || got[1].Message != "nope" {
		t.Fatalf("unexpected results: %#v", got)
	}
}

func TestFileSink_NDJSON_StreamsEventsAndResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")

	s, err := NewFileSink(path, "")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	_ = s.Write(Event{Type: EventRunStarted, RunID: "run-1"})
	_ = s.Write(result("Minimal.Conformance.1001", rules.VerdictPass))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 ndjson lines, got %d\nbody=%s", len(lines), string(b))
	}

	var e1, e2 Event
	if err := json.Unmarshal([]byte(lines[0]), &e1); err != nil {
		t.Fatalf("Unmarshal line 1 failed: %v", err)
	}
	if e1.Type != EventRunStarted || e1.RunID != "run-1" {
		t.Fatalf("unexpected event: %#v", e1)
	}
	if err := json.Unmarshal([]byte(lines[1]), &e2); err != nil {
		t.Fatalf("Unmarshal line 2 failed: %v", err)
	}
	if e2.Type != EventRuleResult || e2.Result == nil || e2.Result.RuleID != "Minimal.Conformance.1001" {
		t.Fatalf("unexpected rule.result event: %#v", e2)
	}
}

func TestFileSink_CSV_RowPerDetail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	s, err := NewFileSink(path, "")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	_ = s.Write(Event{Type: EventRunStarted})
	_ = s.Write(result("Minimal.Conformance.1001", rules.VerdictPass))
	_ = s.Write(failing("Intermediate.Conformance.1005", "Rule failed",
		rules.Detail{Rule: "Intermediate.Conformance.1005", Method: "GET", URL: testService + "People/$count", Response: &rules.ResponseInfo{StatusCode: 200}},
		rules.Detail{Rule: "Intermediate.Conformance.1005", Method: "GET", URL: testService + "People?$count=true",
			RequestHeaders: map[string]string{"OData-MaxVersion": "4.0", "Authorization": "<redacted>"},
			Response:       &rules.ResponseInfo{StatusCode: 200, Payload: `{"@odata.count":3,"value":[]}`},
			ErrorMessage:   "count mismatch, with comma"},
	))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("want header + 3 rows, got %d: %v", len(rows), rows)
	}
	if strings.Join(rows[0], ",") != strings.Join(csvHeader, ",") {
		t.Fatalf("unexpected header %v", rows[0])
	}
	for _, row := range rows {
		if len(row) != len(csvHeader) {
			t.Fatalf("row has %d columns, want %d: %v", len(row), len(csvHeader), row)
		}
	}
	if rows[1][1] != "Minimal.Conformance.1001" || rows[1][6] != "" || rows[1][9] != "" || rows[1][11] != "" {
		t.Fatalf("result without details should have empty detail columns: %v", rows[1])
	}
	if rows[2][9] != "" || rows[2][11] != "" {
		t.Fatalf("detail without headers or payload should leave them empty: %v", rows[2])
	}
	last := rows[3]
	if last[3] != "FAIL" || last[10] != "200" || last[12] != "count mismatch, with comma" {
		t.Fatalf("unexpected detail row: %v", last)
	}
	if last[9] != "Authorization: <redacted>\nOData-MaxVersion: 4.0" {
		t.Fatalf("unexpected request_headers column %q", last[9])
	}
	if last[11] != `{"@odata.count":3,"value":[]}` {
		t.Fatalf("unexpected payload column %q", last[11])
	}
}
