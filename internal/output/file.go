package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"odatacheck/internal/rules"
)

// InferFormat maps an output path extension to a format name.
func InferFormat(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return "json", nil
	case ".ndjson", ".jsonl":
		return "ndjson", nil
	case ".csv":
		return "csv", nil
	case ".sarif":
		return "sarif", nil
	default:
		return "", fmt.Errorf("cannot infer output format from file extension %q", ext)
	}
}

// NewOutSink opens the --out destination in the requested format.
func NewOutSink(path, format string) (Sink, error) {
	if format == "" {
		f, err := InferFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	if format == "sarif" {
		return NewSarifSink(path)
	}
	return NewFileSink(path, format)
}

func createOutputFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("output path required")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

var csvHeader = []string{
	"service", "rule_id", "level", "verdict", "waived", "message",
	"detail_rule", "method", "url", "request_headers", "status", "payload", "error",
}

// FileSink writes one structured format to a file. NDJSON and CSV rows are
// written as they arrive; JSON is written as a single array on Close.
type FileSink struct {
	file  *os.File
	inner Sink
}

func NewFileSink(path string, format string) (*FileSink, error) {
	if format == "" {
		f, err := InferFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	if format != "json" && format != "ndjson" && format != "csv" {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	f, err := createOutputFile(path)
	if err != nil {
		return nil, err
	}
	s := &FileSink{file: f}
	switch format {
	case "json":
		s.inner = &resultArray{w: f}
	case "ndjson":
		s.inner = &eventStream{w: f}
	case "csv":
		table, err := newCSVTable(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		s.inner = table
	}
	return s, nil
}

func (s *FileSink) Write(v any) error {
	return s.inner.Write(v)
}

func (s *FileSink) Close() error {
	err := s.inner.Close()
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// csvTable writes one row per detail, or one row with empty detail columns
// for a result without details. Events are dropped.
type csvTable struct {
	mu sync.Mutex
	w  *csv.Writer
}

func newCSVTable(w io.Writer) (*csvTable, error) {
	t := &csvTable{w: csv.NewWriter(w)}
	if err := t.w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return t, nil
}

func (t *csvTable) Write(v any) error {
	r, ok := v.(rules.Result)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.WriteAll(csvRows(r))
}

func (t *csvTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Flush()
	return t.w.Error()
}

// headerLines renders headers as "Name: value" lines sorted by name.
func headerLines(h map[string]string) string {
	lines := make([]string, 0, len(h))
	for _, k := range slices.Sorted(maps.Keys(h)) {
		lines = append(lines, k+": "+h[k])
	}
	return strings.Join(lines, "\n")
}

func csvRows(r rules.Result) [][]string {
	base := []string{r.Service, r.RuleID, string(r.Level), string(r.Verdict), strconv.FormatBool(r.Waived), r.Message}
	if len(r.Details) == 0 {
		return [][]string{append(base, "", "", "", "", "", "", r.Error)}
	}
	rows := make([][]string, 0, len(r.Details))
	for _, d := range r.Details {
		status, payload := "", ""
		if d.Response != nil {
			status = strconv.Itoa(d.Response.StatusCode)
			payload = d.Response.Payload
		}
		rows = append(rows, append(slices.Clone(base),
			d.Rule, d.Method, d.URL, headerLines(d.RequestHeaders), status, payload, d.ErrorMessage))
	}
	return rows
}
