package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"odatacheck/internal/baseline"
	"odatacheck/internal/rules"
)

// ReportData is everything the Markdown report is rendered from.
type ReportData struct {
	RunID    string
	Command  string
	Services []ServiceInfo
	Results  []rules.Result
	// ExitCode is nil until run.finished has been seen.
	ExitCode *int
	Drift    []baseline.Drift
}

type ServiceInfo struct {
	Root    string
	Version string
}

// reportCollector accumulates results and lifecycle events for sinks that
// render the report once at Close.
type reportCollector struct {
	mu       sync.Mutex
	runID    string
	command  string
	versions map[string]string
	results  []rules.Result
	exitCode *int
	drift    []baseline.Drift
}

func (c *reportCollector) add(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions == nil {
		c.versions = make(map[string]string)
	}

	switch t := v.(type) {
	case rules.Result:
		c.results = append(c.results, t)
		if _, ok := c.versions[t.Service]; !ok && t.Service != "" {
			c.versions[t.Service] = ""
		}
	case Event:
		if t.RunID != "" {
			c.runID = t.RunID
		}
		if t.Command != "" {
			c.command = t.Command
		}
		if t.Service != "" && (t.Version != "" || c.versions[t.Service] == "") {
			c.versions[t.Service] = t.Version
		}
		if t.Type == EventRunFinished {
			code := t.ExitCode
			c.exitCode = &code
			c.drift = t.Drift
		}
	}
}

func (c *reportCollector) data() ReportData {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := ReportData{
		RunID:    c.runID,
		Command:  c.command,
		Results:  append([]rules.Result(nil), c.results...),
		ExitCode: c.exitCode,
		Drift:    c.drift,
	}
	for root, version := range c.versions {
		d.Services = append(d.Services, ServiceInfo{Root: root, Version: version})
	}
	sort.Slice(d.Services, func(i, j int) bool { return d.Services[i].Root < d.Services[j].Root })
	return d
}

type ReportSink struct {
	path string
	file *os.File
	reportCollector
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}
	f, err := createOutputFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	s.add(v)
	return nil
}

func (s *ReportSink) Close() error {
	if _, err := s.file.WriteString(RenderReport(s.data())); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

// RenderReport renders the Markdown conformance report.
func RenderReport(d ReportData) string {
	results := append([]rules.Result(nil), d.Results...)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Service != results[j].Service {
			return results[i].Service < results[j].Service
		}
		return results[i].RuleID < results[j].RuleID
	})

	perService := make(map[string]*Counts)
	for _, svc := range d.Services {
		perService[svc.Root] = &Counts{}
	}
	var total Counts
	var fails, inconclusive, waived []rules.Result
	uniqueRules := make(map[string]struct{})
	for _, r := range results {
		uniqueRules[r.RuleID] = struct{}{}
		c := perService[r.Service]
		if c == nil {
			c = &Counts{}
			perService[r.Service] = c
			d.Services = append(d.Services, ServiceInfo{Root: r.Service})
		}
		c.Add(r)
		total.Add(r)
		switch {
		case r.Waived:
			waived = append(waived, r)
		case r.Verdict == rules.VerdictFail:
			fails = append(fails, r)
		case r.Verdict == rules.VerdictInconclusive:
			inconclusive = append(inconclusive, r)
		}
	}
	sort.Slice(d.Services, func(i, j int) bool { return d.Services[i].Root < d.Services[j].Root })

	var b strings.Builder
	b.WriteString("# OData Conformance Report\n\n")
	if d.RunID != "" {
		fmt.Fprintf(&b, "Run `%s`. ", d.RunID)
	}
	fmt.Fprintf(&b, "Validated %d service(s) against %d rule(s): %d pass, %d fail, %d inconclusive.",
		len(d.Services), len(uniqueRules), total.Pass, total.Fail, total.Inconclusive)
	if d.ExitCode != nil {
		fmt.Fprintf(&b, " Exit code %d (%s).", *d.ExitCode, exitCodeMeaning(*d.ExitCode))
	}
	b.WriteString("\n\n")
	if d.Command != "" {
		fmt.Fprintf(&b, "Reproduce with:\n\n```sh\n%s\n```\n\n", d.Command)
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Service | OData version | PASS | FAIL | INCONCLUSIVE | Waived |\n")
	b.WriteString("| --- | --- | ---: | ---: | ---: | ---: |\n")
	for _, svc := range d.Services {
		c := perService[svc.Root]
		version := svc.Version
		if version == "" {
			version = "unknown"
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %d |\n", svc.Root, version, c.Pass, c.Fail, c.Inconclusive, c.Waived)
	}
	b.WriteString("\n")

	b.WriteString("## Conformance by category\n\n")
	cats := categoryCounts(results)
	if len(cats) == 0 {
		b.WriteString("No rules evaluated.\n\n")
	} else {
		b.WriteString("| Category | PASS | FAIL | INCONCLUSIVE |\n")
		b.WriteString("| --- | ---: | ---: | ---: |\n")
		for _, name := range sortedKeys(cats) {
			c := cats[name]
			fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", name, c.Pass, c.Fail, c.Inconclusive)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Failures\n\n")
	if len(fails) == 0 {
		b.WriteString("No failures.\n\n")
	}
	for _, r := range fails {
		fmt.Fprintf(&b, "### %s (%s)\n\n", r.RuleID, levelOrUnknown(r.Level))
		if title := ruleTitle(r.RuleID); title != "" {
			fmt.Fprintf(&b, "_%s_\n\n", title)
		}
		fmt.Fprintf(&b, "- Service: %s\n", r.Service)
		if r.Message != "" {
			fmt.Fprintf(&b, "- Reason: %s\n", r.Message)
		}
		writeDetails(&b, r.Details)
		b.WriteString("\n")
	}

	b.WriteString("## Inconclusive\n\n")
	if len(inconclusive) == 0 {
		b.WriteString("Every selected rule reached a verdict.\n\n")
	} else {
		b.WriteString("| Rule | Service | Reason |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, r := range inconclusive {
			reason := r.Message
			if r.Error != "" {
				reason = r.Error
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", r.RuleID, r.Service, escapeCell(reason))
		}
		b.WriteString("\n")
	}

	if len(waived) > 0 {
		b.WriteString("## Waived\n\n")
		for _, r := range waived {
			fmt.Fprintf(&b, "- %s on %s: %s\n", r.RuleID, r.Service, r.Message)
		}
		b.WriteString("\n")
	}

	if len(d.Drift) > 0 {
		b.WriteString("## Baseline drift\n\n")
		b.WriteString("| Rule | Service | Baseline | Now |\n")
		b.WriteString("| --- | --- | --- | --- |\n")
		for _, dr := range d.Drift {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", dr.RuleID, dr.Service, dr.Previous, dr.Current)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Rules evaluated\n\n")
	for _, id := range sortedKeys(uniqueRules) {
		if title := ruleTitle(id); title != "" {
			fmt.Fprintf(&b, "- `%s` %s\n", id, title)
		} else {
			fmt.Fprintf(&b, "- `%s`\n", id)
		}
	}
	return b.String()
}

// writeDetails lists the probes that carry an error. Composite results can
// carry many passing probes; those are left to the structured outputs.
func writeDetails(b *strings.Builder, details []rules.Detail) {
	for _, d := range details {
		if d.ErrorMessage == "" {
			continue
		}
		status := "no response"
		if d.Response != nil {
			status = fmt.Sprintf("HTTP %d", d.Response.StatusCode)
		}
		if d.URL != "" {
			fmt.Fprintf(b, "- `%s` `%s %s` (%s): %s\n", d.Rule, d.Method, d.URL, status, d.ErrorMessage)
		} else {
			fmt.Fprintf(b, "- `%s`: %s\n", d.Rule, d.ErrorMessage)
		}
	}
}

func categoryCounts(results []rules.Result) map[string]*Counts {
	out := make(map[string]*Counts)
	for _, r := range results {
		name := category(r.RuleID)
		c := out[name]
		if c == nil {
			c = &Counts{}
			out[name] = c
		}
		c.Add(r)
	}
	return out
}

// category is the conformance level prefix of a rule ID, e.g. "Minimal".
func category(id string) string {
	if i := strings.Index(id, "."); i > 0 {
		return id[:i]
	}
	return id
}

func ruleTitle(id string) string {
	if r, ok := rules.Default().Get(id); ok {
		return r.Title()
	}
	return ""
}

func levelOrUnknown(l rules.Level) string {
	if l == "" {
		return "unknown level"
	}
	return string(l)
}

func exitCodeMeaning(code int) string {
	switch code {
	case 0:
		return "conformant"
	case 1:
		return "failures found"
	case 2:
		return "partial, some rules could not be evaluated"
	default:
		return "fatal error"
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
