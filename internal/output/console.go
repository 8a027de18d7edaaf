package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"odatacheck/internal/rules"
)

type ConsoleSink struct {
	writer  io.Writer
	format  string // "text", "json", "ndjson"
	mu      sync.Mutex
	results []rules.Result // For JSON array output
	allowed map[rules.Verdict]bool
	palette palette
}

type palette struct {
	pass, fail, inconclusive, waived, dim *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		pass:         color.New(color.FgGreen, color.Bold),
		fail:         color.New(color.FgRed, color.Bold),
		inconclusive: color.New(color.FgYellow, color.Bold),
		waived:       color.New(color.FgCyan),
		dim:          color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.pass, p.fail, p.inconclusive, p.waived, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) verdict(r rules.Result) string {
	label := fmt.Sprintf("%-12s", r.Verdict)
	switch {
	case r.Waived:
		return p.waived.Sprint(fmt.Sprintf("%-12s", "WAIVED"))
	case r.Verdict == rules.VerdictPass:
		return p.pass.Sprint(label)
	case r.Verdict == rules.VerdictFail:
		return p.fail.Sprint(label)
	default:
		return p.inconclusive.Sprint(label)
	}
}

// NewConsoleSink writes to w (stdout when nil). filterVerdicts limits which
// results are shown; lifecycle summaries are always printed in text mode.
// Colour is used only when writing to a terminal stdout.
func NewConsoleSink(w io.Writer, format string, filterVerdicts ...string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}

	s := &ConsoleSink{
		writer:  w,
		format:  format,
		palette: newPalette(w == io.Writer(os.Stdout) && !color.NoColor),
	}

	if len(filterVerdicts) > 0 {
		s.allowed = make(map[rules.Verdict]bool)
		for _, v := range filterVerdicts {
			s.allowed[rules.Verdict(strings.ToUpper(strings.TrimSpace(v)))] = true
		}
	}
	return s
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := v.(rules.Result); ok && len(s.allowed) > 0 && !s.allowed[r.Verdict] {
		return nil
	}

	switch s.format {
	case "json":
		if r, ok := v.(rules.Result); ok {
			s.results = append(s.results, r)
		}
		return nil
	case "ndjson":
		return writeNDJSON(s.writer, v)
	case "text":
		switch t := v.(type) {
		case rules.Result:
			return s.writeResult(t)
		case Event:
			return s.writeEvent(t)
		}
		return nil
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) writeResult(r rules.Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", s.palette.verdict(r), r.RuleID, s.palette.dim.Sprint(r.Service))
	if r.Message != "" {
		fmt.Fprintf(&b, " - %s", r.Message)
	}
	b.WriteString("\n")
	if r.Verdict != rules.VerdictPass {
		for _, d := range r.Details {
			if d.ErrorMessage == "" {
				continue
			}
			fmt.Fprintf(&b, "    %s %s", s.palette.dim.Sprint(d.Rule), d.ErrorMessage)
			if d.URL != "" {
				fmt.Fprintf(&b, " (%s %s)", d.Method, d.URL)
			}
			b.WriteString("\n")
		}
	}
	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return err
	}
	return flushIfPossible(s.writer)
}

func (s *ConsoleSink) writeEvent(e Event) error {
	var line string
	switch e.Type {
	case EventServiceFinished:
		if e.Counts == nil {
			return nil
		}
		line = fmt.Sprintf("%s: %d pass, %d fail, %d inconclusive", e.Service, e.Counts.Pass, e.Counts.Fail, e.Counts.Inconclusive)
		if e.Counts.Waived > 0 {
			line += fmt.Sprintf(" (%d waived)", e.Counts.Waived)
		}
	case EventRunFinished:
		if len(e.Drift) > 0 {
			line = fmt.Sprintf("baseline drift: %d verdict(s) changed", len(e.Drift))
		}
	}
	if line == "" {
		return nil
	}
	if _, err := fmt.Fprintln(s.writer, s.palette.dim.Sprint(line)); err != nil {
		return err
	}
	return flushIfPossible(s.writer)
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		return writeJSONArray(s.writer, s.results)
	case "text", "ndjson":
		return nil
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}
