package output

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"odatacheck/internal/rules"
)

type fakePublisher struct {
	owner, repo, title, body string
	err                      error
}

func (p *fakePublisher) PublishReport(_ context.Context, owner, repo, title, body string) (string, error) {
	p.owner, p.repo, p.title, p.body = owner, repo, title, body
	if p.err != nil {
		return "", p.err
	}
	return "https://github.example/" + owner + "/" + repo + "/issues/1", nil
}

func TestIssueSink_PublishesRenderedReport(t *testing.T) {
	p := &fakePublisher{}
	s, err := NewIssueSink(context.Background(), p, "acme/api", "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewIssueSink: %v", err)
	}
	_ = s.Write(failing("Minimal.Conformance.1005", "error body is not an OData error"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if p.owner != "acme" || p.repo != "api" || p.title != DefaultIssueTitle {
		t.Fatalf("unexpected target %s/%s %q", p.owner, p.repo, p.title)
	}
	if !strings.Contains(p.body, "### Minimal.Conformance.1005 (MUST)") {
		t.Fatalf("issue body missing failure:\n%s", p.body)
	}
	if s.URL != "https://github.example/acme/api/issues/1" {
		t.Fatalf("URL = %q", s.URL)
	}
}

func TestIssueSink_Errors(t *testing.T) {
	for _, target := range []string{"", "acme", "acme/", "/api", "acme/api/extra"} {
		if _, err := NewIssueSink(context.Background(), &fakePublisher{}, target, "", zerolog.Nop()); err == nil {
			t.Fatalf("target %q: expected error", target)
		}
	}
	if _, err := NewIssueSink(context.Background(), nil, "acme/api", "", zerolog.Nop()); err == nil {
		t.Fatalf("nil publisher: expected error")
	}

	s, _ := NewIssueSink(context.Background(), &fakePublisher{err: errors.New("rate limited")}, "acme/api", "t", zerolog.Nop())
	if err := s.Close(); err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

type fakeRecorder struct {
	jobID string
	saved []rules.Result
	err   error
}

func (r *fakeRecorder) SaveResult(_ context.Context, jobID string, res rules.Result) error {
	r.jobID = jobID
	r.saved = append(r.saved, res)
	return r.err
}

func TestStoreSink(t *testing.T) {
	rec := &fakeRecorder{}
	s, err := NewStoreSink(context.Background(), rec, "job-1")
	if err != nil {
		t.Fatalf("NewStoreSink: %v", err)
	}
	_ = s.Write(Event{Type: EventRunStarted})
	if err := s.Write(result("Minimal.Conformance.1001", rules.VerdictPass)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rec.jobID != "job-1" || len(rec.saved) != 1 {
		t.Fatalf("unexpected recorder state: %+v", rec)
	}

	rec.err = errors.New("db down")
	if err := s.Write(result("Minimal.Conformance.1002", rules.VerdictPass)); err == nil {
		t.Fatalf("expected recorder error to surface")
	}

	if _, err := NewStoreSink(context.Background(), nil, "job"); err == nil {
		t.Fatalf("expected error for nil recorder")
	}
	if _, err := NewStoreSink(context.Background(), rec, ""); err == nil {
		t.Fatalf("expected error for empty job id")
	}
}
