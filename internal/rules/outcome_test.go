package rules

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
)

func TestFail_AlwaysCarriesErrorDetail(t *testing.T) {
	tests := []struct {
		name    string
		out     Outcome
		wantLen int
		wantErr string
	}{
		{"no details", Fail("broken"), 1, "broken"},
		{"detail without message", Fail("broken", Detail{URL: "People"}), 1, "broken"},
		{"detail with message kept", Fail("summary", Detail{URL: "People", ErrorMessage: "specific"}), 1, "specific"},
		{"inconclusive explained", Inconclusive("no entity set"), 1, "no entity set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.out.Details) != tt.wantLen {
				t.Fatalf("len = %d", len(tt.out.Details))
			}
			if got := tt.out.Details[len(tt.out.Details)-1].ErrorMessage; got != tt.wantErr {
				t.Fatalf("error = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestPass_ClearsErrorMessages(t *testing.T) {
	in := Detail{URL: "People?$top=1", ErrorMessage: "stale explanation"}
	for _, out := range []Outcome{Pass(in), PassWithMessage("ok", in)} {
		if out.HasError() {
			t.Fatalf("passing outcome carries an error: %+v", out.Details)
		}
		if len(out.Details) != 1 || out.Details[0].URL != "People?$top=1" {
			t.Fatalf("details = %+v", out.Details)
		}
	}
	if in.ErrorMessage != "stale explanation" {
		t.Fatalf("Pass mutated its argument")
	}
}

func TestOutcome_TaggedCopies(t *testing.T) {
	orig := Pass(Detail{URL: "People", RequestHeaders: map[string]string{"A": "1"}})
	tagged := orig.Tagged("X")
	tagged.Details[0].RequestHeaders["A"] = "2"
	if orig.Details[0].Rule != "" || orig.Details[0].RequestHeaders["A"] != "1" {
		t.Fatalf("Tagged mutated the original: %+v", orig.Details[0])
	}
	if tagged.Rule != "X" || tagged.Details[0].Rule != "X" {
		t.Fatalf("tag not applied: %+v", tagged)
	}
}

func TestNewDetail_RecordsResponse(t *testing.T) {
	req := odata.Get("People").WithHeader("Prefer", "x")
	resp := &odata.Response{
		URL:            "http://h/svc/People",
		StatusCode:     200,
		Header:         http.Header{"Odata-Version": []string{"4.0"}},
		Body:           []byte(`{"value":[]}`),
		RequestHeaders: map[string]string{"Prefer": "x", "Accept": "application/json"},
	}
	d := NewDetail(req, resp)
	if d.URL != "http://h/svc/People" || d.Method != "GET" {
		t.Fatalf("unexpected detail %+v", d)
	}
	if d.Response == nil || d.Response.StatusCode != 200 || d.Response.Headers["Odata-Version"] != "4.0" {
		t.Fatalf("unexpected response info %+v", d.Response)
	}
	if d.RequestHeaders["Accept"] != "application/json" {
		t.Fatalf("request headers not recorded: %v", d.RequestHeaders)
	}
}

func TestNewDetail_RedactsCredentialHeaders(t *testing.T) {
	req := odata.Get("People").WithHeader("Authorization", "Bearer s3cret")
	if d := NewDetail(req, nil); d.RequestHeaders["Authorization"] != odata.Redacted {
		t.Fatalf("credential kept without response: %v", d.RequestHeaders)
	}
	resp := &odata.Response{StatusCode: 200, RequestHeaders: map[string]string{"Authorization": "Bearer s3cret", "Accept": "application/json"}}
	d := NewDetail(req, resp)
	if d.RequestHeaders["Authorization"] != odata.Redacted || d.RequestHeaders["Accept"] != "application/json" {
		t.Fatalf("unexpected request headers %v", d.RequestHeaders)
	}
	if resp.RequestHeaders["Authorization"] != "Bearer s3cret" {
		t.Fatalf("response headers modified")
	}
}

type stubProber struct {
	resp *odata.Response
	err  error
}

func (s stubProber) Do(ctx context.Context, req odata.Request) (*odata.Response, error) {
	return s.resp, s.err
}

func TestRuleContext_Probe(t *testing.T) {
	svc := &odata.Service{Root: "http://h/svc/"}

	rc := NewRuleContext(svc, data.NewMapDataContext(nil), stubProber{err: odata.ErrCircuitOpen})
	resp, d := rc.Probe(context.Background(), odata.Get("People"))
	if resp != nil {
		t.Fatalf("expected nil response")
	}
	if d.URL != "http://h/svc/People" || !strings.Contains(d.ErrorMessage, "circuit open") {
		t.Fatalf("unexpected detail %+v", d)
	}

	rc = NewRuleContext(svc, nil, stubProber{err: errors.New("dial tcp: refused")})
	_, d = rc.Probe(context.Background(), odata.Get("People"))
	if !strings.Contains(d.ErrorMessage, "refused") {
		t.Fatalf("unexpected detail %+v", d)
	}

	ok := &odata.Response{URL: "http://h/svc/People", StatusCode: 200}
	rc = NewRuleContext(svc, nil, stubProber{resp: ok})
	resp, d = rc.Probe(context.Background(), odata.Get("People"))
	if resp != ok || d.ErrorMessage != "" {
		t.Fatalf("unexpected probe result %+v %+v", resp, d)
	}
}

func TestRuleContext_NilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil RuleContext")
		}
	}()
	var rc *RuleContext
	rc.Children()
}

func TestRuleContext_Version(t *testing.T) {
	rc := NewRuleContext(&odata.Service{Version: "4.0"}, data.NewMapDataContext(map[data.DependencyKey]any{
		data.DepServiceVersion: "4.01",
	}), nil)
	if got := rc.Version(); got != "4.01" {
		t.Fatalf("Version() = %q", got)
	}
	rc = NewRuleContext(&odata.Service{Version: "4.0"}, nil, nil)
	if got := rc.Version(); got != "4.0" {
		t.Fatalf("Version() = %q", got)
	}
}
