package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"odatacheck/internal/data"
	_ "odatacheck/internal/fetcher/providers"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

// stubRule is a leaf rule whose outcome is supplied by the test.
type stubRule struct {
	desc  rules.Descriptor
	deps  []data.DependencyKey
	eval  func(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error)
	calls atomic.Int32
}

func (r *stubRule) ID() string                   { return r.desc.Name }
func (r *stubRule) Title() string                { return "Stub " + r.desc.Name }
func (r *stubRule) Description() string          { return "Test-only rule" }
func (r *stubRule) Descriptor() rules.Descriptor { return r.desc }
func (r *stubRule) Dependencies(ctx context.Context, svc *odata.Service) ([]data.DependencyKey, error) {
	return r.deps, nil
}
func (r *stubRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	r.calls.Add(1)
	if r.eval == nil {
		return rules.Pass(rules.Detail{Rule: r.desc.Name, URL: rc.Root()}), nil
	}
	return r.eval(ctx, rc)
}

func leaf(name string, level rules.Level, eval func(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error)) *stubRule {
	return &stubRule{desc: rules.Descriptor{Name: name, Level: level, Type: rules.DependencyNone}, eval: eval}
}

func passing(name string) *stubRule {
	return leaf(name, rules.LevelMust, nil)
}

func failing(name, msg string) *stubRule {
	return leaf(name, rules.LevelMust, func(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
		return rules.Fail(msg, rules.Detail{Rule: name, URL: rc.Root(), Method: "GET"}), nil
	})
}

func allPass(t *testing.T, name string, refs ...string) rules.Rule {
	t.Helper()
	r, err := rules.NewCompositeRule(rules.Descriptor{
		Name:  name,
		Level: rules.LevelMust,
		Info: &rules.DependencyInfo{
			Policy:       rules.PolicyAllPass,
			Relationship: rules.RelationshipSubRule,
			Rules:        refs,
		},
	}, "Composite "+name, "")
	if err != nil {
		t.Fatalf("NewCompositeRule(%s): %v", name, err)
	}
	return r
}

func allMinimal(t *testing.T, name, category string) rules.Rule {
	t.Helper()
	r, err := rules.NewCompositeRule(rules.Descriptor{
		Name:  name,
		Level: rules.LevelMust,
		Info: &rules.DependencyInfo{
			Policy:       rules.PolicyAllMinimal,
			Relationship: rules.RelationshipDerivedRule,
			Category:     category,
			Level:        rules.LevelMust,
		},
	}, "Composite "+name, "")
	if err != nil {
		t.Fatalf("NewCompositeRule(%s): %v", name, err)
	}
	return r
}

func newTestRegistry(t *testing.T, rs ...rules.Rule) *rules.Registry {
	t.Helper()
	reg := rules.NewRegistry()
	for _, r := range rs {
		if err := reg.Add(r); err != nil {
			t.Fatalf("Add(%s): %v", r.ID(), err)
		}
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return reg
}

const testMetadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
  <edmx:DataServices>
    <Schema Namespace="Fake" xmlns="http://docs.oasis-open.org/odata/ns/edm">
      <EntityType Name="Person">
        <Key><PropertyRef Name="UserName"/></Key>
        <Property Name="UserName" Type="Edm.String" Nullable="false"/>
      </EntityType>
      <EntityContainer Name="Container">
        <EntitySet Name="People" EntityType="Fake.Person"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

// odataServer serves a service document and $metadata under /svc/.
type odataServer struct {
	version        string
	failMetadata   bool
	metadataHits   atomic.Int32
	serviceDocHits atomic.Int32
}

func (s *odataServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.version != "" {
		w.Header().Set("OData-Version", s.version)
	}
	switch r.URL.Path {
	case "/svc/", "/svc":
		s.serviceDocHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"@odata.context":"$metadata","value":[{"name":"People","kind":"EntitySet","url":"People"}]}`))
	case "/svc/$metadata":
		s.metadataHits.Add(1)
		if s.failMetadata {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"code":"500","message":"metadata unavailable"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(testMetadata))
	default:
		http.NotFound(w, r)
	}
}

func newODataServer(t *testing.T, s *odataServer) string {
	t.Helper()
	if s.version == "" {
		s.version = odata.Version401
	}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv.URL + "/svc/"
}
