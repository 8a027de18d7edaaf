package rules

import (
	"context"
	"errors"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/data/models"
	"odatacheck/internal/odata"
)

// RuleContext bundles what a rule may see while evaluating: the target
// service, the shared documents it declared, a prober and, for composite
// rules, the outcomes of the rules it references.
type RuleContext struct {
	Service *odata.Service
	Data    data.DataContext
	Prober  Prober

	children []Outcome
}

func NewRuleContext(svc *odata.Service, dc data.DataContext, prober Prober) *RuleContext {
	return &RuleContext{Service: svc, Data: dc, Prober: prober}
}

// Require panics when rc is nil. A nil context is a programming error in the
// caller, not something to report as an outcome.
func Require(rc *RuleContext) {
	if rc == nil {
		panic("rules: nil RuleContext")
	}
}

// WithChildren returns a copy carrying the children's outcomes.
func (rc *RuleContext) WithChildren(children []Outcome) *RuleContext {
	Require(rc)
	cp := *rc
	cp.children = children
	return &cp
}

// Children returns the outcomes of referenced rules in evaluation order.
func (rc *RuleContext) Children() []Outcome {
	Require(rc)
	return rc.children
}

// Svc returns the service under validation. It is nil-safe so wrappers can
// call it without checking rc.
func (rc *RuleContext) Svc() *odata.Service {
	if rc == nil {
		return nil
	}
	return rc.Service
}

// Root returns the service root URL.
func (rc *RuleContext) Root() string {
	Require(rc)
	if rc.Service == nil {
		return ""
	}
	return rc.Service.Root
}

// Version returns the OData version the service reported, or "".
func (rc *RuleContext) Version() string {
	Require(rc)
	if rc.Data != nil {
		if v, ok := rc.Data.Get(data.DepServiceVersion); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if rc.Service != nil {
		return rc.Service.Version
	}
	return ""
}

// Metadata returns the parsed CSDL document when declared and available.
func (rc *RuleContext) Metadata() (*models.Metadata, bool) {
	Require(rc)
	if rc.Data == nil {
		return nil, false
	}
	v, ok := rc.Data.Get(data.DepServiceMetadata)
	if !ok {
		return nil, false
	}
	md, ok := v.(*models.Metadata)
	return md, ok && md != nil
}

// ServiceDocument returns the parsed service document when declared and
// available.
func (rc *RuleContext) ServiceDocument() (*models.ServiceDocument, bool) {
	Require(rc)
	if rc.Data == nil {
		return nil, false
	}
	v, ok := rc.Data.Get(data.DepServiceRoot)
	if !ok {
		return nil, false
	}
	doc, ok := v.(*models.ServiceDocument)
	return doc, ok && doc != nil
}

// Probe issues req and records it as a detail. On transport failure the
// response is nil and the detail carries the error message.
func (rc *RuleContext) Probe(ctx context.Context, req odata.Request) (*odata.Response, Detail) {
	Require(rc)
	if rc.Prober == nil {
		d := NewDetail(req, nil)
		d.URL = resolveURL(rc.Root(), req.URL)
		d.ErrorMessage = "no prober configured"
		return nil, d
	}
	resp, err := rc.Prober.Do(ctx, req)
	d := NewDetail(req, resp)
	if resp == nil {
		d.URL = resolveURL(rc.Root(), req.URL)
	}
	if err != nil {
		d.ErrorMessage = probeErrorMessage(err)
		return nil, d
	}
	return resp, d
}

func probeErrorMessage(err error) string {
	switch {
	case errors.Is(err, odata.ErrCircuitOpen):
		return "Service unavailable: circuit open after repeated transport failures"
	case errors.Is(err, context.Canceled):
		return "Probe cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Probe timed out"
	default:
		return fmt.Sprintf("Probe failed: %v", err)
	}
}
