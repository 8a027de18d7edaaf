package checks

import (
	"context"

	"odatacheck/internal/data/models"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type ServiceDocumentRule struct{ leaf }

func NewServiceDocumentRule() *ServiceDocumentRule {
	return &ServiceDocumentRule{newLeaf(
		"Minimal.Conformance.1001", rules.LevelMust,
		"Service document in JSON format",
		"The service root returns a JSON service document with @odata.context and a value array of named resources.",
	)}
}

func (r *ServiceDocumentRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	resp, d := rc.Probe(ctx, odata.Get(""))
	if resp == nil {
		return probeFailed(d), nil
	}
	if out, ok := expectJSON(resp, d); !ok {
		return out, nil
	}
	if err := models.ValidateServiceDocument(resp.Body); err != nil {
		return rules.Fail(err.Error(), d), nil
	}
	return rules.Pass(d), nil
}

func init() {
	rules.Register(NewServiceDocumentRule())
}
