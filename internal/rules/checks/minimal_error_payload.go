package checks

import (
	"context"

	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

// missingResource is a path no service is expected to expose.
const missingResource = "OdataCheck_NoSuchResource"

type ErrorPayloadRule struct{ leaf }

func NewErrorPayloadRule() *ErrorPayloadRule {
	return &ErrorPayloadRule{newLeaf(
		"Minimal.Conformance.1005", rules.LevelMust,
		"Error responses use the OData error format",
		"Requesting a resource that does not exist yields a 4xx status with a JSON error object carrying code and message.",
	)}
}

func (r *ErrorPayloadRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	resp, d := rc.Probe(ctx, odata.Get(missingResource))
	if resp == nil {
		return probeFailed(d), nil
	}
	if resp.StatusCode < 400 || resp.StatusCode >= 500 {
		return rules.Fail("Expected a 4xx status for a missing resource", d), nil
	}
	if !odata.IsErrorPayload(resp.Body) {
		return rules.Fail("Error response body is not an OData error object with code and message", d), nil
	}
	return rules.Pass(d), nil
}

func init() {
	rules.Register(NewErrorPayloadRule())
}
