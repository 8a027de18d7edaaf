package checks

import (
	"context"
	"fmt"

	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type VersionHeaderRule struct{ leaf }

func NewVersionHeaderRule() *VersionHeaderRule {
	return &VersionHeaderRule{newLeaf(
		"Minimal.Conformance.1003", rules.LevelMust,
		"OData-Version response header",
		"Responses carry an OData-Version header of 4.0 or 4.01.",
	)}
}

func (r *VersionHeaderRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	resp, d := rc.Probe(ctx, odata.Get(""))
	if resp == nil {
		return probeFailed(d), nil
	}
	switch v := resp.Header.Get("OData-Version"); v {
	case odata.Version40, odata.Version401:
		return rules.Pass(d), nil
	case "":
		return rules.Fail("Response has no OData-Version header", d), nil
	default:
		return rules.Fail(fmt.Sprintf("OData-Version %q is not 4.0 or 4.01", v), d), nil
	}
}

// MaxVersionRule checks that a client asking for at most 4.0 is not answered
// with a newer version.
type MaxVersionRule struct{ leaf }

func NewMaxVersionRule() *MaxVersionRule {
	return &MaxVersionRule{newLeaf(
		"Minimal.Conformance.1006", rules.LevelMust,
		"OData-MaxVersion is honoured",
		"With OData-MaxVersion: 4.0 the service responds with OData-Version 4.0.",
	)}
}

func (r *MaxVersionRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	resp, d := rc.Probe(ctx, odata.Get("").WithHeader("OData-MaxVersion", odata.Version40))
	if resp == nil {
		return probeFailed(d), nil
	}
	if out, ok := expectStatus(resp, d, 200); !ok {
		return out, nil
	}
	if v := resp.Header.Get("OData-Version"); v != odata.Version40 {
		return rules.Fail(fmt.Sprintf("Requested OData-MaxVersion 4.0 but got OData-Version %q", v), d), nil
	}
	return rules.Pass(d), nil
}

func init() {
	rules.Register(NewVersionHeaderRule())
	rules.Register(NewMaxVersionRule())
}
