package checks

import (
	"context"
	"fmt"
	"strings"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type MetadataLevelRule struct{ leaf }

func NewMetadataLevelRule() *MetadataLevelRule {
	return &MetadataLevelRule{newLeaf(
		"Minimal.Conformance.1007", rules.LevelShould,
		"odata.metadata=minimal is supported",
		"Requesting an entity set with Accept: application/json;odata.metadata=minimal returns JSON with a context URL.",
		data.DepServiceRoot,
	)}
}

func (r *MetadataLevelRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	doc, ok := rc.ServiceDocument()
	if !ok || len(doc.EntitySets()) == 0 {
		return rules.Inconclusive("No entity set available from the service document"), nil
	}
	set := doc.EntitySets()[0]
	req := odata.Get(set.URL).WithHeader("Accept", "application/json;odata.metadata=minimal")
	resp, d := rc.Probe(ctx, req)
	if resp == nil {
		return probeFailed(d), nil
	}
	if out, ok := expectJSON(resp, d); !ok {
		return out, nil
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "odata.metadata=") && !strings.Contains(ct, "odata.metadata=minimal") {
		return rules.Fail(fmt.Sprintf("Content-Type %q does not echo odata.metadata=minimal", ct), d), nil
	}
	obj, err := decodeObject(resp.Body)
	if err != nil {
		return rules.Fail(err.Error(), d), nil
	}
	if _, ok := obj["@odata.context"]; !ok {
		return rules.Fail("Response has no @odata.context", d), nil
	}
	return rules.Pass(d), nil
}

func init() {
	rules.Register(NewMetadataLevelRule())
}
