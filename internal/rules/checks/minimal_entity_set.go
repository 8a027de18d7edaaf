package checks

import (
	"context"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type EntitySetCollectionRule struct{ leaf }

func NewEntitySetCollectionRule() *EntitySetCollectionRule {
	return &EntitySetCollectionRule{newLeaf(
		"Minimal.Conformance.1004", rules.LevelMust,
		"Entity set returns a collection",
		"The first entity set listed in the service document returns a JSON collection with a value array.",
		data.DepServiceRoot,
	)}
}

func (r *EntitySetCollectionRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	doc, ok := rc.ServiceDocument()
	if !ok {
		return rules.Inconclusive("Service document is not available"), nil
	}
	sets := doc.EntitySets()
	if len(sets) == 0 {
		return rules.Inconclusive("Service document lists no entity sets"), nil
	}
	resp, d := rc.Probe(ctx, odata.Get(sets[0].URL))
	if resp == nil {
		return probeFailed(d), nil
	}
	if out, ok := expectJSON(resp, d); !ok {
		return out, nil
	}
	obj, _, err := decodeCollection(resp.Body)
	if err != nil {
		return rules.Fail(err.Error(), d), nil
	}
	if _, ok := obj["@odata.context"]; !ok {
		return rules.Fail(fmt.Sprintf("Collection %s has no @odata.context", sets[0].Name), d), nil
	}
	return rules.Pass(d), nil
}

func init() {
	rules.Register(NewEntitySetCollectionRule())
}
