package checks

import (
	"context"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type SelectRule struct{ leaf }

func NewSelectRule() *SelectRule {
	return &SelectRule{newLeaf(
		"Intermediate.Conformance.1002", rules.LevelMust,
		"$select limits returned properties",
		"A collection requested with $select of one property returns no other structural properties except keys.",
		data.DepServiceMetadata,
	)}
}

func (r *SelectRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	md, set, missing := requireEntitySet(rc)
	if missing != nil {
		return *missing, nil
	}
	keys := propertyNames(md.KeyProperties(set))
	var selected string
	for _, p := range md.Properties(set) {
		if !contains(keys, p.Name) {
			selected = p.Name
			break
		}
	}
	if selected == "" {
		return rules.Inconclusive(fmt.Sprintf("Entity set %s has no non-key property to select", set.Name)), nil
	}

	resp, d := rc.Probe(ctx, odata.Get(query(set.Name, "$select", selected)))
	if resp == nil {
		return probeFailed(d), nil
	}
	if out, ok := expectJSON(resp, d); !ok {
		return out, nil
	}
	_, entities, err := decodeCollection(resp.Body)
	if err != nil {
		return rules.Fail(err.Error(), d), nil
	}
	for _, e := range entities {
		if extra, ok := onlyProperties(e, append(keys, selected)...); !ok {
			return rules.Fail(fmt.Sprintf("$select=%s returned unselected property %s", selected, extra), d), nil
		}
	}
	return rules.Pass(d), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func init() {
	rules.Register(NewSelectRule())
}
