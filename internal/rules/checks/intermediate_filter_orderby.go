package checks

import (
	"context"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/data/models"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type FilterRule struct{ leaf }

func NewFilterRule() *FilterRule {
	return &FilterRule{newLeaf(
		"Intermediate.Conformance.1006", rules.LevelMust,
		"$filter with eq",
		"Filtering a collection on a property value taken from one of its entities returns only matching entities, including that one.",
		data.DepServiceMetadata,
	)}
}

func (r *FilterRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	md, missing := requireMetadata(rc)
	if missing != nil {
		return *missing, nil
	}
	set := md.FirstEntitySet(models.CapFilter)
	if set == nil {
		return rules.Inconclusive("No filterable entity set with a key found in metadata"), nil
	}
	prop, ok := md.FilterableProperty(set)
	if !ok {
		return rules.Inconclusive(fmt.Sprintf("Entity set %s has no filterable string or integer property", set.Name)), nil
	}

	sample, d1 := rc.Probe(ctx, odata.Get(set.Name))
	if sample == nil {
		return probeFailed(d1), nil
	}
	if out, ok := expectJSON(sample, d1); !ok {
		return out, nil
	}
	_, entities, err := decodeCollection(sample.Body)
	if err != nil {
		return rules.Fail(err.Error(), d1), nil
	}
	if len(entities) == 0 {
		return rules.Inconclusive(fmt.Sprintf("Entity set %s is empty", set.Name), d1), nil
	}
	want := entities[0][prop.Name]
	lit, ok := literal(want, prop.Type)
	if !ok {
		return rules.Inconclusive(fmt.Sprintf("Property %s has no usable value to filter on", prop.Name), d1), nil
	}

	expr := prop.Name + " eq " + lit
	resp, d2 := rc.Probe(ctx, odata.Get(query(set.Name, "$filter", expr)))
	if resp == nil {
		return probeFailed(d2), nil
	}
	if out, ok := expectJSON(resp, d2); !ok {
		return out, nil
	}
	_, matched, err := decodeCollection(resp.Body)
	if err != nil {
		return rules.Fail(err.Error(), d1, d2), nil
	}
	if len(matched) == 0 {
		return rules.Fail(fmt.Sprintf("$filter=%s returned no entities", expr), d1, d2), nil
	}
	for _, e := range matched {
		if fmt.Sprint(e[prop.Name]) != fmt.Sprint(want) {
			return rules.Fail(fmt.Sprintf("$filter=%s returned an entity with %s=%v", expr, prop.Name, e[prop.Name]), d1, d2), nil
		}
	}
	return rules.Pass(d1, d2), nil
}

type OrderByRule struct{ leaf }

func NewOrderByRule() *OrderByRule {
	return &OrderByRule{newLeaf(
		"Intermediate.Conformance.1007", rules.LevelMust,
		"$orderby",
		"A collection ordered descending by a sortable property is returned in non-increasing order of that property.",
		data.DepServiceMetadata,
	)}
}

func (r *OrderByRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	md, missing := requireMetadata(rc)
	if missing != nil {
		return *missing, nil
	}
	set := md.FirstEntitySet(models.CapSort)
	if set == nil {
		return rules.Inconclusive("No sortable entity set with a key found in metadata"), nil
	}
	prop, ok := md.SortableProperty(set)
	if !ok {
		return rules.Inconclusive("No sortable property found in metadata"), nil
	}
	resp, d := rc.Probe(ctx, odata.Get(query(set.Name, "$orderby", prop.Name+" desc")))
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
	for i := 1; i < len(entities); i++ {
		cmp, comparable := compareScalar(entities[i-1][prop.Name], entities[i][prop.Name])
		if comparable && cmp < 0 {
			return rules.Fail(fmt.Sprintf("Entities %d and %d are not in descending %s order", i-1, i, prop.Name), d), nil
		}
	}
	return rules.Pass(d), nil
}

func init() {
	rules.Register(NewFilterRule())
	rules.Register(NewOrderByRule())
}
