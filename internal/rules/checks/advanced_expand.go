package checks

import (
	"context"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/data/models"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

// expandTarget is the entity set, navigation property and target type an
// $expand check works against.
type expandTarget struct {
	set    *models.EntitySet
	nav    models.NavigationProperty
	target *models.EntityType
}

func requireExpandTarget(rc *rules.RuleContext, collection bool) (expandTarget, *rules.Outcome) {
	md, missing := requireMetadata(rc)
	if missing != nil {
		return expandTarget{}, missing
	}
	for _, set := range md.EntitySets {
		if !set.Capabilities.Supports(models.CapExpand) {
			continue
		}
		t := md.EntityType(set.EntityType)
		if t == nil {
			continue
		}
		for _, nav := range t.Navigation {
			if collection && !nav.Collection {
				continue
			}
			return expandTarget{set: set, nav: nav, target: md.EntityType(nav.Type)}, nil
		}
	}
	msg := "No expandable navigation property found in metadata"
	if collection {
		msg = "No expandable collection-valued navigation property found in metadata"
	}
	out := rules.Inconclusive(msg)
	return expandTarget{}, &out
}

// expandedValues fetches ref and returns the expanded navigation values of
// every entity that carries one.
func expandedValues(ctx context.Context, rc *rules.RuleContext, ref, nav string) ([]any, rules.Detail, *rules.Outcome) {
	resp, d := rc.Probe(ctx, odata.Get(ref))
	if resp == nil {
		out := probeFailed(d)
		return nil, d, &out
	}
	if out, ok := expectJSON(resp, d); !ok {
		return nil, d, &out
	}
	_, entities, err := decodeCollection(resp.Body)
	if err != nil {
		out := rules.Fail(err.Error(), d)
		return nil, d, &out
	}
	if len(entities) == 0 {
		out := rules.Inconclusive("Expanded collection is empty", d)
		return nil, d, &out
	}
	var values []any
	for i, e := range entities {
		v, ok := e[nav]
		if !ok {
			out := rules.Fail(fmt.Sprintf("Entity %d has no expanded %s", i, nav), d)
			return nil, d, &out
		}
		if v != nil {
			values = append(values, v)
		}
	}
	return values, d, nil
}

// expandedEntities flattens expanded values into entity objects.
func expandedEntities(values []any) []map[string]any {
	var out []map[string]any
	for _, v := range values {
		switch x := v.(type) {
		case map[string]any:
			out = append(out, x)
		case []any:
			for _, item := range x {
				if e, ok := item.(map[string]any); ok {
					out = append(out, e)
				}
			}
		}
	}
	return out
}

type ExpandRule struct{ leaf }

func NewExpandRule() *ExpandRule {
	return &ExpandRule{newLeaf(
		"Advanced.Conformance.100901", rules.LevelMust,
		"$expand of a navigation property",
		"Expanding a navigation property inlines the related entity or entities in every returned entity.",
		data.DepServiceMetadata,
	)}
}

func (r *ExpandRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	tgt, missing := requireExpandTarget(rc, false)
	if missing != nil {
		return *missing, nil
	}
	_, d, out := expandedValues(ctx, rc, query(tgt.set.Name, "$expand", tgt.nav.Name), tgt.nav.Name)
	if out != nil {
		return *out, nil
	}
	return rules.Pass(d), nil
}

type ExpandSelectRule struct{ leaf }

func NewExpandSelectRule() *ExpandSelectRule {
	return &ExpandSelectRule{newLeaf(
		"Advanced.Conformance.100902", rules.LevelMust,
		"$select nested in $expand",
		"A nested $select inside $expand limits the properties of the expanded entities.",
		data.DepServiceMetadata,
	)}
}

func (r *ExpandSelectRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	tgt, missing := requireExpandTarget(rc, false)
	if missing != nil {
		return *missing, nil
	}
	if tgt.target == nil || len(tgt.target.Properties) == 0 {
		return rules.Inconclusive(fmt.Sprintf("Target type of %s has no declared properties", tgt.nav.Name)), nil
	}
	keys := tgt.target.Key
	selected := tgt.target.Properties[0].Name
	for _, p := range tgt.target.Properties {
		if !contains(keys, p.Name) {
			selected = p.Name
			break
		}
	}
	expand := fmt.Sprintf("%s($select=%s)", tgt.nav.Name, selected)
	values, d, out := expandedValues(ctx, rc, query(tgt.set.Name, "$expand", expand), tgt.nav.Name)
	if out != nil {
		return *out, nil
	}
	for _, e := range expandedEntities(values) {
		if extra, ok := onlyProperties(e, append(append([]string(nil), keys...), selected)...); !ok {
			return rules.Fail(fmt.Sprintf("$expand=%s returned unselected property %s", expand, extra), d), nil
		}
	}
	return rules.Pass(d), nil
}

type ExpandTopRule struct{ leaf }

func NewExpandTopRule() *ExpandTopRule {
	return &ExpandTopRule{newLeaf(
		"Advanced.Conformance.100903", rules.LevelMust,
		"$top nested in $expand",
		"A nested $top=1 inside $expand returns at most one related entity per expanded collection.",
		data.DepServiceMetadata,
	)}
}

func (r *ExpandTopRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	tgt, missing := requireExpandTarget(rc, true)
	if missing != nil {
		return *missing, nil
	}
	expand := tgt.nav.Name + "($top=1)"
	values, d, out := expandedValues(ctx, rc, query(tgt.set.Name, "$expand", expand), tgt.nav.Name)
	if out != nil {
		return *out, nil
	}
	for i, v := range values {
		items, ok := v.([]any)
		if !ok {
			return rules.Fail(fmt.Sprintf("Expanded %s is not a collection", tgt.nav.Name), d), nil
		}
		if len(items) > 1 {
			return rules.Fail(fmt.Sprintf("$expand=%s returned %d related entities for entity %d", expand, len(items), i), d), nil
		}
	}
	return rules.Pass(d), nil
}

func init() {
	rules.Register(NewExpandRule())
	rules.Register(NewExpandSelectRule())
	rules.Register(NewExpandTopRule())
}
