package checks

import (
	"context"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type EntityByKeyRule struct{ leaf }

func NewEntityByKeyRule() *EntityByKeyRule {
	return &EntityByKeyRule{newLeaf(
		"Minimal.Conformance.1008", rules.LevelMust,
		"Entity is addressable by key",
		"An entity read from a collection can be read again through its key predicate.",
		data.DepServiceMetadata,
	).inline()}
}

func (r *EntityByKeyRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	md, set, missing := requireEntitySet(rc)
	if missing != nil {
		return *missing, nil
	}

	var predicate string
	readCollection := func(ctx context.Context) rules.Outcome {
		resp, d := rc.Probe(ctx, odata.Get(set.Name))
		if resp == nil {
			return probeFailed(d)
		}
		if out, ok := expectJSON(resp, d); !ok {
			return out
		}
		_, entities, err := decodeCollection(resp.Body)
		if err != nil {
			return rules.Fail(err.Error(), d)
		}
		if len(entities) == 0 {
			return rules.Inconclusive(fmt.Sprintf("Entity set %s is empty", set.Name), d)
		}
		p, ok := keyPredicate(md, set, entities[0])
		if !ok {
			return rules.Inconclusive(fmt.Sprintf("Cannot build a key predicate for %s", set.Name), d)
		}
		predicate = p
		return rules.Pass(d)
	}
	readByKey := func(ctx context.Context) rules.Outcome {
		resp, d := rc.Probe(ctx, odata.Get(set.Name+predicate))
		if resp == nil {
			return probeFailed(d)
		}
		if out, ok := expectJSON(resp, d); !ok {
			return out
		}
		obj, err := decodeObject(resp.Body)
		if err != nil {
			return rules.Fail(err.Error(), d)
		}
		if _, isCollection := obj["value"].([]any); isCollection {
			return rules.Fail("Key lookup returned a collection instead of a single entity", d)
		}
		return rules.Pass(d)
	}
	return rules.Sequence(ctx, readCollection, readByKey), nil
}

func init() {
	rules.Register(NewEntityByKeyRule())
}
