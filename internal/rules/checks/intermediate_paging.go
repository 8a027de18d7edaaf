package checks

import (
	"context"
	"fmt"

	"odatacheck/internal/data"
	"odatacheck/internal/data/models"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type TopRule struct{ leaf }

func NewTopRule() *TopRule {
	return &TopRule{newLeaf(
		"Intermediate.Conformance.1003", rules.LevelMust,
		"$top limits the number of entities",
		"A collection requested with $top=1 returns at most one entity.",
		data.DepServiceMetadata,
	)}
}

func (r *TopRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	_, set, missing := requireEntitySet(rc, models.CapTop)
	if missing != nil {
		return *missing, nil
	}
	resp, d := rc.Probe(ctx, odata.Get(query(set.Name, "$top", "1")))
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
	if len(entities) > 1 {
		return rules.Fail(fmt.Sprintf("$top=1 returned %d entities", len(entities)), d), nil
	}
	return rules.Pass(d), nil
}

type SkipOptionRule struct{ leaf }

func NewSkipOptionRule() *SkipOptionRule {
	return &SkipOptionRule{newLeaf(
		"Intermediate.Conformance.1004", rules.LevelMust,
		"$skip omits leading entities",
		"The first entity returned with $skip=1 is the second entity of the unskipped collection.",
		data.DepServiceMetadata,
	)}
}

func (r *SkipOptionRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	md, set, missing := requireEntitySet(rc, models.CapSkip)
	if missing != nil {
		return *missing, nil
	}
	full, d1 := rc.Probe(ctx, odata.Get(set.Name))
	if full == nil {
		return probeFailed(d1), nil
	}
	if out, ok := expectJSON(full, d1); !ok {
		return out, nil
	}
	_, all, err := decodeCollection(full.Body)
	if err != nil {
		return rules.Fail(err.Error(), d1), nil
	}
	if len(all) < 2 {
		return rules.Inconclusive(fmt.Sprintf("Entity set %s has fewer than two entities", set.Name), d1), nil
	}

	skipped, d2 := rc.Probe(ctx, odata.Get(query(set.Name, "$skip", "1")))
	if skipped == nil {
		return probeFailed(d2), nil
	}
	if out, ok := expectJSON(skipped, d2); !ok {
		return out, nil
	}
	_, rest, err := decodeCollection(skipped.Body)
	if err != nil {
		return rules.Fail(err.Error(), d1, d2), nil
	}
	if len(rest) == 0 {
		return rules.Fail("$skip=1 returned no entities", d1, d2), nil
	}
	want, got := keyValues(md, set, all[1]), keyValues(md, set, rest[0])
	if want != got {
		return rules.Fail(fmt.Sprintf("$skip=1 starts at (%s), expected (%s)", got, want), d1, d2), nil
	}
	return rules.Pass(d1, d2), nil
}

// TopSkipRule checks client-driven paging with $top and $skip together.
type TopSkipRule struct{ leaf }

func NewTopSkipRule() *TopSkipRule {
	return &TopSkipRule{newLeaf(
		"Intermediate.Conformance.101001", rules.LevelMust,
		"$top and $skip combine for paging",
		"$top=2&$skip=1 returns at most two entities.",
		data.DepServiceMetadata,
	)}
}

func (r *TopSkipRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	_, set, missing := requireEntitySet(rc, models.CapTop, models.CapSkip)
	if missing != nil {
		return *missing, nil
	}
	resp, d := rc.Probe(ctx, odata.Get(query(set.Name, "$top", "2", "$skip", "1")))
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
	if len(entities) > 2 {
		return rules.Fail(fmt.Sprintf("$top=2&$skip=1 returned %d entities", len(entities)), d), nil
	}
	return rules.Pass(d), nil
}

// MaxPageSizeRule checks server-driven paging requested through
// Prefer: odata.maxpagesize.
type MaxPageSizeRule struct{ leaf }

func NewMaxPageSizeRule() *MaxPageSizeRule {
	return &MaxPageSizeRule{newLeaf(
		"Intermediate.Conformance.101002", rules.LevelShould,
		"odata.maxpagesize preference",
		"With Prefer: odata.maxpagesize=1 a page holds at most one entity and the next link resolves to another page.",
		data.DepServiceMetadata,
	)}
}

func (r *MaxPageSizeRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	_, set, missing := requireEntitySet(rc)
	if missing != nil {
		return *missing, nil
	}
	first, d1 := rc.Probe(ctx, odata.Get(set.Name).WithHeader("Prefer", "odata.maxpagesize=1"))
	if first == nil {
		return probeFailed(d1), nil
	}
	if out, ok := expectJSON(first, d1); !ok {
		return out, nil
	}
	obj, entities, err := decodeCollection(first.Body)
	if err != nil {
		return rules.Fail(err.Error(), d1), nil
	}
	if len(entities) > 1 {
		return rules.Fail(fmt.Sprintf("odata.maxpagesize=1 returned %d entities", len(entities)), d1), nil
	}
	next, _ := obj["@odata.nextLink"].(string)
	if next == "" {
		if len(entities) == 0 {
			return rules.Inconclusive(fmt.Sprintf("Entity set %s is empty", set.Name), d1), nil
		}
		return rules.PassWithMessage("Single page; no next link to follow", d1), nil
	}

	page, d2 := rc.Probe(ctx, odata.Get(next).WithHeader("Prefer", "odata.maxpagesize=1"))
	if page == nil {
		return probeFailed(d2), nil
	}
	if out, ok := expectJSON(page, d2); !ok {
		return out, nil
	}
	if _, _, err := decodeCollection(page.Body); err != nil {
		return rules.Fail("Next link: "+err.Error(), d1, d2), nil
	}
	return rules.Pass(d1, d2), nil
}

func init() {
	rules.Register(NewTopRule())
	rules.Register(NewSkipOptionRule())
	rules.Register(NewTopSkipRule())
	rules.Register(NewMaxPageSizeRule())
}
