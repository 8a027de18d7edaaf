package checks

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"odatacheck/internal/data"
	"odatacheck/internal/data/models"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type CountRule struct{ leaf }

func NewCountRule() *CountRule {
	return &CountRule{newLeaf(
		"Intermediate.Conformance.1005", rules.LevelMust,
		"$count",
		"The /$count path segment returns a plain integer, and $count=true adds a matching @odata.count to the collection.",
		data.DepServiceMetadata,
	).inline()}
}

func (r *CountRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	_, set, missing := requireEntitySet(rc, models.CapCount)
	if missing != nil {
		return *missing, nil
	}

	var total int64
	segment := func(ctx context.Context) rules.Outcome {
		req := odata.Get(set.Name+"/$count").WithHeader("Accept", "text/plain")
		resp, d := rc.Probe(ctx, req)
		if resp == nil {
			return probeFailed(d)
		}
		if out, ok := expectStatus(resp, d, 200); !ok {
			return out
		}
		n, err := strconv.ParseInt(strings.TrimSpace(string(resp.Body)), 10, 64)
		if err != nil {
			return rules.Fail(fmt.Sprintf("/$count body %q is not an integer", truncate(string(resp.Body), 40)), d)
		}
		total = n
		return rules.Pass(d)
	}
	inline := func(ctx context.Context) rules.Outcome {
		resp, d := rc.Probe(ctx, odata.Get(query(set.Name, "$count", "true")))
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
		n, ok := countValue(obj["@odata.count"])
		if !ok {
			return rules.Fail("$count=true response has no numeric @odata.count", d)
		}
		if n != total {
			return rules.Fail(fmt.Sprintf("@odata.count is %d but /$count returned %d", n, total), d)
		}
		return rules.Pass(d)
	}
	return rules.Sequence(ctx, segment, inline), nil
}

// countValue accepts a JSON number or, with IEEE754Compatible, a string.
func countValue(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	rules.Register(NewCountRule())
}
