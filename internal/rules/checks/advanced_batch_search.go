package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"odatacheck/internal/data"
	"odatacheck/internal/data/models"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

// BatchRule sends a JSON batch, which only 4.01 defines.
type BatchRule struct{ leaf }

func NewBatchRule() *BatchRule {
	return &BatchRule{newLeaf(
		"Advanced.Conformance.1011", rules.LevelShould,
		"JSON $batch",
		"A JSON batch with one GET request returns a responses array with a matching id and a 200 status.",
		data.DepServiceRoot,
	).since(odata.Version401)}
}

type batchRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

type batchResponse struct {
	Responses []struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
	} `json:"responses"`
}

func (r *BatchRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	doc, ok := rc.ServiceDocument()
	if !ok || len(doc.EntitySets()) == 0 {
		return rules.Inconclusive("No entity set available from the service document"), nil
	}
	body, err := json.Marshal(map[string][]batchRequest{
		"requests": {{ID: "1", Method: http.MethodGet, URL: doc.EntitySets()[0].URL}},
	})
	if err != nil {
		return rules.Outcome{}, err
	}
	resp, d := rc.Probe(ctx, odata.Post("$batch", "application/json", body))
	if resp == nil {
		return probeFailed(d), nil
	}
	if out, ok := expectJSON(resp, d); !ok {
		return out, nil
	}
	var br batchResponse
	if err := json.Unmarshal(resp.Body, &br); err != nil {
		return rules.Fail(fmt.Sprintf("Batch response is not JSON: %v", err), d), nil
	}
	for _, item := range br.Responses {
		if item.ID != "1" {
			continue
		}
		if item.Status != http.StatusOK {
			return rules.Fail(fmt.Sprintf("Batched GET returned status %d", item.Status), d), nil
		}
		return rules.Pass(d), nil
	}
	return rules.Fail("Batch response has no response with id 1", d), nil
}

type SearchRule struct{ leaf }

func NewSearchRule() *SearchRule {
	return &SearchRule{newLeaf(
		"Advanced.Conformance.1013", rules.LevelMay,
		"$search",
		"A collection requested with a free-text $search returns a JSON collection.",
		data.DepServiceMetadata,
	)}
}

func (r *SearchRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	_, set, missing := requireEntitySet(rc, models.CapSearch)
	if missing != nil {
		return *missing, nil
	}
	resp, d := rc.Probe(ctx, odata.Get(query(set.Name, "$search", "a")))
	if resp == nil {
		return probeFailed(d), nil
	}
	if resp.StatusCode == http.StatusNotImplemented {
		return rules.Fail("$search is not implemented", d), nil
	}
	if out, ok := expectJSON(resp, d); !ok {
		return out, nil
	}
	if _, _, err := decodeCollection(resp.Body); err != nil {
		return rules.Fail(err.Error(), d), nil
	}
	return rules.Pass(d), nil
}

func init() {
	rules.Register(NewBatchRule())
	rules.Register(NewSearchRule())
}
