package checks

import (
	"context"
	"fmt"

	"odatacheck/internal/data/models"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

type MetadataDocumentRule struct{ leaf }

func NewMetadataDocumentRule() *MetadataDocumentRule {
	return &MetadataDocumentRule{newLeaf(
		"Minimal.Conformance.1002", rules.LevelMust,
		"Metadata document in CSDL XML",
		"$metadata returns an XML CSDL document with at least one schema.",
	)}
}

func (r *MetadataDocumentRule) Evaluate(ctx context.Context, rc *rules.RuleContext) (rules.Outcome, error) {
	rules.Require(rc)
	resp, d := rc.Probe(ctx, odata.Get("$metadata").WithHeader("Accept", "application/xml"))
	if resp == nil {
		return probeFailed(d), nil
	}
	if out, ok := expectStatus(resp, d, 200); !ok {
		return out, nil
	}
	if ct := resp.ContentType(); ct != "application/xml" {
		return rules.Fail(fmt.Sprintf("Expected Content-Type application/xml, got %q", ct), d), nil
	}
	md, err := models.ParseMetadata(resp.Body)
	if err != nil {
		return rules.Fail(err.Error(), d), nil
	}
	if md.Version != odata.Version40 && md.Version != odata.Version401 {
		return rules.Fail(fmt.Sprintf("Edmx Version %q is not 4.0 or 4.01", md.Version), d), nil
	}
	return rules.Pass(d), nil
}

func init() {
	rules.Register(NewMetadataDocumentRule())
}
