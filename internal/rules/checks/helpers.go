package checks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"odatacheck/internal/data/models"
	"odatacheck/internal/odata"
	"odatacheck/internal/rules"
)

// query builds "path?$a=..&$b=.." keeping system query option names readable
// and escaping values (spaces as %20).
func query(path string, opts ...string) string {
	if len(opts) == 0 {
		return path
	}
	parts := make([]string, 0, len(opts)/2)
	for i := 0; i+1 < len(opts); i += 2 {
		v := strings.ReplaceAll(url.QueryEscape(opts[i+1]), "+", "%20")
		parts = append(parts, opts[i]+"="+v)
	}
	return path + "?" + strings.Join(parts, "&")
}

// probeFailed reports a probe that never produced a response.
func probeFailed(d rules.Detail) rules.Outcome {
	return rules.Inconclusive(d.ErrorMessage, d)
}

// expectStatus fails unless the response status is one of codes.
func expectStatus(resp *odata.Response, d rules.Detail, codes ...int) (rules.Outcome, bool) {
	for _, c := range codes {
		if resp.StatusCode == c {
			return rules.Outcome{}, true
		}
	}
	want := make([]string, 0, len(codes))
	for _, c := range codes {
		want = append(want, strconv.Itoa(c))
	}
	return rules.Fail(fmt.Sprintf("Expected status %s, got %d", strings.Join(want, " or "), resp.StatusCode), d), false
}

// expectJSON fails unless the response is 200 with a JSON media type.
func expectJSON(resp *odata.Response, d rules.Detail) (rules.Outcome, bool) {
	if out, ok := expectStatus(resp, d, http.StatusOK); !ok {
		return out, false
	}
	if ct := resp.ContentType(); ct != "application/json" {
		return rules.Fail(fmt.Sprintf("Expected Content-Type application/json, got %q", ct), d), false
	}
	return rules.Outcome{}, true
}

func decodeObject(body []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return obj, nil
}

// decodeCollection returns the entities of a JSON collection response.
func decodeCollection(body []byte) (map[string]any, []map[string]any, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, nil, err
	}
	if err := models.ValidateCollection(body); err != nil {
		return obj, nil, err
	}
	var coll struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(body, &coll); err != nil {
		return obj, nil, fmt.Errorf("decode collection: %w", err)
	}
	return obj, coll.Value, nil
}

// requireMetadata returns the parsed metadata or an Inconclusive outcome.
func requireMetadata(rc *rules.RuleContext) (*models.Metadata, *rules.Outcome) {
	md, ok := rc.Metadata()
	if !ok {
		out := rules.Inconclusive("Service metadata is not available")
		return nil, &out
	}
	return md, nil
}

// requireEntitySet picks the first entity set supporting caps or returns an
// Inconclusive outcome naming what was missing.
func requireEntitySet(rc *rules.RuleContext, caps ...models.Capability) (*models.Metadata, *models.EntitySet, *rules.Outcome) {
	md, missing := requireMetadata(rc)
	if missing != nil {
		return nil, nil, missing
	}
	set := md.FirstEntitySet(caps...)
	if set == nil {
		names := make([]string, 0, len(caps))
		for _, c := range caps {
			names = append(names, string(c))
		}
		msg := "No entity set with a key found in metadata"
		if len(names) > 0 {
			msg = fmt.Sprintf("No entity set supporting %s found in metadata", strings.Join(names, ", "))
		}
		out := rules.Inconclusive(msg)
		return nil, nil, &out
	}
	return md, set, nil
}

// literal renders a JSON value as an OData URL literal for the given EDM type.
func literal(v any, typ string) (string, bool) {
	switch val := v.(type) {
	case string:
		if typ == "Edm.String" || typ == "" {
			return "'" + strings.ReplaceAll(val, "'", "''") + "'", true
		}
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// keyPredicate builds "(k)" or "(k1=v1,k2=v2)" for an entity.
func keyPredicate(md *models.Metadata, set *models.EntitySet, entity map[string]any) (string, bool) {
	keys := md.KeyProperties(set)
	if len(keys) == 0 {
		return "", false
	}
	if len(keys) == 1 {
		lit, ok := literal(entity[keys[0].Name], keys[0].Type)
		if !ok {
			return "", false
		}
		return "(" + url.PathEscape(lit) + ")", true
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		lit, ok := literal(entity[k.Name], k.Type)
		if !ok {
			return "", false
		}
		parts = append(parts, k.Name+"="+url.PathEscape(lit))
	}
	return "(" + strings.Join(parts, ",") + ")", true
}

// dataKeys returns the non-annotation property names of an entity, sorted.
func dataKeys(entity map[string]any) []string {
	var out []string
	for k := range entity {
		if strings.HasPrefix(k, "@") || strings.Contains(k, "@odata.") {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// keyValues renders an entity's key values for comparison, e.g. "UserName=russell".
func keyValues(md *models.Metadata, set *models.EntitySet, entity map[string]any) string {
	keys := md.KeyProperties(set)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k.Name, entity[k.Name]))
	}
	return strings.Join(parts, ",")
}

// compareScalar orders two JSON scalars of the same kind. ok is false for
// nulls and mixed or unordered kinds.
func compareScalar(a, b any) (cmp int, ok bool) {
	switch x := a.(type) {
	case float64:
		y, isNum := b.(float64)
		if !isNum {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

// onlyProperties reports the first data property of entity outside allowed.
func onlyProperties(entity map[string]any, allowed ...string) (string, bool) {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	for _, k := range dataKeys(entity) {
		if !set[k] {
			return k, false
		}
	}
	return "", true
}

// propertyNames returns the names of props.
func propertyNames(props []models.Property) []string {
	out := make([]string, 0, len(props))
	for _, p := range props {
		out = append(out, p.Name)
	}
	return out
}
