package checks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"
)

const fakeMetadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
  <edmx:DataServices>
    <Schema Namespace="Fake" xmlns="http://docs.oasis-open.org/odata/ns/edm">
      <EntityType Name="Person">
        <Key><PropertyRef Name="UserName"/></Key>
        <Property Name="UserName" Type="Edm.String" Nullable="false"/>
        <Property Name="FirstName" Type="Edm.String"/>
        <Property Name="Age" Type="Edm.Int64"/>
        <NavigationProperty Name="Friends" Type="Collection(Fake.Person)"/>
      </EntityType>
      <EntityContainer Name="Container">
        <EntitySet Name="People" EntityType="Fake.Person">
          <NavigationPropertyBinding Path="Friends" Target="People"/>
        </EntitySet>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

type person struct {
	UserName  string
	FirstName string
	Age       int
	Friends   []string
}

var people = []person{
	{"russell", "Russell", 30, []string{"scott"}},
	{"scott", "Scott", 25, []string{"russell", "ronald"}},
	{"ronald", "Ronald", 40, nil},
}

// fakeService is a small OData 4.01 service over people. The broken fields
// switch individual behaviours off.
type fakeService struct {
	ignoreTop       bool
	noVersionHeader bool
	plainErrors     bool
	wrongCount      bool
	ignoreSelect    bool
}

func newFakeServer(t *testing.T, s *fakeService) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.noVersionHeader {
		v := "4.01"
		if r.Header.Get("OData-MaxVersion") == "4.0" {
			v = "4.0"
		}
		w.Header().Set("OData-Version", v)
	}
	path := strings.TrimPrefix(r.URL.Path, "/svc/")
	switch {
	case r.URL.Path == "/svc/" || r.URL.Path == "/svc":
		s.writeJSON(w, map[string]any{
			"@odata.context": "$metadata",
			"value":          []map[string]string{{"name": "People", "kind": "EntitySet", "url": "People"}},
		})
	case path == "$metadata":
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(fakeMetadata))
	case path == "$batch" && r.Method == http.MethodPost:
		var req struct {
			Requests []struct {
				ID string `json:"id"`
			} `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var out []map[string]any
		for _, q := range req.Requests {
			out = append(out, map[string]any{"id": q.ID, "status": 200})
		}
		s.writeJSON(w, map[string]any{"responses": out})
	case path == "People/$count":
		n := len(people)
		if s.wrongCount {
			n++
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strconv.Itoa(n)))
	case strings.HasPrefix(path, "People('") && strings.HasSuffix(path, "')"):
		name := strings.TrimSuffix(strings.TrimPrefix(path, "People('"), "')")
		for _, p := range people {
			if p.UserName == name {
				e := entity(p, nil)
				e["@odata.context"] = "$metadata#People/$entity"
				s.writeJSON(w, e)
				return
			}
		}
		s.notFound(w)
	case path == "People":
		s.collection(w, r)
	default:
		s.notFound(w)
	}
}

func (s *fakeService) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json;odata.metadata=minimal")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *fakeService) notFound(w http.ResponseWriter) {
	if s.plainErrors {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "NotFound", "message": "Resource not found"},
	})
}

func (s *fakeService) collection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows := append([]person(nil), people...)

	if f := q.Get("$filter"); f != "" {
		prop, val, ok := strings.Cut(f, " eq ")
		if !ok {
			http.Error(w, "bad filter", http.StatusBadRequest)
			return
		}
		val = strings.Trim(val, "'")
		var kept []person
		for _, p := range rows {
			if fmt.Sprint(entity(p, nil)[prop]) == val {
				kept = append(kept, p)
			}
		}
		rows = kept
	}
	if ob := q.Get("$orderby"); ob != "" {
		prop, dir, _ := strings.Cut(ob, " ")
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := entity(rows[i], nil)[prop], entity(rows[j], nil)[prop]
			var less bool
			switch x := a.(type) {
			case int:
				less = x < b.(int)
			default:
				less = fmt.Sprint(a) < fmt.Sprint(b)
			}
			if dir == "desc" {
				return !less && a != b
			}
			return less
		})
	}
	total := len(rows)
	skip, _ := strconv.Atoi(q.Get("$skip"))
	if tok := q.Get("$skiptoken"); tok != "" {
		skip, _ = strconv.Atoi(tok)
	}
	rows = rows[min(skip, len(rows)):]
	if top := q.Get("$top"); top != "" && !s.ignoreTop {
		n, _ := strconv.Atoi(top)
		rows = rows[:min(n, len(rows))]
	}

	body := map[string]any{"@odata.context": "$metadata#People"}
	if strings.Contains(r.Header.Get("Prefer"), "odata.maxpagesize=1") && len(rows) > 1 {
		rows = rows[:1]
		body["@odata.nextLink"] = fmt.Sprintf("People?$skiptoken=%d", skip+1)
		w.Header().Set("Preference-Applied", "odata.maxpagesize=1")
	}
	if q.Get("$count") == "true" {
		body["@odata.count"] = total
	}

	var selected []string
	if sel := q.Get("$select"); sel != "" && !s.ignoreSelect {
		selected = strings.Split(sel, ",")
	}
	values := make([]map[string]any, 0, len(rows))
	for _, p := range rows {
		e := entity(p, selected)
		if exp := q.Get("$expand"); exp != "" {
			e["Friends"] = expandFriends(p, exp)
		}
		values = append(values, e)
	}
	body["value"] = values
	s.writeJSON(w, body)
}

func entity(p person, selected []string) map[string]any {
	all := map[string]any{"UserName": p.UserName, "FirstName": p.FirstName, "Age": p.Age}
	if len(selected) == 0 {
		return all
	}
	out := map[string]any{}
	for _, name := range selected {
		out[name] = all[name]
	}
	return out
}

// expandFriends handles Friends, Friends($select=X) and Friends($top=N).
func expandFriends(p person, expand string) []map[string]any {
	var selected []string
	top := -1
	if i := strings.Index(expand, "("); i >= 0 {
		for _, opt := range strings.Split(strings.TrimSuffix(expand[i+1:], ")"), ";") {
			k, v, _ := strings.Cut(opt, "=")
			switch k {
			case "$select":
				selected = strings.Split(v, ",")
			case "$top":
				top, _ = strconv.Atoi(v)
			}
		}
	}
	out := []map[string]any{}
	for _, name := range p.Friends {
		if top >= 0 && len(out) >= top {
			break
		}
		for _, f := range people {
			if f.UserName == name {
				out = append(out, entity(f, selected))
			}
		}
	}
	return out
}
