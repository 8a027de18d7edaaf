package models

import "strings"

// Capability names a query or data-modification feature that the
// Org.OData.Capabilities.V1 vocabulary can restrict per entity set.
type Capability string

const (
	CapFilter Capability = "filter"
	CapSort   Capability = "orderby"
	CapCount  Capability = "count"
	CapExpand Capability = "expand"
	CapTop    Capability = "top"
	CapSkip   Capability = "skip"
	CapSearch Capability = "search"
	CapInsert Capability = "insert"
	CapUpdate Capability = "update"
	CapDelete Capability = "delete"
)

// restriction terms map to the capability they restrict and the record
// property that carries the boolean.
var restrictionTerms = map[string]struct {
	cap      Capability
	property string
}{
	"FilterRestrictions": {CapFilter, "Filterable"},
	"SortRestrictions":   {CapSort, "Sortable"},
	"CountRestrictions":  {CapCount, "Countable"},
	"ExpandRestrictions": {CapExpand, "Expandable"},
	"SearchRestrictions": {CapSearch, "Searchable"},
	"InsertRestrictions": {CapInsert, "Insertable"},
	"UpdateRestrictions": {CapUpdate, "Updatable"},
	"DeleteRestrictions": {CapDelete, "Deletable"},
}

// Capabilities records what an entity set's annotations restrict. Anything
// not annotated is assumed supported.
type Capabilities struct {
	disabled      map[Capability]bool
	nonFilterable map[string]bool
	nonSortable   map[string]bool
}

func newCapabilities() Capabilities {
	return Capabilities{
		disabled:      make(map[Capability]bool),
		nonFilterable: make(map[string]bool),
		nonSortable:   make(map[string]bool),
	}
}

// Supports reports whether the capability is not restricted.
func (c Capabilities) Supports(capability Capability) bool {
	return !c.disabled[capability]
}

// Restricted lists disabled capabilities in a stable order.
func (c Capabilities) Restricted() []Capability {
	var out []Capability
	for _, capability := range []Capability{CapFilter, CapSort, CapCount, CapExpand, CapTop, CapSkip, CapSearch, CapInsert, CapUpdate, CapDelete} {
		if c.disabled[capability] {
			out = append(out, capability)
		}
	}
	return out
}

func (c *Capabilities) apply(a xmlAnnotation) {
	term := a.Term
	if i := strings.LastIndex(term, "."); i >= 0 {
		term = term[i+1:]
	}
	switch term {
	case "TopSupported":
		c.disabled[CapTop] = !parseBool(a.Bool, true)
		return
	case "SkipSupported":
		c.disabled[CapSkip] = !parseBool(a.Bool, true)
		return
	}
	rt, ok := restrictionTerms[term]
	if !ok || a.Record == nil {
		return
	}
	for _, pv := range a.Record.Values {
		switch {
		case pv.Property == rt.property:
			raw := pv.BoolAttr
			if raw == "" {
				raw = pv.BoolElem
			}
			c.disabled[rt.cap] = !parseBool(raw, true)
		case pv.Property == "NonFilterableProperties" && pv.Collection != nil:
			for _, p := range pv.Collection.PropertyPaths {
				c.nonFilterable[strings.TrimSpace(p)] = true
			}
		case pv.Property == "NonSortableProperties" && pv.Collection != nil:
			for _, p := range pv.Collection.PropertyPaths {
				c.nonSortable[strings.TrimSpace(p)] = true
			}
		}
	}
}
