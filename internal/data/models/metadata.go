package models

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Metadata is the parsed CSDL document served at $metadata.
type Metadata struct {
	Version     string
	Namespaces  []string
	EntityTypes map[string]*EntityType
	EntitySets  []*EntitySet
	Singletons  []string
	Functions   []string
	Actions     []string
	Raw         []byte
}

type EntityType struct {
	Name       string
	Namespace  string
	BaseType   string
	Abstract   bool
	OpenType   bool
	HasStream  bool
	Key        []string
	Properties []Property
	Navigation []NavigationProperty
}

// QualifiedName returns Namespace.Name.
func (t *EntityType) QualifiedName() string {
	return t.Namespace + "." + t.Name
}

type Property struct {
	Name     string
	Type     string
	Nullable bool
}

type NavigationProperty struct {
	Name       string
	Type       string
	Collection bool
}

// EntitySet is an entity set in the entity container.
type EntitySet struct {
	Name         string
	EntityType   string
	Bindings     map[string]string
	Capabilities Capabilities
}

type edmx struct {
	XMLName      xml.Name `xml:"Edmx"`
	Version      string   `xml:"Version,attr"`
	DataServices struct {
		Schemas []xmlSchema `xml:"Schema"`
	} `xml:"DataServices"`
}

type xmlSchema struct {
	Namespace   string           `xml:"Namespace,attr"`
	Alias       string           `xml:"Alias,attr"`
	EntityTypes []xmlEntityType  `xml:"EntityType"`
	Containers  []xmlContainer   `xml:"EntityContainer"`
	Annotations []xmlAnnotations `xml:"Annotations"`
}

type xmlEntityType struct {
	Name      string `xml:"Name,attr"`
	BaseType  string `xml:"BaseType,attr"`
	Abstract  string `xml:"Abstract,attr"`
	OpenType  string `xml:"OpenType,attr"`
	HasStream string `xml:"HasStream,attr"`
	Key       struct {
		Refs []struct {
			Name string `xml:"Name,attr"`
		} `xml:"PropertyRef"`
	} `xml:"Key"`
	Properties []struct {
		Name     string `xml:"Name,attr"`
		Type     string `xml:"Type,attr"`
		Nullable string `xml:"Nullable,attr"`
	} `xml:"Property"`
	Navigation []struct {
		Name string `xml:"Name,attr"`
		Type string `xml:"Type,attr"`
	} `xml:"NavigationProperty"`
}

type xmlContainer struct {
	Name       string `xml:"Name,attr"`
	EntitySets []struct {
		Name       string `xml:"Name,attr"`
		EntityType string `xml:"EntityType,attr"`
		Bindings   []struct {
			Path   string `xml:"Path,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"NavigationPropertyBinding"`
		Annotations []xmlAnnotation `xml:"Annotation"`
	} `xml:"EntitySet"`
	Singletons []struct {
		Name string `xml:"Name,attr"`
	} `xml:"Singleton"`
	FunctionImports []struct {
		Name string `xml:"Name,attr"`
	} `xml:"FunctionImport"`
	ActionImports []struct {
		Name string `xml:"Name,attr"`
	} `xml:"ActionImport"`
}

type xmlAnnotations struct {
	Target      string          `xml:"Target,attr"`
	Annotations []xmlAnnotation `xml:"Annotation"`
}

type xmlAnnotation struct {
	Term   string `xml:"Term,attr"`
	Bool   string `xml:"Bool,attr"`
	Record *struct {
		Values []xmlPropertyValue `xml:"PropertyValue"`
	} `xml:"Record"`
}

type xmlPropertyValue struct {
	Property   string `xml:"Property,attr"`
	BoolAttr   string `xml:"Bool,attr"`
	BoolElem   string `xml:"Bool"`
	Collection *struct {
		PropertyPaths []string `xml:"PropertyPath"`
	} `xml:"Collection"`
}

// ParseMetadata decodes a CSDL XML document.
func ParseMetadata(raw []byte) (*Metadata, error) {
	var doc edmx
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode CSDL: %w", err)
	}
	if len(doc.DataServices.Schemas) == 0 {
		return nil, fmt.Errorf("decode CSDL: no Schema elements")
	}

	md := &Metadata{
		Version:     doc.Version,
		EntityTypes: make(map[string]*EntityType),
		Raw:         raw,
	}
	aliases := make(map[string]string)

	for _, s := range doc.DataServices.Schemas {
		md.Namespaces = append(md.Namespaces, s.Namespace)
		if s.Alias != "" {
			aliases[s.Alias] = s.Namespace
		}
		for _, et := range s.EntityTypes {
			t := &EntityType{
				Name:      et.Name,
				Namespace: s.Namespace,
				BaseType:  et.BaseType,
				Abstract:  parseBool(et.Abstract, false),
				OpenType:  parseBool(et.OpenType, false),
				HasStream: parseBool(et.HasStream, false),
			}
			for _, k := range et.Key.Refs {
				t.Key = append(t.Key, k.Name)
			}
			for _, p := range et.Properties {
				t.Properties = append(t.Properties, Property{
					Name:     p.Name,
					Type:     p.Type,
					Nullable: parseBool(p.Nullable, true),
				})
			}
			for _, n := range et.Navigation {
				typ, coll := unwrapCollection(n.Type)
				t.Navigation = append(t.Navigation, NavigationProperty{Name: n.Name, Type: typ, Collection: coll})
			}
			md.EntityTypes[t.QualifiedName()] = t
		}
	}

	for _, s := range doc.DataServices.Schemas {
		for _, c := range s.Containers {
			for _, es := range c.EntitySets {
				set := &EntitySet{
					Name:         es.Name,
					EntityType:   resolveAlias(es.EntityType, aliases),
					Bindings:     make(map[string]string),
					Capabilities: newCapabilities(),
				}
				for _, b := range es.Bindings {
					set.Bindings[b.Path] = b.Target
				}
				for _, a := range es.Annotations {
					set.Capabilities.apply(a)
				}
				md.EntitySets = append(md.EntitySets, set)
			}
			for _, sg := range c.Singletons {
				md.Singletons = append(md.Singletons, sg.Name)
			}
			for _, f := range c.FunctionImports {
				md.Functions = append(md.Functions, f.Name)
			}
			for _, a := range c.ActionImports {
				md.Actions = append(md.Actions, a.Name)
			}
		}
	}

	// Out-of-line annotations target "Namespace.Container/EntitySet".
	for _, s := range doc.DataServices.Schemas {
		for _, group := range s.Annotations {
			i := strings.LastIndex(group.Target, "/")
			if i < 0 {
				continue
			}
			set := md.EntitySet(group.Target[i+1:])
			if set == nil {
				continue
			}
			for _, a := range group.Annotations {
				set.Capabilities.apply(a)
			}
		}
	}

	for _, t := range md.EntityTypes {
		t.BaseType = resolveAlias(t.BaseType, aliases)
		for i := range t.Navigation {
			t.Navigation[i].Type = resolveAlias(t.Navigation[i].Type, aliases)
		}
	}
	return md, nil
}

// EntitySet finds an entity set by name.
func (m *Metadata) EntitySet(name string) *EntitySet {
	if m == nil {
		return nil
	}
	for _, s := range m.EntitySets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// EntityType finds an entity type by qualified name.
func (m *Metadata) EntityType(qualified string) *EntityType {
	if m == nil {
		return nil
	}
	return m.EntityTypes[qualified]
}

// KeyProperties returns the key properties of an entity set's type,
// following BaseType when the key is inherited.
func (m *Metadata) KeyProperties(set *EntitySet) []Property {
	if set == nil {
		return nil
	}
	t := m.EntityType(set.EntityType)
	for depth := 0; t != nil && len(t.Key) == 0 && depth < 16; depth++ {
		t = m.EntityType(t.BaseType)
	}
	if t == nil {
		return nil
	}
	var out []Property
	for _, name := range t.Key {
		if p, ok := m.property(set.EntityType, name); ok {
			out = append(out, p)
		}
	}
	return out
}

// Properties returns declared and inherited structural properties.
func (m *Metadata) Properties(set *EntitySet) []Property {
	if set == nil {
		return nil
	}
	var chain []*EntityType
	for t, depth := m.EntityType(set.EntityType), 0; t != nil && depth < 16; t, depth = m.EntityType(t.BaseType), depth+1 {
		chain = append(chain, t)
	}
	var out []Property
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].Properties...)
	}
	return out
}

func (m *Metadata) property(typeName, name string) (Property, bool) {
	for t, depth := m.EntityType(typeName), 0; t != nil && depth < 16; t, depth = m.EntityType(t.BaseType), depth+1 {
		for _, p := range t.Properties {
			if p.Name == name {
				return p, true
			}
		}
	}
	return Property{}, false
}

var orderableTypes = map[string]bool{
	"Edm.String":         true,
	"Edm.Int16":          true,
	"Edm.Int32":          true,
	"Edm.Int64":          true,
	"Edm.Decimal":        true,
	"Edm.Double":         true,
	"Edm.Date":           true,
	"Edm.DateTimeOffset": true,
}

// SortableProperty returns the first orderable property of the set that is
// not listed as non-sortable.
func (m *Metadata) SortableProperty(set *EntitySet) (Property, bool) {
	if set == nil || !set.Capabilities.Supports(CapSort) {
		return Property{}, false
	}
	for _, p := range m.Properties(set) {
		if orderableTypes[p.Type] && !set.Capabilities.nonSortable[p.Name] {
			return p, true
		}
	}
	return Property{}, false
}

// FilterableProperty returns the first string or integer property of the set
// that is not listed as non-filterable. Key properties are preferred.
func (m *Metadata) FilterableProperty(set *EntitySet) (Property, bool) {
	if set == nil || !set.Capabilities.Supports(CapFilter) {
		return Property{}, false
	}
	candidates := append(m.KeyProperties(set), m.Properties(set)...)
	for _, p := range candidates {
		switch p.Type {
		case "Edm.String", "Edm.Int32", "Edm.Int64":
			if !set.Capabilities.nonFilterable[p.Name] {
				return p, true
			}
		}
	}
	return Property{}, false
}

// NavigableEntitySet returns the first entity set that has a navigation
// property and supports $expand, together with that property.
func (m *Metadata) NavigableEntitySet() (*EntitySet, NavigationProperty, bool) {
	if m == nil {
		return nil, NavigationProperty{}, false
	}
	for _, set := range m.EntitySets {
		if !set.Capabilities.Supports(CapExpand) {
			continue
		}
		t := m.EntityType(set.EntityType)
		if t == nil || len(t.Navigation) == 0 {
			continue
		}
		return set, t.Navigation[0], true
	}
	return nil, NavigationProperty{}, false
}

// FirstEntitySet returns the first entity set that supports every listed
// capability and has a resolvable key.
func (m *Metadata) FirstEntitySet(caps ...Capability) *EntitySet {
	if m == nil {
		return nil
	}
	for _, set := range m.EntitySets {
		ok := len(m.KeyProperties(set)) > 0
		for _, c := range caps {
			if !set.Capabilities.Supports(c) {
				ok = false
				break
			}
		}
		if ok {
			return set
		}
	}
	return nil
}

func unwrapCollection(t string) (string, bool) {
	if strings.HasPrefix(t, "Collection(") && strings.HasSuffix(t, ")") {
		return t[len("Collection(") : len(t)-1], true
	}
	return t, false
}

func resolveAlias(name string, aliases map[string]string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return name
	}
	if ns, ok := aliases[name[:i]]; ok {
		return ns + name[i:]
	}
	return name
}

func parseBool(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return true
	case "false":
		return false
	default:
		return def
	}
}
