package models

import (
	"encoding/json"
	"fmt"
)

// Kinds of resources listed in a service document.
const (
	KindEntitySet      = "EntitySet"
	KindSingleton      = "Singleton"
	KindFunctionImport = "FunctionImport"
	KindServiceDoc     = "ServiceDocument"
)

// ServiceDocument is the JSON document served at the service root.
type ServiceDocument struct {
	Context   string        `json:"@odata.context"`
	Resources []ResourceRef `json:"value"`
	// Version is the OData-Version response header, when present.
	Version string `json:"-"`
}

// ResourceRef is one entry in the service document's value array.
type ResourceRef struct {
	Name  string `json:"name"`
	Kind  string `json:"kind,omitempty"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ParseServiceDocument decodes a JSON service document. Entries without a
// kind are entity sets.
func ParseServiceDocument(raw []byte) (*ServiceDocument, error) {
	var doc ServiceDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode service document: %w", err)
	}
	for i := range doc.Resources {
		if doc.Resources[i].Kind == "" {
			doc.Resources[i].Kind = KindEntitySet
		}
	}
	return &doc, nil
}

// EntitySets returns the entity-set entries in document order.
func (d *ServiceDocument) EntitySets() []ResourceRef {
	return d.ofKind(KindEntitySet)
}

// Singletons returns the singleton entries in document order.
func (d *ServiceDocument) Singletons() []ResourceRef {
	return d.ofKind(KindSingleton)
}

func (d *ServiceDocument) ofKind(kind string) []ResourceRef {
	if d == nil {
		return nil
	}
	var out []ResourceRef
	for _, r := range d.Resources {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Lookup finds a resource by name.
func (d *ServiceDocument) Lookup(name string) (ResourceRef, bool) {
	if d == nil {
		return ResourceRef{}, false
	}
	for _, r := range d.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceRef{}, false
}
