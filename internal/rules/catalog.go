package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogEntry declares a composite or skipped rule without Go code.
type CatalogEntry struct {
	Name         string   `yaml:"name"`
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	Level        string   `yaml:"level"`
	Type         string   `yaml:"type"`
	Policy       string   `yaml:"policy"`
	Relationship string   `yaml:"relationship"`
	Rules        []string `yaml:"rules"`
	Category     string   `yaml:"category"`
	MemberLevel  string   `yaml:"member_level"`
	Versions     []string `yaml:"versions"`
	Reason       string   `yaml:"reason"`
}

// Catalog is the YAML document shape: a top-level "rules" list.
type Catalog struct {
	Rules []CatalogEntry `yaml:"rules"`
}

// ParseCatalog decodes a catalog and builds its rules. Unknown fields are
// rejected.
func ParseCatalog(raw []byte) ([]Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	out := make([]Rule, 0, len(c.Rules))
	for i, e := range c.Rules {
		r, err := e.Build()
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadCatalogFile reads and parses a catalog file.
func LoadCatalogFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	rules, err := ParseCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Build turns the entry into a CompositeRule or SkipRule.
func (e CatalogEntry) Build() (Rule, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	level, err := ParseLevel(e.Level)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", e.Name, err)
	}
	typ, err := ParseDependencyType(e.Type)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", e.Name, err)
	}
	desc := Descriptor{Name: e.Name, Level: level, Type: typ, Versions: e.Versions}

	if typ == DependencySkip {
		return NewSkipRule(desc, e.Title, e.Description, e.Reason), nil
	}
	if e.Policy == "" {
		return nil, fmt.Errorf("rule %s: policy is required unless type is skip", e.Name)
	}
	policy, err := ParsePolicy(e.Policy)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", e.Name, err)
	}
	rel, err := ParseRelationship(e.Relationship)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", e.Name, err)
	}
	info := &DependencyInfo{
		Policy:       policy,
		Relationship: rel,
		Rules:        e.Rules,
		Category:     e.Category,
	}
	if policy == PolicyAllMinimal {
		memberLevel, err := ParseLevel(e.MemberLevel)
		if err != nil {
			return nil, fmt.Errorf("rule %s: member_level: %w", e.Name, err)
		}
		info.Level = memberLevel
	}
	desc.Info = info
	return NewCompositeRule(desc, e.Title, e.Description)
}
