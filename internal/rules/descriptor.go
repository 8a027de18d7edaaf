package rules

import (
	"fmt"
	"slices"
	"strings"
)

// Level is the requirement level of a rule.
type Level string

const (
	LevelMust   Level = "MUST"
	LevelShould Level = "SHOULD"
	LevelMay    Level = "MAY"
)

// ParseLevel accepts any casing of must, should and may.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MUST":
		return LevelMust, nil
	case "SHOULD":
		return LevelShould, nil
	case "MAY":
		return LevelMay, nil
	default:
		return "", fmt.Errorf("invalid requirement level %q (want must|should|may)", raw)
	}
}

// DependencyType says how a rule computes its verdict.
type DependencyType string

const (
	// DependencyNone rules probe the service directly.
	DependencyNone DependencyType = "none"
	// DependencyInline rules compute their verdict from sub-checks they run
	// themselves (see Sequence).
	DependencyInline DependencyType = "dependency"
	// DependencySkip rules are never evaluated and are always Inconclusive.
	DependencySkip DependencyType = "skip"
)

func ParseDependencyType(raw string) (DependencyType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return DependencyNone, nil
	case "dependency", "inline":
		return DependencyInline, nil
	case "skip":
		return DependencySkip, nil
	default:
		return "", fmt.Errorf("invalid dependency type %q (want none|dependency|skip)", raw)
	}
}

// Policy names how child outcomes are combined.
type Policy string

const (
	PolicyAllPass    Policy = "AllPass"
	PolicyAllMinimal Policy = "AllMinimal"
)

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", "")) {
	case "allpass":
		return PolicyAllPass, nil
	case "allminimal":
		return PolicyAllMinimal, nil
	default:
		return "", fmt.Errorf("invalid combination policy %q (want AllPass|AllMinimal)", raw)
	}
}

// Relationship records whether children are parts of the parent statement
// (SubRule) or separate statements it is derived from (DerivedRule). It does
// not change how outcomes combine.
type Relationship string

const (
	RelationshipSubRule     Relationship = "SubRule"
	RelationshipDerivedRule Relationship = "DerivedRule"
)

func ParseRelationship(raw string) (Relationship, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", "")) {
	case "", "subrule":
		return RelationshipSubRule, nil
	case "derivedrule":
		return RelationshipDerivedRule, nil
	default:
		return "", fmt.Errorf("invalid relationship %q (want SubRule|DerivedRule)", raw)
	}
}

// DependencyInfo declares that a rule's verdict is wholly derived from other
// rules.
type DependencyInfo struct {
	Policy       Policy       `json:"policy" yaml:"policy"`
	Relationship Relationship `json:"relationship" yaml:"relationship"`
	// Rules are the referenced rule names, in evaluation order. Unused by
	// AllMinimal.
	Rules []string `json:"rules,omitempty" yaml:"rules,omitempty"`
	// Category and Level select the AllMinimal member set: every rule whose
	// name starts with Category+"." at the given level.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Level    Level  `json:"level,omitempty" yaml:"level,omitempty"`
}

// Descriptor is the static identity of a checkable unit.
type Descriptor struct {
	Name  string          `json:"name"`
	Level Level           `json:"level"`
	Type  DependencyType  `json:"type"`
	Info  *DependencyInfo `json:"dependency,omitempty"`
	// Versions limits the rule to these OData versions. Empty means all.
	Versions []string `json:"versions,omitempty"`
}

// Composite reports whether the verdict is derived from other rules.
func (d Descriptor) Composite() bool {
	return d.Info != nil && d.Type != DependencySkip
}

// Skipped reports whether the rule is declared never to run.
func (d Descriptor) Skipped() bool {
	return d.Type == DependencySkip
}

// AppliesTo reports whether the rule targets the given OData version. An
// unknown service version matches every rule.
func (d Descriptor) AppliesTo(version string) bool {
	if len(d.Versions) == 0 || version == "" {
		return true
	}
	return slices.Contains(d.Versions, version)
}

// Validate checks the descriptor in isolation. Cross-rule checks (unknown
// references, cycles) belong to Registry.Validate.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("rule name is empty")
	}
	switch d.Level {
	case LevelMust, LevelShould, LevelMay:
	default:
		return fmt.Errorf("rule %s: invalid level %q", d.Name, d.Level)
	}
	switch d.Type {
	case DependencyNone, DependencyInline, DependencySkip:
	default:
		return fmt.Errorf("rule %s: invalid dependency type %q", d.Name, d.Type)
	}
	if d.Info == nil {
		return nil
	}
	switch d.Info.Policy {
	case PolicyAllPass:
		if len(d.Info.Rules) == 0 {
			return fmt.Errorf("rule %s: AllPass needs at least one referenced rule", d.Name)
		}
	case PolicyAllMinimal:
		if d.Info.Category == "" {
			return fmt.Errorf("rule %s: AllMinimal needs a category", d.Name)
		}
		switch d.Info.Level {
		case LevelMust, LevelShould, LevelMay:
		default:
			return fmt.Errorf("rule %s: AllMinimal needs a member level", d.Name)
		}
	default:
		return fmt.Errorf("rule %s: invalid combination policy %q", d.Name, d.Info.Policy)
	}
	seen := make(map[string]bool, len(d.Info.Rules))
	for _, ref := range d.Info.Rules {
		if ref == d.Name {
			return fmt.Errorf("rule %s references itself", d.Name)
		}
		if seen[ref] {
			return fmt.Errorf("rule %s references %s more than once", d.Name, ref)
		}
		seen[ref] = true
	}
	return nil
}
