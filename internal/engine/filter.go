package engine

import (
	"path"
	"strings"

	"odatacheck/internal/config"
	"odatacheck/internal/rules"
)

// FilterRules applies --level, --include-rule and --exclude-rule to the
// rules picked by the selector. Include, when set, must match; exclude
// always wins.
func FilterRules(selected []rules.Rule, cfg *config.Config) []rules.Rule {
	if cfg == nil {
		panic("engine.FilterRules: cfg must not be nil")
	}

	levels := make(map[rules.Level]bool, len(cfg.Rules.Levels))
	for _, l := range cfg.Rules.Levels {
		if lvl, err := rules.ParseLevel(l); err == nil {
			levels[lvl] = true
		}
	}

	var filtered []rules.Rule
	for _, r := range selected {
		d := r.Descriptor()
		if len(levels) > 0 && !levels[d.Level] {
			continue
		}
		if len(cfg.Rules.Include) > 0 && !matchesAnyPattern(cfg.Rules.Include, d.Name) {
			continue
		}
		if matchesAnyPattern(cfg.Rules.Exclude, d.Name) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// ApplicableRules drops rules that do not target the service's OData
// version. An unknown version keeps everything.
func ApplicableRules(selected []rules.Rule, version string) []rules.Rule {
	out := make([]rules.Rule, 0, len(selected))
	for _, r := range selected {
		if r.Descriptor().AppliesTo(version) {
			out = append(out, r)
		}
	}
	return out
}

func matchesAnyPattern(patterns []string, id string) bool {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if matched, _ := path.Match(p, id); matched {
			return true
		}
	}
	return false
}
