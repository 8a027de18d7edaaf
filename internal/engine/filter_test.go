package engine

import (
	"reflect"
	"testing"

	"odatacheck/internal/config"
	"odatacheck/internal/rules"
)

func ruleIDs(rs []rules.Rule) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID())
	}
	return out
}

func TestFilterRules(t *testing.T) {
	all := []rules.Rule{
		leaf("Minimal.Conformance.1", rules.LevelMust, nil),
		leaf("Minimal.Conformance.2", rules.LevelShould, nil),
		leaf("Intermediate.Conformance.1", rules.LevelMust, nil),
		leaf("Advanced.Conformance.1", rules.LevelMay, nil),
	}
	tests := []struct {
		name    string
		levels  []string
		include []string
		exclude []string
		want    []string
	}{
		{
			name: "no filters",
			want: []string{"Minimal.Conformance.1", "Minimal.Conformance.2", "Intermediate.Conformance.1", "Advanced.Conformance.1"},
		},
		{
			name:   "level",
			levels: []string{"MUST"},
			want:   []string{"Minimal.Conformance.1", "Intermediate.Conformance.1"},
		},
		{
			name:    "include glob",
			include: []string{"Minimal.*"},
			want:    []string{"Minimal.Conformance.1", "Minimal.Conformance.2"},
		},
		{
			name:    "exclude wins over include",
			include: []string{"Minimal.*"},
			exclude: []string{"Minimal.Conformance.2"},
			want:    []string{"Minimal.Conformance.1"},
		},
		{
			name:    "levels and exclude",
			levels:  []string{"MUST", "MAY"},
			exclude: []string{"Intermediate.*"},
			want:    []string{"Minimal.Conformance.1", "Advanced.Conformance.1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New()
			cfg.Rules.Levels = tt.levels
			cfg.Rules.Include = tt.include
			cfg.Rules.Exclude = tt.exclude
			got := ruleIDs(FilterRules(all, cfg))
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplicableRules(t *testing.T) {
	always := passing("Minimal.Conformance.1")
	only401 := &stubRule{desc: rules.Descriptor{Name: "Advanced.Conformance.10", Level: rules.LevelMust, Type: rules.DependencyNone, Versions: []string{"4.01"}}}
	all := []rules.Rule{always, only401}

	if got := ruleIDs(ApplicableRules(all, "4.0")); !reflect.DeepEqual(got, []string{"Minimal.Conformance.1"}) {
		t.Fatalf("4.0: %v", got)
	}
	if got := ApplicableRules(all, "4.01"); len(got) != 2 {
		t.Fatalf("4.01: %v", ruleIDs(got))
	}
	if got := ApplicableRules(all, ""); len(got) != 2 {
		t.Fatalf("unknown version must keep every rule, got %v", ruleIDs(got))
	}
}
