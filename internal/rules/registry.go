package rules

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// Registry maps rule names to rules. Every rule added is wrapped with an
// AllowListWrapper.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Add registers r, failing on an empty or duplicate name.
func (reg *Registry) Add(r Rule) error {
	if r == nil {
		return fmt.Errorf("rule is nil")
	}
	id := r.ID()
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("rule name is empty")
	}
	if d := r.Descriptor(); d.Name != id {
		return fmt.Errorf("rule %s: descriptor name %q does not match", id, d.Name)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.rules[id]; exists {
		return fmt.Errorf("rule %s already registered", id)
	}
	// Wrap the rule with AllowListWrapper to provide automatic allowlist support
	reg.rules[id] = &AllowListWrapper{Rule: r}
	return nil
}

// Register is Add for init-time registration; it panics on error.
func (reg *Registry) Register(r Rule) {
	if err := reg.Add(r); err != nil {
		panic(err.Error())
	}
}

// Clone copies the registry for one run. Rules are re-wrapped so waivers
// configured on the copy do not leak into the original.
func (reg *Registry) Clone() *Registry {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := NewRegistry()
	for id, r := range reg.rules {
		if w, ok := r.(*AllowListWrapper); ok {
			r = &AllowListWrapper{Rule: w.Unwrap()}
		}
		out.rules[id] = r
	}
	return out
}

func (reg *Registry) Get(id string) (Rule, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rules[id]
	return r, ok
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rules)
}

// List returns all rules sorted by name.
func (reg *Registry) List() []Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.listLocked()
}

func (reg *Registry) listLocked() []Rule {
	rules := make([]Rule, 0, len(reg.rules))
	for _, r := range reg.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].ID() < rules[j].ID()
	})
	return rules
}

// Resolve selects rules from a comma-separated selector. Entries are exact
// names or path.Match globs (Minimal.*); an entry prefixed with "!" removes
// matching rules. A selector made only of exclusions starts from every
// rule; an empty selector selects everything.
func (reg *Registry) Resolve(selector string) ([]Rule, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	all := reg.listLocked()
	if strings.TrimSpace(selector) == "" {
		return all, nil
	}

	var include, exclude []string
	for _, raw := range strings.Split(selector, ",") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if strings.HasPrefix(s, "!") {
			exclude = append(exclude, strings.TrimSpace(s[1:]))
			continue
		}
		include = append(include, s)
	}

	picked := make(map[string]bool)
	var selected []Rule
	if len(include) == 0 {
		selected = all
		for _, r := range all {
			picked[r.ID()] = true
		}
	}
	for _, s := range include {
		if !isPattern(s) {
			r, ok := reg.rules[s]
			if !ok {
				return nil, fmt.Errorf("rule not found: %s", s)
			}
			if !picked[s] {
				picked[s] = true
				selected = append(selected, r)
			}
			continue
		}
		if _, err := path.Match(s, ""); err != nil {
			return nil, fmt.Errorf("invalid rule pattern %q: %w", s, err)
		}
		matched := false
		for _, r := range all {
			if ok, _ := path.Match(s, r.ID()); ok {
				matched = true
				if !picked[r.ID()] {
					picked[r.ID()] = true
					selected = append(selected, r)
				}
			}
		}
		if !matched {
			return nil, fmt.Errorf("no rules match %q", s)
		}
	}

	if len(exclude) == 0 {
		return selected, nil
	}
	out := selected[:0:0]
	for _, r := range selected {
		if !matchesAny(exclude, r.ID()) {
			out = append(out, r)
		}
	}
	return out, nil
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

func matchesAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if p == id {
			return true
		}
		if ok, _ := path.Match(p, id); ok {
			return true
		}
	}
	return false
}

// References returns the names a rule's outcome is derived from, in
// evaluation order. For AllMinimal this is every rule named
// Category+".*" at the member level, excluding the rule itself and skipped
// rules, sorted by name.
func (reg *Registry) References(r Rule) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.referencesLocked(r.Descriptor())
}

func (reg *Registry) referencesLocked(d Descriptor) []string {
	if !d.Composite() {
		return nil
	}
	if d.Info.Policy != PolicyAllMinimal {
		return append([]string(nil), d.Info.Rules...)
	}
	prefix := d.Info.Category + "."
	var out []string
	for _, r := range reg.listLocked() {
		md := r.Descriptor()
		if md.Name == d.Name || md.Skipped() {
			continue
		}
		if strings.HasPrefix(md.Name, prefix) && md.Level == d.Info.Level {
			out = append(out, md.Name)
		}
	}
	return out
}

// Validate checks every descriptor, every reference and the absence of
// cycles in the whole rule graph. All problems are reported together.
func (reg *Registry) Validate() error {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var errs []error
	graph := make(map[string][]string, len(reg.rules))
	for _, r := range reg.listLocked() {
		d := r.Descriptor()
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		refs := reg.referencesLocked(d)
		for _, ref := range refs {
			if _, ok := reg.rules[ref]; !ok {
				errs = append(errs, fmt.Errorf("rule %s references unknown rule %s", d.Name, ref))
			}
		}
		if d.Composite() && d.Info.Policy == PolicyAllMinimal && len(refs) == 0 {
			errs = append(errs, fmt.Errorf("rule %s: no %s rules under %s", d.Name, d.Info.Level, d.Info.Category))
		}
		graph[d.Name] = refs
	}
	if cycle := findCycle(graph); cycle != nil {
		errs = append(errs, fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> ")))
	}
	return errors.Join(errs...)
}

// findCycle returns the first cycle found by a depth-first walk in name
// order, as a path that starts and ends with the same rule.
func findCycle(graph map[string][]string) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(graph))
	var stack []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		stack = append(stack, n)
		for _, m := range graph[n] {
			switch color[m] {
			case grey:
				for i, s := range stack {
					if s == m {
						cycle = append(append([]string(nil), stack[i:]...), m)
						break
					}
				}
				return true
			case white:
				if visit(m) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	names := make([]string, 0, len(graph))
	for n := range graph {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if color[n] == white && visit(n) {
			return cycle
		}
	}
	return nil
}

// Expand returns the selected rules plus everything they transitively
// reference, ordered so that every rule comes after the rules it
// references.
func (reg *Registry) Expand(selected []Rule) ([]Rule, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var order []Rule
	var visit func(id string, from string) error
	visit = func(id string, from string) error {
		switch color[id] {
		case black:
			return nil
		case grey:
			return fmt.Errorf("dependency cycle through %s", id)
		}
		r, ok := reg.rules[id]
		if !ok {
			if from == "" {
				return fmt.Errorf("rule not found: %s", id)
			}
			return fmt.Errorf("rule %s references unknown rule %s", from, id)
		}
		color[id] = grey
		for _, ref := range reg.referencesLocked(r.Descriptor()) {
			if err := visit(ref, id); err != nil {
				return err
			}
		}
		color[id] = black
		order = append(order, r)
		return nil
	}
	for _, r := range selected {
		if err := visit(r.ID(), ""); err != nil {
			return nil, err
		}
	}
	return order, nil
}

var defaultRegistry = NewRegistry()

// Default returns the registry that rule packages register into from init().
func Default() *Registry {
	return defaultRegistry
}

func Register(r Rule) {
	defaultRegistry.Register(r)
}

func List() []Rule {
	return defaultRegistry.List()
}

func Resolve(selector string) ([]Rule, error) {
	return defaultRegistry.Resolve(selector)
}
