package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"odatacheck/internal/flags"
	"odatacheck/internal/rules"
)

var (
	rulesListQuiet bool
	rulesListLevel string
	rulesCatalogs  []string
	rulesGraphDot  bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List and inspect rules",
	Long: `Inspect odatacheck rules.

This command group helps you discover which rules exist, what each rule checks
and how composite rules derive their verdict from other rules.
Rules are evaluated by "odatacheck validate".

Examples:
  # List all available rules
  odatacheck rules list

  # Include composites declared in a catalog file
  odatacheck rules list --catalog extra.yaml

  # Show the rule graph below one composite
  odatacheck rules graph Advanced.Conformance.1009
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available rules",
	Long: `List all rules registered in this build, plus any --catalog rules.

Rules are sorted by rule name.

Examples:
  odatacheck rules list
  odatacheck rules list --level must -q

Output:
  A vertical list of rules:
    ----------------------------------------
    RULE: {NAME}  [{LEVEL}]
    ----------------------------------------
    {TITLE}
    {DESCRIPTION}
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := rulesRegistry()
		if err != nil {
			return err
		}
		var level rules.Level
		if rulesListLevel != "" {
			if level, err = rules.ParseLevel(rulesListLevel); err != nil {
				return err
			}
		}
		for _, r := range reg.List() {
			if level != "" && r.Descriptor().Level != level {
				continue
			}
			if rulesListQuiet {
				fmt.Fprintln(cmd.OutOrStdout(), r.ID())
			} else {
				printRule(cmd.OutOrStdout(), reg, r)
			}
		}
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show [rule-name]",
	Short: "Show details of a specific rule",
	Long: `Show details of a specific rule by its name.

Examples:
  odatacheck rules show Minimal.Conformance.1001
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := rulesRegistry()
		if err != nil {
			return err
		}
		rList, err := reg.Resolve(args[0])
		if err != nil {
			return err
		}
		if len(rList) == 0 {
			return fmt.Errorf("rule not found: %s", args[0])
		}
		printRule(cmd.OutOrStdout(), reg, rList[0])
		return nil
	},
}

var rulesGraphCmd = &cobra.Command{
	Use:   "graph [selector]",
	Short: "Print the composite rule graph",
	Long: `Print how composite rules derive their verdict from other rules.

Without a selector every composite rule is printed. Leaf rules referenced by
a composite appear as its children; AllMinimal composites list the member set
they resolve to in this build.

Examples:
  odatacheck rules graph
  odatacheck rules graph 'Advanced.*'
  odatacheck rules graph --dot | dot -Tsvg > rules.svg
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := rulesRegistry()
		if err != nil {
			return err
		}
		roots := reg.List()
		if len(args) == 1 {
			if roots, err = reg.Resolve(args[0]); err != nil {
				return err
			}
		}
		if rulesGraphDot {
			printRuleGraphDot(cmd.OutOrStdout(), reg, roots)
			return nil
		}
		for _, r := range roots {
			if !r.Descriptor().Composite() {
				continue
			}
			printRuleTree(cmd.OutOrStdout(), reg, r.ID(), 0, map[string]bool{})
		}
		return nil
	},
}

// rulesRegistry returns the default registry, extended with --catalog rules.
func rulesRegistry() (*rules.Registry, error) {
	if len(rulesCatalogs) == 0 {
		return rules.Default(), nil
	}
	reg := rules.Default().Clone()
	for _, path := range rulesCatalogs {
		loaded, err := rules.LoadCatalogFile(path)
		if err != nil {
			return nil, err
		}
		for _, r := range loaded {
			if err := reg.Add(r); err != nil {
				return nil, fmt.Errorf("catalog %s: %w", path, err)
			}
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule graph: %w", err)
	}
	return reg, nil
}

func printRule(w io.Writer, reg *rules.Registry, r rules.Rule) {
	bold := color.New(color.Bold)
	d := r.Descriptor()
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "RULE: %s", r.ID())
	fmt.Fprintf(w, "  [%s]\n", levelColor(d.Level).Sprint(d.Level))
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, r.Title())
	fmt.Fprintln(w, r.Description())

	if len(d.Versions) > 0 {
		fmt.Fprintf(w, "Versions: %s\n", strings.Join(d.Versions, ", "))
	}
	switch {
	case d.Skipped():
		fmt.Fprintln(w, "Type: skip (never evaluated; always INCONCLUSIVE)")
	case d.Composite():
		fmt.Fprintf(w, "Type: composite (%s, %s)\n", d.Info.Policy, d.Info.Relationship)
		if refs := reg.References(r); len(refs) > 0 {
			fmt.Fprintf(w, "Rules: %s\n", strings.Join(refs, ", "))
		}
	case d.Type == rules.DependencyInline:
		fmt.Fprintln(w, "Type: short-circuit sequence")
	}

	if cr, ok := r.(rules.ConfigurableRule); ok {
		opts := cr.Options()
		if len(opts) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Options:")
			for _, opt := range opts {
				def := opt.Default
				if def == "" {
					def = "\"\""
				}
				fmt.Fprintf(w, "  %s\n", opt.Name)
				fmt.Fprintf(w, "    Description: %s\n", opt.Description)
				fmt.Fprintf(w, "    Default:     %s\n", def)
			}
		}
	}
	fmt.Fprintln(w)
}

func levelColor(l rules.Level) *color.Color {
	switch l {
	case rules.LevelMust:
		return color.New(color.FgRed)
	case rules.LevelShould:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func printRuleTree(w io.Writer, reg *rules.Registry, name string, depth int, onPath map[string]bool) {
	indent := strings.Repeat("  ", depth)
	r, ok := reg.Get(name)
	if !ok {
		fmt.Fprintf(w, "%s%s (unknown)\n", indent, name)
		return
	}
	d := r.Descriptor()
	label := name
	if d.Composite() {
		label = fmt.Sprintf("%s [%s]", name, d.Info.Policy)
	} else if d.Skipped() {
		label = name + " [skip]"
	}
	if onPath[name] {
		fmt.Fprintf(w, "%s%s (cycle)\n", indent, label)
		return
	}
	fmt.Fprintf(w, "%s%s\n", indent, label)

	onPath[name] = true
	for _, child := range reg.References(r) {
		printRuleTree(w, reg, child, depth+1, onPath)
	}
	delete(onPath, name)
}

func printRuleGraphDot(w io.Writer, reg *rules.Registry, roots []rules.Rule) {
	fmt.Fprintln(w, "digraph rules {")
	fmt.Fprintln(w, "  rankdir=LR;")
	seen := make(map[string]bool)
	var walk func(r rules.Rule)
	walk = func(r rules.Rule) {
		if seen[r.ID()] {
			return
		}
		seen[r.ID()] = true
		for _, child := range reg.References(r) {
			fmt.Fprintf(w, "  %q -> %q;\n", r.ID(), child)
			if c, ok := reg.Get(child); ok {
				walk(c)
			}
		}
	}
	for _, r := range roots {
		if r.Descriptor().Composite() {
			walk(r)
		}
	}
	fmt.Fprintln(w, "}")
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.PersistentFlags().StringSliceVar(&rulesCatalogs, flags.FlagCatalog, nil, "YAML file declaring extra composite rules (repeatable)")

	rulesCmd.AddCommand(rulesListCmd)
	rulesListCmd.Flags().BoolVarP(&rulesListQuiet, "quiet", "q", false, "Only print rule names")
	rulesListCmd.Flags().StringVar(&rulesListLevel, flags.FlagLevel, "", "Only list rules of this level: must|should|may")

	rulesCmd.AddCommand(rulesShowCmd)

	rulesCmd.AddCommand(rulesGraphCmd)
	rulesGraphCmd.Flags().BoolVar(&rulesGraphDot, "dot", false, "Print the graph in Graphviz DOT format")
}
