package rules

// Result is the reported form of one rule evaluated against one service.
type Result struct {
	RuleID  string  `json:"rule_id"`
	Service string  `json:"service"`
	Level   Level   `json:"level,omitempty"`
	Verdict Verdict `json:"verdict"`
	Message string  `json:"message,omitempty"`
	Waived  bool    `json:"waived,omitempty"`
	// Error is set when the rule could not be evaluated at all.
	Error   string   `json:"error,omitempty"`
	Details []Detail `json:"details,omitempty"`
	// Metadata contains structured data supporting the result (e.g. lists, counts).
	Metadata map[string]any `json:"metadata,omitempty"`
}
