package domain

// RuleConfig defines a tenant-configurable invoice rule.
// The expression is evaluated against the invoice feature vector.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate. Must return bool, int, or double;
	// the rule fires on true or a positive number.
	Expression string `json:"expression"`

	// Severity of the emitted finding
	Severity Severity `json:"severity"`

	// Weight in score points when the rule fires
	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleResult is the output of a custom rule evaluation.
type RuleResult struct {
	RuleID    string  `json:"ruleId"`
	Value     float64 `json:"value"`
	Fired     bool    `json:"fired"`
	Error     string  `json:"error,omitempty"`
	ProcessMs int64   `json:"processMs"`
}
