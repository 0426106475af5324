package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinRules returns the global rules shipped with Kestrel. They apply to
// every tenant and can be overridden by a tenant rule with the same ID.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "builtin-late-submission",
			Name:        "Late submission",
			Description: "Invoice submitted more than 120 days after the work was performed",
			Version:     "1.0.0",
			Expression:  "days_to_submission > 120.0",
			Severity:    domain.SeverityLow,
			Weight:      5,
			Enabled:     true,
		},
		{
			ID:          "builtin-timekeeper-sprawl",
			Name:        "Timekeeper sprawl",
			Description: "More than 12 timekeepers billed on one invoice",
			Version:     "1.0.0",
			Expression:  "unique_timekeepers > 12.0",
			Severity:    domain.SeverityLow,
			Weight:      5,
			Enabled:     true,
		},
	}
}
