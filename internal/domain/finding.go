package domain

import (
	"fmt"
	"strings"
)

// FindingType identifies the anomaly a detector reports.
type FindingType string

const (
	FindingBlockBilling          FindingType = "block_billing"
	FindingVagueDescription      FindingType = "vague_description"
	FindingRateInconsistency     FindingType = "rate_inconsistency"
	FindingExcessiveHours        FindingType = "excessive_hours"
	FindingWeekendWork           FindingType = "weekend_work"
	FindingHighRate              FindingType = "high_rate"
	FindingHighExpenseRatio      FindingType = "high_expense_ratio"
	FindingLargeExpense          FindingType = "large_expense"
	FindingPartnerHeavyStaffing  FindingType = "partner_heavy_staffing"
	FindingExpensiveResourceUse  FindingType = "expensive_resource_overuse"
	FindingDuplicateEntry        FindingType = "duplicate_entry"
	FindingHistoricalAmountSpike FindingType = "historical_amount_spike"
	FindingCustomRule            FindingType = "custom_rule"
)

// Severity grades a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns an integer rank for comparison (Low=1, High=3).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// ParseSeverity parses a severity string case-insensitively.
// Accepts "moderate" as "medium".
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium", "moderate":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return "", fmt.Errorf("invalid severity: %s", s)
	}
}

// Finding is a single detector's output describing one anomaly instance.
type Finding struct {
	Type        FindingType `json:"type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`

	// Weight is the impact in score points this finding may contribute.
	Weight float64 `json:"weight"`

	// Detector is the name of the detector that produced the finding.
	Detector string `json:"detector"`

	// LineItems holds zero-based indexes of the line items involved.
	LineItems []int `json:"lineItems,omitempty"`

	// Count reports how many instances an aggregate finding covers.
	Count int `json:"count,omitempty"`

	// RuleID is set for findings emitted by custom rules.
	RuleID string `json:"ruleId,omitempty"`
}

// Key groups findings that share a single score contribution.
// Custom rules contribute independently per rule.
func (f Finding) Key() string {
	if f.RuleID != "" {
		return string(f.Type) + ":" + f.RuleID
	}
	return string(f.Type)
}

// FirstItem returns the lowest referenced line item index, or -1.
func (f Finding) FirstItem() int {
	if len(f.LineItems) == 0 {
		return -1
	}
	first := f.LineItems[0]
	for _, idx := range f.LineItems[1:] {
		if idx < first {
			first = idx
		}
	}
	return first
}
