package detect

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Hour thresholds.
const (
	weekendHoursShare = 0.20
	maxEntryHours     = 10.0
)

// WeekendWork flags invoices where weekend entries exceed a fifth of the
// billed hours.
func WeekendWork(items []domain.LineItem, _ Context) []domain.Finding {
	var total, weekend float64
	var idx []int
	for i, li := range items {
		if li.IsExpense() {
			continue
		}
		hours := num(li.Hours)
		total += hours
		if features.IsWeekend(li.EntryDate) && hours > 0 {
			weekend += hours
			idx = append(idx, i)
		}
	}
	if total <= 0 {
		return nil
	}

	share := weekend / total
	if share <= weekendHoursShare {
		return nil
	}
	return []domain.Finding{{
		Type:     domain.FindingWeekendWork,
		Severity: domain.SeverityMedium,
		Description: fmt.Sprintf("%.0f%% of hours (%.2f of %.2f) billed on weekends",
			share*100, weekend, total),
		Weight:    Weight(domain.FindingWeekendWork),
		LineItems: idx,
		Count:     len(idx),
	}}
}

// ExcessiveHours flags entries that are statistical outliers among the
// invoice's hours or exceed the single-entry ceiling. Each item is reported
// at most once.
func ExcessiveHours(items []domain.LineItem, _ Context) []domain.Finding {
	var hours []float64
	var idx []int
	for i, li := range items {
		if li.IsExpense() || num(li.Hours) <= 0 {
			continue
		}
		hours = append(hours, num(li.Hours))
		idx = append(idx, i)
	}

	outlier := make(map[int]bool)
	for _, j := range upperOutliers(hours) {
		outlier[j] = true
	}

	var findings []domain.Finding
	for j, h := range hours {
		var reason string
		switch {
		case outlier[j]:
			reason = "is a statistical outlier for this invoice"
		case h > maxEntryHours:
			reason = fmt.Sprintf("exceeds %.0f hours in a single entry", maxEntryHours)
		default:
			continue
		}
		i := idx[j]
		findings = append(findings, domain.Finding{
			Type:        domain.FindingExcessiveHours,
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("Line %d: %.2f hours %s", i+1, h, reason),
			Weight:      Weight(domain.FindingExcessiveHours),
			LineItems:   []int{i},
		})
	}
	return findings
}
