package detect

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Staffing thresholds.
const (
	expensiveRate       = 500.0
	expensiveHoursShare = 0.60
	partnerRate         = 400.0
	partnerHoursShare   = 0.40
)

// RateInconsistency flags each timekeeper billed at more than one rate.
func RateInconsistency(items []domain.LineItem, _ Context) []domain.Finding {
	type entry struct {
		name  string
		rates []float64
		items []int
	}
	byTK := make(map[string]*entry)
	var order []string

	for i, li := range items {
		tk := li.Timekeeper()
		rate := num(li.Rate)
		if tk == "" || rate <= 0 || li.IsExpense() {
			continue
		}
		e, ok := byTK[tk]
		if !ok {
			e = &entry{name: li.TimekeeperName}
			byTK[tk] = e
			order = append(order, tk)
		}
		e.items = append(e.items, i)
		cents := math.Round(rate * 100)
		known := false
		for _, r := range e.rates {
			if math.Round(r*100) == cents {
				known = true
				break
			}
		}
		if !known {
			e.rates = append(e.rates, rate)
		}
	}

	var findings []domain.Finding
	for _, tk := range order {
		e := byTK[tk]
		if len(e.rates) < 2 {
			continue
		}
		parts := make([]string, len(e.rates))
		for i, r := range e.rates {
			parts[i] = fmt.Sprintf("$%.2f", r)
		}
		findings = append(findings, domain.Finding{
			Type:     domain.FindingRateInconsistency,
			Severity: domain.SeverityMedium,
			Description: fmt.Sprintf("%s billed at %d different rates (%s)",
				e.name, len(e.rates), strings.Join(parts, ", ")),
			Weight:    Weight(domain.FindingRateInconsistency),
			LineItems: e.items,
			Count:     len(e.rates),
		})
	}
	return findings
}

// HighRates flags fee items whose rate exceeds the invoice's upper IQR fence.
func HighRates(items []domain.LineItem, _ Context) []domain.Finding {
	var rates []float64
	var idx []int
	for i, li := range items {
		if li.IsExpense() || num(li.Rate) <= 0 {
			continue
		}
		rates = append(rates, num(li.Rate))
		idx = append(idx, i)
	}

	fence, ok := upperFence(rates)
	if !ok {
		return nil
	}

	var findings []domain.Finding
	for j, r := range rates {
		if r <= fence {
			continue
		}
		i := idx[j]
		findings = append(findings, domain.Finding{
			Type:     domain.FindingHighRate,
			Severity: domain.SeverityMedium,
			Description: fmt.Sprintf("Line %d: rate $%.2f is above the invoice's outlier fence ($%.2f)",
				i+1, r, fence),
			Weight:    Weight(domain.FindingHighRate),
			LineItems: []int{i},
		})
	}
	return findings
}

// StaffingSkew flags invoices where expensive or senior time dominates.
func StaffingSkew(items []domain.LineItem, _ Context) []domain.Finding {
	var total, expensive, senior float64
	var expensiveIdx, seniorIdx []int
	for i, li := range items {
		if li.IsExpense() {
			continue
		}
		hours, rate := num(li.Hours), num(li.Rate)
		total += hours
		if rate >= expensiveRate {
			expensive += hours
			expensiveIdx = append(expensiveIdx, i)
		}
		if rate >= partnerRate {
			senior += hours
			seniorIdx = append(seniorIdx, i)
		}
	}
	if total <= 0 {
		return nil
	}

	var findings []domain.Finding
	if share := expensive / total; share > expensiveHoursShare {
		findings = append(findings, domain.Finding{
			Type:     domain.FindingExpensiveResourceUse,
			Severity: domain.SeverityMedium,
			Description: fmt.Sprintf("%.0f%% of hours billed at $%.0f/hour or more",
				share*100, expensiveRate),
			Weight:    Weight(domain.FindingExpensiveResourceUse),
			LineItems: expensiveIdx,
		})
	}
	if share := senior / total; share > partnerHoursShare {
		findings = append(findings, domain.Finding{
			Type:     domain.FindingPartnerHeavyStaffing,
			Severity: domain.SeverityMedium,
			Description: fmt.Sprintf("%.0f%% of hours billed at partner rates ($%.0f/hour or more)",
				share*100, partnerRate),
			Weight:    Weight(domain.FindingPartnerHeavyStaffing),
			LineItems: seniorIdx,
		})
	}
	return findings
}
