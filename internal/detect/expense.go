package detect

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Expense thresholds.
const (
	expenseFeeShare    = 0.30
	largeExpenseAmount = 1000.0
	spikeMinHistory    = 3
	spikeMultiple      = 2.0
)

// ExpenseAnomalies flags a high expense-to-fee ratio and individual large
// expenses.
func ExpenseAnomalies(items []domain.LineItem, _ Context) []domain.Finding {
	var fees, expenses float64
	var expenseIdx, largeIdx []int
	for i, li := range items {
		amount := num(li.Total())
		if !li.IsExpense() {
			fees += amount
			continue
		}
		expenses += amount
		expenseIdx = append(expenseIdx, i)
		if amount > largeExpenseAmount {
			largeIdx = append(largeIdx, i)
		}
	}

	var findings []domain.Finding
	if expenses > 0 && (fees <= 0 || expenses/fees > expenseFeeShare) {
		desc := fmt.Sprintf("Expenses of $%.2f with no fees billed", expenses)
		if fees > 0 {
			desc = fmt.Sprintf("Expenses ($%.2f) are %.0f%% of fees ($%.2f)",
				expenses, expenses/fees*100, fees)
		}
		findings = append(findings, domain.Finding{
			Type:        domain.FindingHighExpenseRatio,
			Severity:    domain.SeverityMedium,
			Description: desc,
			Weight:      Weight(domain.FindingHighExpenseRatio),
			LineItems:   expenseIdx,
		})
	}
	if len(largeIdx) > 0 {
		findings = append(findings, domain.Finding{
			Type:     domain.FindingLargeExpense,
			Severity: domain.SeverityHigh,
			Description: fmt.Sprintf("%d expense(s) over $%.0f",
				len(largeIdx), largeExpenseAmount),
			Weight:    Weight(domain.FindingLargeExpense),
			LineItems: largeIdx,
			Count:     len(largeIdx),
		})
	}
	return findings
}

// HistoricalSpike compares the invoice total with the vendor's history for
// the matter. Without enough history it stays silent.
func HistoricalSpike(items []domain.LineItem, dctx Context) []domain.Finding {
	h := dctx.History
	if h == nil || h.Count < spikeMinHistory || h.MeanAmount <= 0 {
		return nil
	}

	total := num(dctx.Invoice.TotalAmount)
	if total == 0 {
		for _, li := range items {
			total += num(li.Total())
		}
	}
	if total <= spikeMultiple*h.MeanAmount {
		return nil
	}
	return []domain.Finding{{
		Type:     domain.FindingHistoricalAmountSpike,
		Severity: domain.SeverityMedium,
		Description: fmt.Sprintf("Invoice total $%.2f is %.1fx the historical mean ($%.2f over %d invoices)",
			total, total/h.MeanAmount, h.MeanAmount, h.Count),
		Weight: Weight(domain.FindingHistoricalAmountSpike),
	}}
}
