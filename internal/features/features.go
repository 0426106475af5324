// Package features turns an invoice and its line items into the fixed-order
// numeric vector consumed by the risk model and custom rules.
package features

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Feature names in vector order. The order is part of the model artifact
// and must not change without retraining.
const (
	TotalAmount       = "total_amount"
	LineItemCount     = "line_item_count"
	TotalHours        = "total_hours"
	AverageRate       = "average_rate"
	UniqueTimekeepers = "unique_timekeepers"
	IsLitigation      = "is_litigation"
	HasExpenses       = "has_expenses"
	DaysToSubmission  = "days_to_submission"
	MaxLineHours      = "max_line_hours"
	ExpenseRatio      = "expense_ratio"
	WeekendHoursRatio = "weekend_hours_ratio"
	SeniorHoursRatio  = "senior_hours_ratio"
)

var names = []string{
	TotalAmount,
	LineItemCount,
	TotalHours,
	AverageRate,
	UniqueTimekeepers,
	IsLitigation,
	HasExpenses,
	DaysToSubmission,
	MaxLineHours,
	ExpenseRatio,
	WeekendHoursRatio,
	SeniorHoursRatio,
}

// SeniorRate is the hourly rate at or above which time counts as senior.
const SeniorRate = 400.0

var litigationTerms = []string{
	"litigation", "lawsuit", "motion", "trial", "discovery",
	"deposition", "court", "hearing", "complaint", "pleading",
}

// Names returns the feature names in vector order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Len is the number of features in a vector.
func Len() int { return len(names) }

// Vector is a fixed-order feature vector.
type Vector []float64

// Get returns a feature by name, or 0 when unknown.
func (v Vector) Get(name string) float64 {
	for i, n := range names {
		if n == name && i < len(v) {
			return v[i]
		}
	}
	return 0
}

// Map returns the vector keyed by feature name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(names))
	for i, n := range names {
		if i < len(v) {
			m[n] = v[i]
		}
	}
	return m
}

// Extract builds the feature vector. It never fails: malformed numbers
// are zero-filled and an empty item list yields a mostly-zero vector.
func Extract(inv domain.Invoice, items []domain.LineItem) Vector {
	var (
		totalHours, billed, maxHours     float64
		feeAmount, expenseAmount         float64
		weekendHours, seniorHours, total float64
		hasExpenses                      bool
		latestEntry                      time.Time
	)
	timekeepers := make(map[string]struct{})

	for _, li := range items {
		hours := clean(li.Hours)
		rate := clean(li.Rate)
		amount := clean(li.Amount)
		if amount == 0 {
			amount = hours * rate
		}
		total += amount

		if li.EntryDate.After(latestEntry) {
			latestEntry = li.EntryDate
		}

		if li.IsExpense() {
			hasExpenses = true
			expenseAmount += amount
			continue
		}

		feeAmount += amount
		totalHours += hours
		billed += hours * rate
		if hours > maxHours {
			maxHours = hours
		}
		if isWeekend(li.EntryDate) {
			weekendHours += hours
		}
		if rate >= SeniorRate {
			seniorHours += hours
		}
		if tk := li.Timekeeper(); tk != "" {
			timekeepers[tk] = struct{}{}
		}
	}

	totalAmount := clean(inv.TotalAmount)
	if totalAmount == 0 {
		totalAmount = total
	}

	v := make(Vector, len(names))
	v[0] = totalAmount
	v[1] = float64(len(items))
	v[2] = totalHours
	v[3] = ratio(billed, totalHours)
	v[4] = float64(len(timekeepers))
	v[5] = boolFeature(isLitigation(inv, items))
	v[6] = boolFeature(hasExpenses)
	v[7] = daysToSubmission(inv, latestEntry)
	v[8] = maxHours
	v[9] = ratio(expenseAmount, feeAmount)
	v[10] = ratio(weekendHours, totalHours)
	v[11] = ratio(seniorHours, totalHours)
	return v
}

func clean(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isWeekend(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	d := t.Weekday()
	return d == time.Saturday || d == time.Sunday
}

func isLitigation(inv domain.Invoice, items []domain.LineItem) bool {
	if strings.Contains(strings.ToLower(inv.PracticeArea), "litigation") {
		return true
	}
	if containsAny(inv.Description, litigationTerms) {
		return true
	}
	for _, li := range items {
		if containsAny(li.Description, litigationTerms) {
			return true
		}
	}
	return false
}

func containsAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// daysToSubmission counts whole days from the end of the billing period
// (or the latest entry) to submission, floored at zero.
func daysToSubmission(inv domain.Invoice, latestEntry time.Time) float64 {
	if inv.SubmittedAt.IsZero() {
		return 0
	}
	ref := inv.PeriodEnd
	if latestEntry.After(ref) {
		ref = latestEntry
	}
	if ref.IsZero() {
		return 0
	}
	days := math.Floor(inv.SubmittedAt.Sub(ref).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IsWeekend reports whether an entry date falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool { return isWeekend(t) }
