package domain

import (
	"math"
	"strings"
	"time"
)

// Invoice is a submitted legal invoice header.
// The scoring engine treats it as read-only.
type Invoice struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	VendorID string `json:"vendorId"`
	MatterID string `json:"matterId"`

	// Practice area of the matter (e.g., "litigation", "corporate")
	PracticeArea string `json:"practiceArea,omitempty"`

	// Financial details. Currency is carried as an opaque code; rates
	// are never normalized across currencies.
	TotalAmount float64 `json:"totalAmount"`
	Currency    string  `json:"currency,omitempty"`

	// Temporal
	SubmittedAt time.Time `json:"submittedAt"`
	PeriodEnd   time.Time `json:"periodEnd,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`

	Description string `json:"description,omitempty"`

	// Derived aggregates, filled by Summarize when absent.
	TotalHours        float64 `json:"totalHours"`
	AverageRate       float64 `json:"averageRate"`
	LineItemCount     int     `json:"lineItemCount"`
	UniqueTimekeepers int     `json:"uniqueTimekeepers"`

	// RiskLabel is the reviewed risk (0.0-1.0) of an historical invoice.
	// Only labelled invoices are usable as training records.
	RiskLabel *float64 `json:"riskLabel,omitempty"`
}

// ItemType tags a line item as a fee or an expense.
type ItemType string

const (
	ItemTypeFee     ItemType = "fee"
	ItemTypeExpense ItemType = "expense"
)

// LineItem is a single billed entry on an invoice.
type LineItem struct {
	ID        string `json:"id,omitempty"`
	InvoiceID string `json:"invoiceId,omitempty"`

	Description string  `json:"description"`
	Hours       float64 `json:"hours"`
	Rate        float64 `json:"rate"`
	Amount      float64 `json:"amount"`

	TimekeeperName  string `json:"timekeeperName,omitempty"`
	TimekeeperTitle string `json:"timekeeperTitle,omitempty"`

	EntryDate time.Time `json:"entryDate,omitempty"`
	Type      ItemType  `json:"type,omitempty"`
}

// IsExpense reports whether the item is an expense. Untagged items with no
// hours but a positive amount are treated as expenses.
func (li LineItem) IsExpense() bool {
	switch li.Type {
	case ItemTypeExpense:
		return true
	case ItemTypeFee:
		return false
	}
	return li.Hours == 0 && li.Amount > 0
}

// Total returns the billed amount, falling back to hours x rate when no
// amount was provided.
func (li LineItem) Total() float64 {
	if li.Amount > 0 {
		return li.Amount
	}
	return li.Hours * li.Rate
}

// Timekeeper returns the normalized timekeeper key used for grouping.
func (li LineItem) Timekeeper() string {
	return strings.ToLower(strings.Join(strings.Fields(li.TimekeeperName), " "))
}

// Summarize fills derived aggregates on the invoice from its line items
// when they are not already populated. Fee items contribute to hours and
// the hours-weighted average rate.
func (inv *Invoice) Summarize(items []LineItem) {
	var hours, billed float64
	timekeepers := make(map[string]struct{})

	for _, li := range items {
		if li.IsExpense() {
			continue
		}
		hours += li.Hours
		billed += li.Hours * li.Rate
		if tk := li.Timekeeper(); tk != "" {
			timekeepers[tk] = struct{}{}
		}
	}

	if inv.LineItemCount == 0 {
		inv.LineItemCount = len(items)
	}
	if inv.TotalHours == 0 {
		inv.TotalHours = hours
	}
	if inv.AverageRate == 0 && hours > 0 {
		inv.AverageRate = billed / hours
	}
	if inv.UniqueTimekeepers == 0 {
		inv.UniqueTimekeepers = len(timekeepers)
	}
	if inv.TotalAmount == 0 {
		var total float64
		for _, li := range items {
			total += li.Total()
		}
		inv.TotalAmount = total
	}
}

// TrainingRecord is an historical invoice with its reviewed risk label.
type TrainingRecord struct {
	Invoice   Invoice    `json:"invoice"`
	LineItems []LineItem `json:"lineItems"`
	Label     float64    `json:"label"`
}

// TrainingRecordFromInvoice builds a training record when the invoice
// carries a usable label.
func TrainingRecordFromInvoice(inv Invoice, items []LineItem) (TrainingRecord, bool) {
	if inv.RiskLabel == nil {
		return TrainingRecord{}, false
	}
	rec := TrainingRecord{Invoice: inv, LineItems: items, Label: *inv.RiskLabel}
	return rec, rec.Complete()
}

// Complete reports whether the record can be used for training.
func (r TrainingRecord) Complete() bool {
	return !math.IsNaN(r.Label) && r.Label >= 0 && r.Label <= 1
}

// HistorySummary describes historical invoices for the same vendor and
// matter. A zero Count means no comparison data was available.
type HistorySummary struct {
	VendorID    string  `json:"vendorId"`
	MatterID    string  `json:"matterId"`
	Count       int     `json:"count"`
	MeanAmount  float64 `json:"meanAmount"`
	MeanHours   float64 `json:"meanHours"`
	MeanRate    float64 `json:"meanRate"`
	MaxAmount   float64 `json:"maxAmount"`
	LastInvoice string  `json:"lastInvoice,omitempty"`
}

// Available reports whether any historical data backs the summary.
func (h *HistorySummary) Available() bool {
	return h != nil && h.Count > 0
}
