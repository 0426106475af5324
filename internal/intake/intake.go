// Package intake converts loosely typed invoice payloads into domain types.
// Malformed numbers and dates are coerced rather than rejected, and each
// coercion is reported as a warning.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxLineItems bounds the size of a single invoice.
const MaxLineItems = 10000

var (
	ErrTooManyLineItems = fmt.Errorf("invoice exceeds %d line items", MaxLineItems)
	ErrVendorRequired   = errors.New("vendorId is required")
	ErrTenantRequired   = errors.New("tenantID is required")
)

// InvoiceRequest is the wire form of an invoice.
type InvoiceRequest struct {
	ID           string            `json:"id"`
	VendorID     string            `json:"vendorId"`
	MatterID     string            `json:"matterId"`
	PracticeArea string            `json:"practiceArea"`
	Currency     string            `json:"currency"`
	Description  string            `json:"description"`
	TotalAmount  Number            `json:"totalAmount"`
	SubmittedAt  Date              `json:"submittedAt"`
	PeriodEnd    Date              `json:"periodEnd"`
	RiskLabel    *Number           `json:"riskLabel,omitempty"`
	LineItems    []LineItemRequest `json:"lineItems"`
}

// LineItemRequest is the wire form of a line item.
type LineItemRequest struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	Hours           Number `json:"hours"`
	Rate            Number `json:"rate"`
	Amount          Number `json:"amount"`
	TimekeeperName  string `json:"timekeeperName"`
	TimekeeperTitle string `json:"timekeeperTitle"`
	EntryDate       Date   `json:"entryDate"`
	Type            string `json:"type"`
}

// Normalized is the result of converting a request.
type Normalized struct {
	Invoice   domain.Invoice
	LineItems []domain.LineItem
	Warnings  []string
}

var cents = decimal.NewFromInt(100)

// Normalize converts the request for a tenant. Missing IDs are generated,
// a missing submission time defaults to now, missing line amounts become
// hours x rate rounded to cents, and a missing total becomes the sum of
// line amounts. An invoice without line items is accepted with a warning.
// Only structural problems are errors.
func (r *InvoiceRequest) Normalize(tenantID string, now time.Time) (*Normalized, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if strings.TrimSpace(r.VendorID) == "" {
		return nil, ErrVendorRequired
	}
	if len(r.LineItems) > MaxLineItems {
		return nil, ErrTooManyLineItems
	}

	out := &Normalized{}
	warn := func(format string, args ...any) {
		out.Warnings = append(out.Warnings, fmt.Sprintf(format, args...))
	}

	if len(r.LineItems) == 0 {
		warn("invoice has no line items; scored on header fields only")
	}

	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = uuid.New().String()
	}

	submitted := r.SubmittedAt.Time
	if r.SubmittedAt.Malformed {
		warn("submittedAt is not a recognized date; using receipt time")
	}
	if submitted.IsZero() {
		submitted = now.UTC()
	}
	if r.PeriodEnd.Malformed {
		warn("periodEnd is not a recognized date; ignored")
	}

	items := make([]domain.LineItem, len(r.LineItems))
	total := decimal.Zero
	for i, li := range r.LineItems {
		for _, f := range []struct {
			name string
			n    Number
		}{{"hours", li.Hours}, {"rate", li.Rate}, {"amount", li.Amount}} {
			if f.n.Malformed {
				warn("lineItems[%d].%s is malformed; treated as 0", i, f.name)
			}
		}
		if li.EntryDate.Malformed {
			warn("lineItems[%d].entryDate is not a recognized date; ignored", i)
		}

		amount := li.Amount.Decimal
		if amount.IsZero() {
			amount = li.Hours.Mul(li.Rate.Decimal).Round(2)
		}
		total = total.Add(amount)

		items[i] = domain.LineItem{
			ID:              strings.TrimSpace(li.ID),
			InvoiceID:       id,
			Description:     strings.TrimSpace(li.Description),
			Hours:           li.Hours.Float(),
			Rate:            li.Rate.Float(),
			Amount:          amount.InexactFloat64(),
			TimekeeperName:  strings.TrimSpace(li.TimekeeperName),
			TimekeeperTitle: strings.TrimSpace(li.TimekeeperTitle),
			EntryDate:       li.EntryDate.Time,
			Type:            itemType(li.Type),
		}
		if li.Type != "" && items[i].Type == "" {
			warn("lineItems[%d].type %q is unknown; inferred from hours", i, li.Type)
		}
	}

	if r.TotalAmount.Malformed {
		warn("totalAmount is malformed; using the sum of line items")
	}
	invoiceTotal := r.TotalAmount.Decimal
	if invoiceTotal.IsZero() {
		invoiceTotal = total
	} else if diff := invoiceTotal.Sub(total).Abs(); len(items) > 0 && diff.GreaterThan(cents) {
		warn("totalAmount %s differs from line item sum %s", invoiceTotal.StringFixed(2), total.StringFixed(2))
	}

	inv := domain.Invoice{
		ID:           id,
		TenantID:     tenantID,
		VendorID:     strings.TrimSpace(r.VendorID),
		MatterID:     strings.TrimSpace(r.MatterID),
		PracticeArea: strings.ToLower(strings.TrimSpace(r.PracticeArea)),
		Currency:     strings.ToUpper(strings.TrimSpace(r.Currency)),
		Description:  strings.TrimSpace(r.Description),
		TotalAmount:  invoiceTotal.InexactFloat64(),
		SubmittedAt:  submitted,
		PeriodEnd:    r.PeriodEnd.Time,
		CreatedAt:    now.UTC(),
	}

	if r.RiskLabel != nil {
		switch label := r.RiskLabel.Float(); {
		case r.RiskLabel.Malformed:
			warn("riskLabel is malformed; ignored")
		case label > 1:
			warn("riskLabel %.3f is outside [0,1]; ignored", label)
		default:
			inv.RiskLabel = &label
		}
	}

	inv.Summarize(items)
	out.Invoice = inv
	out.LineItems = items
	return out, nil
}

func itemType(s string) domain.ItemType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fee", "time", "service":
		return domain.ItemTypeFee
	case "expense", "disbursement", "cost":
		return domain.ItemTypeExpense
	default:
		return ""
	}
}
