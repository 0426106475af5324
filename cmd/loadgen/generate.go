package main

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Invoice is the request body for POST /invoices and /invoices/score.
type Invoice struct {
	ID           string     `json:"id,omitempty"`
	VendorID     string     `json:"vendorId"`
	MatterID     string     `json:"matterId"`
	PracticeArea string     `json:"practiceArea"`
	Currency     string     `json:"currency"`
	SubmittedAt  string     `json:"submittedAt"`
	PeriodEnd    string     `json:"periodEnd,omitempty"`
	RiskLabel    *float64   `json:"riskLabel,omitempty"`
	LineItems    []LineItem `json:"lineItems"`
}

// LineItem is a line item in the request body.
type LineItem struct {
	Description     string  `json:"description"`
	Hours           float64 `json:"hours,omitempty"`
	Rate            float64 `json:"rate,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
	TimekeeperName  string  `json:"timekeeperName"`
	TimekeeperTitle string  `json:"timekeeperTitle"`
	EntryDate       string  `json:"entryDate"`
	Type            string  `json:"type,omitempty"`
}

// Sample is a generated invoice with the anomalies injected into it.
type Sample struct {
	Invoice   Invoice
	Anomalous bool
	Injected  []string
}

type timekeeper struct {
	name  string
	title string
	rate  float64
}

var timekeepers = []timekeeper{
	{"J. Alvarez", "Partner", 650},
	{"M. Chen", "Senior Associate", 425},
	{"R. Okafor", "Associate", 310},
	{"S. Patel", "Associate", 295},
	{"L. Novak", "Paralegal", 160},
}

var practiceAreas = []string{"litigation", "corporate", "employment", "intellectual property", "real estate"}

var cleanTasks = []string{
	"Draft motion for summary judgment on breach of contract claim",
	"Prepare deposition outline for plaintiff's expert witness",
	"Review opposing counsel's production for privileged documents",
	"Telephone conference with client regarding settlement terms",
	"Revise asset purchase agreement indemnification provisions",
	"Research case law on non-compete enforceability in Texas",
	"Prepare exhibits for hearing on motion to compel",
	"Draft responses to second set of interrogatories",
}

var expenses = []string{"Court filing fee", "Courier delivery", "Deposition transcript", "Travel to hearing"}

// Generator produces synthetic invoices. It is deterministic for a seed.
type Generator struct {
	rng         *rand.Rand
	anomalyRate float64
	vendors     int
	now         time.Time
	seq         int
}

// NewGenerator creates a generator; anomalyRate is the share of invoices
// that receive injected billing anomalies.
func NewGenerator(seed uint64, anomalyRate float64, vendors int, now time.Time) *Generator {
	if vendors < 1 {
		vendors = 1
	}
	return &Generator{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		anomalyRate: anomalyRate,
		vendors:     vendors,
		now:         now,
	}
}

// Next generates one invoice. With labelled set the invoice carries a
// riskLabel derived from its anomalies.
func (g *Generator) Next(prefix string, labelled bool) Sample {
	g.seq++
	submitted := g.now.AddDate(0, 0, -g.rng.IntN(365))
	periodEnd := submitted.AddDate(0, 0, -g.rng.IntN(20)-1)

	inv := Invoice{
		ID:           fmt.Sprintf("%s-%06d", prefix, g.seq),
		VendorID:     fmt.Sprintf("vendor-%03d", g.rng.IntN(g.vendors)),
		MatterID:     fmt.Sprintf("matter-%04d", g.rng.IntN(200)),
		PracticeArea: practiceAreas[g.rng.IntN(len(practiceAreas))],
		Currency:     "USD",
		SubmittedAt:  submitted.Format(time.RFC3339),
		PeriodEnd:    periodEnd.Format("2006-01-02"),
	}

	n := 3 + g.rng.IntN(10)
	for i := 0; i < n; i++ {
		tk := timekeepers[g.rng.IntN(len(timekeepers))]
		inv.LineItems = append(inv.LineItems, LineItem{
			Description:     cleanTasks[g.rng.IntN(len(cleanTasks))],
			Hours:           0.5 * float64(1+g.rng.IntN(12)),
			Rate:            tk.rate,
			TimekeeperName:  tk.name,
			TimekeeperTitle: tk.title,
			EntryDate:       g.weekday(periodEnd).Format("2006-01-02"),
		})
	}
	if g.rng.Float64() < 0.4 {
		inv.LineItems = append(inv.LineItems, LineItem{
			Description:    expenses[g.rng.IntN(len(expenses))],
			Amount:         float64(25 + g.rng.IntN(400)),
			TimekeeperName: timekeepers[0].name,
			EntryDate:      g.weekday(periodEnd).Format("2006-01-02"),
			Type:           "expense",
		})
	}

	s := Sample{Invoice: inv}
	if g.rng.Float64() < g.anomalyRate {
		s.Anomalous = true
		s.Injected = g.inject(&s.Invoice, periodEnd)
	}

	if labelled {
		label := 0.05 + 0.15*g.rng.Float64()
		if s.Anomalous {
			label = 0.55 + 0.1*float64(len(s.Injected)) + 0.1*g.rng.Float64()
			if label > 1 {
				label = 1
			}
		}
		s.Invoice.RiskLabel = &label
	}
	return s
}

// inject applies one to three anomalies and returns their names.
func (g *Generator) inject(inv *Invoice, periodEnd time.Time) []string {
	anomalies := []struct {
		name  string
		apply func()
	}{
		{"block_billing", func() {
			inv.LineItems[0].Description = "Review documents and draft motion and call client; prepare for hearing"
			inv.LineItems[0].Hours = 9.5
		}},
		{"vague_description", func() {
			for i := range inv.LineItems {
				if inv.LineItems[i].Type == "" && g.rng.IntN(2) == 0 {
					inv.LineItems[i].Description = "Review"
				}
			}
			inv.LineItems[len(inv.LineItems)-1].Description = "Work on matter"
		}},
		{"excessive_hours", func() {
			inv.LineItems[g.rng.IntN(len(inv.LineItems))].Hours = 14 + float64(g.rng.IntN(6))
		}},
		{"weekend_work", func() {
			sat := periodEnd
			for sat.Weekday() != time.Saturday {
				sat = sat.AddDate(0, 0, -1)
			}
			for i := range inv.LineItems {
				inv.LineItems[i].EntryDate = sat.Format("2006-01-02")
			}
		}},
		{"high_rate", func() {
			for i := range inv.LineItems {
				if inv.LineItems[i].Rate > 0 {
					inv.LineItems[i].Rate *= 2.5
				}
			}
		}},
		{"large_expense", func() {
			inv.LineItems = append(inv.LineItems, LineItem{
				Description:    "First class airfare and hotel",
				Amount:         float64(6000 + g.rng.IntN(9000)),
				TimekeeperName: timekeepers[0].name,
				EntryDate:      periodEnd.Format("2006-01-02"),
				Type:           "expense",
			})
		}},
	}

	count := 1 + g.rng.IntN(3)
	names := make([]string, 0, count)
	for _, i := range g.rng.Perm(len(anomalies))[:count] {
		anomalies[i].apply()
		names = append(names, anomalies[i].name)
	}
	return names
}

// weekday returns a random weekday within the two weeks before end.
func (g *Generator) weekday(end time.Time) time.Time {
	for {
		d := end.AddDate(0, 0, -g.rng.IntN(14))
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			return d
		}
	}
}
