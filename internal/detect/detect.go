// Package detect implements the heuristic detector bank. Every detector is a
// pure function of the line items and the invoice context; none consults the
// statistical model.
package detect

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Context carries invoice-level data some detectors need.
type Context struct {
	Invoice domain.Invoice
	History *domain.HistorySummary
}

// Func is the signature shared by all detectors.
type Func func(items []domain.LineItem, dctx Context) []domain.Finding

// Detector is a named detector function.
type Detector struct {
	Name   string
	Detect Func
}

// Bank runs a fixed, ordered set of detectors.
type Bank struct {
	detectors []Detector
}

// NewBank creates a bank from the given detectors.
func NewBank(detectors ...Detector) *Bank {
	return &Bank{detectors: detectors}
}

// DefaultBank returns the bank with every built-in detector.
func DefaultBank() *Bank {
	return NewBank(
		Detector{Name: "block_billing", Detect: BlockBilling},
		Detector{Name: "vague_description", Detect: VagueDescriptions},
		Detector{Name: "rate_inconsistency", Detect: RateInconsistency},
		Detector{Name: "weekend_work", Detect: WeekendWork},
		Detector{Name: "excessive_hours", Detect: ExcessiveHours},
		Detector{Name: "high_rate", Detect: HighRates},
		Detector{Name: "expense_anomaly", Detect: ExpenseAnomalies},
		Detector{Name: "staffing_skew", Detect: StaffingSkew},
		Detector{Name: "duplicate_entry", Detect: DuplicateEntries},
		Detector{Name: "historical_spike", Detect: HistoricalSpike},
	)
}

// Run executes all detectors in order and tags each finding with the
// detector that produced it.
func (b *Bank) Run(items []domain.LineItem, dctx Context) []domain.Finding {
	var findings []domain.Finding
	for _, d := range b.detectors {
		for _, f := range d.Detect(items, dctx) {
			f.Detector = d.Name
			findings = append(findings, f)
		}
	}
	return findings
}

// Names returns the detector names in execution order.
func (b *Bank) Names() []string {
	out := make([]string, len(b.detectors))
	for i, d := range b.detectors {
		out[i] = d.Name
	}
	return out
}

// Weights in score points per finding type.
var weights = map[domain.FindingType]float64{
	domain.FindingWeekendWork:           10,
	domain.FindingBlockBilling:          15,
	domain.FindingVagueDescription:      10,
	domain.FindingHighExpenseRatio:      20,
	domain.FindingLargeExpense:          20,
	domain.FindingPartnerHeavyStaffing:  10,
	domain.FindingExpensiveResourceUse:  10,
	domain.FindingRateInconsistency:     10,
	domain.FindingExcessiveHours:        10,
	domain.FindingHighRate:              10,
	domain.FindingDuplicateEntry:        15,
	domain.FindingHistoricalAmountSpike: 10,
}

// itemVagueWeight applies to individually flagged vague items that do not
// reach the invoice-level threshold.
const itemVagueWeight = 5

// Weight returns the score weight of a finding type.
func Weight(t domain.FindingType) float64 {
	return weights[t]
}
