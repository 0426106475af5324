package scoring

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Standing recommendations.
const (
	ActionManualReview = "Manual review required"
	ActionProvisional  = "Treat score as provisional: limited model accuracy or billing history"
)

type action struct {
	text     string
	priority domain.Priority
}

var actions = map[domain.FindingType]action{
	domain.FindingBlockBilling:          {"Request itemized breakdown", domain.PriorityMedium},
	domain.FindingVagueDescription:      {"Request detailed task descriptions", domain.PriorityMedium},
	domain.FindingRateInconsistency:     {"Clarify billing rate with vendor", domain.PriorityMedium},
	domain.FindingExcessiveHours:        {"Verify hours against work product", domain.PriorityMedium},
	domain.FindingWeekendWork:           {"Confirm weekend work was necessary", domain.PriorityLow},
	domain.FindingHighRate:              {"Compare rates against engagement terms", domain.PriorityMedium},
	domain.FindingHighExpenseRatio:      {"Audit expenses and request receipts", domain.PriorityHigh},
	domain.FindingLargeExpense:          {"Require receipts and pre-approval for large expenses", domain.PriorityHigh},
	domain.FindingPartnerHeavyStaffing:  {"Review staffing mix for delegation opportunities", domain.PriorityMedium},
	domain.FindingExpensiveResourceUse:  {"Confirm senior timekeeper involvement is justified", domain.PriorityMedium},
	domain.FindingDuplicateEntry:        {"Remove or justify duplicate entries", domain.PriorityHigh},
	domain.FindingHistoricalAmountSpike: {"Compare against prior invoices for this matter", domain.PriorityMedium},
}

// Recommend maps findings to reviewer actions. Each action appears once at
// its highest priority; the list is ordered high to medium to low.
func Recommend(findings []domain.Finding, score float64, lowConfidence bool) []domain.Recommendation {
	var recs []domain.Recommendation
	index := make(map[string]int)

	add := func(r domain.Recommendation) {
		if i, ok := index[r.Action]; ok {
			if r.Priority.Rank() > recs[i].Priority.Rank() {
				recs[i].Priority = r.Priority
			}
			return
		}
		index[r.Action] = len(recs)
		recs = append(recs, r)
	}

	if score >= domain.HighRiskThreshold {
		add(domain.Recommendation{Action: ActionManualReview, Priority: domain.PriorityHigh})
	}

	for _, f := range findings {
		if f.Type == domain.FindingCustomRule {
			add(domain.Recommendation{
				Action:   "Review rule finding: " + f.Description,
				Priority: priorityForSeverity(f.Severity),
				Source:   f.Type,
			})
			continue
		}
		a, ok := actions[f.Type]
		if !ok {
			continue
		}
		add(domain.Recommendation{Action: a.text, Priority: a.priority, Source: f.Type})
	}

	if lowConfidence {
		add(domain.Recommendation{Action: ActionProvisional, Priority: domain.PriorityLow})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.Rank() > recs[j].Priority.Rank()
	})
	return recs
}

func priorityForSeverity(s domain.Severity) domain.Priority {
	switch s {
	case domain.SeverityHigh:
		return domain.PriorityHigh
	case domain.SeverityLow:
		return domain.PriorityLow
	default:
		return domain.PriorityMedium
	}
}
