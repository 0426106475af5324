package detect

import (
	"fmt"
	"math"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Block billing thresholds.
const (
	blockMinHours    = 4.0
	blockMaxWords    = 6
	blockMinTasks    = 3
	vagueMaxWords    = 3
	vagueTermRatio   = 0.30
	vagueInvoiceRate = 0.25
)

// BlockBilling flags entries of four or more hours that lump work together:
// the description uses a block indicator and is either too short to itemize
// the time or enumerates several distinct tasks.
func BlockBilling(items []domain.LineItem, _ Context) []domain.Finding {
	var findings []domain.Finding
	for i, li := range items {
		if li.IsExpense() || num(li.Hours) < blockMinHours {
			continue
		}
		tokens := tokenize(li.Description)
		if !containsTerm(tokens, blockIndicators) {
			continue
		}
		short := len(tokens) < blockMaxWords
		if !short && taskCount(li.Description) < blockMinTasks {
			continue
		}
		findings = append(findings, domain.Finding{
			Type:     domain.FindingBlockBilling,
			Severity: domain.SeverityMedium,
			Description: fmt.Sprintf("Line %d: %.2f hours billed as a block entry (%q)",
				i+1, num(li.Hours), li.Description),
			Weight:    Weight(domain.FindingBlockBilling),
			LineItems: []int{i},
		})
	}
	return findings
}

// IsVague reports whether a description is too short or dominated by
// generic terms.
func IsVague(desc string) bool {
	tokens := tokenize(desc)
	if len(tokens) < vagueMaxWords {
		return true
	}
	return float64(matchedWords(tokens, vagueTerms))/float64(len(tokens)) > vagueTermRatio
}

// VagueDescriptions flags vague fee entries individually. When vague entries
// exceed a quarter of the invoice's line items, the individual flags are
// consolidated into one invoice-level finding so no item is counted twice.
func VagueDescriptions(items []domain.LineItem, _ Context) []domain.Finding {
	var vague []int
	for i, li := range items {
		if li.IsExpense() {
			continue
		}
		if IsVague(li.Description) {
			vague = append(vague, i)
		}
	}
	if len(vague) == 0 {
		return nil
	}

	if float64(len(vague))/float64(len(items)) > vagueInvoiceRate {
		return []domain.Finding{{
			Type:     domain.FindingVagueDescription,
			Severity: domain.SeverityMedium,
			Description: fmt.Sprintf("%d of %d line items have vague descriptions",
				len(vague), len(items)),
			Weight:    Weight(domain.FindingVagueDescription),
			LineItems: vague,
			Count:     len(vague),
		}}
	}

	findings := make([]domain.Finding, 0, len(vague))
	for _, i := range vague {
		findings = append(findings, domain.Finding{
			Type:        domain.FindingVagueDescription,
			Severity:    domain.SeverityLow,
			Description: fmt.Sprintf("Line %d: vague description %q", i+1, items[i].Description),
			Weight:      itemVagueWeight,
			LineItems:   []int{i},
		})
	}
	return findings
}

// DuplicateEntries flags groups of items identical in description, hours,
// and timekeeper.
func DuplicateEntries(items []domain.LineItem, _ Context) []domain.Finding {
	groups := make(map[string][]int)
	var order []string
	for i, li := range items {
		key := normalizeText(li.Description) + "\x00" +
			strconv.FormatFloat(num(li.Hours), 'f', 2, 64) + "\x00" +
			li.Timekeeper()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var findings []domain.Finding
	for _, key := range order {
		idx := groups[key]
		if len(idx) < 2 {
			continue
		}
		first := items[idx[0]]
		findings = append(findings, domain.Finding{
			Type:     domain.FindingDuplicateEntry,
			Severity: domain.SeverityHigh,
			Description: fmt.Sprintf("%d identical entries: %q, %.2f hours by %s",
				len(idx), first.Description, num(first.Hours), displayName(first.TimekeeperName)),
			Weight:    Weight(domain.FindingDuplicateEntry),
			LineItems: idx,
			Count:     len(idx),
		})
	}
	return findings
}

// num coerces non-finite or negative numbers to zero.
func num(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

func displayName(name string) string {
	if name == "" {
		return "unknown timekeeper"
	}
	return name
}
