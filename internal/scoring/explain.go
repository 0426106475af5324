package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// SortFindings orders findings by severity, weight, type, and first line
// item. The sort is stable and happens in place.
func SortFindings(findings []domain.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if ai, bi := firstItemOrder(a), firstItemOrder(b); ai != bi {
			return ai < bi
		}
		return a.RuleID < b.RuleID
	})
}

// firstItemOrder sorts invoice-level findings after item-level ones.
func firstItemOrder(f domain.Finding) int {
	if i := f.FirstItem(); i >= 0 {
		return i
	}
	return int(^uint(0) >> 1)
}

// Factors ranks the contributors to a score. Heuristic factors carry their
// share of the (possibly capped) adjustment; model factors carry importance
// times the base score. findings must already be sorted.
func Factors(comb Combination, findings []domain.Finding, importances []model.Importance) []domain.Factor {
	scale := 1.0
	if comb.RawAdjustment > comb.Adjustment && comb.RawAdjustment > 0 {
		scale = comb.Adjustment / comb.RawAdjustment
	}

	weights := make(map[string]Contribution, len(comb.Contributions))
	for _, c := range comb.Contributions {
		weights[c.Key] = c
	}

	var factors []domain.Factor
	seen := make(map[string]bool)
	for _, f := range findings {
		key := f.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		c := weights[key]

		desc := f.Description
		if c.Occurrences > 1 {
			desc = fmt.Sprintf("%s (%d occurrences)", desc, c.Occurrences)
		}
		factors = append(factors, domain.Factor{
			Source:      domain.FactorHeuristic,
			Name:        key,
			Description: desc,
			Severity:    f.Severity,
			Impact:      round2(c.Weight * scale),
		})
	}

	for _, imp := range importances {
		factors = append(factors, domain.Factor{
			Source:      domain.FactorModel,
			Name:        imp.Feature,
			Description: fmt.Sprintf("Model signal from %s", strings.ReplaceAll(imp.Feature, "_", " ")),
			Impact:      round2(imp.Value * comb.Base),
			Importance:  round4(imp.Value),
		})
	}

	sort.SliceStable(factors, func(i, j int) bool {
		a, b := factors[i], factors[j]
		if a.Impact != b.Impact {
			return a.Impact > b.Impact
		}
		if a.Source != b.Source {
			return a.Source == domain.FactorHeuristic
		}
		return false
	})
	for i := range factors {
		factors[i].Rank = i + 1
	}
	return factors
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
