package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxHeuristicAdjustment caps the total contribution of findings in score
// points.
const MaxHeuristicAdjustment = 50.0

// Contribution is the score share of one finding key. Repeated findings of
// the same key count once, at their largest weight.
type Contribution struct {
	Key         string             `json:"key"`
	Type        domain.FindingType `json:"type"`
	RuleID      string             `json:"ruleId,omitempty"`
	Weight      float64            `json:"weight"`
	Occurrences int                `json:"occurrences"`
}

// Combination is the fused score.
type Combination struct {
	// Base is the model estimate scaled to 0-100.
	Base float64

	// RawAdjustment is the uncapped sum of contributions.
	RawAdjustment float64

	// Adjustment is RawAdjustment capped at MaxHeuristicAdjustment.
	Adjustment float64

	Score float64
	Level domain.RiskLevel

	// Contributions are in first-seen order.
	Contributions []Contribution
}

// Combine merges the model's base estimate in [0,1] with heuristic findings.
// The result is deterministic for identical inputs.
func Combine(base float64, findings []domain.Finding) Combination {
	if math.IsNaN(base) {
		base = 0
	}
	base = clamp(base, 0, 1)

	index := make(map[string]int)
	var contribs []Contribution
	for _, f := range findings {
		key := f.Key()
		i, ok := index[key]
		if !ok {
			index[key] = len(contribs)
			contribs = append(contribs, Contribution{Key: key, Type: f.Type, RuleID: f.RuleID})
			i = len(contribs) - 1
		}
		contribs[i].Occurrences++
		if f.Weight > contribs[i].Weight {
			contribs[i].Weight = f.Weight
		}
	}

	var raw float64
	for _, c := range contribs {
		raw += c.Weight
	}
	adj := math.Min(raw, MaxHeuristicAdjustment)

	score := round2(clamp(base*100+adj, 0, 100))
	return Combination{
		Base:          round2(base * 100),
		RawAdjustment: raw,
		Adjustment:    adj,
		Score:         score,
		Level:         domain.LevelForScore(score),
		Contributions: contribs,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
