package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LowConfidenceThreshold marks assessments a reviewer should treat as
// provisional.
const LowConfidenceThreshold = 0.5

// historyFullCount is the history size at which history no longer reduces
// confidence.
const historyFullCount = 3

// Confidence estimates how much an assessment can be trusted from the
// model's validation error and the amount of vendor/matter history.
func Confidence(validationMAE float64, history *domain.HistorySummary) (float64, bool) {
	modelConf := clamp(1-2*validationMAE, 0, 1)
	if math.IsNaN(modelConf) {
		modelConf = 0
	}

	historyConf := 0.6
	switch {
	case history.Available() && history.Count >= historyFullCount:
		historyConf = 1.0
	case history.Available():
		historyConf = 0.8
	}

	c := math.Round(modelConf*historyConf*1000) / 1000
	return c, c < LowConfidenceThreshold
}
