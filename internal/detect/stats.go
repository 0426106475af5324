package detect

import (
	"math"
	"sort"
)

// minFenceSamples is the smallest sample for which an IQR fence is meaningful.
const minFenceSamples = 4

// outlierModelSamples switches hour outlier detection to the robust model.
const outlierModelSamples = 10

// modifiedZThreshold is the Iglewicz-Hoaglin cut-off for outliers.
const modifiedZThreshold = 3.5

// quantile returns the q-th quantile of sorted values using linear
// interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// upperFence returns Q3 + 1.5*IQR and whether enough samples were given.
func upperFence(values []float64) (float64, bool) {
	if len(values) < minFenceSamples {
		return 0, false
	}
	s := sortedCopy(values)
	q1 := quantile(s, 0.25)
	q3 := quantile(s, 0.75)
	return q3 + 1.5*(q3-q1), true
}

// upperOutliers returns the indexes (into values) of high outliers. With
// enough samples a modified z-score model is used; it falls back to the
// IQR fence when the median absolute deviation is zero.
func upperOutliers(values []float64) []int {
	if len(values) >= outlierModelSamples {
		s := sortedCopy(values)
		median := quantile(s, 0.5)
		deviations := make([]float64, len(values))
		for i, v := range values {
			deviations[i] = math.Abs(v - median)
		}
		mad := quantile(sortedCopy(deviations), 0.5)
		if mad > 0 {
			var out []int
			for i, v := range values {
				if v > median && 0.6745*(v-median)/mad > modifiedZThreshold {
					out = append(out, i)
				}
			}
			return out
		}
	}

	fence, ok := upperFence(values)
	if !ok {
		return nil
	}
	var out []int
	for i, v := range values {
		if v > fence {
			out = append(out, i)
		}
	}
	return out
}
