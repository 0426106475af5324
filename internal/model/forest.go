package model

import (
	"math"
	"math/rand/v2"
)

// Forest is a bagged ensemble of regression trees with feature subsampling.
type Forest struct {
	Trees []*Tree `json:"trees"`
}

// ForestParams configures a random forest.
type ForestParams struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
}

// DefaultForestParams are the forest hyperparameters used in training.
var DefaultForestParams = ForestParams{Trees: 50, MaxDepth: 6, MinLeaf: 2}

func fitForest(X [][]float64, y []float64, params ForestParams, rng *rand.Rand) (*Forest, []float64) {
	n, p := len(X), len(X[0])
	tp := treeParams{
		maxDepth:    params.MaxDepth,
		minLeaf:     params.MinLeaf,
		maxFeatures: max(1, int(math.Sqrt(float64(p)))),
	}

	f := &Forest{Trees: make([]*Tree, 0, params.Trees)}
	importances := make([]float64, p)
	sample := make([]int, n)
	for t := 0; t < params.Trees; t++ {
		for i := range sample {
			sample[i] = rng.IntN(n)
		}
		treeImp := make([]float64, p)
		f.Trees = append(f.Trees, growTree(X, y, sample, tp, rng, treeImp))
		normalize(treeImp)
		for j, v := range treeImp {
			importances[j] += v
		}
	}
	normalize(importances)
	return f, importances
}

// Predict averages the trees.
func (f *Forest) Predict(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range f.Trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(f.Trees))
}

// normalize scales values in place to sum to one. All-zero input is left
// unchanged.
func normalize(values []float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	if sum <= 0 {
		return
	}
	for i := range values {
		values[i] /= sum
	}
}
