package model

import "math/rand/v2"

// Boosting is a gradient-boosted ensemble of shallow regression trees fitted
// to squared-error residuals.
type Boosting struct {
	Init         float64 `json:"init"`
	LearningRate float64 `json:"learningRate"`
	Trees        []*Tree `json:"trees"`
}

// BoostingParams configures gradient boosting.
type BoostingParams struct {
	Trees        int
	LearningRate float64
	MaxDepth     int
	MinLeaf      int
}

// DefaultBoostingParams are the boosting hyperparameters used in training.
var DefaultBoostingParams = BoostingParams{Trees: 60, LearningRate: 0.1, MaxDepth: 3, MinLeaf: 2}

func fitBoosting(X [][]float64, y []float64, params BoostingParams, rng *rand.Rand) (*Boosting, []float64) {
	n, p := len(X), len(X[0])
	tp := treeParams{maxDepth: params.MaxDepth, minLeaf: params.MinLeaf}

	var init float64
	for _, v := range y {
		init += v
	}
	init /= float64(n)

	b := &Boosting{Init: init, LearningRate: params.LearningRate}
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = init
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	residual := make([]float64, n)
	importances := make([]float64, p)

	for t := 0; t < params.Trees; t++ {
		for i := range residual {
			residual[i] = y[i] - pred[i]
		}
		tree := growTree(X, residual, all, tp, rng, importances)
		b.Trees = append(b.Trees, tree)
		for i := range pred {
			pred[i] += params.LearningRate * tree.Predict(X[i])
		}
	}
	normalize(importances)
	return b, importances
}

// Predict sums the shrunken tree outputs onto the initial estimate.
func (b *Boosting) Predict(x []float64) float64 {
	out := b.Init
	for _, t := range b.Trees {
		out += b.LearningRate * t.Predict(x)
	}
	return out
}
