package model

import (
	"math/rand/v2"
	"sort"
)

// leaf marks a terminal node.
const leaf = -1

// Node is a regression tree node stored in a flat slice. Leaves have
// Feature == -1 and carry the prediction in Value.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// Tree is a CART regression tree minimizing squared error.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

type treeParams struct {
	maxDepth    int
	minLeaf     int
	maxFeatures int
}

// Predict walks the tree for a scaled feature row.
func (t *Tree) Predict(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature == leaf || n.Feature >= len(x) {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeBuilder struct {
	X           [][]float64
	y           []float64
	params      treeParams
	rng         *rand.Rand
	importances []float64
	nodes       []Node
}

// growTree fits a tree on the rows in idx. Split gains are accumulated into
// importances, which must have one slot per feature.
func growTree(X [][]float64, y []float64, idx []int, params treeParams, rng *rand.Rand, importances []float64) *Tree {
	b := &treeBuilder{X: X, y: y, params: params, rng: rng, importances: importances}
	rows := make([]int, len(idx))
	copy(rows, idx)
	b.grow(rows, 0)
	return &Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leaf, Value: b.mean(rows)})

	if depth >= b.params.maxDepth || len(rows) < 2*b.params.minLeaf {
		return id
	}

	feature, threshold, gain, ok := b.bestSplit(rows)
	if !ok {
		return id
	}
	b.importances[feature] += gain

	var left, right []int
	for _, r := range rows {
		if b.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

func (b *treeBuilder) mean(rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += b.y[r]
	}
	return sum / float64(len(rows))
}

// bestSplit scans features in random order for the split with the largest
// reduction in squared error. It stops after maxFeatures features once a
// valid split has been found.
func (b *treeBuilder) bestSplit(rows []int) (feature int, threshold, gain float64, ok bool) {
	p := len(b.X[rows[0]])
	limit := b.params.maxFeatures
	if limit <= 0 || limit > p {
		limit = p
	}

	n := float64(len(rows))
	var total, totalSq float64
	for _, r := range rows {
		total += b.y[r]
		totalSq += b.y[r] * b.y[r]
	}
	parentSSE := totalSq - total*total/n

	sorted := make([]int, len(rows))
	for examined, f := range b.rng.Perm(p) {
		if examined >= limit && ok {
			break
		}
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.X[sorted[i]][f] < b.X[sorted[j]][f]
		})

		var leftSum, leftSq float64
		for i := 0; i < len(sorted)-1; i++ {
			v := b.y[sorted[i]]
			leftSum += v
			leftSq += v * v

			nl := i + 1
			nr := len(sorted) - nl
			if nl < b.params.minLeaf || nr < b.params.minLeaf {
				continue
			}
			cur, next := b.X[sorted[i]][f], b.X[sorted[i+1]][f]
			if cur == next {
				continue
			}

			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) +
				(rightSq - rightSum*rightSum/float64(nr))
			g := parentSSE - sse
			if g > gain+1e-12 {
				feature, threshold, gain, ok = f, (cur+next)/2, g, true
			}
		}
	}
	return feature, threshold, gain, ok
}
