package ml

import (
	"math/rand"
	"sort"
)

const minGain = 1e-12

// treeNode is one node of a flattened binary tree. Leaves have Left == -1.
type treeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// Tree is a fitted decision tree. Rows with x[Feature] <= Threshold go left.
type Tree struct {
	Nodes []treeNode
}

func (t *Tree) Eval(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeParams drives a greedy splitter over two additive per-sample statistics
// (a, b). cost scores a node from its sums and is minimised across children;
// leaf turns the sums into the node output.
type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int // 0 uses every feature
	minChildB       float64
	cost            func(a, b float64) float64
	leaf            func(a, b float64) float64
}

// giniParams grows classification trees: a = w*y, b = w. Leaves hold the
// weighted share of positive samples.
func giniParams(maxDepth, maxFeatures int) treeParams {
	return treeParams{
		maxDepth:        maxDepth,
		minSamplesSplit: 2,
		maxFeatures:     maxFeatures,
		cost: func(a, b float64) float64 {
			if b <= 0 {
				return 0
			}
			return 2 * a * (b - a) / b
		},
		leaf: func(a, b float64) float64 {
			if b <= 0 {
				return 0
			}
			return a / b
		},
	}
}

// newtonParams grows second-order boosting trees: a = gradient, b = hessian.
func newtonParams(maxDepth int, lambda, minChildWeight float64) treeParams {
	return treeParams{
		maxDepth:        maxDepth,
		minSamplesSplit: 2,
		minChildB:       minChildWeight,
		cost: func(a, b float64) float64 {
			return -a * a / (b + lambda)
		},
		leaf: func(a, b float64) float64 {
			return -a / (b + lambda)
		},
	}
}

type treeBuilder struct {
	X    [][]float64
	a, b []float64
	p    treeParams
	rng  *rand.Rand
	tree *Tree
}

// buildTree fits a tree on the rows listed in idx. rng is only used when
// p.maxFeatures restricts the candidate features per split.
func buildTree(X [][]float64, a, b []float64, idx []int, p treeParams, rng *rand.Rand) *Tree {
	tb := &treeBuilder{X: X, a: a, b: b, p: p, rng: rng, tree: &Tree{}}
	tb.grow(idx, 0)
	return tb.tree
}

func (tb *treeBuilder) sums(idx []int) (float64, float64) {
	var sa, sb float64
	for _, i := range idx {
		sa += tb.a[i]
		sb += tb.b[i]
	}
	return sa, sb
}

func (tb *treeBuilder) grow(idx []int, depth int) int {
	sa, sb := tb.sums(idx)
	pos := len(tb.tree.Nodes)
	tb.tree.Nodes = append(tb.tree.Nodes, treeNode{Left: -1, Right: -1, Value: tb.p.leaf(sa, sb)})

	if depth >= tb.p.maxDepth || len(idx) < tb.p.minSamplesSplit {
		return pos
	}

	feature, threshold, ok := tb.bestSplit(idx, sa, sb)
	if !ok {
		return pos
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if tb.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := tb.grow(left, depth+1)
	r := tb.grow(right, depth+1)
	n := &tb.tree.Nodes[pos]
	n.Feature, n.Threshold, n.Left, n.Right = feature, threshold, l, r
	return pos
}

func (tb *treeBuilder) candidates() []int {
	d := len(tb.X[0])
	if tb.p.maxFeatures <= 0 || tb.p.maxFeatures >= d {
		all := make([]int, d)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return tb.rng.Perm(d)[:tb.p.maxFeatures]
}

func (tb *treeBuilder) bestSplit(idx []int, sa, sb float64) (int, float64, bool) {
	parent := tb.p.cost(sa, sb)
	bestCost := parent - minGain
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, len(idx))
	for _, f := range tb.candidates() {
		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool { return tb.X[sorted[i]][f] < tb.X[sorted[j]][f] })

		var la, lb float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			la += tb.a[i]
			lb += tb.b[i]

			cur, next := tb.X[i][f], tb.X[sorted[k+1]][f]
			if cur == next {
				continue
			}
			ra, rb := sa-la, sb-lb
			if lb < tb.p.minChildB || rb < tb.p.minChildB {
				continue
			}
			c := tb.p.cost(la, lb) + tb.p.cost(ra, rb)
			if c < bestCost {
				bestCost = c
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				if bestThreshold >= next {
					bestThreshold = cur
				}
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}
