package model

import (
	"errors"
	"math/rand"
	"sort"
)

// Task distinguishes classification from regression estimators.
type Task int

const (
	Classify Task = iota
	Regress
)

// TreeConfig holds CART hyperparameters shared by single trees and forest
// members.
type TreeConfig struct {
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 means all features
	Seed            int64
}

// DefaultTreeConfig returns the defaults used for standalone trees.
func DefaultTreeConfig(seed int64) TreeConfig {
	return TreeConfig{MinSamplesSplit: 2, MinSamplesLeaf: 1, Seed: seed}
}

// Tree is a CART decision tree. For classification the target values are
// class indices in [0, nClasses); for regression they are raw values.
type Tree struct {
	cfg      TreeConfig
	task     Task
	nClasses int
	root     *treeNode
}

type treeNode struct {
	leaf      bool
	feature   int
	threshold float64 // x <= threshold goes left
	left      *treeNode
	right     *treeNode

	n      int
	probas []float64 // classification leaves
	value  float64   // regression leaves
}

// NewTree creates an unfitted tree. nClasses is ignored for regression.
func NewTree(task Task, nClasses int, cfg TreeConfig) *Tree {
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}
	return &Tree{cfg: cfg, task: task, nClasses: nClasses}
}

// Fit trains on all rows of x.
func (t *Tree) Fit(x Matrix, y []float64) error {
	idx := make([]int, x.Rows())
	for i := range idx {
		idx[i] = i
	}
	return t.FitIndices(x, y, idx)
}

// FitIndices trains on the given row indices, which may repeat (bootstrap
// samples).
func (t *Tree) FitIndices(x Matrix, y []float64, idx []int) error {
	if x.Rows() == 0 || len(idx) == 0 {
		return errors.New("tree: empty training set")
	}
	if x.Rows() != len(y) {
		return errors.New("tree: feature and target row counts disagree")
	}
	if t.task == Classify && t.nClasses < 1 {
		return errors.New("tree: classification needs at least one class")
	}
	rnd := rand.New(rand.NewSource(t.cfg.Seed))
	t.root = t.build(x, y, idx, 0, rnd)
	return nil
}

// Predict returns class indices (classification) or values (regression).
func (t *Tree) Predict(x Matrix) []float64 {
	out := make([]float64, x.Rows())
	for i := range out {
		node := t.walk(x, i)
		if t.task == Classify {
			out[i] = float64(argmaxFloat(node.probas))
		} else {
			out[i] = node.value
		}
	}
	return out
}

// PredictProba returns per-class probabilities. Only valid for
// classification trees.
func (t *Tree) PredictProba(x Matrix) [][]float64 {
	out := make([][]float64, x.Rows())
	for i := range out {
		node := t.walk(x, i)
		p := make([]float64, len(node.probas))
		copy(p, node.probas)
		out[i] = p
	}
	return out
}

func (t *Tree) walk(x Matrix, i int) *treeNode {
	node := t.root
	for !node.leaf {
		if x.At(i, node.feature) <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node
}

func (t *Tree) build(x Matrix, y []float64, idx []int, depth int, rnd *rand.Rand) *treeNode {
	node := &treeNode{n: len(idx)}
	t.fillLeafStats(node, y, idx)

	if len(idx) < t.cfg.MinSamplesSplit {
		node.leaf = true
		return node
	}
	if t.cfg.MaxDepth > 0 && depth >= t.cfg.MaxDepth {
		node.leaf = true
		return node
	}
	if t.isPure(y, idx) {
		node.leaf = true
		return node
	}

	best := t.findBestSplit(x, y, idx, rnd)
	if best.feature < 0 {
		node.leaf = true
		return node
	}

	node.feature = best.feature
	node.threshold = best.threshold
	node.left = t.build(x, y, best.left, depth+1, rnd)
	node.right = t.build(x, y, best.right, depth+1, rnd)
	return node
}

func (t *Tree) fillLeafStats(node *treeNode, y []float64, idx []int) {
	if t.task == Classify {
		counts := make([]float64, t.nClasses)
		for _, i := range idx {
			counts[int(y[i])]++
		}
		total := float64(len(idx))
		for c := range counts {
			counts[c] /= total
		}
		node.probas = counts
		return
	}
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	node.value = sum / float64(len(idx))
}

func (t *Tree) isPure(y []float64, idx []int) bool {
	first := y[idx[0]]
	for _, i := range idx[1:] {
		if y[i] != first {
			return false
		}
	}
	return true
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

func (t *Tree) findBestSplit(x Matrix, y []float64, idx []int, rnd *rand.Rand) split {
	p := x.Cols()
	features := make([]int, p)
	for j := range features {
		features[j] = j
	}
	if t.cfg.MaxFeatures > 0 && t.cfg.MaxFeatures < p {
		rnd.Shuffle(p, func(a, b int) { features[a], features[b] = features[b], features[a] })
		features = features[:t.cfg.MaxFeatures]
	}

	best := split{feature: -1}
	for _, f := range features {
		cand := t.bestSplitOnFeature(x, y, idx, f)
		if cand.feature >= 0 && cand.gain > best.gain {
			best = cand
		}
	}
	if best.feature < 0 {
		return best
	}

	// Materialize child index sets for the winning split only.
	for _, i := range idx {
		if x.At(i, best.feature) <= best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	return best
}

// bestSplitOnFeature scans sorted threshold candidates for one feature,
// maintaining running class counts (classification) or moment sums
// (regression) so each candidate is scored in constant time.
func (t *Tree) bestSplitOnFeature(x Matrix, y []float64, idx []int, f int) split {
	type pair struct {
		v float64
		i int
	}
	pairs := make([]pair, len(idx))
	for k, i := range idx {
		pairs[k] = pair{x.At(i, f), i}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].v < pairs[b].v })

	n := float64(len(pairs))
	best := split{feature: -1}

	if t.task == Classify {
		leftCounts := make([]float64, t.nClasses)
		rightCounts := make([]float64, t.nClasses)
		for _, pr := range pairs {
			rightCounts[int(y[pr.i])]++
		}
		parent := gini(rightCounts, n)

		for s := 1; s < len(pairs); s++ {
			c := int(y[pairs[s-1].i])
			leftCounts[c]++
			rightCounts[c]--
			if pairs[s].v == pairs[s-1].v {
				continue
			}
			nl, nr := float64(s), n-float64(s)
			if s < t.cfg.MinSamplesLeaf || int(nr) < t.cfg.MinSamplesLeaf {
				continue
			}
			gain := parent - (nl/n)*gini(leftCounts, nl) - (nr/n)*gini(rightCounts, nr)
			if gain > best.gain {
				best = split{feature: f, threshold: (pairs[s-1].v + pairs[s].v) / 2, gain: gain}
			}
		}
		return best
	}

	var rightSum, rightSq float64
	for _, pr := range pairs {
		rightSum += y[pr.i]
		rightSq += y[pr.i] * y[pr.i]
	}
	parent := variance(rightSum, rightSq, n)
	var leftSum, leftSq float64

	for s := 1; s < len(pairs); s++ {
		v := y[pairs[s-1].i]
		leftSum += v
		leftSq += v * v
		rightSum -= v
		rightSq -= v * v
		if pairs[s].v == pairs[s-1].v {
			continue
		}
		nl, nr := float64(s), n-float64(s)
		if s < t.cfg.MinSamplesLeaf || int(nr) < t.cfg.MinSamplesLeaf {
			continue
		}
		gain := parent - (nl/n)*variance(leftSum, leftSq, nl) - (nr/n)*variance(rightSum, rightSq, nr)
		if gain > best.gain {
			best = split{feature: f, threshold: (pairs[s-1].v + pairs[s].v) / 2, gain: gain}
		}
	}
	return best
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	res := 0.0
	for _, c := range counts {
		p := c / n
		res += p * (1 - p)
	}
	return res
}

func variance(sum, sq, n float64) float64 {
	if n == 0 {
		return 0
	}
	mean := sum / n
	return sq/n - mean*mean
}

func argmaxFloat(vals []float64) int {
	best := 0
	for i := 1; i < len(vals); i++ {
		if vals[i] > vals[best] {
			best = i
		}
	}
	return best
}
