package model

import (
	"errors"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// Forest is a bootstrap-aggregated ensemble of CART trees. Every source of
// randomness derives from Seed, so identical inputs produce identical
// forests.
type Forest struct {
	task        Task
	nClasses    int
	nTrees      int
	seed        int64
	parallelism int
	trees       []*Tree
}

// NewForest creates an unfitted forest. parallelism bounds concurrent tree
// fits; values below 1 fall back to GOMAXPROCS via errgroup's default.
func NewForest(task Task, nClasses, nTrees int, seed int64, parallelism int) *Forest {
	if nTrees < 1 {
		nTrees = 1
	}
	return &Forest{task: task, nClasses: nClasses, nTrees: nTrees, seed: seed, parallelism: parallelism}
}

// Fit trains all trees on bootstrap samples of x.
func (fo *Forest) Fit(x Matrix, y []float64) error {
	n := x.Rows()
	if n == 0 {
		return errors.New("forest: empty training set")
	}
	if n != len(y) {
		return errors.New("forest: feature and target row counts disagree")
	}

	maxFeatures := featureSubsetSize(fo.task, x.Cols())
	fo.trees = make([]*Tree, fo.nTrees)

	var g errgroup.Group
	if fo.parallelism > 0 {
		g.SetLimit(fo.parallelism)
	}
	for ti := 0; ti < fo.nTrees; ti++ {
		g.Go(func() error {
			// Per-tree source so fits are order-independent.
			rnd := rand.New(rand.NewSource(fo.seed + int64(ti)))
			sample := make([]int, n)
			for i := range sample {
				sample[i] = rnd.Intn(n)
			}
			cfg := TreeConfig{
				MinSamplesSplit: 2,
				MinSamplesLeaf:  1,
				MaxFeatures:     maxFeatures,
				Seed:            fo.seed + int64(ti),
			}
			tree := NewTree(fo.task, fo.nClasses, cfg)
			if err := tree.FitIndices(x, y, sample); err != nil {
				return err
			}
			fo.trees[ti] = tree
			return nil
		})
	}
	return g.Wait()
}

// Predict returns class indices (classification, majority by averaged
// probability) or mean tree outputs (regression).
func (fo *Forest) Predict(x Matrix) ([]float64, error) {
	if fo.trees == nil {
		return nil, errors.New("forest: not fitted")
	}
	if fo.task == Classify {
		probas, err := fo.PredictProba(x)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(probas))
		for i, p := range probas {
			out[i] = float64(argmaxFloat(p))
		}
		return out, nil
	}

	out := make([]float64, x.Rows())
	for _, tree := range fo.trees {
		for i, v := range tree.Predict(x) {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(fo.trees))
	}
	return out, nil
}

// PredictProba returns averaged per-class probabilities across trees.
func (fo *Forest) PredictProba(x Matrix) ([][]float64, error) {
	if fo.trees == nil {
		return nil, errors.New("forest: not fitted")
	}
	if fo.task != Classify {
		return nil, errors.New("forest: probabilities are undefined for regression")
	}
	out := make([][]float64, x.Rows())
	for i := range out {
		out[i] = make([]float64, fo.nClasses)
	}
	for _, tree := range fo.trees {
		for i, p := range tree.PredictProba(x) {
			for c, v := range p {
				out[i][c] += v
			}
		}
	}
	for i := range out {
		for c := range out[i] {
			out[i][c] /= float64(len(fo.trees))
		}
	}
	return out, nil
}

// featureSubsetSize follows the usual forest heuristics: sqrt(p) for
// classification, p/3 for regression.
func featureSubsetSize(task Task, p int) int {
	if p <= 1 {
		return 0
	}
	var mf int
	if task == Classify {
		mf = int(math.Sqrt(float64(p)))
	} else {
		mf = p / 3
	}
	if mf < 1 {
		mf = 1
	}
	return mf
}
