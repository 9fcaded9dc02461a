package model

import (
	"errors"
	"math"
	"sort"
)

// KNN is a k-nearest-neighbours estimator over Euclidean distance. It is
// one of the candidate families searched by the comparison backend.
type KNN struct {
	task     Task
	nClasses int
	k        int

	train [][]float64
	y     []float64
}

// NewKNN creates an unfitted kNN estimator.
func NewKNN(task Task, nClasses, k int) *KNN {
	if k < 1 {
		k = 5
	}
	return &KNN{task: task, nClasses: nClasses, k: k}
}

// Fit memorizes a dense copy of the training data.
func (kn *KNN) Fit(x Matrix, y []float64) error {
	if x.Rows() == 0 {
		return errors.New("knn: empty training set")
	}
	if x.Rows() != len(y) {
		return errors.New("knn: feature and target row counts disagree")
	}
	kn.train = make([][]float64, x.Rows())
	for i := range kn.train {
		row := make([]float64, x.Cols())
		for j := range row {
			row[j] = x.At(i, j)
		}
		kn.train[i] = row
	}
	kn.y = append([]float64(nil), y...)
	return nil
}

// Predict returns class indices or mean neighbour values.
func (kn *KNN) Predict(x Matrix) ([]float64, error) {
	if kn.train == nil {
		return nil, errors.New("knn: not fitted")
	}
	out := make([]float64, x.Rows())
	for i := range out {
		nbrs := kn.neighbours(x, i)
		if kn.task == Classify {
			votes := make([]float64, kn.nClasses)
			for _, nb := range nbrs {
				votes[int(kn.y[nb])]++
			}
			out[i] = float64(argmaxFloat(votes))
			continue
		}
		sum := 0.0
		for _, nb := range nbrs {
			sum += kn.y[nb]
		}
		out[i] = sum / float64(len(nbrs))
	}
	return out, nil
}

// PredictProba returns neighbour vote fractions per class.
func (kn *KNN) PredictProba(x Matrix) ([][]float64, error) {
	if kn.train == nil {
		return nil, errors.New("knn: not fitted")
	}
	if kn.task != Classify {
		return nil, errors.New("knn: probabilities are undefined for regression")
	}
	out := make([][]float64, x.Rows())
	for i := range out {
		nbrs := kn.neighbours(x, i)
		votes := make([]float64, kn.nClasses)
		for _, nb := range nbrs {
			votes[int(kn.y[nb])]++
		}
		for c := range votes {
			votes[c] /= float64(len(nbrs))
		}
		out[i] = votes
	}
	return out, nil
}

func (kn *KNN) neighbours(x Matrix, i int) []int {
	type cand struct {
		dist float64
		idx  int
	}
	cands := make([]cand, len(kn.train))
	for t, row := range kn.train {
		d := 0.0
		for j, v := range row {
			diff := x.At(i, j) - v
			d += diff * diff
		}
		cands[t] = cand{math.Sqrt(d), t}
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].dist != cands[b].dist {
			return cands[a].dist < cands[b].dist
		}
		return cands[a].idx < cands[b].idx
	})
	k := kn.k
	if k > len(cands) {
		k = len(cands)
	}
	out := make([]int, k)
	for t := 0; t < k; t++ {
		out[t] = cands[t].idx
	}
	return out
}
