package model

import (
	"math"
	"sort"
)

// Accuracy is the fraction of matching labels.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

// MacroF1 averages per-class F1 scores over the classes present in yTrue.
func MacroF1(yTrue, yPred []int, nClasses int) float64 {
	var sum float64
	var present int
	for c := 0; c < nClasses; c++ {
		tp, fp, fn, support := 0, 0, 0, 0
		for i := range yTrue {
			if yTrue[i] == c {
				support++
				if yPred[i] == c {
					tp++
				} else {
					fn++
				}
			} else if yPred[i] == c {
				fp++
			}
		}
		if support == 0 {
			continue
		}
		present++
		var prec, rec float64
		if tp+fp > 0 {
			prec = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			rec = float64(tp) / float64(tp+fn)
		}
		if prec+rec > 0 {
			sum += 2 * prec * rec / (prec + rec)
		}
	}
	if present == 0 {
		return math.NaN()
	}
	return sum / float64(present)
}

// ROCAUCOVR computes one-vs-rest ROC-AUC from class probabilities, averaged
// over the classes present in yTrue. NaN when every sample shares one class.
func ROCAUCOVR(yTrue []int, proba [][]float64, nClasses int) float64 {
	var sum float64
	var counted int
	for c := 0; c < nClasses; c++ {
		scores := make([]float64, len(yTrue))
		labels := make([]bool, len(yTrue))
		pos := 0
		for i := range yTrue {
			scores[i] = proba[i][c]
			labels[i] = yTrue[i] == c
			if labels[i] {
				pos++
			}
		}
		if pos == 0 || pos == len(yTrue) {
			continue
		}
		sum += binaryAUC(scores, labels)
		counted++
	}
	if counted == 0 {
		return math.NaN()
	}
	return sum / float64(counted)
}

// binaryAUC is the Mann-Whitney statistic with average ranks for ties.
func binaryAUC(scores []float64, positive []bool) float64 {
	n := len(scores)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[order[j]] == scores[order[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[order[k]] = avg
		}
		i = j
	}

	var rankSum float64
	nPos, nNeg := 0, 0
	for i := range scores {
		if positive[i] {
			rankSum += ranks[i]
			nPos++
		} else {
			nNeg++
		}
	}
	return (rankSum - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg))
}

// R2 is the coefficient of determination. Zero when the target has no
// variance.
func R2(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(len(yTrue))

	var ssTot, ssRes float64
	for i := range yTrue {
		d := yTrue[i] - mean
		ssTot += d * d
		r := yTrue[i] - yPred[i]
		ssRes += r * r
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// RMSE is the root mean squared error.
func RMSE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	s := 0.0
	for i := range yTrue {
		d := yPred[i] - yTrue[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(yTrue)))
}

// MAE is the mean absolute error.
func MAE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	s := 0.0
	for i := range yTrue {
		s += math.Abs(yPred[i] - yTrue[i])
	}
	return s / float64(len(yTrue))
}
