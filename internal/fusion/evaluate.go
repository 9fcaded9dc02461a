package fusion

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/raphaelgruber/datafuse-go/internal/frame"
	"github.com/raphaelgruber/datafuse-go/internal/fusion/model"
)

// Evaluate cross-validates a fresh model for the target on the given
// features and returns averaged metrics. Every fold trains the baseline
// family regardless of the configured backend, so scores stay comparable
// across backends. The fold count shrinks to what
// the data supports: the minimum per-class count for classification, the
// row count for regression. Targets too small for two folds return an
// empty map. Fold metrics that come out NaN are skipped in the average;
// a metric that is NaN in every fold is reported as NaN.
func Evaluate(ctx context.Context, features *frame.Frame, targetCol *frame.Column, problem ProblemType, cfg Config) (map[string]float64, error) {
	tgt, keep, err := NewTarget(targetCol, problem)
	if err != nil {
		return nil, err
	}
	kept := features.Filter(keep)
	n := len(tgt.Y)

	limiting := n
	if problem == Classification {
		limiting = minClassCount(tgt)
	}
	if limiting < 2 {
		return map[string]float64{}, nil
	}
	folds := cfg.CVFolds
	if folds > limiting {
		folds = limiting
	}
	if folds < 2 {
		folds = 2
	}

	var assign []int
	if problem == Classification {
		assign = stratifiedFolds(tgt, folds, cfg.RandomSeed)
	} else {
		assign = plainFolds(n, folds, cfg.RandomSeed)
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	names := metricNames(problem)
	for _, name := range names {
		sums[name] = 0
	}

	for fold := 0; fold < folds; fold++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores, err := evaluateFold(ctx, kept, tgt, assign, fold, cfg)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", fold, err)
		}
		for name, v := range scores {
			if math.IsNaN(v) {
				continue
			}
			sums[name] += v
			counts[name]++
		}
	}

	out := make(map[string]float64, len(names))
	for _, name := range names {
		if counts[name] == 0 {
			out[name] = math.NaN()
			continue
		}
		out[name] = sums[name] / float64(counts[name])
	}
	return out, nil
}

func metricNames(problem ProblemType) []string {
	if problem == Classification {
		return []string{"accuracy", "f1_macro", "roc_auc_ovr"}
	}
	return []string{"r2", "rmse", "mae"}
}

func evaluateFold(ctx context.Context, features *frame.Frame, tgt *Target, assign []int, fold int, cfg Config) (map[string]float64, error) {
	n := len(tgt.Y)
	trainMask := make([]bool, n)
	testMask := make([]bool, n)
	var trainY, testY []float64
	for i := 0; i < n; i++ {
		if assign[i] == fold {
			testMask[i] = true
			testY = append(testY, tgt.Y[i])
		} else {
			trainMask[i] = true
			trainY = append(trainY, tgt.Y[i])
		}
	}

	trainTgt := &Target{
		Name:          tgt.Name,
		Problem:       tgt.Problem,
		Classes:       tgt.Classes,
		Y:             trainY,
		numericLabels: tgt.numericLabels,
	}

	trainX := features.Filter(trainMask)
	testX := features.Filter(testMask)

	pre, err := FitPreprocessor(trainX, cfg)
	if err != nil {
		return nil, err
	}
	trainMat, err := pre.Transform(trainX)
	if err != nil {
		return nil, err
	}
	testMat, err := pre.Transform(testX)
	if err != nil {
		return nil, err
	}

	m, err := baselineTrainer{}.Train(ctx, trainMat, trainTgt, cfg)
	if err != nil {
		return nil, err
	}

	if tgt.Problem == Regression {
		pred, err := m.predictRaw(testMat)
		if err != nil {
			return nil, err
		}
		return map[string]float64{
			"r2":   model.R2(testY, pred),
			"rmse": model.RMSE(testY, pred),
			"mae":  model.MAE(testY, pred),
		}, nil
	}

	pred, err := m.predictRaw(testMat)
	if err != nil {
		return nil, err
	}
	proba, err := m.predictProba(testMat)
	if err != nil {
		return nil, err
	}
	yTrue := make([]int, len(testY))
	yPred := make([]int, len(pred))
	for i := range testY {
		yTrue[i] = int(testY[i])
		yPred[i] = int(pred[i])
	}
	nc := tgt.NumClasses()
	return map[string]float64{
		"accuracy":    model.Accuracy(yTrue, yPred),
		"f1_macro":    model.MacroF1(yTrue, yPred, nc),
		"roc_auc_ovr": model.ROCAUCOVR(yTrue, proba, nc),
	}, nil
}

// minClassCount returns the size of the smallest class.
func minClassCount(tgt *Target) int {
	counts := make([]int, tgt.NumClasses())
	for _, v := range tgt.Y {
		counts[int(v)]++
	}
	min := math.MaxInt
	for _, c := range counts {
		if c > 0 && c < min {
			min = c
		}
	}
	if min == math.MaxInt {
		return 0
	}
	return min
}

// plainFolds shuffles row indices and deals them round-robin into folds.
func plainFolds(n, folds int, seed int64) []int {
	rnd := rand.New(rand.NewSource(seed))
	perm := rnd.Perm(n)
	assign := make([]int, n)
	for pos, i := range perm {
		assign[i] = pos % folds
	}
	return assign
}

// stratifiedFolds deals each class's rows round-robin so every fold sees
// roughly the same class mix.
func stratifiedFolds(tgt *Target, folds int, seed int64) []int {
	rnd := rand.New(rand.NewSource(seed))
	byClass := make(map[int][]int)
	for i, v := range tgt.Y {
		c := int(v)
		byClass[c] = append(byClass[c], i)
	}
	assign := make([]int, len(tgt.Y))
	for c := 0; c < tgt.NumClasses(); c++ {
		rows := byClass[c]
		rnd.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		for pos, i := range rows {
			assign[i] = pos % folds
		}
	}
	return assign
}
