// Package automl provides the comparison trainer: it searches a small set
// of candidate model families with an internal cross-validation, refits the
// winner on the full training data, and registers itself with the fusion
// engine on import.
package automl

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/raphaelgruber/datafuse-go/internal/fusion"
	"github.com/raphaelgruber/datafuse-go/internal/fusion/model"
)

const searchFolds = 3

func init() {
	fusion.RegisterAutoTrainer(trainer{})
}

type trainer struct{}

func (trainer) Name() string { return "auto" }

func (trainer) Train(ctx context.Context, x model.Matrix, tgt *fusion.Target, cfg fusion.Config) (*fusion.TrainedModel, error) {
	exp, err := run(ctx, x, tgt, cfg)
	if err != nil {
		return nil, err
	}
	m := fusion.NewTrainedModel("auto", tgt, nil, nil, exp)
	m.Extra["best_model"] = exp.Best
	m.Extra["best_score"] = exp.BestScore
	return m, nil
}

// estimator is the common fit/predict surface of the candidate families.
type estimator interface {
	fit(x model.Matrix, y []float64) error
	predict(x model.Matrix) ([]float64, error)
	proba(x model.Matrix) ([][]float64, error)
}

// candidate names a family and knows how to build a fresh estimator.
type candidate struct {
	name  string
	build func() estimator
}

// Experiment is a finished model search: the scored leaderboard plus the
// winning estimator refitted on all training rows. It implements the
// engine's inference surface.
type Experiment struct {
	Best      string
	BestScore float64

	// Scores maps candidate names to their mean search score. Candidates
	// that failed to fit carry NaN.
	Scores map[string]float64

	fitted estimator
}

// Infer predicts with the winning estimator.
func (e *Experiment) Infer(x model.Matrix) ([]float64, error) { return e.fitted.predict(x) }

// InferProba returns class probabilities from the winning estimator.
func (e *Experiment) InferProba(x model.Matrix) ([][]float64, error) { return e.fitted.proba(x) }

// run executes the search and finalizes the winner.
func run(ctx context.Context, x model.Matrix, tgt *fusion.Target, cfg fusion.Config) (*Experiment, error) {
	task := model.Regress
	nClasses := 0
	if tgt.Problem == fusion.Classification {
		task = model.Classify
		nClasses = tgt.NumClasses()
	}
	cands := candidates(task, nClasses, cfg)

	exp := &Experiment{Scores: make(map[string]float64, len(cands)), BestScore: math.Inf(-1)}
	assign := searchAssignments(len(tgt.Y), cfg.RandomSeed)

	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := scoreCandidate(cand, x, tgt, assign, task, nClasses)
		exp.Scores[cand.name] = score
		slog.Debug("candidate scored", "target", tgt.Name, "candidate", cand.name, "score", score)
		if !math.IsNaN(score) && score > exp.BestScore {
			exp.Best = cand.name
			exp.BestScore = score
		}
	}
	if exp.Best == "" {
		return nil, fmt.Errorf("no candidate produced a usable score for target %q", tgt.Name)
	}

	for _, cand := range cands {
		if cand.name != exp.Best {
			continue
		}
		est := cand.build()
		if err := est.fit(x, tgt.Y); err != nil {
			return nil, fmt.Errorf("refitting %s: %w", cand.name, err)
		}
		exp.fitted = est
	}
	return exp, nil
}

// candidates lists the families the search compares.
func candidates(task model.Task, nClasses int, cfg fusion.Config) []candidate {
	return []candidate{
		{name: "random_forest", build: func() estimator {
			return forestEst{model.NewForest(task, nClasses, cfg.EnsembleSize, cfg.RandomSeed, cfg.Parallelism)}
		}},
		{name: "decision_tree", build: func() estimator {
			return treeEst{model.NewTree(task, nClasses, model.DefaultTreeConfig(cfg.RandomSeed))}
		}},
		{name: "knn", build: func() estimator {
			return knnEst{model.NewKNN(task, nClasses, 5)}
		}},
	}
}

// scoreCandidate runs the internal k-fold search for one family. The score
// is OVR ROC-AUC for classification (accuracy when the AUC is undefined)
// and R-squared for regression. Any fold failure disqualifies the family.
func scoreCandidate(cand candidate, x model.Matrix, tgt *fusion.Target, assign []int, task model.Task, nClasses int) float64 {
	folds := searchFolds
	if n := len(tgt.Y); n < folds {
		folds = n
	}
	if folds < 2 {
		return math.NaN()
	}

	var sum float64
	scored := 0
	for fold := 0; fold < folds; fold++ {
		trainX, trainY, testX, testY := foldSplit(x, tgt.Y, assign, fold, folds)
		if len(trainY) == 0 || len(testY) == 0 {
			continue
		}
		est := cand.build()
		if err := est.fit(trainX, trainY); err != nil {
			return math.NaN()
		}
		s, ok := scoreFold(est, testX, testY, task, nClasses)
		if !ok {
			return math.NaN()
		}
		if math.IsNaN(s) {
			continue
		}
		sum += s
		scored++
	}
	if scored == 0 {
		return math.NaN()
	}
	return sum / float64(scored)
}

func scoreFold(est estimator, testX model.Matrix, testY []float64, task model.Task, nClasses int) (float64, bool) {
	if task == model.Regress {
		pred, err := est.predict(testX)
		if err != nil {
			return 0, false
		}
		return model.R2(testY, pred), true
	}
	yTrue := make([]int, len(testY))
	for i, v := range testY {
		yTrue[i] = int(v)
	}
	proba, err := est.proba(testX)
	if err != nil {
		return 0, false
	}
	if auc := model.ROCAUCOVR(yTrue, proba, nClasses); !math.IsNaN(auc) {
		return auc, true
	}
	pred, err := est.predict(testX)
	if err != nil {
		return 0, false
	}
	yPred := make([]int, len(pred))
	for i, v := range pred {
		yPred[i] = int(v)
	}
	return model.Accuracy(yTrue, yPred), true
}

// searchAssignments deals shuffled rows round-robin into the search folds.
func searchAssignments(n int, seed int64) []int {
	rnd := rand.New(rand.NewSource(seed))
	perm := rnd.Perm(n)
	assign := make([]int, n)
	for pos, i := range perm {
		assign[i] = pos % searchFolds
	}
	return assign
}

// foldSplit materializes dense train and test partitions for one fold.
func foldSplit(x model.Matrix, y []float64, assign []int, fold, folds int) (model.Matrix, []float64, model.Matrix, []float64) {
	var trainRows, testRows [][]float64
	var trainY, testY []float64
	cols := x.Cols()
	for i := 0; i < x.Rows(); i++ {
		row := make([]float64, cols)
		for j := 0; j < cols; j++ {
			row[j] = x.At(i, j)
		}
		if assign[i]%folds == fold {
			testRows = append(testRows, row)
			testY = append(testY, y[i])
		} else {
			trainRows = append(trainRows, row)
			trainY = append(trainY, y[i])
		}
	}
	return model.NewDense(trainRows), trainY, model.NewDense(testRows), testY
}

type forestEst struct{ fo *model.Forest }

func (e forestEst) fit(x model.Matrix, y []float64) error       { return e.fo.Fit(x, y) }
func (e forestEst) predict(x model.Matrix) ([]float64, error)   { return e.fo.Predict(x) }
func (e forestEst) proba(x model.Matrix) ([][]float64, error)   { return e.fo.PredictProba(x) }

type treeEst struct{ t *model.Tree }

func (e treeEst) fit(x model.Matrix, y []float64) error     { return e.t.Fit(x, y) }
func (e treeEst) predict(x model.Matrix) ([]float64, error) { return e.t.Predict(x), nil }
func (e treeEst) proba(x model.Matrix) ([][]float64, error) { return e.t.PredictProba(x), nil }

type knnEst struct{ kn *model.KNN }

func (e knnEst) fit(x model.Matrix, y []float64) error     { return e.kn.Fit(x, y) }
func (e knnEst) predict(x model.Matrix) ([]float64, error) { return e.kn.Predict(x) }
func (e knnEst) proba(x model.Matrix) ([][]float64, error) { return e.kn.PredictProba(x) }
