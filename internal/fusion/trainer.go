package fusion

import (
	"context"
	"fmt"
	"sync"

	"github.com/raphaelgruber/datafuse-go/internal/frame"
	"github.com/raphaelgruber/datafuse-go/internal/fusion/model"
)

// Trainer fits a supervised model for one target. The engine ships a
// baseline forest trainer; an auto-selection backend can register itself as
// an alternative.
type Trainer interface {
	// Name identifies the backend in results and logs.
	Name() string

	// Train fits a model on the encoded features for the given target.
	Train(ctx context.Context, x model.Matrix, tgt *Target, cfg Config) (*TrainedModel, error)
}

// Inferencer produces predictions for an already fitted backend model. Auto
// backends store one in TrainedModel.Extra so the engine can predict
// without knowing the concrete estimator.
type Inferencer interface {
	Infer(x model.Matrix) ([]float64, error)
	InferProba(x model.Matrix) ([][]float64, error)
}

// TrainedModel is a fitted per-target model together with the preprocessing
// needed to apply it to new rows.
type TrainedModel struct {
	Target   string
	Problem  ProblemType
	Backend  string
	Features []string

	// Extra carries backend-specific state, keyed by backend convention.
	// The auto backend stores its experiment handle under "experiment".
	Extra map[string]any

	pre *Preprocessor
	enc *Target
}

// NewTrainedModel assembles a fitted model. Backends call this from Train.
func NewTrainedModel(backend string, tgt *Target, features []string, pre *Preprocessor, inf Inferencer) *TrainedModel {
	return &TrainedModel{
		Target:   tgt.Name,
		Problem:  tgt.Problem,
		Backend:  backend,
		Features: features,
		Extra:    map[string]any{"experiment": inf},
		pre:      pre,
		enc:      tgt,
	}
}

// inferencer digs the prediction handle out of Extra.
func (m *TrainedModel) inferencer() (Inferencer, error) {
	inf, ok := m.Extra["experiment"].(Inferencer)
	if !ok || inf == nil {
		return nil, fmt.Errorf("model for target %q carries no usable experiment handle", m.Target)
	}
	return inf, nil
}

// Predict applies the model to a frame carrying the model's feature
// columns and returns a decoded prediction column named after the target.
func (m *TrainedModel) Predict(x *frame.Frame) (*frame.Column, error) {
	feats, err := x.Select(m.Features)
	if err != nil {
		return nil, fmt.Errorf("selecting features for target %q: %w", m.Target, err)
	}
	mat, err := m.pre.Transform(feats)
	if err != nil {
		return nil, fmt.Errorf("encoding features for target %q: %w", m.Target, err)
	}
	inf, err := m.inferencer()
	if err != nil {
		return nil, err
	}
	raw, err := inf.Infer(mat)
	if err != nil {
		return nil, fmt.Errorf("predicting target %q: %w", m.Target, err)
	}
	return m.enc.DecodePredictions(raw), nil
}

// predictRaw returns undecoded outputs for the evaluator.
func (m *TrainedModel) predictRaw(mat model.Matrix) ([]float64, error) {
	inf, err := m.inferencer()
	if err != nil {
		return nil, err
	}
	return inf.Infer(mat)
}

// predictProba returns class probabilities; only valid for classification.
func (m *TrainedModel) predictProba(mat model.Matrix) ([][]float64, error) {
	inf, err := m.inferencer()
	if err != nil {
		return nil, err
	}
	return inf.InferProba(mat)
}

// baselineTrainer fits the seeded random forest with median/most-frequent
// imputation and one-hot encoding.
type baselineTrainer struct{}

// BaselineTrainer returns the built-in forest trainer.
func BaselineTrainer() Trainer { return baselineTrainer{} }

func (baselineTrainer) Name() string { return "baseline" }

func (baselineTrainer) Train(ctx context.Context, x model.Matrix, tgt *Target, cfg Config) (*TrainedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	task := model.Regress
	nClasses := 0
	if tgt.Problem == Classification {
		task = model.Classify
		nClasses = tgt.NumClasses()
	}
	fo := model.NewForest(task, nClasses, cfg.EnsembleSize, cfg.RandomSeed, cfg.Parallelism)
	if err := fo.Fit(x, tgt.Y); err != nil {
		return nil, fmt.Errorf("fitting forest: %w", err)
	}
	return &TrainedModel{
		Target:  tgt.Name,
		Problem: tgt.Problem,
		Backend: "baseline",
		Extra:   map[string]any{"experiment": forestInferencer{fo}},
		enc:     tgt,
	}, nil
}

// forestInferencer adapts the forest to the Inferencer surface.
type forestInferencer struct{ fo *model.Forest }

func (f forestInferencer) Infer(x model.Matrix) ([]float64, error)        { return f.fo.Predict(x) }
func (f forestInferencer) InferProba(x model.Matrix) ([][]float64, error) { return f.fo.PredictProba(x) }

var (
	autoMu      sync.RWMutex
	autoTrainer Trainer
)

// RegisterAutoTrainer installs the auto-selection backend. Typically called
// from an init function activated by a blank import.
func RegisterAutoTrainer(t Trainer) {
	autoMu.Lock()
	defer autoMu.Unlock()
	autoTrainer = t
}

// AutoBackendAvailable reports whether an auto-selection backend is
// registered.
func AutoBackendAvailable() bool {
	autoMu.RLock()
	defer autoMu.RUnlock()
	return autoTrainer != nil
}

// selectTrainer picks the auto backend when preferred and available,
// otherwise the baseline.
func selectTrainer(cfg Config) Trainer {
	if cfg.PreferAutoBackend {
		autoMu.RLock()
		t := autoTrainer
		autoMu.RUnlock()
		if t != nil {
			return t
		}
	}
	return baselineTrainer{}
}

// trainTarget runs the full per-target pipeline: encode the target, drop
// rows with a missing label, fit the preprocessor on the kept rows, and
// train through the selected backend.
func trainTarget(ctx context.Context, features *frame.Frame, targetCol *frame.Column, problem ProblemType, cfg Config) (*TrainedModel, error) {
	tgt, keep, err := NewTarget(targetCol, problem)
	if err != nil {
		return nil, err
	}
	kept := features.Filter(keep)
	pre, err := FitPreprocessor(kept, cfg)
	if err != nil {
		return nil, err
	}
	mat, err := pre.Transform(kept)
	if err != nil {
		return nil, err
	}
	tr := selectTrainer(cfg)
	m, err := tr.Train(ctx, mat, tgt, cfg)
	if err != nil {
		return nil, err
	}
	m.Features = features.Columns()
	m.pre = pre
	return m, nil
}
