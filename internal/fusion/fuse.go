package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/datafuse-go/internal/frame"
)

// Options selects what a fusion run trains and predicts. Zero values mean
// "infer from the data": overlap features default to the shared columns,
// targets to each side's exclusive columns, problem types to detection.
type Options struct {
	// OverlapFeatures are the shared predictor columns. Empty means the
	// sorted intersection of both column sets, minus targets. An explicit
	// list is filtered to columns present in both tables.
	OverlapFeatures []string

	// TargetsFromA are columns of A to predict onto B; TargetsFromB the
	// reverse. Nil means each side's exclusive columns. An explicit empty
	// slice disables that direction.
	TargetsFromA []string
	TargetsFromB []string

	// ProblemTypes overrides detection per target name.
	ProblemTypes map[string]ProblemType
}

// Result is the outcome of a fusion run. Models, metrics and failures are
// keyed by target name within each direction. A target appears in exactly
// one of the model map or the failure map of its direction.
type Result struct {
	// Fused is the row concatenation of both enriched sides over the
	// sorted union of their columns.
	Fused *frame.Frame

	// AEnriched and BEnriched are the input frames plus the predicted
	// columns from the opposite side.
	AEnriched *frame.Frame
	BEnriched *frame.Frame

	OverlapFeatures []string

	ModelsAToB map[string]*TrainedModel
	ModelsBToA map[string]*TrainedModel

	MetricsAToB map[string]map[string]float64
	MetricsBToA map[string]map[string]float64

	FailuresAToB map[string]error
	FailuresBToA map[string]error
}

// targetOutcome is one per-target job's result, written by exactly one
// worker at its own index.
type targetOutcome struct {
	target  string
	model   *TrainedModel
	metrics map[string]float64
	pred    *frame.Column
	err     error
}

// Fuse trains a model for every target in both directions, predicts the
// missing columns onto the opposite side, and concatenates the enriched
// frames. Per-target failures are collected in the result rather than
// aborting the run; Fuse itself fails only on invalid input, an empty
// overlap, an empty target set, or context cancellation. Inputs are not
// modified.
func Fuse(ctx context.Context, a, b *frame.Frame, opts Options, cfg Config) (*Result, error) {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: both input tables are required", ErrConfiguration)
	}
	if a.NumRows() == 0 || b.NumRows() == 0 {
		return nil, fmt.Errorf("%w: input tables must have rows", ErrConfiguration)
	}

	targetsA := opts.TargetsFromA
	if targetsA == nil {
		targetsA = InferTargets(a, b)
	}
	targetsB := opts.TargetsFromB
	if targetsB == nil {
		targetsB = InferTargets(b, a)
	}
	if err := checkTargets(a, targetsA, "A"); err != nil {
		return nil, err
	}
	if err := checkTargets(b, targetsB, "B"); err != nil {
		return nil, err
	}
	if len(targetsA) == 0 && len(targetsB) == 0 {
		return nil, ErrNoTargets
	}

	overlap := opts.OverlapFeatures
	if len(overlap) == 0 {
		overlap = InferOverlap(a, b, targetsA, targetsB)
	} else {
		var err error
		overlap, err = filterOverlap(a, b, overlap, targetsA, targetsB)
		if err != nil {
			return nil, err
		}
	}
	if len(overlap) == 0 {
		return nil, ErrNoOverlap
	}

	alignedA, alignedB, err := AlignFeatures(a, b, overlap, cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("fusion started",
		"overlap", len(overlap),
		"targets_a", len(targetsA),
		"targets_b", len(targetsB),
		"rows_a", a.NumRows(),
		"rows_b", b.NumRows())

	outA := make([]targetOutcome, len(targetsA))
	outB := make([]targetOutcome, len(targetsB))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Parallelism > 0 {
		g.SetLimit(cfg.Parallelism)
	}
	for i, t := range targetsA {
		g.Go(func() error {
			outA[i] = runTarget(gctx, a, alignedA, alignedB, t, opts, cfg)
			return nil
		})
	}
	for i, t := range targetsB {
		g.Go(func() error {
			outB[i] = runTarget(gctx, b, alignedB, alignedA, t, opts, cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		AEnriched:       a.Clone(),
		BEnriched:       b.Clone(),
		OverlapFeatures: overlap,
		ModelsAToB:      make(map[string]*TrainedModel),
		ModelsBToA:      make(map[string]*TrainedModel),
		MetricsAToB:     make(map[string]map[string]float64),
		MetricsBToA:     make(map[string]map[string]float64),
		FailuresAToB:    make(map[string]error),
		FailuresBToA:    make(map[string]error),
	}
	collect(outA, "A->B", res.BEnriched, res.ModelsAToB, res.MetricsAToB, res.FailuresAToB)
	collect(outB, "B->A", res.AEnriched, res.ModelsBToA, res.MetricsBToA, res.FailuresBToA)

	res.Fused = frame.ConcatUnion(res.AEnriched, res.BEnriched)

	slog.Info("fusion finished",
		"fused_rows", res.Fused.NumRows(),
		"fused_cols", res.Fused.NumCols(),
		"failures", len(res.FailuresAToB)+len(res.FailuresBToA),
		"duration", time.Since(start))
	return res, nil
}

// runTarget trains, evaluates and predicts one target. source is the side
// owning the target, aligned its overlap features, other the opposite
// side's overlap features to predict on.
func runTarget(ctx context.Context, source, aligned, other *frame.Frame, target string, opts Options, cfg Config) targetOutcome {
	out := targetOutcome{target: target}
	col := source.Column(target)

	problem, ok := opts.ProblemTypes[target]
	if !ok {
		problem = DetectProblemType(col)
	}

	m, err := trainTarget(ctx, aligned, col, problem, cfg)
	if err != nil {
		out.err = fmt.Errorf("training: %w", err)
		return out
	}
	metrics, err := Evaluate(ctx, aligned, col, problem, cfg)
	if err != nil {
		out.err = fmt.Errorf("evaluating: %w", err)
		return out
	}
	pred, err := m.Predict(other)
	if err != nil {
		out.err = fmt.Errorf("predicting: %w", err)
		return out
	}

	out.model = m
	out.metrics = metrics
	out.pred = pred
	return out
}

// collect attaches predictions and files each outcome under its target
// name. Attachment happens here, serially, because frames are not safe for
// concurrent mutation.
func collect(outcomes []targetOutcome, direction string, enriched *frame.Frame, models map[string]*TrainedModel, metrics map[string]map[string]float64, failures map[string]error) {
	for _, o := range outcomes {
		if o.err != nil {
			te := &TargetError{Direction: direction, Target: o.target, Err: o.err}
			failures[o.target] = te
			slog.Warn("target failed", "direction", direction, "target", o.target, "error", o.err)
			continue
		}
		if _, err := enriched.AttachPrediction(o.pred); err != nil {
			failures[o.target] = &TargetError{Direction: direction, Target: o.target, Err: err}
			continue
		}
		models[o.target] = o.model
		metrics[o.target] = o.metrics
	}
}

func checkTargets(f *frame.Frame, targets []string, side string) error {
	for _, t := range targets {
		if !f.Has(t) {
			return fmt.Errorf("%w: target %q not present in table %s", ErrConfiguration, t, side)
		}
	}
	return nil
}

// filterOverlap restricts an explicit overlap list to columns present in
// both tables, keeping the caller's order. Names missing on one side are
// dropped silently; a surviving name that is also a target is rejected.
func filterOverlap(a, b *frame.Frame, overlap, targetsA, targetsB []string) ([]string, error) {
	isTarget := make(map[string]struct{}, len(targetsA)+len(targetsB))
	for _, t := range targetsA {
		isTarget[t] = struct{}{}
	}
	for _, t := range targetsB {
		isTarget[t] = struct{}{}
	}
	kept := make([]string, 0, len(overlap))
	for _, n := range overlap {
		if !a.Has(n) || !b.Has(n) {
			continue
		}
		if _, ok := isTarget[n]; ok {
			return nil, fmt.Errorf("%w: column %q cannot be both overlap feature and target", ErrConfiguration, n)
		}
		kept = append(kept, n)
	}
	return kept, nil
}
