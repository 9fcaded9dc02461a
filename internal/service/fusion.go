// Package service provides the request-level API over the fusion engine:
// JSON-friendly request and response shapes, per-request config overrides,
// and the background job manager for async runs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/raphaelgruber/datafuse-go/internal/frame"
	"github.com/raphaelgruber/datafuse-go/internal/fusion"
	"github.com/raphaelgruber/datafuse-go/internal/metrics"
)

// Part names accepted in FuseRequest.ReturnParts.
const (
	PartFused     = "fused"
	PartAEnriched = "a_enriched"
	PartBEnriched = "b_enriched"
)

// FuseRequest is the JSON body of a fusion call. Both tables are lists of
// records; absent option fields fall back to inference or server defaults.
type FuseRequest struct {
	DFA []map[string]any `json:"df_a"`
	DFB []map[string]any `json:"df_b"`

	OverlapFeatures []string          `json:"overlap_features,omitempty"`
	TargetsFromA    []string          `json:"targets_from_a,omitempty"`
	TargetsFromB    []string          `json:"targets_from_b,omitempty"`
	ProblemTypes    map[string]string `json:"problem_types,omitempty"`

	// ReturnParts picks which tables the response carries. Empty means
	// fused only.
	ReturnParts []string `json:"return_parts,omitempty"`

	// RowLimit caps the rows of each returned table; zero means no cap.
	RowLimit int `json:"row_limit,omitempty"`

	// ColumnsInclude / ColumnsExclude filter the returned columns.
	ColumnsInclude []string `json:"columns_include,omitempty"`
	ColumnsExclude []string `json:"columns_exclude,omitempty"`

	// Engine overrides. Nil keeps the server default.
	PreferAuto     *bool  `json:"prefer_auto,omitempty"`
	RandomSeed     *int64 `json:"random_seed,omitempty"`
	CVFolds        *int   `json:"cv_folds,omitempty"`
	EnsembleSize   *int   `json:"ensemble_size,omitempty"`
	SparseEncoding *bool  `json:"sparse_encoding,omitempty"`
}

// ModelInfo describes one trained per-target model.
type ModelInfo struct {
	Target    string   `json:"target"`
	Problem   string   `json:"problem_type"`
	Backend   string   `json:"backend"`
	BestModel string   `json:"best_model,omitempty"`
	Features  []string `json:"features"`
}

// DirectionResult groups per-target outcomes for one direction.
type DirectionResult struct {
	Models   map[string]ModelInfo          `json:"models"`
	Metrics  map[string]map[string]float64 `json:"metrics"`
	Failures map[string]string             `json:"failures,omitempty"`
}

// FuseResponse is the JSON result of a fusion call.
type FuseResponse struct {
	Fused     []map[string]any `json:"fused,omitempty"`
	AEnriched []map[string]any `json:"a_enriched,omitempty"`
	BEnriched []map[string]any `json:"b_enriched,omitempty"`

	FusedRows int      `json:"fused_rows"`
	FusedCols []string `json:"fused_columns"`

	OverlapFeatures []string `json:"overlap_features"`

	AToB DirectionResult `json:"a_to_b"`
	BToA DirectionResult `json:"b_to_a"`

	DurationMs int64 `json:"duration_ms"`
}

// FusionService validates requests, runs the engine and shapes responses.
type FusionService struct {
	defaults  fusion.Config
	collector *metrics.Collector
}

// NewFusionService creates a fusion service with the given engine defaults.
func NewFusionService(defaults fusion.Config, collector *metrics.Collector) *FusionService {
	return &FusionService{defaults: defaults, collector: collector}
}

// Fuse runs one fusion request end to end.
func (s *FusionService) Fuse(ctx context.Context, req *FuseRequest) (*FuseResponse, error) {
	start := time.Now()

	if len(req.DFA) == 0 || len(req.DFB) == 0 {
		return nil, fmt.Errorf("%w: df_a and df_b must both be non-empty", fusion.ErrConfiguration)
	}
	fa, err := frame.FromRecords(req.DFA)
	if err != nil {
		return nil, fmt.Errorf("%w: df_a: %v", fusion.ErrConfiguration, err)
	}
	fb, err := frame.FromRecords(req.DFB)
	if err != nil {
		return nil, fmt.Errorf("%w: df_b: %v", fusion.ErrConfiguration, err)
	}

	opts := fusion.Options{
		OverlapFeatures: req.OverlapFeatures,
		TargetsFromA:    req.TargetsFromA,
		TargetsFromB:    req.TargetsFromB,
	}
	if len(req.ProblemTypes) > 0 {
		opts.ProblemTypes = make(map[string]fusion.ProblemType, len(req.ProblemTypes))
		for target, pt := range req.ProblemTypes {
			switch pt {
			case string(fusion.Classification), string(fusion.Regression):
				opts.ProblemTypes[target] = fusion.ProblemType(pt)
			default:
				return nil, fmt.Errorf("%w: unknown problem type %q for target %q", fusion.ErrConfiguration, pt, target)
			}
		}
	}

	cfg := s.config(req)
	result, err := fusion.Fuse(ctx, fa, fb, opts, cfg)
	if err != nil {
		return nil, err
	}

	resp := s.shape(req, result)
	resp.DurationMs = time.Since(start).Milliseconds()
	if s.collector != nil {
		s.collector.RecordFusion(time.Since(start), result)
	}
	return resp, nil
}

// config applies per-request overrides to the server defaults.
func (s *FusionService) config(req *FuseRequest) fusion.Config {
	cfg := s.defaults
	if req.PreferAuto != nil {
		cfg.PreferAutoBackend = *req.PreferAuto
	}
	if req.RandomSeed != nil {
		cfg.RandomSeed = *req.RandomSeed
	}
	if req.CVFolds != nil {
		cfg.CVFolds = *req.CVFolds
	}
	if req.EnsembleSize != nil {
		cfg.EnsembleSize = *req.EnsembleSize
	}
	if req.SparseEncoding != nil {
		cfg.SparseEncoding = *req.SparseEncoding
	}
	return cfg
}

// shape converts the engine result into the response, honoring return
// parts, the row limit and the column filters.
func (s *FusionService) shape(req *FuseRequest, result *fusion.Result) *FuseResponse {
	resp := &FuseResponse{
		FusedRows:       result.Fused.NumRows(),
		FusedCols:       result.Fused.Columns(),
		OverlapFeatures: result.OverlapFeatures,
		AToB:            direction(result.ModelsAToB, result.MetricsAToB, result.FailuresAToB),
		BToA:            direction(result.ModelsBToA, result.MetricsBToA, result.FailuresBToA),
	}

	parts := req.ReturnParts
	if len(parts) == 0 {
		parts = []string{PartFused}
	}
	for _, p := range parts {
		switch p {
		case PartFused:
			resp.Fused = tableRecords(result.Fused, req)
		case PartAEnriched:
			resp.AEnriched = tableRecords(result.AEnriched, req)
		case PartBEnriched:
			resp.BEnriched = tableRecords(result.BEnriched, req)
		default:
			slog.Warn("unknown return part requested", "part", p)
		}
	}
	return resp
}

// ValidateParts rejects unknown return part names up front.
func ValidateParts(parts []string) error {
	for _, p := range parts {
		switch p {
		case PartFused, PartAEnriched, PartBEnriched:
		default:
			return fmt.Errorf("%w: unknown return part %q", fusion.ErrConfiguration, p)
		}
	}
	return nil
}

func direction(models map[string]*fusion.TrainedModel, metricsByTarget map[string]map[string]float64, failures map[string]error) DirectionResult {
	d := DirectionResult{
		Models:  make(map[string]ModelInfo, len(models)),
		Metrics: make(map[string]map[string]float64, len(metricsByTarget)),
	}
	for target, m := range models {
		info := ModelInfo{
			Target:   target,
			Problem:  string(m.Problem),
			Backend:  m.Backend,
			Features: m.Features,
		}
		if best, ok := m.Extra["best_model"].(string); ok {
			info.BestModel = best
		}
		d.Models[target] = info
	}
	for target, scores := range metricsByTarget {
		d.Metrics[target] = finiteMetrics(scores)
	}
	if len(failures) > 0 {
		d.Failures = make(map[string]string, len(failures))
		for target, err := range failures {
			d.Failures[target] = failureMessage(err)
		}
	}
	return d
}

// finiteMetrics drops NaN and infinite scores, which have no JSON
// representation.
func finiteMetrics(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for name, v := range scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[name] = v
	}
	return out
}

func failureMessage(err error) string {
	var te *fusion.TargetError
	if errors.As(err, &te) {
		return te.Err.Error()
	}
	return err.Error()
}

// tableRecords renders a frame as records with the request's row limit and
// column filters applied.
func tableRecords(f *frame.Frame, req *FuseRequest) []map[string]any {
	if req.RowLimit > 0 && req.RowLimit < f.NumRows() {
		f = f.Head(req.RowLimit)
	}
	cols := filterColumns(f.Columns(), req.ColumnsInclude, req.ColumnsExclude)
	if len(cols) != f.NumCols() {
		selected, err := f.Select(cols)
		if err == nil {
			f = selected
		}
	}
	return f.Records()
}

func filterColumns(all, include, exclude []string) []string {
	keep := all
	if len(include) > 0 {
		wanted := make(map[string]struct{}, len(include))
		for _, c := range include {
			wanted[c] = struct{}{}
		}
		filtered := make([]string, 0, len(keep))
		for _, c := range keep {
			if _, ok := wanted[c]; ok {
				filtered = append(filtered, c)
			}
		}
		keep = filtered
	}
	if len(exclude) > 0 {
		drop := make(map[string]struct{}, len(exclude))
		for _, c := range exclude {
			drop[c] = struct{}{}
		}
		filtered := make([]string, 0, len(keep))
		for _, c := range keep {
			if _, ok := drop[c]; !ok {
				filtered = append(filtered, c)
			}
		}
		keep = filtered
	}
	return keep
}
