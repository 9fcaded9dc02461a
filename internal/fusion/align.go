package fusion

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/raphaelgruber/datafuse-go/internal/frame"
)

// InferOverlap returns the sorted shared column names of a and b, minus any
// name listed as a target on either side.
func InferOverlap(a, b *frame.Frame, targetsA, targetsB []string) []string {
	exclude := make(map[string]struct{}, len(targetsA)+len(targetsB))
	for _, t := range targetsA {
		exclude[t] = struct{}{}
	}
	for _, t := range targetsB {
		exclude[t] = struct{}{}
	}
	var out []string
	for _, n := range a.Columns() {
		if !b.Has(n) {
			continue
		}
		if _, skip := exclude[n]; skip {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// InferTargets returns the sorted columns of have that absent does not
// carry. These are the columns worth predicting onto the other side.
func InferTargets(have, absent *frame.Frame) []string {
	var out []string
	for _, n := range have.Columns() {
		if !absent.Has(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// AlignFeatures restricts both frames to the overlap columns (in overlap
// order) and unifies each shared column: kinds that disagree are coerced to
// categorical, and categorical columns on both sides receive the sorted
// union of the observed levels as their fixed vocabulary. High-cardinality
// vocabularies trigger a warning when the config asks for one.
func AlignFeatures(a, b *frame.Frame, overlap []string, cfg Config) (*frame.Frame, *frame.Frame, error) {
	fa, err := a.Select(overlap)
	if err != nil {
		return nil, nil, fmt.Errorf("aligning side A: %w", err)
	}
	fb, err := b.Select(overlap)
	if err != nil {
		return nil, nil, fmt.Errorf("aligning side B: %w", err)
	}
	for _, name := range overlap {
		ca, cb := fa.Column(name), fb.Column(name)
		if ca.Kind != cb.Kind {
			coerceCategorical(ca)
			coerceCategorical(cb)
		}
		if ca.Kind != frame.Categorical {
			continue
		}
		levels := unionLevels(ca, cb)
		if cfg.WarnOnHighCardinality && len(levels) > cfg.MaxCardinality {
			slog.Warn("high cardinality overlap feature",
				"column", name,
				"levels", len(levels),
				"limit", cfg.MaxCardinality)
		}
		ca.Levels = levels
		cb.Levels = append([]string(nil), levels...)
	}
	return fa, fb, nil
}

// coerceCategorical rewrites a numeric column in place as categorical,
// rendering values in canonical decimal form.
func coerceCategorical(c *frame.Column) {
	if c.Kind == frame.Categorical {
		return
	}
	n := c.Len()
	cats := make([]string, n)
	miss := make([]bool, n)
	for i := 0; i < n; i++ {
		if c.IsMissing(i) {
			miss[i] = true
			continue
		}
		cats[i] = c.ValueString(i)
	}
	c.Kind = frame.Categorical
	c.Cats = cats
	c.Miss = miss
	c.Nums = nil
}

// unionLevels merges the observed distinct values of both columns into one
// sorted vocabulary.
func unionLevels(a, b *frame.Column) []string {
	seen := make(map[string]struct{})
	for _, v := range a.DistinctValues() {
		seen[v] = struct{}{}
	}
	for _, v := range b.DistinctValues() {
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
