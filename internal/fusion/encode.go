package fusion

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/raphaelgruber/datafuse-go/internal/frame"
	"github.com/raphaelgruber/datafuse-go/internal/fusion/model"
)

// Preprocessor turns a feature frame into a numeric matrix. Numeric columns
// are median-imputed; categorical columns are most-frequent-imputed and
// one-hot encoded over their fitted vocabulary. Values unseen at fit time
// encode as an all-zero indicator block.
type Preprocessor struct {
	columns []string
	kinds   []frame.Kind
	medians []float64
	modes   []string
	vocab   [][]string
	offsets []int
	width   int
	sparse  bool
}

// FitPreprocessor learns imputation statistics and the one-hot layout from
// the training frame. Column order is frozen at fit time.
func FitPreprocessor(x *frame.Frame, cfg Config) (*Preprocessor, error) {
	p := &Preprocessor{sparse: cfg.SparseEncoding}
	for _, name := range x.Columns() {
		c := x.Column(name)
		p.columns = append(p.columns, name)
		p.kinds = append(p.kinds, c.Kind)
		p.offsets = append(p.offsets, p.width)
		if c.Kind == frame.Numeric {
			p.medians = append(p.medians, columnMedian(c))
			p.modes = append(p.modes, "")
			p.vocab = append(p.vocab, nil)
			p.width++
			continue
		}
		levels := c.Levels
		if len(levels) == 0 {
			levels = c.DistinctValues()
		}
		if len(levels) == 0 {
			return nil, fmt.Errorf("column %q has no observed values to encode", name)
		}
		p.medians = append(p.medians, math.NaN())
		p.modes = append(p.modes, columnMode(c, levels))
		p.vocab = append(p.vocab, levels)
		p.width += len(levels)
	}
	return p, nil
}

// Width returns the encoded feature count.
func (p *Preprocessor) Width() int { return p.width }

// Transform encodes a frame that carries at least the fitted columns. Extra
// columns are ignored; missing ones are an error.
func (p *Preprocessor) Transform(x *frame.Frame) (model.Matrix, error) {
	n := x.NumRows()
	cols := make([]*frame.Column, len(p.columns))
	for i, name := range p.columns {
		c := x.Column(name)
		if c == nil {
			return nil, fmt.Errorf("column %q missing from input", name)
		}
		if c.Kind != p.kinds[i] {
			return nil, fmt.Errorf("column %q is %s, fitted as %s", name, c.Kind, p.kinds[i])
		}
		cols[i] = c
	}
	if p.sparse {
		return p.transformSparse(cols, n), nil
	}
	return p.transformDense(cols, n), nil
}

func (p *Preprocessor) transformDense(cols []*frame.Column, n int) *model.Dense {
	data := make([][]float64, n)
	for i := range data {
		data[i] = make([]float64, p.width)
	}
	for ci, c := range cols {
		off := p.offsets[ci]
		if p.kinds[ci] == frame.Numeric {
			for i := 0; i < n; i++ {
				data[i][off] = p.numericAt(ci, c, i)
			}
			continue
		}
		idx := levelIndex(p.vocab[ci])
		for i := 0; i < n; i++ {
			if j, ok := idx[p.categoricalAt(ci, c, i)]; ok {
				data[i][off+j] = 1
			}
		}
	}
	return model.NewDense(data)
}

func (p *Preprocessor) transformSparse(cols []*frame.Column, n int) *model.Sparse {
	m := model.NewSparse(n, p.width)
	// Columns are fitted in frame order, so offsets ascend and Set sees
	// ascending column indices within each row.
	for i := 0; i < n; i++ {
		for ci, c := range cols {
			off := p.offsets[ci]
			if p.kinds[ci] == frame.Numeric {
				m.Set(i, off, p.numericAt(ci, c, i))
				continue
			}
			idx := levelIndex(p.vocab[ci])
			if j, ok := idx[p.categoricalAt(ci, c, i)]; ok {
				m.Set(i, off+j, 1)
			}
		}
	}
	return m
}

func (p *Preprocessor) numericAt(ci int, c *frame.Column, i int) float64 {
	if c.IsMissing(i) {
		return p.medians[ci]
	}
	return c.Nums[i]
}

func (p *Preprocessor) categoricalAt(ci int, c *frame.Column, i int) string {
	if c.IsMissing(i) {
		return p.modes[ci]
	}
	return c.Cats[i]
}

func levelIndex(levels []string) map[string]int {
	idx := make(map[string]int, len(levels))
	for i, v := range levels {
		idx[v] = i
	}
	return idx
}

// columnMedian returns the median of the non-missing values, or zero when
// the column is entirely missing.
func columnMedian(c *frame.Column) float64 {
	vals := make([]float64, 0, len(c.Nums))
	for _, v := range c.Nums {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// columnMode returns the most frequent non-missing value, breaking ties by
// level order so the result is deterministic.
func columnMode(c *frame.Column, levels []string) string {
	counts := make(map[string]int)
	for i := 0; i < c.Len(); i++ {
		if !c.IsMissing(i) {
			counts[c.Cats[i]]++
		}
	}
	best, bestCount := levels[0], -1
	for _, lv := range levels {
		if counts[lv] > bestCount {
			best, bestCount = lv, counts[lv]
		}
	}
	return best
}

// Target is an encoded target column. For classification it maps values to
// contiguous class indices; for regression it passes values through.
type Target struct {
	Name    string
	Problem ProblemType

	// Classes is the ordered label vocabulary for classification. Numeric
	// labels sort numerically, text labels lexically.
	Classes []string

	// Y holds class indices (classification) or raw values (regression),
	// one per kept row.
	Y []float64

	numericLabels bool
}

// NewTarget encodes a target column, dropping rows with a missing target.
// It returns the keep mask aligned with the original rows. An entirely
// missing target is an error.
func NewTarget(c *frame.Column, problem ProblemType) (*Target, []bool, error) {
	n := c.Len()
	keep := make([]bool, n)
	kept := 0
	for i := 0; i < n; i++ {
		if !c.IsMissing(i) {
			keep[i] = true
			kept++
		}
	}
	if kept == 0 {
		return nil, nil, fmt.Errorf("target %q has no observed values", c.Name)
	}
	t := &Target{Name: c.Name, Problem: problem, numericLabels: c.Kind == frame.Numeric}
	if problem == Regression {
		if c.Kind != frame.Numeric {
			return nil, nil, fmt.Errorf("target %q is categorical, cannot regress", c.Name)
		}
		for i := 0; i < n; i++ {
			if keep[i] {
				t.Y = append(t.Y, c.Nums[i])
			}
		}
		return t, keep, nil
	}
	t.Classes = sortedClasses(c)
	idx := levelIndex(t.Classes)
	for i := 0; i < n; i++ {
		if keep[i] {
			t.Y = append(t.Y, float64(idx[c.ValueString(i)]))
		}
	}
	return t, keep, nil
}

// NumClasses returns the class count, zero for regression targets.
func (t *Target) NumClasses() int { return len(t.Classes) }

// ClassIndices returns Y as integer class indices.
func (t *Target) ClassIndices() []int {
	out := make([]int, len(t.Y))
	for i, v := range t.Y {
		out[i] = int(v)
	}
	return out
}

// DecodePredictions turns raw model outputs back into a column named after
// the target. Classification indices map back through the class vocabulary;
// numeric labels are parsed back to numbers.
func (t *Target) DecodePredictions(preds []float64) *frame.Column {
	if t.Problem == Regression {
		return frame.NewNumeric(t.Name, append([]float64(nil), preds...))
	}
	if t.numericLabels {
		vals := make([]float64, len(preds))
		for i, p := range preds {
			v, err := strconv.ParseFloat(t.Classes[int(p)], 64)
			if err != nil {
				v = math.NaN()
			}
			vals[i] = v
		}
		return frame.NewNumeric(t.Name, vals)
	}
	vals := make([]string, len(preds))
	for i, p := range preds {
		vals[i] = t.Classes[int(p)]
	}
	return frame.NewCategorical(t.Name, vals, nil)
}

// sortedClasses orders the distinct labels, numerically when the source
// column is numeric so that "10" sorts after "9".
func sortedClasses(c *frame.Column) []string {
	classes := c.DistinctValues()
	if c.Kind == frame.Numeric {
		sort.Slice(classes, func(i, j int) bool {
			a, _ := strconv.ParseFloat(classes[i], 64)
			b, _ := strconv.ParseFloat(classes[j], 64)
			return a < b
		})
	}
	return classes
}
