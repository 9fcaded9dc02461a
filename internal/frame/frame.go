// Package frame provides a small column-oriented table used by the fusion
// engine and its collaborators. Columns are either numeric (float64, NaN
// marks a missing cell) or categorical (string values with a missing mask
// and an optional fixed level vocabulary).
package frame

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind identifies the logical type of a column.
type Kind int

const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

// Column is a single named column. Exactly one of Nums or Cats is populated
// depending on Kind. For categorical columns Miss marks missing cells; for
// numeric columns a NaN value does.
type Column struct {
	Name string
	Kind Kind

	Nums []float64

	Cats []string
	Miss []bool

	// Levels is the fixed, ordered category vocabulary. Empty means
	// "unrestricted": encoders fall back to the observed distinct values.
	Levels []string
}

// NewNumeric builds a numeric column.
func NewNumeric(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Nums: values}
}

// NewCategorical builds a categorical column. A nil missing mask means no
// cell is missing.
func NewCategorical(name string, values []string, missing []bool) *Column {
	if missing == nil {
		missing = make([]bool, len(values))
	}
	return &Column{Name: name, Kind: Categorical, Cats: values, Miss: missing}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == Numeric {
		return len(c.Nums)
	}
	return len(c.Cats)
}

// IsMissing reports whether row i holds a missing value.
func (c *Column) IsMissing(i int) bool {
	if c.Kind == Numeric {
		return math.IsNaN(c.Nums[i])
	}
	return c.Miss[i]
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Nums != nil {
		out.Nums = append([]float64(nil), c.Nums...)
	}
	if c.Cats != nil {
		out.Cats = append([]string(nil), c.Cats...)
	}
	if c.Miss != nil {
		out.Miss = append([]bool(nil), c.Miss...)
	}
	if c.Levels != nil {
		out.Levels = append([]string(nil), c.Levels...)
	}
	return out
}

// DistinctValues returns the sorted distinct non-missing values of the
// column, rendered as strings for categoricals and canonical decimal form
// for numerics.
func (c *Column) DistinctValues() []string {
	seen := make(map[string]struct{})
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			continue
		}
		seen[c.ValueString(i)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ValueString renders the cell at row i as a string. Missing cells render
// as the empty string.
func (c *Column) ValueString(i int) string {
	if c.IsMissing(i) {
		return ""
	}
	if c.Kind == Numeric {
		return strconv.FormatFloat(c.Nums[i], 'g', -1, 64)
	}
	return c.Cats[i]
}

// filter returns a copy of the column restricted to rows where keep is true.
func (c *Column) filter(keep []bool) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Levels != nil {
		out.Levels = append([]string(nil), c.Levels...)
	}
	for i := 0; i < c.Len(); i++ {
		if !keep[i] {
			continue
		}
		if c.Kind == Numeric {
			out.Nums = append(out.Nums, c.Nums[i])
		} else {
			out.Cats = append(out.Cats, c.Cats[i])
			out.Miss = append(out.Miss, c.Miss[i])
		}
	}
	return out
}

// Frame is an ordered collection of equally sized named columns.
type Frame struct {
	cols   []*Column
	byName map[string]int
}

// New builds a frame from columns, validating name uniqueness and equal
// lengths.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{byName: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := f.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// NumRows returns the row count. An empty frame has zero rows.
func (f *Frame) NumRows() int {
	if len(f.cols) == 0 {
		return 0
	}
	return f.cols[0].Len()
}

// NumCols returns the column count.
func (f *Frame) NumCols() int { return len(f.cols) }

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.cols))
	for i, c := range f.cols {
		out[i] = c.Name
	}
	return out
}

// Has reports whether a column with the given name exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.byName[name]
	return ok
}

// Column returns the named column, or nil if absent.
func (f *Frame) Column(name string) *Column {
	i, ok := f.byName[name]
	if !ok {
		return nil
	}
	return f.cols[i]
}

// AddColumn appends a column. Name collisions and row-count mismatches are
// errors.
func (f *Frame) AddColumn(c *Column) error {
	if _, ok := f.byName[c.Name]; ok {
		return fmt.Errorf("frame: duplicate column %q", c.Name)
	}
	if len(f.cols) > 0 && c.Len() != f.NumRows() {
		return fmt.Errorf("frame: column %q has %d rows, frame has %d", c.Name, c.Len(), f.NumRows())
	}
	f.byName[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	return nil
}

// Select returns a new frame holding deep copies of the named columns, in
// the given order.
func (f *Frame) Select(names []string) (*Frame, error) {
	out := &Frame{byName: make(map[string]int, len(names))}
	for _, n := range names {
		c := f.Column(n)
		if c == nil {
			return nil, fmt.Errorf("frame: no column %q", n)
		}
		if err := out.AddColumn(c.Clone()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Head returns a copy of the frame restricted to the first n rows.
func (f *Frame) Head(n int) *Frame {
	if n >= f.NumRows() {
		return f.Clone()
	}
	keep := make([]bool, f.NumRows())
	for i := 0; i < n; i++ {
		keep[i] = true
	}
	return f.Filter(keep)
}

// Filter returns a copy of the frame restricted to rows where keep is true.
func (f *Frame) Filter(keep []bool) *Frame {
	out := &Frame{byName: make(map[string]int, len(f.cols))}
	for _, c := range f.cols {
		// AddColumn cannot fail here: names stay unique, lengths equal.
		_ = out.AddColumn(c.filter(keep))
	}
	return out
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{byName: make(map[string]int, len(f.cols))}
	for _, c := range f.cols {
		_ = out.AddColumn(c.Clone())
	}
	return out
}

// AttachPrediction appends a predicted column, suffixing the name with
// "_pred" when it collides with an existing column. It returns the name
// actually used.
func (f *Frame) AttachPrediction(c *Column) (string, error) {
	name := c.Name
	if f.Has(name) {
		name = name + "_pred"
		c = c.Clone()
		c.Name = name
	}
	if err := f.AddColumn(c); err != nil {
		return "", err
	}
	return name, nil
}

// ConcatUnion row-concatenates a then b over the sorted union of their
// columns. Columns absent on one side are filled with missing values for
// that side's rows. Columns whose kinds disagree are coerced to
// categorical.
func ConcatUnion(a, b *Frame) *Frame {
	nameSet := make(map[string]struct{})
	for _, n := range a.Columns() {
		nameSet[n] = struct{}{}
	}
	for _, n := range b.Columns() {
		nameSet[n] = struct{}{}
	}
	names := make([]string, 0, len(nameSet))
	for n := range nameSet {
		names = append(names, n)
	}
	sort.Strings(names)

	na, nb := a.NumRows(), b.NumRows()
	out := &Frame{byName: make(map[string]int, len(names))}
	for _, n := range names {
		ca, cb := a.Column(n), b.Column(n)
		kind := unionKind(ca, cb)
		if kind == Numeric {
			vals := make([]float64, 0, na+nb)
			vals = appendNumeric(vals, ca, na)
			vals = appendNumeric(vals, cb, nb)
			_ = out.AddColumn(NewNumeric(n, vals))
			continue
		}
		vals := make([]string, 0, na+nb)
		miss := make([]bool, 0, na+nb)
		vals, miss = appendCategorical(vals, miss, ca, na)
		vals, miss = appendCategorical(vals, miss, cb, nb)
		_ = out.AddColumn(NewCategorical(n, vals, miss))
	}
	return out
}

func unionKind(a, b *Column) Kind {
	switch {
	case a == nil:
		return b.Kind
	case b == nil:
		return a.Kind
	case a.Kind == b.Kind:
		return a.Kind
	default:
		return Categorical
	}
}

func appendNumeric(dst []float64, c *Column, n int) []float64 {
	if c == nil {
		for i := 0; i < n; i++ {
			dst = append(dst, math.NaN())
		}
		return dst
	}
	return append(dst, c.Nums...)
}

func appendCategorical(vals []string, miss []bool, c *Column, n int) ([]string, []bool) {
	if c == nil {
		for i := 0; i < n; i++ {
			vals = append(vals, "")
			miss = append(miss, true)
		}
		return vals, miss
	}
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			vals = append(vals, "")
			miss = append(miss, true)
			continue
		}
		vals = append(vals, c.ValueString(i))
		miss = append(miss, false)
	}
	return vals, miss
}
