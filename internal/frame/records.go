package frame

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// FromRecords builds a frame from row-oriented record maps, the wire format
// used by the HTTP API. Column order is the sorted union of keys so that
// identical inputs always produce identical frames. A column is numeric
// when every present value is a number (JSON numbers decode as float64);
// anything else makes it categorical. Absent keys and nils are missing.
func FromRecords(recs []map[string]any) (*Frame, error) {
	nameSet := make(map[string]struct{})
	for _, r := range recs {
		for k := range r {
			nameSet[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(nameSet))
	for n := range nameSet {
		names = append(names, n)
	}
	sort.Strings(names)

	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		col, err := columnFromRecords(n, recs)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return New(cols...)
}

func columnFromRecords(name string, recs []map[string]any) (*Column, error) {
	numeric := true
	for _, r := range recs {
		v, ok := r[name]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case float64, float32, int, int32, int64, floatable:
		default:
			numeric = false
		}
	}

	if numeric {
		vals := make([]float64, len(recs))
		for i, r := range recs {
			v, ok := r[name]
			if !ok || v == nil {
				vals[i] = math.NaN()
				continue
			}
			f, err := toFloat(v)
			if err != nil {
				return nil, fmt.Errorf("frame: column %q row %d: %w", name, i, err)
			}
			vals[i] = f
		}
		return NewNumeric(name, vals), nil
	}

	vals := make([]string, len(recs))
	miss := make([]bool, len(recs))
	for i, r := range recs {
		v, ok := r[name]
		if !ok || v == nil {
			miss[i] = true
			continue
		}
		vals[i] = stringify(v)
	}
	return NewCategorical(name, vals, miss), nil
}

// floatable matches encoding/json.Number without depending on it here.
type floatable interface{ Float64() (float64, error) }

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case floatable:
		return n.Float64()
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Records converts the frame to row-oriented maps. Missing cells become
// nil so they serialize as JSON null.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, f.NumRows())
	for i := range out {
		rec := make(map[string]any, f.NumCols())
		for _, c := range f.cols {
			if c.IsMissing(i) {
				rec[c.Name] = nil
				continue
			}
			if c.Kind == Numeric {
				rec[c.Name] = c.Nums[i]
			} else {
				rec[c.Name] = c.Cats[i]
			}
		}
		out[i] = rec
	}
	return out
}
