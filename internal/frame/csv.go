package frame

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

// missingMarkers are cell values treated as missing when reading CSV.
var missingMarkers = map[string]struct{}{
	"": {}, "NA": {}, "NaN": {}, "nan": {}, "null": {},
}

func isMissingMarker(s string) bool {
	_, ok := missingMarkers[s]
	return ok
}

// ReadCSV parses a header-first CSV stream into a frame. A column is
// numeric when every non-missing cell parses as a float; otherwise it is
// categorical.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("frame: csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("frame: read csv header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("frame: read csv row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, rec)
	}

	cols := make([]*Column, 0, len(header))
	for j, name := range header {
		cols = append(cols, columnFromCells(name, rows, j))
	}
	return New(cols...)
}

func columnFromCells(name string, rows [][]string, j int) *Column {
	numeric := true
	for _, row := range rows {
		cell := row[j]
		if isMissingMarker(cell) {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			numeric = false
			break
		}
	}

	if numeric {
		vals := make([]float64, len(rows))
		for i, row := range rows {
			cell := row[j]
			if isMissingMarker(cell) {
				vals[i] = math.NaN()
				continue
			}
			vals[i], _ = strconv.ParseFloat(cell, 64)
		}
		return NewNumeric(name, vals)
	}

	vals := make([]string, len(rows))
	miss := make([]bool, len(rows))
	for i, row := range rows {
		cell := row[j]
		if isMissingMarker(cell) {
			miss[i] = true
			continue
		}
		vals[i] = cell
	}
	return NewCategorical(name, vals, miss)
}

// WriteCSV writes the frame with a header row. Missing cells are written
// as empty strings.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns()); err != nil {
		return fmt.Errorf("frame: write csv header: %w", err)
	}
	row := make([]string, f.NumCols())
	for i := 0; i < f.NumRows(); i++ {
		for j, c := range f.cols {
			row[j] = c.ValueString(i)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("frame: write csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
