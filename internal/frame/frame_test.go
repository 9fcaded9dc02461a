package frame

import (
	"math"
	"strings"
	"testing"
)

func TestConcatUnion(t *testing.T) {
	a, err := New(
		NewNumeric("age", []float64{30, 40}),
		NewCategorical("city", []string{"berlin", "vienna"}, nil),
		NewNumeric("income", []float64{1000, 2000}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := New(
		NewNumeric("age", []float64{50}),
		NewCategorical("city", []string{"graz"}, nil),
		NewCategorical("plan", []string{"basic"}, nil),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	fused := ConcatUnion(a, b)

	if got, want := fused.NumRows(), 3; got != want {
		t.Errorf("NumRows() = %d, want %d", got, want)
	}
	wantCols := []string{"age", "city", "income", "plan"}
	gotCols := fused.Columns()
	if len(gotCols) != len(wantCols) {
		t.Fatalf("Columns() = %v, want %v", gotCols, wantCols)
	}
	for i, c := range wantCols {
		if gotCols[i] != c {
			t.Errorf("Columns()[%d] = %q, want %q (columns must be sorted)", i, gotCols[i], c)
		}
	}

	// income absent on side B: its row must be missing
	income := fused.Column("income")
	if !income.IsMissing(2) {
		t.Errorf("income row 2 = %v, want missing", income.Nums[2])
	}
	if income.IsMissing(0) || income.Nums[0] != 1000 {
		t.Errorf("income row 0 = %v, want 1000", income.Nums[0])
	}

	// plan absent on side A
	plan := fused.Column("plan")
	if !plan.IsMissing(0) || !plan.IsMissing(1) {
		t.Error("plan rows 0,1 should be missing")
	}
	if plan.Cats[2] != "basic" {
		t.Errorf("plan row 2 = %q, want basic", plan.Cats[2])
	}
}

func TestConcatUnionKindDisagreement(t *testing.T) {
	a, _ := New(NewNumeric("code", []float64{1, 2}))
	b, _ := New(NewCategorical("code", []string{"x"}, nil))

	fused := ConcatUnion(a, b)
	code := fused.Column("code")
	if code.Kind != Categorical {
		t.Fatalf("code kind = %v, want categorical", code.Kind)
	}
	if code.Cats[0] != "1" || code.Cats[2] != "x" {
		t.Errorf("code values = %v, want numeric rows rendered as strings", code.Cats)
	}
}

func TestAttachPrediction(t *testing.T) {
	f, _ := New(NewNumeric("score", []float64{1, 2}))

	name, err := f.AttachPrediction(NewNumeric("rating", []float64{3, 4}))
	if err != nil {
		t.Fatalf("AttachPrediction() error = %v", err)
	}
	if name != "rating" {
		t.Errorf("name = %q, want rating", name)
	}

	name, err = f.AttachPrediction(NewNumeric("score", []float64{5, 6}))
	if err != nil {
		t.Fatalf("AttachPrediction() error = %v", err)
	}
	if name != "score_pred" {
		t.Errorf("name = %q, want score_pred", name)
	}
	if !f.Has("score_pred") {
		t.Error("frame should carry score_pred")
	}
	// original column untouched
	if f.Column("score").Nums[0] != 1 {
		t.Error("original score column was modified")
	}
}

func TestFromRecords(t *testing.T) {
	recs := []map[string]any{
		{"age": 30.0, "city": "berlin"},
		{"age": nil, "city": "vienna"},
		{"city": "graz", "age": 50.0},
	}
	f, err := FromRecords(recs)
	if err != nil {
		t.Fatalf("FromRecords() error = %v", err)
	}

	if got := f.Columns(); got[0] != "age" || got[1] != "city" {
		t.Errorf("Columns() = %v, want sorted [age city]", got)
	}
	age := f.Column("age")
	if age.Kind != Numeric {
		t.Fatalf("age kind = %v, want numeric", age.Kind)
	}
	if !age.IsMissing(1) {
		t.Error("age row 1 should be missing")
	}

	// round trip: missing values become nil
	out := f.Records()
	if out[1]["age"] != nil {
		t.Errorf("Records() missing age = %v, want nil", out[1]["age"])
	}
	if out[2]["city"] != "graz" {
		t.Errorf("Records() city = %v, want graz", out[2]["city"])
	}
}

func TestFromRecordsMixedTypesBecomeCategorical(t *testing.T) {
	recs := []map[string]any{
		{"v": 1.0},
		{"v": "two"},
	}
	f, err := FromRecords(recs)
	if err != nil {
		t.Fatalf("FromRecords() error = %v", err)
	}
	if f.Column("v").Kind != Categorical {
		t.Error("mixed column should be categorical")
	}
}

func TestReadCSV(t *testing.T) {
	in := "age,city\n30,berlin\nNA,vienna\n50.5,\n"
	f, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if got := f.NumRows(); got != 3 {
		t.Fatalf("NumRows() = %d, want 3", got)
	}
	age := f.Column("age")
	if age.Kind != Numeric {
		t.Fatalf("age kind = %v, want numeric", age.Kind)
	}
	if !math.IsNaN(age.Nums[1]) {
		t.Error("NA should parse as missing")
	}
	city := f.Column("city")
	if !city.IsMissing(2) {
		t.Error("empty cell should be missing")
	}

	var sb strings.Builder
	if err := f.WriteCSV(&sb); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if !strings.HasPrefix(sb.String(), "age,city\n30,berlin\n") {
		t.Errorf("WriteCSV() = %q", sb.String())
	}
}

func TestSelectAndFilter(t *testing.T) {
	f, _ := New(
		NewNumeric("a", []float64{1, 2, 3}),
		NewNumeric("b", []float64{4, 5, 6}),
	)

	sel, err := f.Select([]string{"b"})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.NumCols() != 1 || sel.Column("b").Nums[0] != 4 {
		t.Error("Select() returned wrong data")
	}
	// Select copies: mutating the selection must not touch the source
	sel.Column("b").Nums[0] = 99
	if f.Column("b").Nums[0] != 4 {
		t.Error("Select() aliases the source column")
	}

	if _, err := f.Select([]string{"missing"}); err == nil {
		t.Error("Select() with unknown column should fail")
	}

	kept := f.Filter([]bool{true, false, true})
	if kept.NumRows() != 2 || kept.Column("a").Nums[1] != 3 {
		t.Error("Filter() returned wrong rows")
	}
}
