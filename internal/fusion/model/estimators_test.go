package model

import (
	"reflect"
	"testing"
)

// bandData is a two-class problem where the classes occupy separate value
// bands of the second feature and the first feature is noise.
func bandData() (*Dense, []float64) {
	var rows [][]float64
	var y []float64
	for i := 0; i < 16; i++ {
		noise := float64(i % 5)
		if i%2 == 0 {
			rows = append(rows, []float64{noise, float64(i)})
			y = append(y, 0)
		} else {
			rows = append(rows, []float64{noise, float64(100 + i)})
			y = append(y, 1)
		}
	}
	return NewDense(rows), y
}

func TestTreeLearnsBands(t *testing.T) {
	x, y := bandData()
	tree := NewTree(Classify, 2, DefaultTreeConfig(1))
	if err := tree.Fit(x, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	pred := tree.Predict(x)
	if !reflect.DeepEqual(pred, y) {
		t.Errorf("Predict() = %v, want %v", pred, y)
	}

	proba := tree.PredictProba(x)
	for i, p := range proba {
		if len(p) != 2 {
			t.Fatalf("proba[%d] has %d entries, want 2", i, len(p))
		}
		if p[int(y[i])] < 0.5 {
			t.Errorf("proba[%d] = %v, want confidence for class %v", i, p, y[i])
		}
	}
}

func TestTreeRegression(t *testing.T) {
	rows := [][]float64{{1}, {2}, {3}, {10}, {11}, {12}}
	y := []float64{5, 5, 5, 20, 20, 20}
	tree := NewTree(Regress, 0, DefaultTreeConfig(1))
	if err := tree.Fit(NewDense(rows), y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	pred := tree.Predict(NewDense(rows))
	for i, p := range pred {
		if p != y[i] {
			t.Errorf("Predict()[%d] = %v, want %v", i, p, y[i])
		}
	}
}

func TestForestDeterministicAndAccurate(t *testing.T) {
	x, y := bandData()

	first := NewForest(Classify, 2, 50, 7, 0)
	if err := first.Fit(x, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	predA, err := first.Predict(x)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	second := NewForest(Classify, 2, 50, 7, 2)
	if err := second.Fit(x, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	predB, err := second.Predict(x)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	// the same seed gives the same model regardless of parallelism
	if !reflect.DeepEqual(predA, predB) {
		t.Error("same seed produced different predictions")
	}

	hits := 0
	for i := range y {
		if predA[i] == y[i] {
			hits++
		}
	}
	if hits < len(y)*3/4 {
		t.Errorf("forest got %d/%d on training data", hits, len(y))
	}
}

func TestForestRegressionPredictProbaFails(t *testing.T) {
	rows := [][]float64{{1}, {2}, {3}, {4}}
	y := []float64{1, 2, 3, 4}
	fo := NewForest(Regress, 0, 10, 1, 0)
	if err := fo.Fit(NewDense(rows), y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if _, err := fo.PredictProba(NewDense(rows)); err == nil {
		t.Error("PredictProba() on a regression forest should fail")
	}
}

func TestKNNClassify(t *testing.T) {
	rows := [][]float64{{0, 0}, {0, 1}, {1, 0}, {10, 10}, {10, 11}, {11, 10}}
	y := []float64{0, 0, 0, 1, 1, 1}
	kn := NewKNN(Classify, 2, 3)
	if err := kn.Fit(NewDense(rows), y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	pred, err := kn.Predict(NewDense([][]float64{{0.5, 0.5}, {10.5, 10.5}}))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if pred[0] != 0 || pred[1] != 1 {
		t.Errorf("Predict() = %v, want [0 1]", pred)
	}

	proba, err := kn.PredictProba(NewDense([][]float64{{0, 0.5}}))
	if err != nil {
		t.Fatalf("PredictProba() error = %v", err)
	}
	if proba[0][0] != 1 {
		t.Errorf("proba = %v, want unanimous class 0", proba[0])
	}
}

func TestKNNRegress(t *testing.T) {
	rows := [][]float64{{1}, {2}, {3}}
	y := []float64{10, 20, 30}
	kn := NewKNN(Regress, 0, 3)
	if err := kn.Fit(NewDense(rows), y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	pred, err := kn.Predict(NewDense([][]float64{{2}}))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if pred[0] != 20 {
		t.Errorf("Predict() = %v, want mean of all neighbours 20", pred[0])
	}
}

func TestSparseMatrix(t *testing.T) {
	s := NewSparse(2, 4)
	s.Set(0, 1, 1)
	s.Set(0, 3, 2.5)
	s.Set(1, 0, 4)

	tests := []struct {
		i, j int
		want float64
	}{
		{0, 0, 0}, {0, 1, 1}, {0, 2, 0}, {0, 3, 2.5},
		{1, 0, 4}, {1, 3, 0},
	}
	for _, tt := range tests {
		if got := s.At(tt.i, tt.j); got != tt.want {
			t.Errorf("At(%d,%d) = %v, want %v", tt.i, tt.j, got, tt.want)
		}
	}
}
