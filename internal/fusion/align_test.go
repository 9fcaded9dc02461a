package fusion

import (
	"bytes"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/raphaelgruber/datafuse-go/internal/frame"
)

func twoFrames(t *testing.T) (*frame.Frame, *frame.Frame) {
	t.Helper()
	a, err := frame.New(
		frame.NewNumeric("age", []float64{30, 40, 50}),
		frame.NewCategorical("city", []string{"berlin", "vienna", "berlin"}, nil),
		frame.NewNumeric("income", []float64{1000, 2000, 3000}),
	)
	if err != nil {
		t.Fatalf("frame.New() error = %v", err)
	}
	b, err := frame.New(
		frame.NewNumeric("age", []float64{25, 35}),
		frame.NewCategorical("city", []string{"graz", "vienna"}, nil),
		frame.NewCategorical("plan", []string{"basic", "pro"}, nil),
	)
	if err != nil {
		t.Fatalf("frame.New() error = %v", err)
	}
	return a, b
}

func TestInferOverlapAndTargets(t *testing.T) {
	a, b := twoFrames(t)

	overlap := InferOverlap(a, b, nil, nil)
	if want := []string{"age", "city"}; !reflect.DeepEqual(overlap, want) {
		t.Errorf("InferOverlap() = %v, want %v", overlap, want)
	}

	// a column named as target drops out of the overlap
	overlap = InferOverlap(a, b, []string{"city"}, nil)
	if want := []string{"age"}; !reflect.DeepEqual(overlap, want) {
		t.Errorf("InferOverlap() with target = %v, want %v", overlap, want)
	}

	if got := InferTargets(a, b); !reflect.DeepEqual(got, []string{"income"}) {
		t.Errorf("InferTargets(a,b) = %v, want [income]", got)
	}
	if got := InferTargets(b, a); !reflect.DeepEqual(got, []string{"plan"}) {
		t.Errorf("InferTargets(b,a) = %v, want [plan]", got)
	}
}

func TestAlignFeaturesUnifiesLevels(t *testing.T) {
	a, b := twoFrames(t)

	fa, fb, err := AlignFeatures(a, b, []string{"age", "city"}, DefaultConfig())
	if err != nil {
		t.Fatalf("AlignFeatures() error = %v", err)
	}

	want := []string{"berlin", "graz", "vienna"}
	if !reflect.DeepEqual(fa.Column("city").Levels, want) {
		t.Errorf("side A levels = %v, want %v", fa.Column("city").Levels, want)
	}
	if !reflect.DeepEqual(fb.Column("city").Levels, want) {
		t.Errorf("side B levels = %v, want %v", fb.Column("city").Levels, want)
	}

	// inputs stay untouched
	if a.Column("city").Levels != nil {
		t.Error("AlignFeatures() mutated input frame")
	}
}

func TestAlignFeaturesWarnsOnHighCardinality(t *testing.T) {
	a, _ := frame.New(frame.NewCategorical("city", []string{"berlin", "vienna", "graz"}, nil))
	b, _ := frame.New(frame.NewCategorical("city", []string{"linz", "salzburg"}, nil))

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := DefaultConfig()
	cfg.MaxCardinality = 3
	cfg.WarnOnHighCardinality = true

	// five union levels against a limit of three
	fa, _, err := AlignFeatures(a, b, []string{"city"}, cfg)
	if err != nil {
		t.Fatalf("AlignFeatures() error = %v", err)
	}
	if got := len(fa.Column("city").Levels); got != 5 {
		t.Errorf("levels = %d, want 5: warning must not truncate the vocabulary", got)
	}
	if !strings.Contains(buf.String(), "high cardinality overlap feature") {
		t.Errorf("expected a cardinality warning, log output: %q", buf.String())
	}

	buf.Reset()
	cfg.WarnOnHighCardinality = false
	if _, _, err := AlignFeatures(a, b, []string{"city"}, cfg); err != nil {
		t.Fatalf("AlignFeatures() error = %v", err)
	}
	if strings.Contains(buf.String(), "high cardinality") {
		t.Errorf("warning emitted with WarnOnHighCardinality off: %q", buf.String())
	}
}

func TestAlignFeaturesCoercesKindMismatch(t *testing.T) {
	a, _ := frame.New(frame.NewNumeric("zip", []float64{1010, 8010}))
	b, _ := frame.New(frame.NewCategorical("zip", []string{"1010", "4020"}, nil))

	fa, fb, err := AlignFeatures(a, b, []string{"zip"}, DefaultConfig())
	if err != nil {
		t.Fatalf("AlignFeatures() error = %v", err)
	}
	if fa.Column("zip").Kind != frame.Categorical || fb.Column("zip").Kind != frame.Categorical {
		t.Fatal("mismatched kinds should coerce to categorical")
	}
	want := []string{"1010", "4020", "8010"}
	if !reflect.DeepEqual(fa.Column("zip").Levels, want) {
		t.Errorf("levels = %v, want %v", fa.Column("zip").Levels, want)
	}
}
