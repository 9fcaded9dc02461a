package fusion

import "fmt"

// Config holds the engine tunables. It is read once at the start of a
// fusion call and passed by value through every step; concurrent calls can
// share one Config safely.
type Config struct {
	// PreferAutoBackend tries the comparison (auto-selection) trainer when
	// one is registered; otherwise the baseline forest is used.
	PreferAutoBackend bool

	// RandomSeed drives every stochastic step: fold shuffling, bootstrap
	// sampling and feature subsampling. Identical seeds give identical
	// results.
	RandomSeed int64

	// CVFolds is the requested cross-validation fold count; the evaluator
	// may lower it for small or imbalanced targets.
	CVFolds int

	// EnsembleSize is the number of trees in the baseline forest.
	EnsembleSize int

	// SparseEncoding selects the memory-sparse one-hot representation.
	SparseEncoding bool

	// MaxCardinality is the distinct-level count above which a categorical
	// overlap column triggers a warning.
	MaxCardinality int

	// WarnOnHighCardinality gates that warning.
	WarnOnHighCardinality bool

	// Parallelism bounds concurrent per-target work and tree fits.
	// Zero means no explicit bound.
	Parallelism int
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		PreferAutoBackend:     true,
		RandomSeed:            42,
		CVFolds:               3,
		EnsembleSize:          300,
		SparseEncoding:        true,
		MaxCardinality:        100,
		WarnOnHighCardinality: true,
	}
}

// Validate rejects out-of-range values. Errors wrap ErrConfiguration.
func (c Config) Validate() error {
	if c.CVFolds < 2 {
		return fmt.Errorf("%w: cv fold count %d, need at least 2", ErrConfiguration, c.CVFolds)
	}
	if c.EnsembleSize < 1 {
		return fmt.Errorf("%w: ensemble size %d, need at least 1", ErrConfiguration, c.EnsembleSize)
	}
	if c.MaxCardinality < 2 {
		return fmt.Errorf("%w: max category cardinality %d, need at least 2", ErrConfiguration, c.MaxCardinality)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("%w: parallelism %d is negative", ErrConfiguration, c.Parallelism)
	}
	return nil
}
