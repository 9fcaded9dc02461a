package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/datafuse-go/internal/client"
	"github.com/raphaelgruber/datafuse-go/internal/frame"
	"github.com/raphaelgruber/datafuse-go/internal/fusion"
	"github.com/raphaelgruber/datafuse-go/internal/service"
)

var (
	fuseOut      string
	fuseOutA     string
	fuseOutB     string
	fuseOverlap  []string
	fuseTargetsA []string
	fuseTargetsB []string
	fuseSeed     int64
	fuseCVFolds  int
	fuseTrees    int
	fuseBaseline bool
	fuseAsync    bool
	fuseRowLimit int
)

var fuseCmd = &cobra.Command{
	Use:   "fuse <table-a> <table-b>",
	Short: "Fuse two overlapping tables",
	Long: `Fuse two tables that share columns. Exclusive columns of each side are
predicted onto the other, and the enriched tables are concatenated.

Input files may be .csv or .json (a JSON array of records). The fused
table is written as CSV to --out, or to stdout when --out is omitted.

Examples:
  datafuse fuse survey_a.csv survey_b.csv --out fused.csv
  datafuse fuse a.json b.json --targets-a income --cv-folds 5
  datafuse fuse a.csv b.csv --server http://fusion:8080 --async`,
	Args: cobra.ExactArgs(2),
	RunE: runFuse,
}

func init() {
	fuseCmd.Flags().StringVarP(&fuseOut, "out", "o", "", "output file for the fused table (CSV)")
	fuseCmd.Flags().StringVar(&fuseOutA, "out-a", "", "output file for table A enriched with predictions")
	fuseCmd.Flags().StringVar(&fuseOutB, "out-b", "", "output file for table B enriched with predictions")
	fuseCmd.Flags().StringSliceVar(&fuseOverlap, "overlap", nil, "shared feature columns (default: inferred)")
	fuseCmd.Flags().StringSliceVar(&fuseTargetsA, "targets-a", nil, "columns of table A to predict onto B (default: inferred)")
	fuseCmd.Flags().StringSliceVar(&fuseTargetsB, "targets-b", nil, "columns of table B to predict onto A (default: inferred)")
	fuseCmd.Flags().Int64Var(&fuseSeed, "seed", 42, "random seed")
	fuseCmd.Flags().IntVar(&fuseCVFolds, "cv-folds", 3, "cross-validation folds")
	fuseCmd.Flags().IntVar(&fuseTrees, "trees", 300, "ensemble size of the baseline forest")
	fuseCmd.Flags().BoolVar(&fuseBaseline, "baseline", false, "force the baseline forest even when the auto backend is available")
	fuseCmd.Flags().BoolVar(&fuseAsync, "async", false, "submit as background job (requires --server)")
	fuseCmd.Flags().IntVar(&fuseRowLimit, "row-limit", 0, "cap returned rows when running against a server")

	rootCmd.AddCommand(fuseCmd)
}

func runFuse(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if serverURL != "" {
		return runFuseRemote(ctx, args[0], args[1])
	}
	if fuseAsync {
		return fmt.Errorf("--async requires --server")
	}
	return runFuseLocal(ctx, args[0], args[1])
}

func runFuseLocal(ctx context.Context, pathA, pathB string) error {
	fa, err := loadTable(pathA)
	if err != nil {
		return err
	}
	fb, err := loadTable(pathB)
	if err != nil {
		return err
	}

	engineCfg := cfg.Engine()
	engineCfg.RandomSeed = fuseSeed
	engineCfg.CVFolds = fuseCVFolds
	engineCfg.EnsembleSize = fuseTrees
	if fuseBaseline {
		engineCfg.PreferAutoBackend = false
	}

	opts := fusion.Options{
		OverlapFeatures: fuseOverlap,
		TargetsFromA:    fuseTargetsA,
		TargetsFromB:    fuseTargetsB,
	}

	result, err := fusion.Fuse(ctx, fa, fb, opts, engineCfg)
	if err != nil {
		return fmt.Errorf("fuse: %w", err)
	}

	printLocalSummary(result)
	if err := writeTable(result.AEnriched, fuseOutA); err != nil {
		return err
	}
	if err := writeTable(result.BEnriched, fuseOutB); err != nil {
		return err
	}
	return writeFused(result.Fused)
}

func runFuseRemote(ctx context.Context, pathA, pathB string) error {
	recsA, err := loadRecords(pathA)
	if err != nil {
		return err
	}
	recsB, err := loadRecords(pathB)
	if err != nil {
		return err
	}

	req := &service.FuseRequest{
		DFA:             recsA,
		DFB:             recsB,
		OverlapFeatures: fuseOverlap,
		TargetsFromA:    fuseTargetsA,
		TargetsFromB:    fuseTargetsB,
		RandomSeed:      &fuseSeed,
		CVFolds:         &fuseCVFolds,
		EnsembleSize:    &fuseTrees,
		RowLimit:        fuseRowLimit,
		ReturnParts:     []string{service.PartFused},
	}
	if fuseOutA != "" {
		req.ReturnParts = append(req.ReturnParts, service.PartAEnriched)
	}
	if fuseOutB != "" {
		req.ReturnParts = append(req.ReturnParts, service.PartBEnriched)
	}
	if fuseBaseline {
		preferAuto := false
		req.PreferAuto = &preferAuto
	}

	c := client.New(serverURL)

	if fuseAsync {
		job, err := c.FuseAsync(ctx, req)
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		fmt.Printf("Job %s submitted\n", job.ID)
		return RunJobProgress(c, job)
	}

	resp, err := c.Fuse(ctx, req)
	if err != nil {
		return fmt.Errorf("fuse: %w", err)
	}
	printRemoteSummary(resp)

	if err := writeRecords(resp.AEnriched, fuseOutA); err != nil {
		return err
	}
	if err := writeRecords(resp.BEnriched, fuseOutB); err != nil {
		return err
	}
	fused, err := frame.FromRecords(resp.Fused)
	if err != nil {
		return fmt.Errorf("decode fused table: %w", err)
	}
	return writeFused(fused)
}

// loadTable reads a CSV or JSON record file into a frame.
func loadTable(path string) (*frame.Frame, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		recs, err := loadRecords(path)
		if err != nil {
			return nil, err
		}
		f, err := frame.FromRecords(recs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return f, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	f, err := frame.ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// loadRecords reads a file as a list of JSON records, converting CSV input.
func loadRecords(path string) ([]map[string]any, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		f, err := loadTable(path)
		if err != nil {
			return nil, err
		}
		return f.Records(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var recs []map[string]any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return recs, nil
}

// writeTable writes a frame as CSV when a path is given.
func writeTable(f *frame.Frame, path string) error {
	if path == "" || f == nil {
		return nil
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()
	if err := f.WriteCSV(file); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Enriched table written to %s (%d rows, %d columns)\n", path, f.NumRows(), f.NumCols())
	return nil
}

func writeRecords(recs []map[string]any, path string) error {
	if path == "" || len(recs) == 0 {
		return nil
	}
	f, err := frame.FromRecords(recs)
	if err != nil {
		return fmt.Errorf("decode table for %s: %w", path, err)
	}
	return writeTable(f, path)
}

func writeFused(f *frame.Frame) error {
	if fuseOut == "" {
		return f.WriteCSV(os.Stdout)
	}
	file, err := os.Create(fuseOut)
	if err != nil {
		return fmt.Errorf("create %s: %w", fuseOut, err)
	}
	defer file.Close()
	if err := f.WriteCSV(file); err != nil {
		return fmt.Errorf("write %s: %w", fuseOut, err)
	}
	fmt.Fprintf(os.Stderr, "Fused table written to %s (%d rows, %d columns)\n", fuseOut, f.NumRows(), f.NumCols())
	return nil
}

func printLocalSummary(result *fusion.Result) {
	fmt.Fprintf(os.Stderr, "Overlap features: %s\n", strings.Join(result.OverlapFeatures, ", "))
	printDirection("A->B", result.ModelsAToB, result.MetricsAToB, result.FailuresAToB)
	printDirection("B->A", result.ModelsBToA, result.MetricsBToA, result.FailuresBToA)
}

func printDirection(direction string, models map[string]*fusion.TrainedModel, metricsByTarget map[string]map[string]float64, failures map[string]error) {
	targets := make([]string, 0, len(models))
	for t := range models {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		m := models[t]
		fmt.Fprintf(os.Stderr, "  %s %s (%s, %s backend): %s\n",
			direction, t, m.Problem, m.Backend, formatMetrics(metricsByTarget[t]))
	}
	failed := make([]string, 0, len(failures))
	for t := range failures {
		failed = append(failed, t)
	}
	sort.Strings(failed)
	for _, t := range failed {
		fmt.Fprintf(os.Stderr, "  %s %s FAILED: %v\n", direction, t, failures[t])
	}
}

func printRemoteSummary(resp *service.FuseResponse) {
	fmt.Fprintf(os.Stderr, "Overlap features: %s\n", strings.Join(resp.OverlapFeatures, ", "))
	printRemoteDirection("A->B", resp.AToB)
	printRemoteDirection("B->A", resp.BToA)
}

func printRemoteDirection(direction string, d service.DirectionResult) {
	targets := make([]string, 0, len(d.Models))
	for t := range d.Models {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		info := d.Models[t]
		fmt.Fprintf(os.Stderr, "  %s %s (%s, %s backend): %s\n",
			direction, t, info.Problem, info.Backend, formatMetrics(d.Metrics[t]))
	}
	for t, msg := range d.Failures {
		fmt.Fprintf(os.Stderr, "  %s %s FAILED: %s\n", direction, t, msg)
	}
}

func formatMetrics(scores map[string]float64) string {
	if len(scores) == 0 {
		return "no metrics"
	}
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%.3f", name, scores[name]))
	}
	return strings.Join(parts, " ")
}
