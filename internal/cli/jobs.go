package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/datafuse-go/internal/client"
)

var jobsWatch bool

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect background fusion jobs",
	Long: `List all background jobs on the server or inspect a specific job by ID.

Examples:
  datafuse jobs --server http://fusion:8080           # List all jobs
  datafuse jobs abc12345 --server http://fusion:8080  # Show job details
  datafuse jobs abc12345 --watch                      # Follow until done`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().BoolVarP(&jobsWatch, "watch", "w", false, "follow a job until it finishes")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := client.New(serverURL)

	if len(args) == 1 {
		if jobsWatch {
			job, err := c.GetJob(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			if job == nil {
				return fmt.Errorf("job not found: %s", args[0])
			}
			return RunJobProgress(c, job)
		}
		return showJob(ctx, c, args[0])
	}

	return listJobs(ctx, c)
}

func listJobs(ctx context.Context, c *client.Client) error {
	jobs, err := c.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-10s %-12s %s\n", "ID", "STATUS", "STARTED")
	fmt.Println("----------------------------------------")
	for _, job := range jobs {
		fmt.Printf("%-10s %-12s %s\n", job.ID, job.Status, job.StartedAt.Format("15:04:05"))
	}
	return nil
}

func showJob(ctx context.Context, c *client.Client, id string) error {
	job, err := c.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", id)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		duration := job.CompletedAt.Sub(job.StartedAt)
		fmt.Printf("  Duration: %s\n", duration.Round(time.Second))
	}
	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
	}

	if job.Result != nil {
		r := job.Result
		fmt.Println("\nResult:")
		fmt.Printf("  Fused rows: %d\n", r.FusedRows)
		fmt.Printf("  Fused columns: %d\n", len(r.FusedCols))
		printJobDirection("A->B", r.AToB.Metrics, r.AToB.Failures)
		printJobDirection("B->A", r.BToA.Metrics, r.BToA.Failures)
	}
	return nil
}

func printJobDirection(direction string, metricsByTarget map[string]map[string]float64, failures map[string]string) {
	targets := make([]string, 0, len(metricsByTarget))
	for t := range metricsByTarget {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		fmt.Printf("  %s %s: %s\n", direction, t, formatMetrics(metricsByTarget[t]))
	}
	for t, msg := range failures {
		fmt.Printf("  %s %s FAILED: %s\n", direction, t, msg)
	}
}
