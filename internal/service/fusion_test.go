package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/datafuse-go/internal/fusion"
)

func testDefaults() fusion.Config {
	cfg := fusion.DefaultConfig()
	cfg.EnsembleSize = 20
	return cfg
}

func testRequest() *FuseRequest {
	dfa := make([]map[string]any, 12)
	for i := range dfa {
		city := "berlin"
		if i%2 == 1 {
			city = "vienna"
		}
		dfa[i] = map[string]any{
			"age":    float64(20 + i*3),
			"city":   city,
			"income": float64(1000 + 50*i),
		}
	}
	dfb := make([]map[string]any, 10)
	for i := range dfb {
		city := "graz"
		if i%2 == 1 {
			city = "vienna"
		}
		plan := "basic"
		if i >= 5 {
			plan = "pro"
		}
		dfb[i] = map[string]any{
			"age":  float64(22 + i*3),
			"city": city,
			"plan": plan,
		}
	}
	return &FuseRequest{DFA: dfa, DFB: dfb}
}

func TestFusionServiceFuse(t *testing.T) {
	svc := NewFusionService(testDefaults(), nil)

	resp, err := svc.Fuse(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 22, resp.FusedRows)
	assert.Equal(t, []string{"age", "city", "income", "plan"}, resp.FusedCols)
	assert.Equal(t, []string{"age", "city"}, resp.OverlapFeatures)
	assert.Len(t, resp.Fused, 22, "default response returns the fused part")
	assert.Nil(t, resp.AEnriched)
	assert.Nil(t, resp.BEnriched)

	require.Contains(t, resp.AToB.Models, "income")
	assert.Equal(t, "regression", resp.AToB.Models["income"].Problem)
	require.Contains(t, resp.BToA.Models, "plan")
	assert.Equal(t, "classification", resp.BToA.Models["plan"].Problem)

	// metrics are JSON-safe
	for _, scores := range resp.AToB.Metrics {
		for name, v := range scores {
			assert.False(t, v != v, "metric %s is NaN", name)
		}
	}
}

func TestFusionServiceReturnParts(t *testing.T) {
	svc := NewFusionService(testDefaults(), nil)

	req := testRequest()
	req.ReturnParts = []string{PartAEnriched, PartBEnriched}
	req.RowLimit = 3
	req.ColumnsExclude = []string{"city"}

	resp, err := svc.Fuse(context.Background(), req)
	require.NoError(t, err)

	assert.Nil(t, resp.Fused)
	require.Len(t, resp.AEnriched, 3, "row limit applies")
	require.Len(t, resp.BEnriched, 3)
	assert.NotContains(t, resp.AEnriched[0], "city")
	assert.Contains(t, resp.AEnriched[0], "age")
	assert.Contains(t, resp.AEnriched[0], "plan", "enriched side carries the predicted column")

	// counts reflect the full fusion, not the shaped payload
	assert.Equal(t, 22, resp.FusedRows)
}

func TestFusionServiceOverrides(t *testing.T) {
	svc := NewFusionService(testDefaults(), nil)

	req := testRequest()
	seed := int64(7)
	folds := 2
	req.RandomSeed = &seed
	req.CVFolds = &folds

	cfg := svc.config(req)
	assert.Equal(t, int64(7), cfg.RandomSeed)
	assert.Equal(t, 2, cfg.CVFolds)
	assert.Equal(t, 20, cfg.EnsembleSize, "unset overrides keep defaults")
}

func TestFusionServiceBadInput(t *testing.T) {
	svc := NewFusionService(testDefaults(), nil)

	_, err := svc.Fuse(context.Background(), &FuseRequest{})
	assert.ErrorIs(t, err, fusion.ErrConfiguration)

	req := testRequest()
	req.ProblemTypes = map[string]string{"income": "clustering"}
	_, err = svc.Fuse(context.Background(), req)
	assert.ErrorIs(t, err, fusion.ErrConfiguration)
}

func TestValidateParts(t *testing.T) {
	assert.NoError(t, ValidateParts(nil))
	assert.NoError(t, ValidateParts([]string{PartFused, PartAEnriched}))
	assert.ErrorIs(t, ValidateParts([]string{"everything"}), fusion.ErrConfiguration)
}

func TestJobManagerLifecycle(t *testing.T) {
	svc := NewFusionService(testDefaults(), nil)
	jm := NewJobManager(time.Hour)

	job := jm.Submit(svc, testRequest())
	require.NotEmpty(t, job.ID)
	assert.Len(t, job.ID, 8)

	require.Eventually(t, func() bool {
		snap := jm.GetJob(job.ID).Snapshot()
		return snap.Status == JobStatusCompleted || snap.Status == JobStatusFailed
	}, 30*time.Second, 50*time.Millisecond)

	snap := jm.GetJob(job.ID).Snapshot()
	require.Equal(t, JobStatusCompleted, snap.Status, "job error: %s", snap.Error)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 22, snap.Result.FusedRows)
	assert.NotNil(t, snap.CompletedAt)

	jobs := jm.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
}

func TestJobManagerFailure(t *testing.T) {
	svc := NewFusionService(testDefaults(), nil)
	jm := NewJobManager(time.Hour)

	job := jm.Submit(svc, &FuseRequest{})
	require.Eventually(t, func() bool {
		return jm.GetJob(job.ID).Snapshot().Status == JobStatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	snap := jm.GetJob(job.ID).Snapshot()
	assert.NotEmpty(t, snap.Error)
	assert.Nil(t, snap.Result)
}

func TestJobManagerTTLEviction(t *testing.T) {
	svc := NewFusionService(testDefaults(), nil)
	jm := NewJobManager(time.Nanosecond)

	job := jm.Submit(svc, &FuseRequest{})
	require.Eventually(t, func() bool {
		j := jm.GetJob(job.ID)
		return j == nil || j.Snapshot().Status == JobStatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	// the next list call evicts the finished job
	require.Eventually(t, func() bool {
		return len(jm.ListJobs()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}
