package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/datafuse-go/internal/metrics"
)

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents one background fusion run.
type Job struct {
	ID          string
	Status      JobStatus
	Progress    int
	Total       int
	Result      *FuseResponse
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	mu sync.RWMutex
}

// JobSnapshot is a point-in-time copy of a job's state.
type JobSnapshot struct {
	ID          string
	Status      JobStatus
	Progress    int
	Total       int
	Result      *FuseResponse
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Snapshot returns a thread-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobSnapshot{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		Total:       j.Total,
		Result:      j.Result,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// JobManager tracks background fusion jobs in memory. Finished jobs are
// evicted once they outlive the TTL.
type JobManager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
	ttl  time.Duration
}

// NewJobManager creates a job manager. A non-positive ttl defaults to one
// hour.
func NewJobManager(ttl time.Duration) *JobManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JobManager{jobs: make(map[string]*Job), ttl: ttl}
}

// Submit creates a job and runs the fusion in the background. The request
// keeps running even if the submitting HTTP request goes away.
func (m *JobManager) Submit(svc *FusionService, req *FuseRequest) *Job {
	job := &Job{
		ID:        uuid.New().String()[:8], // Short ID for convenience
		Status:    JobStatusPending,
		Total:     len(req.TargetsFromA) + len(req.TargetsFromB),
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.evictExpiredLocked()
	m.mu.Unlock()

	slog.Info("job created", "job_id", job.ID, "rows_a", len(req.DFA), "rows_b", len(req.DFB))
	metrics.JobStarted()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				m.fail(job, fmt.Errorf("internal panic: %v", r))
			}
		}()

		job.mu.Lock()
		job.Status = JobStatusRunning
		job.mu.Unlock()

		resp, err := svc.Fuse(context.Background(), req)
		if err != nil {
			m.fail(job, err)
			return
		}
		m.complete(job, resp)
	}()

	return job
}

// GetJob retrieves a job by ID, or nil when unknown or expired.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, most recent first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.Lock()
	m.evictExpiredLocked()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.Unlock()

	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

func (m *JobManager) complete(job *Job, resp *FuseResponse) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.Result = resp
	job.Progress = job.Total
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	metrics.JobFinished()
	slog.Info("job completed", "job_id", job.ID, "fused_rows", resp.FusedRows, "duration_ms", resp.DurationMs)
}

func (m *JobManager) fail(job *Job, err error) {
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	metrics.JobFinished()
	slog.Error("job failed", "job_id", job.ID, "error", err)
}

// evictExpiredLocked drops finished jobs older than the TTL. Caller holds
// the write lock.
func (m *JobManager) evictExpiredLocked() {
	cutoff := time.Now().Add(-m.ttl)
	for id, job := range m.jobs {
		job.mu.RLock()
		done := job.CompletedAt != nil && job.CompletedAt.Before(cutoff)
		job.mu.RUnlock()
		if done {
			delete(m.jobs, id)
		}
	}
}
