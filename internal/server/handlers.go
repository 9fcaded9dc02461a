package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/datafuse-go/internal/frame"
	"github.com/raphaelgruber/datafuse-go/internal/fusion"
	"github.com/raphaelgruber/datafuse-go/internal/metrics"
	"github.com/raphaelgruber/datafuse-go/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	AutoBackend bool   `json:"auto_backend"`
}

type jobResponse struct {
	ID          string                `json:"job_id"`
	Status      service.JobStatus     `json:"status"`
	Progress    int                   `json:"progress"`
	Total       int                   `json:"total"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Error       string                `json:"error,omitempty"`
	Result      *service.FuseResponse `json:"result,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     s.version,
		AutoBackend: fusion.AutoBackendAvailable(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func (s *Server) handleFuse(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeFuseRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.svc.Fuse(r.Context(), req)
	if err != nil {
		s.writeFusionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFuseAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeFuseRequest(w, r)
	if !ok {
		return
	}
	job := s.jobs.Submit(s.svc, req)
	writeJSON(w, http.StatusAccepted, jobResponse{
		ID:        job.ID,
		Status:    job.Status,
		StartedAt: job.StartedAt,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.GetJob(chi.URLParam(r, "id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	snap := job.Snapshot()
	writeJSON(w, http.StatusOK, jobResponse{
		ID:          snap.ID,
		Status:      snap.Status,
		Progress:    snap.Progress,
		Total:       snap.Total,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
		Error:       snap.Error,
		Result:      snap.Result,
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		snap := job.Snapshot()
		out = append(out, jobResponse{
			ID:          snap.ID,
			Status:      snap.Status,
			Progress:    snap.Progress,
			Total:       snap.Total,
			StartedAt:   snap.StartedAt,
			CompletedAt: snap.CompletedAt,
			Error:       snap.Error,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpload accepts two CSV files in a multipart form, fields "df_a"
// and "df_b", and runs a fusion with default options. The fused table is
// returned as CSV.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := r.ParseMultipartForm(s.cfg.MaxBodyBytes); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	if ct := headerContentType(r, "df_a"); ct != "" && !supportedUpload(ct) {
		writeError(w, http.StatusUnprocessableEntity, "unsupported upload format: "+ct)
		return
	}

	fa, err := readUpload(r, "df_a")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fb, err := readUpload(r, "df_b")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := fusion.Fuse(r.Context(), fa, fb, fusion.Options{}, s.cfg.Engine())
	if err != nil {
		s.writeFusionError(w, err)
		return
	}
	s.collector.RecordTiming(metrics.OpUpload, time.Since(start))

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="fused.csv"`)
	if err := result.Fused.WriteCSV(w); err != nil {
		s.logger.Error("writing fused csv", "error", err)
	}
}

func (s *Server) decodeFuseRequest(w http.ResponseWriter, r *http.Request) (*service.FuseRequest, bool) {
	var req service.FuseRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if err := service.ValidateParts(req.ReturnParts); err != nil {
		s.writeFusionError(w, err)
		return nil, false
	}
	return &req, true
}

// writeFusionError maps engine errors onto HTTP statuses: overlap and
// target validation failures are 400, configuration errors are 422, the
// rest is 500.
func (s *Server) writeFusionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fusion.ErrNoOverlap), errors.Is(err, fusion.ErrNoTargets):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fusion.ErrConfiguration):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("fusion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func readUpload(r *http.Request, field string) (*frame.Frame, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing file field %q", field)
	}
	defer file.Close()
	f, err := frame.ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", field, err)
	}
	return f, nil
}

func headerContentType(r *http.Request, field string) string {
	if r.MultipartForm == nil {
		return ""
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return ""
	}
	return files[0].Header.Get("Content-Type")
}

// supportedUpload accepts CSV and plain text uploads. Binary table formats
// are rejected up front instead of failing mid-parse.
func supportedUpload(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "csv") ||
		strings.Contains(ct, "text/plain") ||
		strings.Contains(ct, "octet-stream")
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
