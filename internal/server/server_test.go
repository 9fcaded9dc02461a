package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/datafuse-go/internal/config"
	"github.com/raphaelgruber/datafuse-go/internal/server"
)

// testLogger creates a logger that writes to stderr for test visibility.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testConfig() config.Config {
	return config.Config{
		ListenAddr:     ":0",
		RequestTimeout: time.Minute,
		MaxBodyBytes:   1 << 20,
		JobTTL:         time.Hour,
		CORSOrigins:    []string{"*"},

		PreferAutoBackend: false,
		RandomSeed:        42,
		CVFolds:           3,
		EnsembleSize:      20,
		SparseEncoding:    true,
		MaxCardinality:    100,
	}
}

func fuseBody(t *testing.T) []byte {
	t.Helper()
	dfa := make([]map[string]any, 12)
	for i := range dfa {
		dfa[i] = map[string]any{"age": 20 + i*3, "income": 1000 + 50*i}
	}
	dfb := make([]map[string]any, 8)
	for i := range dfb {
		plan := "basic"
		if i >= 4 {
			plan = "pro"
		}
		dfb[i] = map[string]any{"age": 22 + i*3, "plan": plan}
	}
	body, err := json.Marshal(map[string]any{"df_a": dfa, "df_b": dfb})
	require.NoError(t, err)
	return body
}

func newTestServer(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	return server.New(cfg, "test", testLogger()).Handler()
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestServer(t, testConfig())

	for _, path := range []string{"/health", "/v1/health"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp["status"])
		assert.Equal(t, "test", resp["version"])
	}
}

func TestFuseEndpoint(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/fuse", bytes.NewReader(fuseBody(t)))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Fused     []map[string]any `json:"fused"`
		FusedRows int              `json:"fused_rows"`
		FusedCols []string         `json:"fused_columns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 20, resp.FusedRows)
	assert.Len(t, resp.Fused, 20)
	assert.Equal(t, []string{"age", "income", "plan"}, resp.FusedCols)
}

func TestFuseEndpointErrors(t *testing.T) {
	h := newTestServer(t, testConfig())

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{
			name:     "malformed json",
			body:     "{not json",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty tables",
			body:     `{"df_a":[],"df_b":[]}`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "no overlap",
			body:     `{"df_a":[{"x":1},{"x":2}],"df_b":[{"y":3},{"y":4}]}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "identical schemas have no targets",
			body:     `{"df_a":[{"x":1},{"x":2}],"df_b":[{"x":3},{"x":4}]}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown return part",
			body:     `{"df_a":[{"x":1}],"df_b":[{"x":2}],"return_parts":["everything"]}`,
			wantCode: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/fuse", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 64
	h := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/fuse", bytes.NewReader(fuseBody(t)))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAsyncJobFlow(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/fuse/async", bytes.NewReader(fuseBody(t)))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.JobID)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/fuse/async/"+created.JobID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		var job struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(rec.Body.Bytes(), &job) != nil {
			return false
		}
		return job.Status == "completed" || job.Status == "failed"
	}, 30*time.Second, 50*time.Millisecond)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/fuse/async/"+created.JobID, nil))
	var job struct {
		Status string `json:"status"`
		Error  string `json:"error"`
		Result *struct {
			FusedRows int `json:"fused_rows"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, "completed", job.Status, "job error: %s", job.Error)
	require.NotNil(t, job.Result)
	assert.Equal(t, 20, job.Result.FusedRows)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)
}

func TestJobNotFound(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/fuse/async/missing1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJWTAuth(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "test-secret"
	h := newTestServer(t, cfg)

	// no token
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// bad token
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// valid token
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(cfg.JWTSecret))
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// liveness endpoint stays open
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadEndpoint(t *testing.T) {
	h := newTestServer(t, testConfig())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fa, err := mw.CreateFormFile("df_a", "a.csv")
	require.NoError(t, err)
	_, err = io.WriteString(fa, csvTable("age,income", 12, func(i int) string {
		return fmt.Sprintf("%d,%d", 20+i*3, 1000+50*i)
	}))
	require.NoError(t, err)

	fb, err := mw.CreateFormFile("df_b", "b.csv")
	require.NoError(t, err)
	_, err = io.WriteString(fb, csvTable("age,plan", 8, func(i int) string {
		plan := "basic"
		if i >= 4 {
			plan = "pro"
		}
		return fmt.Sprintf("%d,%s", 22+i*3, plan)
	}))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/fuse/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Equal(t, "age,income,plan", lines[0])
	assert.Len(t, lines, 21, "header plus 20 fused rows")
}

func TestUploadMissingFile(t *testing.T) {
	h := newTestServer(t, testConfig())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fa, err := mw.CreateFormFile("df_a", "a.csv")
	require.NoError(t, err)
	_, err = io.WriteString(fa, "x\n1\n")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/fuse/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	h := newTestServer(t, testConfig())

	// run one fusion so the stats carry data
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/fuse", bytes.NewReader(fuseBody(t)))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap struct {
		TargetsTrained int64 `json:"targets_trained"`
		FusedRows      int64 `json:"fused_rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(2), snap.TargetsTrained)
	assert.Equal(t, int64(20), snap.FusedRows)
}

func csvTable(header string, rows int, row func(i int) string) string {
	var sb strings.Builder
	sb.WriteString(header + "\n")
	for i := 0; i < rows; i++ {
		sb.WriteString(row(i) + "\n")
	}
	return sb.String()
}
