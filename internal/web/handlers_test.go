package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/rollload/internal/config"
	"github.com/JonMunkholm/rollload/internal/core"
	"github.com/JonMunkholm/rollload/internal/layout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu       sync.Mutex
	pingErr  error
	startErr error
	started  []core.LoadOptions
	runs     map[string]core.Run
	catalog  *layout.Catalog
}

func newFakeService() *fakeService {
	return &fakeService{
		runs: map[string]core.Run{},
		catalog: &layout.Catalog{
			Description: "test roll",
			TaxYear:     2025,
			FilePrefix:  "APPR_",
			Files: []layout.LayoutSpec{
				{FileType: "INFO", Table: "info", Columns: []layout.ColumnSpec{
					{Index: 1, Name: "prop_id", Type: layout.BigInteger, Length: 12},
					{Index: 2, Name: "filler", Type: layout.Text, Length: 3, Skip: true},
				}},
				{FileType: "AGENT", Table: "agent", Columns: []layout.ColumnSpec{
					{Index: 1, Name: "agent_id", Type: layout.BigInteger, Length: 6},
				}},
			},
		},
	}
}

func (f *fakeService) Ping(context.Context) error { return f.pingErr }

func (f *fakeService) Catalog() *layout.Catalog { return f.catalog }

func (f *fakeService) RunStatus() core.RunLimiterStatus {
	return core.RunLimiterStatus{Available: 1, MaxConcurrent: 1}
}

func (f *fakeService) Schedule() core.ScheduleStatus { return core.ScheduleStatus{} }

func (f *fakeService) AvailableFiles(context.Context) ([]core.FileStatus, error) {
	return []core.FileStatus{{FileType: "AGENT", Table: "agent", FileName: "APPR_AGENT.TXT", Present: true, Size: 42}}, nil
}

func (f *fakeService) Verify(context.Context) []core.TableCount {
	return []core.TableCount{{FileType: "AGENT", Table: "agent", Rows: 7}}
}

func (f *fakeService) StartRun(_ context.Context, opts core.LoadOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, opts)
	id := fmt.Sprintf("run-%d", len(f.started))
	f.runs[id] = core.Run{ID: id, State: core.RunRunning, Options: opts, StartedAt: time.Now()}
	return id, nil
}

func (f *fakeService) Run(id string) (core.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return core.Run{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	return run, nil
}

func (f *fakeService) Runs() []core.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Run, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Load: config.LoadConfig{Truncate: true, MaxRecords: 0},
	}
}

func serve(t *testing.T, s *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	svc := newFakeService()
	s := NewServer(svc, testConfig(), prometheus.NewRegistry())

	rec := serve(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	svc.pingErr = errors.New("dial tcp: connection refused")
	rec = serve(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DB005", decode[ErrorResponse](t, rec).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "rollload_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := NewServer(newFakeService(), testConfig(), reg)
	rec := serve(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rollload_test_total 1")
}

func TestListLayouts(t *testing.T) {
	s := NewServer(newFakeService(), testConfig(), prometheus.NewRegistry())

	rec := serve(t, s, http.MethodGet, "/api/layouts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[catalogResponse](t, rec)
	assert.Equal(t, "APPR_", resp.FilePrefix)
	require.Len(t, resp.Layouts, 2)
	// AGENT loads before INFO.
	assert.Equal(t, "AGENT", resp.Layouts[0].FileType)
	assert.Equal(t, "INFO", resp.Layouts[1].FileType)
	assert.Equal(t, 1, resp.Layouts[1].Columns)
	assert.Equal(t, 15, resp.Layouts[1].Width)
}

func TestGetLayout(t *testing.T) {
	s := NewServer(newFakeService(), testConfig(), prometheus.NewRegistry())

	rec := serve(t, s, http.MethodGet, "/api/layouts/agent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dataType":"BIGINT"`)

	rec = serve(t, s, http.MethodGet, "/api/layouts/NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "FILE002", decode[ErrorResponse](t, rec).Code)
}

func TestListFilesAndTables(t *testing.T) {
	s := NewServer(newFakeService(), testConfig(), prometheus.NewRegistry())

	rec := serve(t, s, http.MethodGet, "/api/files", "")
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode[map[string][]core.FileStatus](t, rec)["files"]
	require.Len(t, files, 1)
	assert.True(t, files[0].Present)

	rec = serve(t, s, http.MethodGet, "/api/tables", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tables := decode[map[string][]core.TableCount](t, rec)["tables"]
	require.Len(t, tables, 1)
	assert.EqualValues(t, 7, tables[0].Rows)
}

func TestStartRun(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantErr   string
		wantTypes []string
		wantTrunc bool
		wantMax   int
	}{
		{name: "defaults", body: "", wantCode: http.StatusAccepted, wantTrunc: true},
		{
			name:      "overrides",
			body:      `{"fileTypes":["agent"," info "],"truncate":false,"maxRecords":25}`,
			wantCode:  http.StatusAccepted,
			wantTypes: []string{"AGENT", "INFO"},
			wantMax:   25,
		},
		{name: "unknown file type", body: `{"fileTypes":["NOPE"]}`, wantCode: http.StatusBadRequest, wantErr: "RUN005"},
		{name: "negative cap", body: `{"maxRecords":-1}`, wantCode: http.StatusBadRequest, wantErr: "RUN005"},
		{name: "malformed body", body: `{"fileTypes":`, wantCode: http.StatusBadRequest, wantErr: "RUN005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			s := NewServer(svc, testConfig(), prometheus.NewRegistry())

			rec := serve(t, s, http.MethodPost, "/api/runs", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, rec).Code)
				assert.Empty(t, svc.started)
				return
			}

			resp := decode[startRunResponse](t, rec)
			assert.Equal(t, "run-1", resp.RunID)
			assert.Equal(t, "/api/runs/run-1", rec.Header().Get("Location"))

			require.Len(t, svc.started, 1)
			opts := svc.started[0]
			assert.Equal(t, core.TriggerAPI, opts.Trigger)
			assert.Equal(t, tt.wantTypes, opts.FileTypes)
			assert.Equal(t, tt.wantTrunc, opts.Truncate)
			assert.Equal(t, tt.wantMax, opts.MaxRecords)
		})
	}
}

func TestStartRunConflict(t *testing.T) {
	svc := newFakeService()
	svc.startErr = core.ErrRunInProgress
	s := NewServer(svc, testConfig(), prometheus.NewRegistry())

	rec := serve(t, s, http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "RUN001", decode[ErrorResponse](t, rec).Code)
}

func TestStartRunRequiresKey(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	svc := newFakeService()
	s := NewServer(svc, cfg, prometheus.NewRegistry())

	rec := serve(t, s, http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, s, http.MethodPost, "/api/runs", "", "X-API-Key", "secret")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Reads stay open.
	rec = serve(t, s, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRuns(t *testing.T) {
	svc := newFakeService()
	s := NewServer(svc, testConfig(), prometheus.NewRegistry())

	rec := serve(t, s, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"runs":[]`)

	id, err := svc.StartRun(context.Background(), core.LoadOptions{Trigger: core.TriggerCLI})
	require.NoError(t, err)

	rec = serve(t, s, http.MethodGet, "/api/runs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[core.Run](t, rec)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, core.RunRunning, run.State)

	rec = serve(t, s, http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RUN004", decode[ErrorResponse](t, rec).Code)
}
