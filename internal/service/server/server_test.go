package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/audit"
	"github.com/nolabel/model-localizer/internal/domain"
	"github.com/nolabel/model-localizer/internal/layout"
	"github.com/nolabel/model-localizer/internal/service/jobs"
	"github.com/nolabel/model-localizer/internal/service/pruner"
	"github.com/nolabel/model-localizer/internal/service/scanner"
	"github.com/nolabel/model-localizer/internal/usage"
	"github.com/nolabel/model-localizer/internal/workflow"
)

// fixture wires a full server against temp storage. The job worker is
// not started, so submitted jobs stay queued.
type fixture struct {
	server      *Server
	localRoot   string
	networkRoot string
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	dir := t.TempDir()

	localRoot := filepath.Join(dir, "local")
	networkRoot := filepath.Join(dir, "network")
	for _, root := range []string{localRoot, networkRoot} {
		if err := os.MkdirAll(filepath.Join(root, "checkpoints"), 0o755); err != nil {
			t.Fatalf("failed to create category dir: %v", err)
		}
	}
	lay := &layout.Layout{
		LocalRoot:         localRoot,
		NetworkRoot:       networkRoot,
		LocalCategories:   map[string]string{"checkpoints": "checkpoints"},
		NetworkCategories: map[string]string{"checkpoints": "checkpoints"},
	}

	logger := zap.NewNop()
	usageStore := usage.NewStore(filepath.Join(dir, "usage.json"))
	auditLog := audit.New(filepath.Join(dir, "audit.log"))

	loadLayout := func() (*layout.Layout, error) { return lay, nil }
	prunerService := pruner.New(pruner.LayoutLoader(loadLayout), usageStore, auditLog, logger)
	scannerService := scanner.New(scanner.LayoutLoader(loadLayout), usageStore, logger)
	jobManager := jobs.New(nil, jobs.LayoutLoader(loadLayout), usageStore, auditLog, prunerService, logger)
	workflowStore := workflow.NewStore(filepath.Join(dir, "state"))

	srv := New(cfg, Deps{
		LoadLayout: loadLayout,
		Usage:      usageStore,
		Audit:      auditLog,
		Scanner:    scannerService,
		Jobs:       jobManager,
		Pruner:     prunerService,
		Workflow:   workflowStore,
	}, logger)

	return &fixture{server: srv, localRoot: localRoot, networkRoot: networkRoot}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.server.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("health body = %s", rec.Body.String())
	}
}

func TestServer_Scan(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(f.networkRoot, "checkpoints", "model.safetensors")
	if err := os.WriteFile(path, make([]byte, 64), 0o644); err != nil {
		t.Fatalf("failed to seed network file: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/scan", `{"candidates":["model.safetensors"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/scan = %d: %s", rec.Code, rec.Body.String())
	}

	var result scanner.ScanResult
	decode(t, rec, &result)
	if len(result.Items) != 1 {
		t.Fatalf("scan matched %d items, want 1", len(result.Items))
	}
	if result.Items[0].Status != domain.StatusMissingLocal {
		t.Errorf("status = %q, want missing_local", result.Items[0].Status)
	}
}

func TestServer_ScanRejectsBadBody(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/scan", "{oops")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /api/v1/scan with bad body = %d, want 400", rec.Code)
	}
}

func TestServer_LocalizeAndJobStatus(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/localize",
		`{"items":[{"category":"checkpoints","relpath":"model.safetensors"}],"overwrite":false}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/localize = %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		JobID string `json:"job_id"`
	}
	decode(t, rec, &created)
	if created.JobID == "" {
		t.Fatal("no job_id in response")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET job status = %d", rec.Code)
	}
	var job jobView
	decode(t, rec, &job)
	if job.State != domain.JobQueued {
		t.Errorf("State = %q, want queued (worker not running)", job.State)
	}

	// The queued job is the active one.
	rec = f.do(t, http.MethodGet, "/api/v1/jobs/active", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET active job = %d", rec.Code)
	}
	var active struct {
		Job *jobView `json:"job"`
	}
	decode(t, rec, &active)
	if active.Job == nil || active.Job.ID != created.JobID {
		t.Errorf("active job = %+v, want %s", active.Job, created.JobID)
	}

	// Cancel is accepted for a known job.
	rec = f.do(t, http.MethodPost, "/api/v1/jobs/"+created.JobID+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Errorf("POST cancel = %d, want 200", rec.Code)
	}
}

func TestServer_JobStatusUnknown(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/v1/jobs/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown job = %d, want 404", rec.Code)
	}
}

func TestServer_LocalizeRejectsEmptyItems(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/localize", `{"items":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /api/v1/localize with no items = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/upload", `{"items":[{"category":"","relpath":"x"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /api/v1/upload with blank category = %d, want 400", rec.Code)
	}
}

func TestServer_Delete(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(f.localRoot, "checkpoints", "model.safetensors")
	if err := os.WriteFile(path, make([]byte, 64), 0o644); err != nil {
		t.Fatalf("failed to seed local file: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/delete",
		`{"items":[{"category":"checkpoints","relpath":"model.safetensors"},{"category":"checkpoints","relpath":"absent.safetensors"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/delete = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []deleteResult `json:"results"`
	}
	decode(t, rec, &resp)
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if !resp.Results[0].Deleted {
		t.Errorf("first item not deleted: %+v", resp.Results[0])
	}
	if resp.Results[1].Deleted || resp.Results[1].Error == "" {
		t.Errorf("absent item should fail: %+v", resp.Results[1])
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still on disk after delete")
	}
}

func TestServer_Settings(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/settings = %d", rec.Code)
	}
	var settings domain.Settings
	decode(t, rec, &settings)
	if settings.AutoDeleteEnabled {
		t.Error("AutoDeleteEnabled default = true, want false")
	}

	rec = f.do(t, http.MethodPost, "/api/v1/settings",
		`{"auto_delete_enabled":true,"max_cache_bytes":1024}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/settings = %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &settings)
	if !settings.AutoDeleteEnabled || settings.MaxCacheBytes != 1024 {
		t.Errorf("settings = %+v, want updated values", settings)
	}
}

func TestServer_Prune(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(f.localRoot, "checkpoints", "model.safetensors")
	if err := os.WriteFile(path, make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("failed to seed local file: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/prune", `{"max_cache_bytes":1024}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/prune = %d: %s", rec.Code, rec.Body.String())
	}
	var result domain.PruneResult
	decode(t, rec, &result)
	if len(result.Removed) != 1 {
		t.Errorf("removed %d items, want 1", len(result.Removed))
	}
}

func TestServer_MissingLayoutIsBadRequest(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()
	usageStore := usage.NewStore(filepath.Join(dir, "usage.json"))
	auditLog := audit.New(filepath.Join(dir, "audit.log"))
	loadLayout := func() (*layout.Layout, error) {
		return nil, fmt.Errorf("%w: %s", domain.ErrLayoutNotFound, filepath.Join(dir, "storage_layout.yaml"))
	}
	prunerService := pruner.New(pruner.LayoutLoader(loadLayout), usageStore, auditLog, logger)
	scannerService := scanner.New(scanner.LayoutLoader(loadLayout), usageStore, logger)
	jobManager := jobs.New(nil, jobs.LayoutLoader(loadLayout), usageStore, auditLog, prunerService, logger)

	f := &fixture{server: New(nil, Deps{
		LoadLayout: loadLayout,
		Usage:      usageStore,
		Audit:      auditLog,
		Scanner:    scannerService,
		Jobs:       jobManager,
		Pruner:     prunerService,
		Workflow:   workflow.NewStore(filepath.Join(dir, "state")),
	}, logger)}

	cases := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/v1/scan", `{"candidates":["model.safetensors"]}`},
		{http.MethodGet, "/api/v1/cache", ""},
		{http.MethodPost, "/api/v1/delete", `{"items":[{"category":"checkpoints","relpath":"model.safetensors"}]}`},
		{http.MethodPost, "/api/v1/prune", `{"max_cache_bytes":1}`},
	}
	for _, tc := range cases {
		rec := f.do(t, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s with missing layout = %d, want 400", tc.method, tc.path, rec.Code)
		}
	}
}

func TestServer_Log(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/v1/log", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/log = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestServer_ShotPath(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/shotpath",
		`{"shot_folder":"show/SHOT_010","base_name":"comp","version_int":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/shotpath = %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		FileName string `json:"file_name"`
	}
	decode(t, rec, &result)
	if result.FileName != "comp_v003" {
		t.Errorf("file_name = %q, want comp_v003", result.FileName)
	}
}

func TestServer_WorkflowContextRoundTrip(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/workflow/context", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET context before populate = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/workflow/context",
		`{"project":"demo","scene":"sc","shot":"SHOT_010","width":1920,"height":1080,"fps":24,"project_path":"demo/sc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST context = %d: %s", rec.Code, rec.Body.String())
	}
	var ctx workflow.Context
	decode(t, rec, &ctx)
	if ctx.WorkflowID == "" {
		t.Fatal("no workflow_id in populated context")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/workflow/context?workflow_id="+ctx.WorkflowID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET context = %d", rec.Code)
	}

	// Commit it and read the history back.
	rec = f.do(t, http.MethodPost, "/api/v1/workflow/history", `{"workflow_id":"`+ctx.WorkflowID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST history = %d: %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/api/v1/workflow/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET history = %d", rec.Code)
	}
	var history struct {
		Items []workflow.HistoryEntry `json:"items"`
	}
	decode(t, rec, &history)
	if len(history.Items) != 1 || history.Items[0].Project != "demo" {
		t.Errorf("history = %+v, want one demo entry", history.Items)
	}
}

func TestServer_BasicAuth(t *testing.T) {
	f := newFixture(t, &Config{
		BindAddr:     "127.0.0.1:0",
		EnableAuth:   true,
		AuthUsername: "admin",
		AuthPassword: "secret",
	})

	rec := f.do(t, http.MethodGet, "/api/v1/settings", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated request = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.SetBasicAuth("admin", "wrong")
	wrong := httptest.NewRecorder()
	f.server.server.Handler.ServeHTTP(wrong, req)
	if wrong.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", wrong.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	f.server.server.Handler.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Errorf("authenticated request = %d, want 200", ok.Code)
	}

	// Health stays open.
	rec = f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health with auth enabled = %d, want 200", rec.Code)
	}
}
