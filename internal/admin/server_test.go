package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaguebot/internal/scheduler"
	"leaguebot/internal/storage"
	"leaguebot/pkg/logx"
)

type fakeQueue struct {
	posted int
	err    error
	calls  int
}

func (f *fakeQueue) PostQueued(context.Context, time.Time) (int, error) {
	f.calls++
	return f.posted, f.err
}

type fakeScheduler struct {
	scheduled int
	err       error
}

func (f *fakeScheduler) RefreshJobs(context.Context) (int, error) { return f.scheduled, f.err }

func (f *fakeScheduler) Tasks() []scheduler.TaskInfo {
	return []scheduler.TaskInfo{{Key: "system:cleanup", Kind: scheduler.KindSystem, Spec: "0 3 * * *"}}
}

type fakeRuns struct {
	limit int
}

func (f *fakeRuns) JobRuns(_ context.Context, jobID string, limit int) ([]storage.JobRun, error) {
	f.limit = limit
	return []storage.JobRun{{ID: "r1", JobID: jobID, Status: storage.RunFailed}}, nil
}

func (f *fakeRuns) JobFailures(context.Context) ([]storage.JobFailure, error) {
	return []storage.JobFailure{{JobID: "j1", LastError: "boom", Count: 2}}, nil
}

func do(t *testing.T, h http.Handler, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestFlushAndRefreshReturnCounts(t *testing.T) {
	t.Parallel()
	q := &fakeQueue{posted: 3}
	srv := New(Config{}, Deps{Queue: q, Scheduler: &fakeScheduler{scheduled: 5}}, logx.Nop())
	h := srv.Router(Config{})

	rec, body := do(t, h, http.MethodPost, "/admin/queue/flush", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["posted"])
	assert.Equal(t, 1, q.calls)

	rec, body = do(t, h, http.MethodPost, "/admin/jobs/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), body["scheduled"])
	assert.NotContains(t, body, "error")

	rec, _ = do(t, h, http.MethodGet, "/admin/queue/flush", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFlushErrorAndPartialRefresh(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, Deps{
		Queue:     &fakeQueue{posted: 1, err: errors.New("db down")},
		Scheduler: &fakeScheduler{scheduled: 2, err: errors.New("job x: invalid schedule")},
	}, logx.Nop())
	h := srv.Router(Config{})

	rec, body := do(t, h, http.MethodPost, "/admin/queue/flush", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, float64(1), body["posted"])

	rec, body = do(t, h, http.MethodPost, "/admin/jobs/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["scheduled"])
	assert.Contains(t, body["error"], "invalid schedule")
}

func TestAuth(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, Deps{Queue: &fakeQueue{}}, logx.Nop())
	h := srv.Router(Config{Token: "s3cret"})

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"health is open", "/healthz", "", http.StatusOK},
		{"missing token", "/admin/queue/flush", "", http.StatusUnauthorized},
		{"wrong token", "/admin/queue/flush", "nope", http.StatusUnauthorized},
		{"bearer token", "/admin/queue/flush", "s3cret", http.StatusOK},
		{"query token", "/admin/queue/flush?token=s3cret", "", http.StatusOK},
		{"metrics gated", "/metrics", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if !strings.HasPrefix(tt.path, "/admin") {
				method = http.MethodGet
			}
			rec, _ := do(t, h, method, tt.path, tt.token)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestReadEndpoints(t *testing.T) {
	t.Parallel()
	runs := &fakeRuns{}
	srv := New(Config{}, Deps{
		Scheduler: &fakeScheduler{},
		Runs:      runs,
		Status:    func() any { return map[string]any{"executor": map[string]int{"workers": 4}} },
	}, logx.Nop())
	h := srv.Router(Config{})

	rec, body := do(t, h, http.MethodGet, "/admin/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := body["tasks"].([]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "system:cleanup", tasks[0].(map[string]any)["key"])

	rec, body = do(t, h, http.MethodGet, "/admin/jobs/j9/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, runs.limit)
	assert.Equal(t, "j9", body["runs"].([]any)[0].(map[string]any)["job_id"])

	rec, _ = do(t, h, http.MethodGet, "/admin/jobs/j9/runs?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/admin/jobs/failures", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["failures"], 1)

	rec, body = do(t, h, http.MethodGet, "/admin/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "executor")
}

func TestMissingDepsAnswer503(t *testing.T) {
	t.Parallel()
	h := New(Config{}, Deps{}, logx.Nop()).Router(Config{})
	for _, p := range []string{"/admin/tasks", "/admin/jobs/failures", "/admin/status"} {
		rec, _ := do(t, h, http.MethodGet, p, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, p)
	}
	rec, _ := do(t, h, http.MethodPost, "/admin/queue/flush", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPprofIsOptional(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, Deps{}, logx.Nop())

	rec, _ := do(t, srv.Router(Config{}), http.MethodGet, "/debug/pprof/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, srv.Router(Config{Pprof: true}), http.MethodGet, "/debug/pprof/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8090": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8090":          false,
		"0.0.0.0:8090":   false,
		"10.0.0.5:8090":  false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	srv := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Queue: &fakeQueue{posted: 1}}, logx.Nop())
	srv.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Post("http://"+addr+"/admin/queue/flush", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Stop(ctx)
	assert.Empty(t, srv.Addr())
}

func TestInsecureBindRefused(t *testing.T) {
	t.Parallel()
	srv := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	srv.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, srv.Addr())
	srv.Stop(context.Background())
}
