package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/uirefine/archive"
	"github.com/hazyhaar/uirefine/dbopen"
	"github.com/hazyhaar/uirefine/jobs"
	"github.com/hazyhaar/uirefine/refine"
)

func newJobsEngine(t *testing.T) *Engine {
	t.Helper()
	db := dbopen.OpenMemory(t)
	a, err := archive.New(archive.Config{DB: db, FlushInterval: time.Hour, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	q, err := jobs.New(db, jobs.Options{PollInterval: 10 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	cfg := refine.DefaultConfig()
	cfg.QualityThreshold = 0.99
	r := &countingRenderer{}
	e, err := New(Config{
		Loop:        cfg,
		NewRenderer: func() refine.Renderer { return r },
		Refiner:     appendComment,
		Archive:     a,
		Jobs:        q,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func waitJob(t *testing.T, e *Engine, id string) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := e.Job(context.Background(), id)
		if err == nil && j.Finished() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return jobs.Job{}
}

func TestJobs_WithoutQueue(t *testing.T) {
	e := newEngine(t, &countingRenderer{}, false)
	ctx := context.Background()
	if _, err := e.Submit(ctx, RefineRequest{Markup: page}); !errors.Is(err, ErrNoQueue) {
		t.Errorf("Submit err = %v", err)
	}
	if _, err := e.Job(ctx, "x"); !errors.Is(err, ErrNoQueue) {
		t.Errorf("Job err = %v", err)
	}
	e.RunJobs(ctx) // returns at once
}

func TestJobs_SubmitValidation(t *testing.T) {
	e := newJobsEngine(t)
	ctx := context.Background()
	if _, err := e.Submit(ctx, RefineRequest{}); !errors.Is(err, ErrNoMarkup) {
		t.Errorf("err = %v", err)
	}
	if _, err := e.Submit(ctx, RefineRequest{Markup: page, RunID: "../x"}); !errors.Is(err, ErrInvalidRunID) {
		t.Errorf("err = %v", err)
	}
	j, err := e.Submit(ctx, RefineRequest{Markup: page})
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != jobs.StatusQueued || len(j.ID) < 5 || j.ID[:4] != "run_" {
		t.Errorf("job = %+v", j)
	}
}

func TestJobs_RunArchivesUnderJobID(t *testing.T) {
	e := newJobsEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.RunJobs(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if _, err := e.Submit(context.Background(), RefineRequest{Markup: page, RunID: "run_job1"}); err != nil {
		t.Fatal(err)
	}
	j := waitJob(t, e, "run_job1")
	if j.Status != jobs.StatusDone {
		t.Fatalf("job = %+v", j)
	}
	var resp RefineResponse
	if err := json.Unmarshal(j.Result, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RunID != "run_job1" || resp.Summary.Iterations != 2 {
		t.Errorf("result = %+v", resp)
	}
	if _, err := e.Archive().Run(context.Background(), "run_job1"); err != nil {
		t.Errorf("archived run: %v", err)
	}
}

func TestJobs_HTTP(t *testing.T) {
	e := newJobsEngine(t)
	r := chi.NewRouter()
	e.Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	b, _ := json.Marshal(RefineRequest{Markup: page, RunID: "run_http_job"})
	resp, err := http.Post(srv.URL+"/jobs", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	var j jobs.Job
	json.NewDecoder(resp.Body).Decode(&j)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || j.ID != "run_http_job" {
		t.Fatalf("submit: status %d, job %+v", resp.StatusCode, j)
	}
	if loc := resp.Header.Get("Location"); loc != "/jobs/run_http_job" {
		t.Errorf("Location = %q", loc)
	}

	get := func(path string) (int, []byte) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return resp.StatusCode, buf.Bytes()
	}

	code, body := get("/jobs/run_http_job")
	if code != http.StatusOK || !bytes.Contains(body, []byte(`"status":"queued"`)) {
		t.Errorf("get: %d %s", code, body)
	}
	if code, _ := get("/jobs/missing"); code != http.StatusNotFound {
		t.Errorf("missing: status %d", code)
	}
	code, body = get("/jobs?status=queued")
	if code != http.StatusOK || !bytes.Contains(body, []byte("run_http_job")) {
		t.Errorf("list: %d %s", code, body)
	}
	if code, _ := get("/jobs?limit=0"); code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", code)
	}

	resp, err = http.Post(srv.URL+"/jobs", "application/json", bytes.NewReader([]byte(`{"html":""}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty html: status %d", resp.StatusCode)
	}
}

func TestJobs_MCP(t *testing.T) {
	e := newJobsEngine(t)
	session := mcpSession(t, e)

	var j jobs.Job
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "uirefine_submit", map[string]any{"html": page, "run_id": "run_mcp_job"})), &j); err != nil {
		t.Fatal(err)
	}
	if j.ID != "run_mcp_job" || j.Status != jobs.StatusQueued {
		t.Fatalf("submit = %+v", j)
	}
	var got jobs.Job
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "uirefine_job", map[string]any{"id": "run_mcp_job"})), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "run_mcp_job" || got.Status != jobs.StatusQueued {
		t.Errorf("job = %+v", got)
	}
}
