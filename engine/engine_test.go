package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uirefine/archive"
	"github.com/hazyhaar/uirefine/dbopen"
	"github.com/hazyhaar/uirefine/evaluate"
	"github.com/hazyhaar/uirefine/feedback"
	"github.com/hazyhaar/uirefine/kit"
	"github.com/hazyhaar/uirefine/refine"
)

const page = `<html><body><h1>Title</h1><button>Go</button></body></html>`

type countingRenderer struct {
	mu       sync.Mutex
	starts   int
	stops    int
	loads    int
	startErr error
}

func (r *countingRenderer) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return r.startErr
}

func (r *countingRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *countingRenderer) Load(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	return nil
}

func (r *countingRenderer) CaptureScreenshot(context.Context, string) error { return nil }

func (r *countingRenderer) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var appendComment = refine.RefinerFunc(func(_ context.Context, markup string, _ *feedback.Snapshot, _ []string, _ refine.Requirements) (string, error) {
	return markup + "<!-- pass -->", nil
})

func newEngine(t *testing.T, r *countingRenderer, withArchive bool) *Engine {
	t.Helper()
	cfg := refine.DefaultConfig()
	cfg.QualityThreshold = 0.99
	ecfg := Config{
		Loop:        cfg,
		NewRenderer: func() refine.Renderer { return r },
		Refiner:     appendComment,
		Logger:      quietLogger(),
	}
	if withArchive {
		a, err := archive.New(archive.Config{DB: dbopen.OpenMemory(t), FlushInterval: time.Hour, Logger: quietLogger()})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { a.Close() })
		ecfg.Archive = a
	}
	e, err := New(ecfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_RejectsInvalidLoop(t *testing.T) {
	if _, err := New(Config{Loop: refine.Config{}}); err == nil {
		t.Fatal("expected error for zero max_iterations")
	}
}

func TestScore(t *testing.T) {
	e := newEngine(t, &countingRenderer{}, false)
	rep, err := e.Score(context.Background(), ScoreRequest{Markup: page})
	if err != nil {
		t.Fatal(err)
	}
	if rep.QualityScore <= 0 || rep.QualityScore > 1 {
		t.Errorf("score = %v", rep.QualityScore)
	}
	if len(rep.Elements) == 0 {
		t.Error("no elements extracted")
	}
	if _, err := e.Score(context.Background(), ScoreRequest{Markup: "  "}); !errors.Is(err, ErrNoMarkup) {
		t.Errorf("err = %v, want ErrNoMarkup", err)
	}
}

func TestRefine_ScopesRenderer(t *testing.T) {
	r := &countingRenderer{}
	e := newEngine(t, r, true)

	resp, err := e.Refine(context.Background(), RefineRequest{Markup: page, RunID: "run_fixed"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.RunID != "run_fixed" {
		t.Errorf("run id = %q", resp.RunID)
	}
	if resp.Result == nil || resp.Result.StopReason != refine.StopDiminishingReturns {
		t.Fatalf("result = %+v", resp.Result)
	}
	if resp.Summary.Iterations != 2 {
		t.Errorf("iterations = %d", resp.Summary.Iterations)
	}
	if r.starts != 1 || r.stops != 1 || r.loads != 2 {
		t.Errorf("starts=%d stops=%d loads=%d", r.starts, r.stops, r.loads)
	}

	run, err := e.Archive().Run(context.Background(), "run_fixed")
	if err != nil {
		t.Fatalf("archived run: %v", err)
	}
	if run.Iterations != 2 {
		t.Errorf("archived iterations = %d", run.Iterations)
	}
}

func TestRefine_MaxIterationsOverrideAndContextRunID(t *testing.T) {
	r := &countingRenderer{}
	e := newEngine(t, r, false)

	ctx := kit.WithRunID(context.Background(), "run_ctx")
	resp, err := e.Refine(ctx, RefineRequest{Markup: page, MaxIterations: 1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.RunID != "run_ctx" {
		t.Errorf("run id = %q", resp.RunID)
	}
	if resp.Result.StopReason != refine.StopMaxIterations || resp.Result.Markup != page {
		t.Errorf("result = %+v", resp.Result)
	}
}

func TestRefine_StartFailure(t *testing.T) {
	r := &countingRenderer{startErr: errors.New("no chrome")}
	e := newEngine(t, r, false)
	if _, err := e.Refine(context.Background(), RefineRequest{Markup: page}); err == nil {
		t.Fatal("expected error")
	}
	if r.loads != 0 {
		t.Errorf("loads = %d after failed start", r.loads)
	}
	if r.stops != 1 {
		t.Errorf("stops = %d after failed start, want 1", r.stops)
	}
}

func TestRefine_LogsLoads(t *testing.T) {
	r := &countingRenderer{}
	e := newEngine(t, r, false)
	var buf bytes.Buffer
	e.logger = slog.New(slog.NewTextHandler(&buf, nil))
	if _, err := e.Refine(context.Background(), RefineRequest{Markup: page, MaxIterations: 2}); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("loads=%d", r.Loads())
	if r.Loads() == 0 || !strings.Contains(buf.String(), want) {
		t.Fatalf("run log missing %s:\n%s", want, buf.String())
	}
}

func TestRefine_Validation(t *testing.T) {
	e := newEngine(t, &countingRenderer{}, false)
	if _, err := e.Refine(context.Background(), RefineRequest{}); !errors.Is(err, ErrNoMarkup) {
		t.Errorf("err = %v", err)
	}
	for _, id := range []string{"../escape", "run/1", "a b"} {
		if _, err := e.Refine(context.Background(), RefineRequest{Markup: page, RunID: id}); !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("run_id %q: err = %v, want ErrInvalidRunID", id, err)
		}
	}
	ctx := kit.WithRunID(context.Background(), "../ctx")
	if _, err := e.Refine(ctx, RefineRequest{Markup: page}); !errors.Is(err, ErrInvalidRunID) {
		t.Errorf("context run id: err = %v, want ErrInvalidRunID", err)
	}
	e.cfg.NewRenderer = nil
	if _, err := e.Refine(context.Background(), RefineRequest{Markup: page}); err == nil {
		t.Error("expected error without renderer")
	}
}

var testMCPImpl = &mcp.Implementation{Name: "uirefine-test", Version: "0.1.0"}

func mcpSession(t *testing.T, e *Engine) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	e.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_Tools(t *testing.T) {
	e := newEngine(t, &countingRenderer{}, true)
	session := mcpSession(t, e)

	var rep evaluate.Report
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "uirefine_score", map[string]any{"html": page})), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.QualityScore <= 0 {
		t.Errorf("score = %v", rep.QualityScore)
	}

	var resp RefineResponse
	text := mcpCallTool(t, session, "uirefine_refine", map[string]any{"html": page, "run_id": "run_mcp"})
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RunID != "run_mcp" || resp.Summary.Iterations != 2 {
		t.Errorf("refine = %+v", resp)
	}

	var runs struct {
		Runs []archive.Run `json:"runs"`
	}
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "uirefine_runs", map[string]any{})), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs.Runs) != 1 || runs.Runs[0].ID != "run_mcp" {
		t.Errorf("runs = %+v", runs.Runs)
	}
}

func TestMCP_ScoreWithoutMarkupIsToolError(t *testing.T) {
	session := mcpSession(t, newEngine(t, &countingRenderer{}, false))
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "uirefine_score",
		Arguments: map[string]any{"html": ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected tool error")
	}
}

func TestHTTP_Routes(t *testing.T) {
	e := newEngine(t, &countingRenderer{}, true)
	r := chi.NewRouter()
	e.Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	post := func(path string, body any) *http.Response {
		t.Helper()
		b, _ := json.Marshal(body)
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := post("/score", ScoreRequest{Markup: page})
	var rep evaluate.Report
	json.NewDecoder(resp.Body).Decode(&rep)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || rep.QualityScore <= 0 {
		t.Errorf("score: status %d, score %v", resp.StatusCode, rep.QualityScore)
	}

	resp = post("/score", ScoreRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty score: status %d", resp.StatusCode)
	}

	resp = post("/refine", RefineRequest{Markup: page, RunID: "run_http"})
	var out RefineResponse
	json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || out.RunID != "run_http" {
		t.Errorf("refine: status %d, run %q", resp.StatusCode, out.RunID)
	}

	bad, err := http.Post(srv.URL+"/refine", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json: status %d", bad.StatusCode)
	}

	get, err := http.Get(srv.URL + "/archive/runs/run_http")
	if err != nil {
		t.Fatal(err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Errorf("archive: status %d", get.StatusCode)
	}
}
