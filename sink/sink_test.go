package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/uirefine/compare"
	"github.com/hazyhaar/uirefine/feedback"
	"github.com/hazyhaar/uirefine/refine"
)

func result(iteration int) refine.IterationResult {
	return refine.IterationResult{
		Snapshot:       &feedback.Snapshot{Iteration: iteration, QualityScore: 0.5},
		Markup:         "<p>x</p>",
		ShouldContinue: true,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	ctx := context.Background()
	if err := s.OnIteration(ctx, "run_1", result(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.OnComplete(ctx, "run_1", refine.Summary{Iterations: 1, ImprovementTrend: compare.TrendInsufficientData}); err != nil {
		t.Fatal(err)
	}

	sc := bufio.NewScanner(&buf)
	var types []string
	for sc.Scan() {
		var e struct {
			Type  string          `json:"type"`
			RunID string          `json:"run_id"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		if e.RunID != "run_1" {
			t.Errorf("run_id = %q", e.RunID)
		}
		types = append(types, e.Type)
		if e.Type == TypeIteration && !bytes.Contains(e.Data, []byte(`"html_content":"<p>x</p>"`)) {
			t.Errorf("iteration data: %s", e.Data)
		}
	}
	if len(types) != 2 || types[0] != TypeIteration || types[1] != TypeSummary {
		t.Fatalf("types = %v", types)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Uirefine-Event") != TypeIteration {
			t.Errorf("event header = %q", r.Header.Get("X-Uirefine-Event"))
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quietLogger()))
	if err := w.OnIteration(context.Background(), "run_1", result(1)); err != nil {
		t.Fatalf("OnIteration: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(2), WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quietLogger()))
	err := w.OnComplete(context.Background(), "run_1", refine.Summary{})
	if err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestWebhook_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Hour), WithWebhookLogger(quietLogger()))
	done := make(chan error, 1)
	go func() { done <- w.OnComplete(ctx, "run_1", refine.Summary{}) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook ignored cancellation")
	}
}

type failing struct{ Callback }

func (failing) OnIteration(context.Context, string, refine.IterationResult) error {
	return errors.New("down")
}

func TestRouter_FanOut(t *testing.T) {
	var got []int
	cb := NewCallback(func(_ context.Context, _ string, res refine.IterationResult) error {
		got = append(got, res.Iteration())
		return nil
	}, nil)

	r := NewRouter(quietLogger(), &failing{}, cb)
	err := r.OnIteration(context.Background(), "run_1", result(2))
	if err == nil || err.Error() != "down" {
		t.Fatalf("err = %v", err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("callback not reached after a failing sink: %v", got)
	}
	if err := r.OnComplete(context.Background(), "run_1", refine.Summary{}); err != nil {
		t.Fatalf("OnComplete: %v", err)
	}
	r.Add(NewStdout(io.Discard))
	if r.Len() != 3 {
		t.Errorf("len = %d", r.Len())
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRouter_AsLoopObserver(t *testing.T) {
	var buf bytes.Buffer
	r := NewRouter(quietLogger(), NewStdout(&buf))
	l, err := refine.New(func() refine.Config {
		c := refine.DefaultConfig()
		c.MaxIterations = 1
		return c
	}(), nopRenderer{}, nil, refine.WithObserver(r), refine.WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	l.Run(context.Background(), "<button>Go</button>", nil)
	if n := bytes.Count(buf.Bytes(), []byte("\n")); n != 2 {
		t.Fatalf("lines = %d, want iteration + summary", n)
	}
}

type nopRenderer struct{}

func (nopRenderer) Start(context.Context) error                     { return nil }
func (nopRenderer) Stop() error                                     { return nil }
func (nopRenderer) Load(context.Context, string) error              { return nil }
func (nopRenderer) CaptureScreenshot(context.Context, string) error { return nil }
