package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/uirefine/jobs"
	"github.com/hazyhaar/uirefine/kit"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Routes mounts the HTTP API on r:
//
//	POST /score
//	POST /refine
//	POST /jobs          when a queue is attached
//	GET  /jobs
//	GET  /jobs/{id}
//	     /archive/...   when an archive is attached
func (e *Engine) Routes(r chi.Router) {
	r.Post("/score", e.handleScore)
	r.Post("/refine", e.handleRefine)
	if e.cfg.Jobs != nil {
		r.Post("/jobs", e.handleSubmit)
		r.Get("/jobs", e.handleJobs)
		r.Get("/jobs/{id}", e.handleJob)
	}
	if e.cfg.Archive != nil {
		r.Mount("/archive", e.cfg.Archive.Handler())
	}
}

func (e *Engine) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := kit.WithTransport(r.Context(), "http")
	resp, err := e.middleware("score")(func(ctx context.Context, req any) (any, error) {
		return e.Score(ctx, req.(ScoreRequest))
	})(ctx, req)
	e.respond(w, resp, err)
}

func (e *Engine) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req RefineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := kit.WithTransport(r.Context(), "http")
	resp, err := e.middleware("refine")(func(ctx context.Context, req any) (any, error) {
		return e.Refine(ctx, req.(RefineRequest))
	})(ctx, req)
	e.respond(w, resp, err)
}

func (e *Engine) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req RefineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := kit.WithTransport(r.Context(), "http")
	j, err := e.Submit(ctx, req)
	if err != nil {
		e.respond(w, nil, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/jobs/"+j.ID)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(j)
}

func (e *Engine) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			jsonErr(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := e.Jobs(r.Context(), r.URL.Query().Get("status"), limit)
	e.respond(w, map[string]any{"jobs": list}, err)
}

func (e *Engine) handleJob(w http.ResponseWriter, r *http.Request) {
	j, err := e.Job(r.Context(), chi.URLParam(r, "id"))
	e.respond(w, j, err)
}

func (e *Engine) respond(w http.ResponseWriter, resp any, err error) {
	switch {
	case errors.Is(err, ErrNoMarkup), errors.Is(err, ErrInvalidRunID):
		jsonErr(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, jobs.ErrNotFound):
		jsonErr(w, err.Error(), http.StatusNotFound)
	case err != nil:
		jsonErr(w, err.Error(), http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonErr(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
