package archive

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler serves the read API:
//
//	GET    /runs                  ?limit=&offset=
//	GET    /runs/{id}             run with its iterations
//	DELETE /runs/{id}
//	GET    /runs/{id}/iterations
//	GET    /metrics               ?name=&run_id=&limit=
//
// Mount it under a prefix with chi: r.Mount("/archive", a.Handler()).
func (a *Archive) Handler() http.Handler {
	r := chi.NewRouter()
	a.RegisterHTTP(r)
	return r
}

// RegisterHTTP registers the read API on r.
func (a *Archive) RegisterHTTP(r chi.Router) {
	r.Get("/runs", a.handleRuns)
	r.Get("/runs/{id}", a.handleRun)
	r.Delete("/runs/{id}", a.handleDelete)
	r.Get("/runs/{id}/iterations", a.handleIterations)
	r.Get("/metrics", a.handleMetrics)
}

func (a *Archive) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 500)
	offset := queryInt(r, "offset", 0, 0, 1<<30)
	runs, err := a.Runs(r.Context(), limit, offset)
	if err != nil {
		a.logger.Error("archive: list runs", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type runView struct {
	Run
	History []Iteration `json:"history"`
}

func (a *Archive) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.Run(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		jsonErr(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("archive: get run", "run_id", id, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	its, err := a.Iterations(r.Context(), id)
	if err != nil {
		a.logger.Error("archive: get iterations", "run_id", id, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runView{Run: run, History: its})
}

func (a *Archive) handleIterations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Run(r.Context(), id); errors.Is(err, ErrNotFound) {
		jsonErr(w, "run not found", http.StatusNotFound)
		return
	}
	its, err := a.Iterations(r.Context(), id)
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, its)
}

func (a *Archive) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.Delete(r.Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		jsonErr(w, "run not found", http.StatusNotFound)
	case err != nil:
		a.logger.Error("archive: delete run", "run_id", id, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *Archive) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(r, "limit", 200, 1, 5000)
	ms, err := a.metrics.Query(r.Context(), q.Get("name"), q.Get("run_id"), limit)
	if err != nil {
		a.logger.Error("archive: query metrics", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func queryInt(r *http.Request, key string, def, lo, hi int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
