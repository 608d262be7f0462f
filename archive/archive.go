// Package archive persists refinement runs in SQLite.
//
// An Archive is a refine.Observer: attach it to a Loop and every iteration
// and every run summary is written to refine_runs and refine_iterations,
// while the per-iteration scores are recorded as a timeseries in
// refine_metrics. The read side is exposed as Go methods and over HTTP.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/uirefine/dbopen"
	"github.com/hazyhaar/uirefine/feedback"
	"github.com/hazyhaar/uirefine/refine"
)

var _ refine.Observer = (*Archive)(nil)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("archive: not found")

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
)

const schema = `
CREATE TABLE IF NOT EXISTS refine_runs (
    id                  TEXT PRIMARY KEY,
    status              TEXT NOT NULL DEFAULT 'running',
    started_at          INTEGER NOT NULL,
    finished_at         INTEGER,
    iterations          INTEGER NOT NULL DEFAULT 0,
    initial_quality     REAL NOT NULL DEFAULT 0,
    final_quality       REAL NOT NULL DEFAULT 0,
    quality_improvement REAL NOT NULL DEFAULT 0,
    average_improvement REAL NOT NULL DEFAULT 0,
    trend               TEXT NOT NULL DEFAULT '',
    stop_reason         TEXT NOT NULL DEFAULT '',
    recommendations     TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_refine_runs_started ON refine_runs(started_at DESC);
CREATE TABLE IF NOT EXISTS refine_iterations (
    run_id          TEXT NOT NULL REFERENCES refine_runs(id) ON DELETE CASCADE,
    iteration       INTEGER NOT NULL,
    quality_score   REAL NOT NULL,
    should_continue INTEGER NOT NULL,
    stop_reason     TEXT NOT NULL DEFAULT '',
    markup          TEXT NOT NULL,
    snapshot        TEXT NOT NULL,
    improvements    TEXT NOT NULL DEFAULT '[]',
    regressions     TEXT NOT NULL DEFAULT '[]',
    created_at      INTEGER NOT NULL,
    PRIMARY KEY (run_id, iteration)
);
CREATE TABLE IF NOT EXISTS refine_metrics (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    name      TEXT NOT NULL,
    run_id    TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    value     REAL NOT NULL,
    ts        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refine_metrics_name_ts ON refine_metrics(name, ts DESC);
CREATE INDEX IF NOT EXISTS idx_refine_metrics_run ON refine_metrics(run_id, iteration);
`

// Config configures an Archive.
type Config struct {
	DB *sql.DB

	// MetricsBuffer is the number of datapoints buffered before a flush.
	// Default: 100.
	MetricsBuffer int
	// FlushInterval is the maximum delay before buffered metrics are
	// written. Default: 5s.
	FlushInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MetricsBuffer <= 0 {
		c.MetricsBuffer = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Run is an archived run.
type Run struct {
	ID                 string   `json:"id"`
	Status             string   `json:"status"`
	StartedAt          int64    `json:"started_at"`
	FinishedAt         *int64   `json:"finished_at,omitempty"`
	Iterations         int      `json:"iterations"`
	InitialQuality     float64  `json:"initial_quality"`
	FinalQuality       float64  `json:"final_quality"`
	QualityImprovement float64  `json:"quality_improvement"`
	AverageImprovement float64  `json:"average_improvement"`
	Trend              string   `json:"trend"`
	StopReason         string   `json:"stop_reason"`
	Recommendations    []string `json:"recommendations"`
}

// Iteration is an archived iteration.
type Iteration struct {
	RunID          string             `json:"run_id"`
	Iteration      int                `json:"iteration"`
	QualityScore   float64            `json:"quality_score"`
	ShouldContinue bool               `json:"should_continue"`
	StopReason     string             `json:"stop_reason"`
	Markup         string             `json:"html_content"`
	Snapshot       *feedback.Snapshot `json:"snapshot"`
	Improvements   []string           `json:"improvements"`
	Regressions    []string           `json:"regressions"`
	CreatedAt      int64              `json:"created_at"`
}

// Archive stores runs in SQLite.
type Archive struct {
	db      *sql.DB
	writes  dbopen.Retry
	logger  *slog.Logger
	metrics *Recorder
	now     func() time.Time
}

// New applies the schema and starts the metrics recorder.
func New(cfg Config) (*Archive, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("archive: DB is required")
	}
	cfg.defaults()
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := cfg.DB.Exec(stmt); err != nil {
			return nil, fmt.Errorf("archive: schema: %w", err)
		}
	}
	return &Archive{
		db:      cfg.DB,
		writes:  dbopen.Retry{Logger: cfg.Logger},
		logger:  cfg.Logger,
		metrics: NewRecorder(cfg.DB, cfg.MetricsBuffer, cfg.FlushInterval, cfg.Logger),
		now:     time.Now,
	}, nil
}

// Metrics returns the archive's metrics recorder.
func (a *Archive) Metrics() *Recorder { return a.metrics }

// Close flushes pending metrics. It does not close the database.
func (a *Archive) Close() error {
	return a.metrics.Close()
}

// OnIteration records one iteration and its metrics.
func (a *Archive) OnIteration(ctx context.Context, runID string, res refine.IterationResult) error {
	if res.Snapshot == nil {
		return fmt.Errorf("archive: iteration without snapshot")
	}
	snap, err := json.Marshal(res.Snapshot)
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}
	now := a.now().UnixMilli()

	err = a.writes.Tx(ctx, a.db, "archive: record iteration", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO refine_runs (id, status, started_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			runID, StatusRunning, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO refine_iterations
			 (run_id, iteration, quality_score, should_continue, stop_reason, markup, snapshot, improvements, regressions, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, res.Snapshot.Iteration, res.Snapshot.QualityScore, res.ShouldContinue, string(res.StopReason),
			res.Markup, string(snap), jsonList(res.Improvements), jsonList(res.Regressions), now)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive: record iteration: %w", err)
	}
	a.metrics.RecordSnapshot(runID, res.Snapshot)
	return nil
}

// OnComplete records the run summary.
func (a *Archive) OnComplete(ctx context.Context, runID string, sum refine.Summary) error {
	now := a.now().UnixMilli()
	_, err := a.writes.Exec(ctx, a.db, "archive: record run",
		`INSERT INTO refine_runs
		 (id, status, started_at, finished_at, iterations, initial_quality, final_quality,
		  quality_improvement, average_improvement, trend, stop_reason, recommendations)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		  status = excluded.status,
		  finished_at = excluded.finished_at,
		  iterations = excluded.iterations,
		  initial_quality = excluded.initial_quality,
		  final_quality = excluded.final_quality,
		  quality_improvement = excluded.quality_improvement,
		  average_improvement = excluded.average_improvement,
		  trend = excluded.trend,
		  stop_reason = excluded.stop_reason,
		  recommendations = excluded.recommendations`,
		runID, StatusFinished, now, now, sum.Iterations, sum.InitialQuality, sum.FinalQuality,
		sum.QualityImprovement, sum.AverageImprovement, string(sum.ImprovementTrend), string(sum.StopReason),
		jsonList(sum.Recommendations))
	if err != nil {
		return fmt.Errorf("archive: record summary: %w", err)
	}
	a.logger.Debug("archive: run recorded", "run_id", runID, "iterations", sum.Iterations)
	return nil
}

const runColumns = `id, status, started_at, finished_at, iterations, initial_quality, final_quality,
	quality_improvement, average_improvement, trend, stop_reason, recommendations`

// Runs lists runs, most recent first.
func (a *Archive) Runs(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM refine_runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("archive: list runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run returns one run or ErrNotFound.
func (a *Archive) Run(ctx context.Context, id string) (Run, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM refine_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// Iterations returns the iterations of a run in order.
func (a *Archive) Iterations(ctx context.Context, runID string) ([]Iteration, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT run_id, iteration, quality_score, should_continue, stop_reason, markup, snapshot,
		        improvements, regressions, created_at
		 FROM refine_iterations WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("archive: list iterations: %w", err)
	}
	defer rows.Close()

	out := []Iteration{}
	for rows.Next() {
		var (
			it                      Iteration
			snap, improved, regress string
		)
		if err := rows.Scan(&it.RunID, &it.Iteration, &it.QualityScore, &it.ShouldContinue, &it.StopReason,
			&it.Markup, &snap, &improved, &regress, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("archive: scan iteration: %w", err)
		}
		it.Snapshot = &feedback.Snapshot{}
		if err := json.Unmarshal([]byte(snap), it.Snapshot); err != nil {
			return nil, fmt.Errorf("archive: decode snapshot %s/%d: %w", it.RunID, it.Iteration, err)
		}
		it.Improvements = parseList(improved)
		it.Regressions = parseList(regress)
		out = append(out, it)
	}
	return out, rows.Err()
}

// Delete removes a run, its iterations and its metrics.
func (a *Archive) Delete(ctx context.Context, id string) error {
	return a.writes.Tx(ctx, a.db, "archive: delete", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM refine_runs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("archive: delete run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM refine_iterations WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("archive: delete iterations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM refine_metrics WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("archive: delete metrics: %w", err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r        Run
		finished sql.NullInt64
		recs     string
	)
	err := s.Scan(&r.ID, &r.Status, &r.StartedAt, &finished, &r.Iterations, &r.InitialQuality, &r.FinalQuality,
		&r.QualityImprovement, &r.AverageImprovement, &r.Trend, &r.StopReason, &recs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("archive: scan run: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Int64
	}
	r.Recommendations = parseList(recs)
	return r, nil
}

func jsonList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseList(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	json.Unmarshal([]byte(s), &out)
	return out
}
