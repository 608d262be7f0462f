// Package jobs is a SQLite-backed queue of refinement jobs with a visibility
// timeout.
//
// A claimed job is hidden from other workers until its visibility window
// ends. A worker that finishes marks the job done or failed; a worker that
// dies leaves the job to reappear once the window passes, so another claim
// picks it up. Finished rows stay in the table as the job's status record
// until Cleanup removes them.
//
// Schema (applied by New):
//
//	CREATE TABLE IF NOT EXISTS refine_jobs (
//	    id         TEXT PRIMARY KEY,
//	    status     TEXT NOT NULL DEFAULT 'queued',
//	    payload    TEXT NOT NULL,
//	    result     TEXT,
//	    error      TEXT NOT NULL DEFAULT '',
//	    visible_at INTEGER NOT NULL DEFAULT 0,  -- ms since epoch
//	    attempts   INTEGER NOT NULL DEFAULT 0,
//	    created_at INTEGER NOT NULL,
//	    updated_at INTEGER NOT NULL
//	);
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/uirefine/dbopen"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("jobs: not found")

// Job statuses.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS refine_jobs (
    id         TEXT PRIMARY KEY,
    status     TEXT NOT NULL DEFAULT 'queued',
    payload    TEXT NOT NULL,
    result     TEXT,
    error      TEXT NOT NULL DEFAULT '',
    visible_at INTEGER NOT NULL DEFAULT 0,
    attempts   INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refine_jobs_claim ON refine_jobs(status, visible_at);
CREATE INDEX IF NOT EXISTS idx_refine_jobs_created ON refine_jobs(created_at DESC);
`

const jobColumns = `id, status, payload, result, error, attempts, created_at, updated_at`

// Job is a queued refinement request and, once finished, its outcome.
type Job struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"request,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// Finished reports whether the job reached a final status.
func (j Job) Finished() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

// Options configures a Queue.
type Options struct {
	// Visibility is how long a claimed job stays hidden. It should exceed
	// the longest expected run. Default: 10m.
	Visibility time.Duration
	// PollInterval is the delay between claim rounds in Run. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts bounds deliveries of one job; the job fails after that.
	// Default: 2.
	MaxAttempts int
	// Workers bounds concurrently processed jobs in Run. Default: 1.
	Workers int

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 2
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is the job queue handle. It is safe for concurrent use.
type Queue struct {
	db     *sql.DB
	opts   Options
	writes dbopen.Retry
	now    func() time.Time
}

// New applies the schema and returns a Queue on db.
func New(db *sql.DB, opts Options) (*Queue, error) {
	if db == nil {
		return nil, fmt.Errorf("jobs: DB is required")
	}
	opts.defaults()
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("jobs: schema: %w", err)
		}
	}
	return &Queue{db: db, opts: opts, writes: dbopen.Retry{Logger: opts.Logger}, now: time.Now}, nil
}

// Submit queues payload under id. The job is visible immediately.
func (q *Queue) Submit(ctx context.Context, id string, payload []byte) (Job, error) {
	now := q.now().UnixMilli()
	_, err := q.writes.Exec(ctx, q.db, "jobs: submit",
		`INSERT INTO refine_jobs (id, status, payload, visible_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, StatusQueued, string(payload), now, now, now)
	if err != nil {
		return Job{}, fmt.Errorf("jobs: submit %s: %w", id, err)
	}
	return Job{
		ID:        id,
		Status:    StatusQueued,
		Payload:   json.RawMessage(payload),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Claim picks the oldest visible job, hides it for the visibility window
// and returns it. A running job whose window has passed is visible again.
// It returns nil, nil when nothing is visible.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	now := q.now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()
	var j Job
	err := q.writes.Do(ctx, "jobs: claim", func() error {
		row := q.db.QueryRowContext(ctx, `
			UPDATE refine_jobs
			SET status = ?, visible_at = ?, attempts = attempts + 1, updated_at = ?
			WHERE id = (
				SELECT id FROM refine_jobs
				WHERE status IN (?, ?) AND visible_at <= ?
				ORDER BY visible_at ASC, created_at ASC
				LIMIT 1
			)
			RETURNING `+jobColumns,
			StatusRunning, hideUntil, now.UnixMilli(),
			StatusQueued, StatusRunning, now.UnixMilli(),
		)
		var err error
		j, err = scanJob(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: claim: %w", err)
	}
	return &j, nil
}

// Complete records result and marks the job done.
func (q *Queue) Complete(ctx context.Context, id string, result []byte) error {
	return q.finish(ctx, id, StatusDone, string(result), "")
}

// Fail records cause. The job is queued again while it has attempts left,
// and fails for good otherwise.
func (q *Queue) Fail(ctx context.Context, j *Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if j.Attempts >= q.opts.MaxAttempts {
		return q.finish(ctx, j.ID, StatusFailed, nil, msg)
	}
	now := q.now().UnixMilli()
	_, err := q.writes.Exec(ctx, q.db, "jobs: requeue",
		`UPDATE refine_jobs SET status = ?, visible_at = ?, error = ?, updated_at = ? WHERE id = ?`,
		StatusQueued, now, msg, now, j.ID)
	if err != nil {
		return fmt.Errorf("jobs: requeue %s: %w", j.ID, err)
	}
	return nil
}

// Release gives a claimed job back without counting the attempt, for
// workers that stop before finishing.
func (q *Queue) Release(ctx context.Context, id string) error {
	now := q.now().UnixMilli()
	_, err := q.writes.Exec(ctx, q.db, "jobs: release",
		`UPDATE refine_jobs SET status = ?, visible_at = 0, attempts = MAX(attempts - 1, 0), updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusQueued, now, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("jobs: release %s: %w", id, err)
	}
	return nil
}

// Extend pushes a running job's visibility window forward.
func (q *Queue) Extend(ctx context.Context, id string, extra time.Duration) error {
	_, err := q.writes.Exec(ctx, q.db, "jobs: extend",
		`UPDATE refine_jobs SET visible_at = ? WHERE id = ? AND status = ?`,
		q.now().Add(extra).UnixMilli(), id, StatusRunning)
	if err != nil {
		return fmt.Errorf("jobs: extend %s: %w", id, err)
	}
	return nil
}

func (q *Queue) finish(ctx context.Context, id, status string, result any, msg string) error {
	res, err := q.writes.Exec(ctx, q.db, "jobs: finish",
		`UPDATE refine_jobs SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, result, msg, q.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("jobs: finish %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one job.
func (q *Queue) Get(ctx context.Context, id string) (Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM refine_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("jobs: get %s: %w", id, err)
	}
	return j, nil
}

// List returns jobs, most recent first. An empty status lists all of them.
// Payloads and results are omitted.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, status, NULL, NULL, error, attempts, created_at, updated_at FROM refine_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs: list: %w", err)
	}
	defer rows.Close()
	out := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs: list: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Cleanup deletes finished jobs last updated before the retention window.
func (q *Queue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := q.now().Add(-retention).UnixMilli()
	res, err := q.writes.Exec(ctx, q.db, "jobs: cleanup",
		`DELETE FROM refine_jobs WHERE status IN (?, ?) AND updated_at < ?`,
		StatusDone, StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("jobs: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Handler processes a claimed job and returns the result to store.
type Handler func(ctx context.Context, j *Job) ([]byte, error)

// Run claims visible jobs and hands them to handler, at most Workers at a
// time. It blocks until ctx is done, then waits for in-flight handlers.
// Jobs interrupted by ctx are released for the next worker.
func (q *Queue) Run(ctx context.Context, handler Handler) {
	log := q.opts.Logger
	log.Info("jobs: worker started", "workers", q.opts.Workers, "visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	sem := make(chan struct{}, q.opts.Workers)
	var wg sync.WaitGroup
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info("jobs: worker stopped")
			return
		case <-ticker.C:
			q.fill(ctx, log, sem, &wg, handler)
		}
	}
}

// fill claims jobs until every worker slot is taken or nothing is visible.
func (q *Queue) fill(ctx context.Context, log *slog.Logger, sem chan struct{}, wg *sync.WaitGroup, handler Handler) {
	for {
		select {
		case sem <- struct{}{}:
		default:
			return
		}
		j, err := q.Claim(ctx)
		if err != nil || j == nil {
			<-sem
			if err != nil && ctx.Err() == nil {
				log.Warn("jobs: claim failed", "error", err)
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			q.process(ctx, log, j, handler)
		}()
	}
}

func (q *Queue) process(ctx context.Context, log *slog.Logger, j *Job, handler Handler) {
	// Writes after cancellation must still reach the table.
	wctx := context.WithoutCancel(ctx)
	if j.Attempts > q.opts.MaxAttempts {
		log.Warn("jobs: max attempts exceeded", "id", j.ID, "attempts", j.Attempts)
		if err := q.finish(wctx, j.ID, StatusFailed, nil, "max attempts exceeded"); err != nil {
			log.Error("jobs: mark failed", "id", j.ID, "error", err)
		}
		return
	}

	start := q.now()
	result, err := q.call(ctx, j, handler)
	switch {
	case ctx.Err() != nil:
		log.Info("jobs: released on shutdown", "id", j.ID)
		err = q.Release(wctx, j.ID)
	case err != nil:
		log.Warn("jobs: job failed", "id", j.ID, "attempts", j.Attempts, "error", err)
		err = q.Fail(wctx, j, err)
	default:
		log.Info("jobs: job done", "id", j.ID, "duration_ms", q.now().Sub(start).Milliseconds())
		err = q.Complete(wctx, j.ID, result)
	}
	if err != nil {
		log.Error("jobs: record outcome", "id", j.ID, "error", err)
	}
}

func (q *Queue) call(ctx context.Context, j *Job, handler Handler) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobs: handler panic: %v", r)
		}
	}()
	return handler(ctx, j)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (Job, error) {
	var (
		j       Job
		payload sql.NullString
		result  sql.NullString
	)
	if err := s.Scan(&j.ID, &j.Status, &payload, &result, &j.Error, &j.Attempts, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, err
	}
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	return j, nil
}
