package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/uirefine/dbopen"
	"github.com/hazyhaar/uirefine/feedback"
)

// Metric names recorded for every iteration.
const (
	MetricQualityScore       = "quality_score"
	MetricSpacingConsistency = "spacing_consistency"
	MetricAlignmentScore     = "alignment_score"
	MetricVisualHierarchy    = "visual_hierarchy"
	MetricWhitespaceBalance  = "whitespace_balance"
	MetricGridConsistency    = "grid_consistency"
	MetricColorContrast      = "color_contrast_score"
	MetricIssueCount         = "issue_count"
)

// Metric is one timeseries datapoint.
type Metric struct {
	Name      string    `json:"name"`
	RunID     string    `json:"run_id"`
	Iteration int       `json:"iteration"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder buffers metrics and writes them to refine_metrics in batches,
// when the buffer fills up or on every flush interval. Persistence never
// blocks the loop: failed batches are logged and dropped.
type Recorder struct {
	db            *sql.DB
	writes        dbopen.Retry
	logger        *slog.Logger
	bufferSize    int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []Metric

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRecorder starts a Recorder.
func NewRecorder(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		db:            db,
		writes:        dbopen.Retry{Logger: logger},
		logger:        logger,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Record queues a datapoint.
func (r *Recorder) Record(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, m)
	if len(r.buffer) >= r.bufferSize {
		r.flushLocked()
	}
}

// RecordSnapshot queues the scores of one snapshot.
func (r *Recorder) RecordSnapshot(runID string, snap *feedback.Snapshot) {
	if snap == nil {
		return
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	add := func(name string, v float64) {
		r.Record(Metric{Name: name, RunID: runID, Iteration: snap.Iteration, Value: v, Timestamp: ts})
	}
	add(MetricQualityScore, snap.QualityScore)
	add(MetricIssueCount, float64(len(snap.Issues)))
	if l := snap.Layout; l != nil {
		add(MetricSpacingConsistency, l.SpacingConsistency)
		add(MetricAlignmentScore, l.AlignmentScore)
		add(MetricVisualHierarchy, l.VisualHierarchy)
		add(MetricWhitespaceBalance, l.WhitespaceBalance)
		add(MetricGridConsistency, l.GridConsistency)
	}
	if a := snap.Accessibility; a != nil {
		add(MetricColorContrast, a.ColorContrastScore)
	}
}

// Flush writes buffered datapoints now.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Pending reports how many datapoints are buffered.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Query returns datapoints, most recent first. Empty name or runID match
// everything.
func (r *Recorder) Query(ctx context.Context, name, runID string, limit int) ([]Metric, error) {
	q := `SELECT name, run_id, iteration, value, ts FROM refine_metrics WHERE 1=1`
	args := make([]any, 0, 3)
	if name != "" {
		q += ` AND name = ?`
		args = append(args, name)
	}
	if runID != "" {
		q += ` AND run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY ts DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: query metrics: %w", err)
	}
	defer rows.Close()

	out := []Metric{}
	for rows.Next() {
		var (
			m  Metric
			ts int64
		)
		if err := rows.Scan(&m.Name, &m.RunID, &m.Iteration, &m.Value, &ts); err != nil {
			return nil, fmt.Errorf("archive: scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Cleanup deletes datapoints older than retention and returns the count.
func (r *Recorder) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := r.db.ExecContext(ctx, `DELETE FROM refine_metrics WHERE ts < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("archive: cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes the buffer and stops the background flusher.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

func (r *Recorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}
	defer func() { r.buffer = r.buffer[:0] }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := r.writes.Tx(ctx, r.db, "archive: flush metrics", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO refine_metrics (name, run_id, iteration, value, ts) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range r.buffer {
			if _, err := stmt.ExecContext(ctx, m.Name, m.RunID, m.Iteration, m.Value, m.Timestamp.UnixMilli()); err != nil {
				if dbopen.IsBusy(err) {
					return err
				}
				r.logger.Error("archive metrics: insert", "error", err, "metric", m.Name)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("archive metrics: flush", "error", err, "dropped", len(r.buffer))
	}
}
