package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrBusy is wrapped by writes that stayed locked through every attempt.
var ErrBusy = errors.New("dbopen: database busy")

// IsBusy reports whether err means another connection holds a lock the
// statement needed.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Retry retries writes that fail with IsBusy. busy_timeout already waits
// inside SQLite; Retry covers the cases it gives up on, such as a
// deferred transaction upgrading to a write lock. The zero value is usable.
type Retry struct {
	// Attempts bounds the tries of one write. Default: 4.
	Attempts int

	// Backoff is the first wait, doubled after each busy attempt.
	// Default: 50ms.
	Backoff time.Duration

	Logger *slog.Logger
}

func (r Retry) withDefaults() Retry {
	if r.Attempts <= 0 {
		r.Attempts = 4
	}
	if r.Backoff <= 0 {
		r.Backoff = 50 * time.Millisecond
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	return r
}

// Do calls write until it succeeds, fails with an error other than busy,
// ctx is done or the attempts run out. op names the write in logs and in
// the ErrBusy error.
func (r Retry) Do(ctx context.Context, op string, write func() error) error {
	r = r.withDefaults()
	wait := r.Backoff
	for attempt := 1; ; attempt++ {
		err := write()
		if err == nil {
			if attempt > 1 {
				r.Logger.Debug("dbopen: write went through", "op", op, "attempts", attempt)
			}
			return nil
		}
		if !IsBusy(err) {
			return err
		}
		if attempt >= r.Attempts {
			r.Logger.Warn("dbopen: write still busy, giving up", "op", op, "attempts", attempt, "error", err)
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrBusy, op, attempt, err)
		}
		r.Logger.Debug("dbopen: write busy", "op", op, "attempt", attempt, "wait", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: %s: %w", op, ctx.Err())
		case <-t.C:
		}
		wait *= 2
	}
}

// Exec runs one statement under Do.
func (r Retry) Exec(ctx context.Context, db *sql.DB, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := r.Do(ctx, op, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Tx runs fn in a transaction under Do. A busy attempt is rolled back and
// fn runs again, so fn must not keep state outside tx.
func (r Retry) Tx(ctx context.Context, db *sql.DB, op string, fn func(*sql.Tx) error) error {
	return r.Do(ctx, op, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}
