package dbopen

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenMemory_Pragmas(t *testing.T) {
	db := OpenMemory(t)

	var journal string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journal); err != nil {
		t.Fatal(err)
	}
	// :memory: reports "memory" even after the WAL pragma.
	if journal != "wal" && journal != "memory" {
		t.Fatalf("journal_mode = %q", journal)
	}
	var fk, sync, busy int
	db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	db.QueryRow("PRAGMA synchronous").Scan(&sync)
	db.QueryRow("PRAGMA busy_timeout").Scan(&busy)
	if fk != 1 || sync != 1 || busy != 10_000 {
		t.Fatalf("foreign_keys=%d synchronous=%d busy_timeout=%d", fk, sync, busy)
	}
}

func TestOpen_FileWithSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "archive.db")
	db, err := Open(path, WithMkdirAll(), WithBusyTimeout(500),
		WithSchema(`CREATE TABLE IF NOT EXISTS runs (id TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO runs (id) VALUES ('run_1')`); err != nil {
		t.Fatal(err)
	}
	var busy int
	db.QueryRow("PRAGMA busy_timeout").Scan(&busy)
	if busy != 500 {
		t.Errorf("busy_timeout = %d", busy)
	}

	// Reopening applies the idempotent schema again.
	db2, err := Open(path, WithSchema(`CREATE TABLE IF NOT EXISTS runs (id TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	db2.Close()
}

func TestOpen_BadSchema(t *testing.T) {
	if _, err := Open(Memory, WithSchema(`CREATE TABLE (`)); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "pool.db"), WithBusyTimeout(750))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	// Hold the first connection so the second one is a fresh dial.
	c1, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	c2, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	for i, c := range []*sql.Conn{c1, c2} {
		var busy, fk int
		var journal string
		c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy)
		c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk)
		c.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal)
		if busy != 750 || fk != 1 || journal != "wal" {
			t.Errorf("conn %d: busy_timeout=%d foreign_keys=%d journal_mode=%q", i, busy, fk, journal)
		}
	}
}

func TestDSN(t *testing.T) {
	got := dsn("runs.db", 10_000)
	if !strings.HasPrefix(got, "runs.db?_pragma=") || !strings.Contains(got, "busy_timeout%2810000%29") {
		t.Errorf("dsn = %q", got)
	}
	if got := dsn("file:runs.db?mode=rwc", 0); !strings.HasPrefix(got, "file:runs.db?mode=rwc&_pragma=") {
		t.Errorf("dsn with query = %q", got)
	}
}

func TestIsBusy(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("no such table"), false},
	}
	for _, c := range cases {
		if got := IsBusy(c.err); got != c.want {
			t.Errorf("IsBusy(%v) = %v", c.err, got)
		}
	}
}

// lockedDB returns a connection to a file whose write lock is held by
// another connection, and the func that releases the lock.
func lockedDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locked.db")
	holder, err := Open(path, WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { holder.Close() })
	ctx := context.Background()
	conn, err := holder.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		t.Fatal(err)
	}

	writer, err := Open(path, WithBusyTimeout(0))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { writer.Close() })
	release := func() {
		conn.ExecContext(ctx, "COMMIT")
		conn.Close()
	}
	t.Cleanup(release)
	return writer, release
}

func TestRetry_GivesUpWithAttemptCount(t *testing.T) {
	db, _ := lockedDB(t)
	var buf bytes.Buffer
	r := Retry{
		Attempts: 3,
		Backoff:  time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}

	_, err := r.Exec(context.Background(), db, "kv: insert", `INSERT INTO kv VALUES ('a')`)
	if !errors.Is(err, ErrBusy) || !IsBusy(err) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "kv: insert after 3 attempts") {
		t.Errorf("err = %v", err)
	}
	log := buf.String()
	if strings.Count(log, "dbopen: write busy") != 2 || !strings.Contains(log, "attempts=3") {
		t.Errorf("log:\n%s", log)
	}
}

func TestRetry_SucceedsOnceLockIsReleased(t *testing.T) {
	db, release := lockedDB(t)
	var buf bytes.Buffer
	r := Retry{
		Attempts: 10,
		Backoff:  5 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}

	calls := 0
	err := r.Tx(context.Background(), db, "kv: insert", func(tx *sql.Tx) error {
		calls++
		if calls == 2 {
			release()
		}
		_, err := tx.Exec(`INSERT INTO kv VALUES ('a')`)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls < 2 || !strings.Contains(buf.String(), "dbopen: write went through") {
		t.Errorf("calls=%d log:\n%s", calls, buf.String())
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n)
	if n != 1 {
		t.Fatalf("rows = %d", n)
	}
}

func TestRetry_Tx(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))
	ctx := context.Background()
	var r Retry

	if err := r.Tx(ctx, db, "kv", func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO kv VALUES ('a', '1')`)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	sentinel := errors.New("rollback")
	calls := 0
	err := r.Tx(ctx, db, "kv", func(tx *sql.Tx) error {
		calls++
		tx.Exec(`INSERT INTO kv VALUES ('b', '2')`)
		return sentinel
	})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Fatalf("err = %v after %d calls", err, calls)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n)
	if n != 1 {
		t.Fatalf("rows = %d, want 1 after rollback", n)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := r.Tx(cancelled, db, "kv", func(*sql.Tx) error { return nil }); err == nil {
		t.Fatal("cancelled context must fail")
	}
}

func TestRetry_ExecNotBusyIsNotRetried(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY)`))
	var r Retry
	if _, err := r.Exec(context.Background(), db, "kv", `INSERT INTO kv VALUES (?)`, "a"); err != nil {
		t.Fatal(err)
	}
	_, err := r.Exec(context.Background(), db, "kv", `INSERT INTO kv VALUES (?)`, "a")
	if err == nil || errors.Is(err, ErrBusy) {
		t.Fatalf("duplicate key: %v", err)
	}
}
