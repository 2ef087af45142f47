// Package ledger persists the id high-water marks of the catalog in SQLite,
// so an incremental import never reissues the id of an entry that was once
// allocated and later removed from the catalog file. It also keeps a log of
// pipeline runs.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/merge"
)

const schema = `
CREATE TABLE IF NOT EXISTS high_water (
	kind      TEXT PRIMARY KEY,
	stream_id INTEGER NOT NULL,
	num       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS import_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	mode        TEXT NOT NULL,
	source      TEXT NOT NULL,
	live        INTEGER NOT NULL,
	movies      INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
`

// Run describes one finished build or import.
type Run struct {
	Mode       string // build, import-feed, import-registry
	Source     string
	Live       int // entries added
	Movies     int
	Marks      merge.Marks // allocator high values after the run
	FinishedAt time.Time
}

// Ledger is a handle on the ledger database.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Marks returns the recorded high-water marks (zero when none are recorded).
func (l *Ledger) Marks(ctx context.Context) (merge.Marks, error) {
	var m merge.Marks
	rows, err := l.db.QueryContext(ctx, `SELECT kind, stream_id, num FROM high_water`)
	if err != nil {
		return m, fmt.Errorf("ledger: marks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind    string
			id, num int
		)
		if err := rows.Scan(&kind, &id, &num); err != nil {
			return m, fmt.Errorf("ledger: marks: %w", err)
		}
		switch catalog.StreamType(kind) {
		case catalog.TypeLive:
			m.LiveID, m.LiveNum = id, num
		case catalog.TypeMovie:
			m.MovieID, m.MovieNum = id, num
		}
	}
	return m, rows.Err()
}

// Record logs an import and raises the marks; marks never go down.
func (l *Ledger) Record(ctx context.Context, run Run) error {
	return l.write(ctx, run, `
		INSERT INTO high_water (kind, stream_id, num) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			stream_id = MAX(stream_id, excluded.stream_id),
			num       = MAX(num, excluded.num)`)
}

// Reset logs a full build and replaces the marks with its values. A build
// numbers from 1 again, so older marks no longer describe the catalog.
func (l *Ledger) Reset(ctx context.Context, run Run) error {
	return l.write(ctx, run, `
		INSERT INTO high_water (kind, stream_id, num) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET stream_id = excluded.stream_id, num = excluded.num`)
}

func (l *Ledger) write(ctx context.Context, run Run, upsert string) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback()

	marks := []struct {
		kind    catalog.StreamType
		id, num int
	}{
		{catalog.TypeLive, run.Marks.LiveID, run.Marks.LiveNum},
		{catalog.TypeMovie, run.Marks.MovieID, run.Marks.MovieNum},
	}
	for _, m := range marks {
		if _, err := tx.ExecContext(ctx, upsert, string(m.kind), m.id, m.num); err != nil {
			return fmt.Errorf("ledger: high water %s: %w", m.kind, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO import_runs (mode, source, live, movies, finished_at) VALUES (?, ?, ?, ?, ?)`,
		run.Mode, run.Source, run.Live, run.Movies, run.FinishedAt.Unix()); err != nil {
		return fmt.Errorf("ledger: run: %w", err)
	}
	return tx.Commit()
}

// Runs returns up to limit most recent runs, newest first. Marks are not stored per run.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT mode, source, live, movies, finished_at FROM import_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r  Run
			ts int64
		)
		if err := rows.Scan(&r.Mode, &r.Source, &r.Live, &r.Movies, &ts); err != nil {
			return nil, fmt.Errorf("ledger: runs: %w", err)
		}
		r.FinishedAt = time.Unix(ts, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
