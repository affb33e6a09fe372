// Package duckdb records processed units in a queryable run ledger.
// Every variant and control lands here with its outcome and cache keys,
// so a long batch can be audited after the fact.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/seqfold/snpbatch/internal/batch"
)

// unitFlushBatch is how many buffered units trigger an appender flush.
const unitFlushBatch = 512

// Ledger manages a DuckDB connection recording runs and their processed
// units. Writes are buffered and flushed through the Appender API; call
// Flush or Close to make the tail visible.
type Ledger struct {
	db      *sql.DB
	path    string
	runID   int64
	pending []batch.Unit
}

// Open opens or creates the ledger database at the given path. Use an
// empty string for an in-memory database.
func Open(path string) (*Ledger, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	l := &Ledger{db: db, path: path}
	if err := l.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return l, nil
}

// Close flushes buffered units and closes the database connection.
func (l *Ledger) Close() error {
	flushErr := l.Flush()
	closeErr := l.db.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// DB returns the underlying *sql.DB for direct queries.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

// ensureSchema creates tables if they don't exist.
func (l *Ledger) ensureSchema() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id BIGINT,
		started_at TIMESTAMP,
		input VARCHAR,
		input_size BIGINT,
		input_mtime TIMESTAMP,
		genome VARCHAR,
		window_length BIGINT,
		control_offset BIGINT,
		resume BOOLEAN
	)`); err != nil {
		return err
	}
	_, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS units (
		run_id BIGINT,
		kind VARCHAR,
		id VARCHAR,
		chrom VARCHAR,
		pos BIGINT,
		outcome VARCHAR,
		ref_base VARCHAR,
		ref_match BOOLEAN,
		effect_key VARCHAR,
		non_effect_key VARCHAR,
		window_key VARCHAR,
		error_message VARCHAR,
		recorded_at TIMESTAMP
	)`)
	return err
}

// RunInfo describes one invocation to be registered in the ledger.
type RunInfo struct {
	Input         string
	Genome        string
	WindowLength  int64
	ControlOffset int64
	Resume        bool
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID         int64
	StartedAt     time.Time
	Input         string
	Genome        string
	WindowLength  int64
	ControlOffset int64
	Resume        bool
}

// BeginRun registers a new run and scopes subsequent RecordUnit calls
// to it. The input file is fingerprinted by size and mtime so a rerun
// against a changed file is detectable.
func (l *Ledger) BeginRun(info RunInfo) error {
	row := l.db.QueryRow(`SELECT COALESCE(MAX(run_id), 0) + 1 FROM runs`)
	if err := row.Scan(&l.runID); err != nil {
		return fmt.Errorf("allocate run id: %w", err)
	}

	size, mtime := statInput(info.Input)
	_, err := l.db.Exec(`INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.runID, time.Now(), info.Input, size, mtime,
		info.Genome, info.WindowLength, info.ControlOffset, info.Resume)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// statInput fingerprints the input file. Stdin and unreadable paths get
// zero values.
func statInput(path string) (int64, time.Time) {
	if path == "" || path == "-" {
		return 0, time.Time{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}
	}
	return info.Size(), info.ModTime()
}

// RunID returns the identifier allocated by BeginRun.
func (l *Ledger) RunID() int64 {
	return l.runID
}

// RecordUnit buffers one processed unit under the current run. Buffered
// units are written through the Appender API once enough accumulate.
func (l *Ledger) RecordUnit(_ context.Context, u batch.Unit) error {
	l.pending = append(l.pending, u)
	if len(l.pending) >= unitFlushBatch {
		return l.Flush()
	}
	return nil
}

// Flush appends all buffered units to the units table.
func (l *Ledger) Flush() error {
	if len(l.pending) == 0 {
		return nil
	}

	conn, err := l.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", "units")
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}
	defer appender.Close()

	now := time.Now()
	for _, u := range l.pending {
		if err := appender.AppendRow(
			l.runID, u.Kind.String(), u.ID, u.Chrom, u.Pos,
			u.Outcome.String(), u.RefBase, u.RefMatch,
			u.EffectKey, u.NonEffectKey, u.WindowKey, u.Err, now,
		); err != nil {
			return fmt.Errorf("append unit: %w", err)
		}
	}

	if err := appender.Flush(); err != nil {
		return fmt.Errorf("flush units: %w", err)
	}
	l.pending = l.pending[:0]
	return nil
}

// LatestRun returns the most recently registered run, or nil when the
// ledger is empty.
func (l *Ledger) LatestRun() (*RunRecord, error) {
	row := l.db.QueryRow(`SELECT run_id, started_at, input, genome,
		window_length, control_offset, resume
		FROM runs ORDER BY run_id DESC LIMIT 1`)

	var r RunRecord
	err := row.Scan(&r.RunID, &r.StartedAt, &r.Input, &r.Genome,
		&r.WindowLength, &r.ControlOffset, &r.Resume)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}
	return &r, nil
}

// OutcomeCounts tallies a run's units, keyed "kind/outcome".
func (l *Ledger) OutcomeCounts(runID int64) (map[string]int, error) {
	rows, err := l.db.Query(`SELECT kind, outcome, COUNT(*)
		FROM units WHERE run_id=? GROUP BY kind, outcome`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind, outcome string
		var n int
		if err := rows.Scan(&kind, &outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[kind+"/"+outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return counts, nil
}

// FailedUnits returns a run's failed units with their error messages.
func (l *Ledger) FailedUnits(runID int64) ([]batch.Unit, error) {
	rows, err := l.db.Query(`SELECT kind, id, chrom, pos, ref_base,
		ref_match, effect_key, non_effect_key, window_key, error_message
		FROM units WHERE run_id=? AND outcome='failed' ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failed units: %w", err)
	}
	defer rows.Close()

	var units []batch.Unit
	for rows.Next() {
		var u batch.Unit
		var kind string
		if err := rows.Scan(&kind, &u.ID, &u.Chrom, &u.Pos, &u.RefBase,
			&u.RefMatch, &u.EffectKey, &u.NonEffectKey, &u.WindowKey, &u.Err); err != nil {
			return nil, fmt.Errorf("scan failed unit: %w", err)
		}
		u.Kind = kindFromString(kind)
		u.Outcome = batch.OutcomeFailed
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed units: %w", err)
	}
	return units, nil
}

func kindFromString(s string) batch.UnitKind {
	if s == "control" {
		return batch.KindControl
	}
	return batch.KindVariant
}
