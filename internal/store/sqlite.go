package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/jetveto/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps the per-connection pragmas in effect and
	// serialises writes from concurrent file workers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	profile      TEXT NOT NULL DEFAULT '',
	era          TEXT NOT NULL,
	correction   TEXT NOT NULL,
	mode         TEXT NOT NULL,
	is_mc        INTEGER NOT NULL DEFAULT 0,
	branch       TEXT NOT NULL,
	branch_title TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'running',
	error        TEXT NOT NULL DEFAULT '',
	files        INTEGER NOT NULL DEFAULT 0,
	events_read  INTEGER NOT NULL DEFAULT 0,
	events_kept  INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_files (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	input          TEXT NOT NULL,
	output         TEXT NOT NULL,
	events_read    INTEGER NOT NULL,
	events_kept    INTEGER NOT NULL,
	events_dropped INTEGER NOT NULL,
	jets_vetoed    INTEGER NOT NULL,
	lookups        INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	PRIMARY KEY (run_id, input)
);

CREATE TABLE IF NOT EXISTS event_flags (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	file      TEXT NOT NULL,
	entry     INTEGER NOT NULL,
	run       INTEGER NOT NULL,
	lumi      INTEGER NOT NULL,
	event     INTEGER NOT NULL,
	keep      INTEGER NOT NULL,
	flag      INTEGER NOT NULL,
	jet_flags TEXT,
	PRIMARY KEY (run_id, file, entry)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_era ON runs(era);
CREATE INDEX IF NOT EXISTS idx_event_flags_event ON event_flags(run, lumi, event);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	now := time.Now().UTC()
	run.ID = uuid.New().String()
	run.Status = model.RunStatusRunning
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, profile, era, correction, mode, is_mc, branch, branch_title, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Profile, run.Era, run.Correction, run.Mode, run.IsMC,
		run.Branch, run.BranchTitle, string(run.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, summary model.Summary, runErr error) error {
	status := model.RunStatusComplete
	msg := ""
	if runErr != nil {
		status = model.RunStatusFailed
		msg = runErr.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, files = ?, events_read = ?, events_kept = ?, updated_at = ? WHERE id = ?`,
		string(status), msg, len(summary.Files), summary.EventsRead(), summary.EventsKept(), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Era != "" {
		query += ` AND era = ?`
		args = append(args, filter.Era)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// RecordEvents inserts a batch of event outcomes in one transaction.
func (s *SQLiteStore) RecordEvents(ctx context.Context, runID string, rows []model.EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin event batch")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO event_flags (run_id, file, entry, run, lumi, event, keep, flag, jet_flags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare event insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		var jetFlags sql.NullString
		if row.JetFlags != nil {
			data, err := json.Marshal(row.JetFlags)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal jet flags")
			}
			jetFlags = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			runID, row.File, row.Entry, int64(row.Run), int64(row.Lumi), int64(row.Event), row.Keep, row.Flag, jetFlags,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert event %s#%d", row.File, row.Entry)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit event batch")
}

func (s *SQLiteStore) FinishFile(ctx context.Context, runID string, stats model.FileStats) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_files (run_id, input, output, events_read, events_kept, events_dropped, jets_vetoed, lookups, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, stats.Input, stats.Output, stats.EventsRead, stats.EventsKept, stats.EventsDropped,
		stats.JetsVetoed, stats.Lookups, stats.Duration.Milliseconds(),
	)
	return eris.Wrapf(err, "sqlite: insert file %s", stats.Input)
}

func (s *SQLiteStore) ListFiles(ctx context.Context, runID string) ([]model.FileStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT input, output, events_read, events_kept, events_dropped, jets_vetoed, lookups, duration_ms
		 FROM run_files WHERE run_id = ? ORDER BY input`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list files")
	}
	defer rows.Close()

	var files []model.FileStats
	for rows.Next() {
		var f model.FileStats
		var ms int64
		if err := rows.Scan(&f.Input, &f.Output, &f.EventsRead, &f.EventsKept, &f.EventsDropped,
			&f.JetsVetoed, &f.Lookups, &ms); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan file")
		}
		f.Duration = time.Duration(ms) * time.Millisecond
		files = append(files, f)
	}
	return files, eris.Wrap(rows.Err(), "sqlite: list files iterate")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID, file string) ([]model.EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file, entry, run, lumi, event, keep, flag, jet_flags
		 FROM event_flags WHERE run_id = ? AND file = ? ORDER BY entry`,
		runID, file,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var out []model.EventRow
	for rows.Next() {
		var e model.EventRow
		var run, lumi, event int64
		var jetFlags sql.NullString
		if err := rows.Scan(&e.File, &e.Entry, &run, &lumi, &event, &e.Keep, &e.Flag, &jetFlags); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		e.Run, e.Lumi, e.Event = uint32(run), uint32(lumi), uint64(event)
		if jetFlags.Valid {
			if err := json.Unmarshal([]byte(jetFlags.String), &e.JetFlags); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal jet flags")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

const runColumns = `id, profile, era, correction, mode, is_mc, branch, branch_title, status, error,
	files, events_read, events_kept, created_at, updated_at`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.Profile, &r.Era, &r.Correction, &r.Mode, &r.IsMC, &r.Branch, &r.BranchTitle,
		&r.Status, &r.Error, &r.Files, &r.EventsRead, &r.EventsKept, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return &r, nil
}
