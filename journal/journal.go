package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/stackbound/prewarm/internal/fileutil"
	"github.com/stackbound/prewarm/internal/sentinel"
)

// ErrLocked is returned by Open when another process holds the journal lock.
const ErrLocked = sentinel.Error("journal is locked by another process")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(run_id),
	test_id        TEXT NOT NULL,
	full_name      TEXT NOT NULL,
	status         TEXT NOT NULL,
	duration_ns    INTEGER NOT NULL,
	asserts_passed INTEGER NOT NULL,
	asserts_failed INTEGER NOT NULL,
	detail         BLOB
);
CREATE TABLE IF NOT EXISTS crashes (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(run_id),
	worker_id     INTEGER NOT NULL,
	reason        TEXT NOT NULL,
	restart_count INTEGER NOT NULL,
	occurred_at   TEXT NOT NULL
);
`

// TestRecord is one persisted test outcome.
type TestRecord struct {
	TestID        string        `db:"test_id"`
	FullName      string        `db:"full_name"`
	Status        string        `db:"status"`
	Duration      time.Duration `db:"duration_ns"`
	Stdout        string        `db:"-"`
	Stderr        string        `db:"-"`
	Traceback     string        `db:"-"`
	AssertsPassed uint32        `db:"asserts_passed"`
	AssertsFailed uint32        `db:"asserts_failed"`
}

// CrashRecord is one persisted worker crash.
type CrashRecord struct {
	WorkerID     int    `db:"worker_id"`
	Reason       string `db:"reason"`
	RestartCount uint32 `db:"restart_count"`
}

// detailBlob holds the bulky result payload, msgpack-encoded into a single
// column so the row schema stays narrow and queryable.
type detailBlob struct {
	Stdout    string `msgpack:"stdout"`
	Stderr    string `msgpack:"stderr"`
	Traceback string `msgpack:"traceback"`
}

// Journal persists test results and worker crashes for one run into a
// SQLite database. A file lock next to the database gives each journal a
// single writing process; opening an already-locked journal fails fast with
// ErrLocked instead of contending on SQLite busy handling.
type Journal struct {
	db    *sqlx.DB
	lock  *flock.Flock
	runID string
	log   *slog.Logger
}

// Open creates or opens the journal database at path, acquires its process
// lock, ensures the schema, and registers a new run. The caller must Close
// the journal to release the lock.
func Open(ctx context.Context, path string, log *slog.Logger) (*Journal, error) {
	if err := fileutil.EnsureDirForFile(path); err != nil {
		return nil, fmt.Errorf("prepare journal dir: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire journal lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	// modernc.org/sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY between our own statements.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}

	j := &Journal{
		db:    db,
		lock:  lock,
		runID: ulid.Make().String(),
		log:   log,
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at) VALUES (?, ?)`,
		j.runID, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("register run: %w", err)
	}

	j.log.Debug("journal opened", "path", path, "run", j.runID)
	return j, nil
}

// RunID returns the identifier of the run this journal records into.
func (j *Journal) RunID() string {
	return j.runID
}

// RecordResult persists one test outcome.
func (j *Journal) RecordResult(ctx context.Context, rec TestRecord) error {
	detail, err := msgpack.Marshal(detailBlob{
		Stdout:    rec.Stdout,
		Stderr:    rec.Stderr,
		Traceback: rec.Traceback,
	})
	if err != nil {
		return fmt.Errorf("encode result detail: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO results (id, run_id, test_id, full_name, status, duration_ns, asserts_passed, asserts_failed, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), j.runID,
		rec.TestID, rec.FullName, rec.Status, int64(rec.Duration),
		rec.AssertsPassed, rec.AssertsFailed, detail,
	)
	if err != nil {
		return fmt.Errorf("record result for %q: %w", rec.FullName, err)
	}
	return nil
}

// RecordCrash persists one worker crash.
func (j *Journal) RecordCrash(ctx context.Context, rec CrashRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO crashes (id, run_id, worker_id, reason, restart_count, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), j.runID,
		rec.WorkerID, rec.Reason, rec.RestartCount,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record crash of worker %d: %w", rec.WorkerID, err)
	}
	return nil
}

// Results returns all test records of this run in insertion order.
func (j *Journal) Results(ctx context.Context) ([]TestRecord, error) {
	rows, err := j.db.QueryxContext(ctx,
		`SELECT test_id, full_name, status, duration_ns, asserts_passed, asserts_failed, detail
		 FROM results WHERE run_id = ? ORDER BY id`,
		j.runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var recs []TestRecord
	for rows.Next() {
		var (
			rec    TestRecord
			durNS  int64
			detail []byte
		)
		if err := rows.Scan(&rec.TestID, &rec.FullName, &rec.Status, &durNS,
			&rec.AssertsPassed, &rec.AssertsFailed, &detail); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		rec.Duration = time.Duration(durNS)
		if len(detail) > 0 {
			var blob detailBlob
			if err := msgpack.Unmarshal(detail, &blob); err != nil {
				return nil, fmt.Errorf("decode result detail for %q: %w", rec.FullName, err)
			}
			rec.Stdout = blob.Stdout
			rec.Stderr = blob.Stderr
			rec.Traceback = blob.Traceback
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Crashes returns all crash records of this run in insertion order.
func (j *Journal) Crashes(ctx context.Context) ([]CrashRecord, error) {
	var recs []CrashRecord
	err := j.db.SelectContext(ctx, &recs,
		`SELECT worker_id, reason, restart_count
		 FROM crashes WHERE run_id = ? ORDER BY id`,
		j.runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query crashes: %w", err)
	}
	return recs, nil
}

// Close closes the database and releases the journal lock.
func (j *Journal) Close() error {
	return errors.Join(j.db.Close(), j.lock.Unlock())
}
