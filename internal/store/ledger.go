// Package store keeps a durable record of each invocation: the work item it
// ran, the outcome the reporter reached, and the artifacts it uploaded.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"scriptrunner/internal/core"
)

type dialect struct {
	driver string
	pragma []string
	serial string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		pragma: []string{
			`PRAGMA journal_mode=WAL;`,
			`PRAGMA foreign_keys=ON;`,
		},
		serial: "INTEGER PRIMARY KEY AUTOINCREMENT",
	}
	postgresDialect = dialect{
		driver: "postgres",
		serial: "BIGSERIAL PRIMARY KEY",
	}
)

// rebind rewrites ? placeholders into $n for drivers that need it.
func (d dialect) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Ledger struct {
	db      *sql.DB
	dialect dialect
	clock   clock.Clock
}

// Open connects to a Postgres DSN (postgres:// or postgresql://) or
// otherwise treats dsn as a SQLite database path.
func Open(dsn string, clk clock.Clock) (*Ledger, error) {
	d := sqliteDialect
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		d = postgresDialect
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	return &Ledger{db: db, dialect: d, clock: clk}, nil
}

func (l *Ledger) Init(ctx context.Context) error {
	ddl := append([]string{}, l.dialect.pragma...)
	ddl = append(ddl,
		`CREATE TABLE IF NOT EXISTS runs (
			id `+l.dialect.serial+`,
			run_id TEXT NOT NULL UNIQUE,
			workitem_id TEXT NOT NULL,
			friendly_name TEXT,
			correlation_id TEXT,
			script TEXT NOT NULL,
			script_args TEXT,
			started_at TEXT NOT NULL,
			child_exited_at TEXT,
			duration_ms BIGINT,
			finished_at TEXT,
			status TEXT NOT NULL,
			exit_code INTEGER,
			test_count INTEGER,
			results_uri TEXT,
			event_type TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workitem_id ON runs(workitem_id);`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id `+l.dialect.serial+`,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			uri TEXT,
			sha256 TEXT,
			size_bytes BIGINT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run_id ON artifacts(run_id);`,
	)

	for _, stmt := range ddl {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) CreateRun(ctx context.Context, run core.RunRecord) error {
	_, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		INSERT INTO runs (run_id, workitem_id, friendly_name, correlation_id, script, script_args, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.RunID,
		run.WorkItemID,
		run.FriendlyName,
		run.CorrelationID,
		run.Script,
		run.Args,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.Status,
	)
	return err
}

// RecordExecution replaces the registration time with the time the child
// actually started and stores when it exited.
func (l *Ledger) RecordExecution(ctx context.Context, runID string, startedAt, exitedAt time.Time, durationMs int64) error {
	_, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		UPDATE runs
		SET started_at = ?, child_exited_at = ?, duration_ms = ?
		WHERE run_id = ?`),
		startedAt.UTC().Format(time.RFC3339),
		exitedAt.UTC().Format(time.RFC3339),
		durationMs,
		runID,
	)
	return err
}

// FinishRun stores the reporter's decision. A nil Event leaves event_type
// empty, which is how runs that never reached reporting are recorded.
func (l *Ledger) FinishRun(ctx context.Context, runID string, outcome core.Outcome) error {
	eventType := ""
	if outcome.Event != nil {
		eventType = outcome.Event.EventType()
	}
	_, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		UPDATE runs
		SET status = ?, exit_code = ?, test_count = ?, results_uri = ?, event_type = ?, finished_at = ?
		WHERE run_id = ?`),
		outcome.Status,
		outcome.ExitCode,
		outcome.TestCount,
		outcome.ResultsURI,
		eventType,
		l.clock.Now().UTC().Format(time.RFC3339),
		runID,
	)
	return err
}

func (l *Ledger) AddArtifact(ctx context.Context, artifact core.ArtifactRecord) error {
	_, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		INSERT INTO artifacts (run_id, kind, path, uri, sha256, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		artifact.RunID,
		artifact.Kind,
		artifact.Path,
		artifact.URI,
		artifact.SHA256,
		artifact.SizeBytes,
		artifact.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (l *Ledger) GetRun(ctx context.Context, runID string) (core.RunRecord, error) {
	row := l.db.QueryRowContext(ctx, l.dialect.rebind(`
		SELECT workitem_id, friendly_name, correlation_id, script, script_args, started_at,
		       child_exited_at, duration_ms, finished_at, status, exit_code, test_count,
		       results_uri, event_type
		FROM runs
		WHERE run_id = ?`),
		runID,
	)

	var (
		run           core.RunRecord
		friendlyName  sql.NullString
		correlationID sql.NullString
		scriptArgs    sql.NullString
		startedAt     string
		childExitedAt sql.NullString
		durationMs    sql.NullInt64
		finishedAt    sql.NullString
		exitCode      sql.NullInt64
		testCount     sql.NullInt64
		resultsURI    sql.NullString
		eventType     sql.NullString
	)
	if err := row.Scan(
		&run.WorkItemID,
		&friendlyName,
		&correlationID,
		&run.Script,
		&scriptArgs,
		&startedAt,
		&childExitedAt,
		&durationMs,
		&finishedAt,
		&run.Status,
		&exitCode,
		&testCount,
		&resultsURI,
		&eventType,
	); err != nil {
		return core.RunRecord{}, err
	}

	run.RunID = runID
	run.FriendlyName = friendlyName.String
	run.CorrelationID = correlationID.String
	run.Args = scriptArgs.String
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if childExitedAt.Valid {
		run.ChildExitedAt, _ = time.Parse(time.RFC3339, childExitedAt.String)
	}
	run.DurationMs = durationMs.Int64
	if finishedAt.Valid {
		run.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt.String)
	}
	run.ExitCode = int(exitCode.Int64)
	run.TestCount = int(testCount.Int64)
	run.ResultsURI = resultsURI.String
	run.EventType = eventType.String
	return run, nil
}

func (l *Ledger) ListArtifacts(ctx context.Context, runID string) ([]core.ArtifactRecord, error) {
	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(`
		SELECT kind, path, uri, sha256, size_bytes, created_at
		FROM artifacts
		WHERE run_id = ?
		ORDER BY id`),
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []core.ArtifactRecord
	for rows.Next() {
		var (
			artifact  core.ArtifactRecord
			uri       sql.NullString
			sum       sql.NullString
			size      sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&artifact.Kind, &artifact.Path, &uri, &sum, &size, &createdAt); err != nil {
			return nil, err
		}
		artifact.RunID = runID
		artifact.URI = uri.String
		artifact.SHA256 = sum.String
		artifact.SizeBytes = size.Int64
		artifact.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}
