package jobs

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// interruptedReason is recorded on jobs a previous process left unfinished.
const interruptedReason = "interrupted: server stopped before the job finished"

// SQLiteStore persists jobs in a SQLite database so history survives restarts.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens or creates the database at path. Jobs left pending or
// running stay untouched until FailInterrupted is called; another process
// may still be running them.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Debug("Job store opened", "database", path)
	return &SQLiteStore{db: db, path: path}, nil
}

// FailInterrupted marks jobs a previous server process left pending or
// running as failed.
func (s *SQLiteStore) FailInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error = ?, finished_at = ? WHERE state IN (?, ?)`,
		StateFailed, interruptedReason, formatTime(time.Now().UTC()), StatePending, StateRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const jobColumns = `id, slug, url, branch, resolved_branch, commit_sha, workdir, state, error,
	documents, chunks, failed_docs, truncated, created_at, started_at, finished_at`

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Slug, job.URL, job.Branch, job.ResolvedBranch, job.CommitSHA, job.WorkDir,
		job.State, job.Error, job.Documents, job.Chunks, job.FailedDocs, job.Truncated,
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, job *Job) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET resolved_branch = ?, commit_sha = ?, workdir = ?, state = ?, error = ?,
			documents = ?, chunks = ?, failed_docs = ?, truncated = ?, started_at = ?, finished_at = ?
		 WHERE id = ?`,
		job.ResolvedBranch, job.CommitSHA, job.WorkDir, job.State, job.Error,
		job.Documents, job.Chunks, job.FailedDocs, job.Truncated,
		formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt), job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                 Job
		state               string
		createdAt           string
		startedAt, finished sql.NullString
	)
	err := row.Scan(&job.ID, &job.Slug, &job.URL, &job.Branch, &job.ResolvedBranch, &job.CommitSHA,
		&job.WorkDir, &state, &job.Error, &job.Documents, &job.Chunks, &job.FailedDocs, &job.Truncated,
		&createdAt, &startedAt, &finished)
	if err != nil {
		return nil, err
	}
	job.State = State(state)
	if job.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if job.FinishedAt, err = parseTimePtr(finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
