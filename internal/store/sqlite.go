package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ytget/fetchd/internal/model"
)

// Store is the SQLite-backed job persistence layer
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  target_id TEXT NOT NULL,
  owner_key TEXT NOT NULL,
  status TEXT NOT NULL,
  progress REAL NOT NULL DEFAULT 0,
  save_root TEXT NOT NULL,
  archive INTEGER NOT NULL DEFAULT 0,
  archive_path TEXT,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  error_code TEXT,
  error_message TEXT,
  created_at INTEGER NOT NULL,
  started_at INTEGER NOT NULL DEFAULT 0,
  completed_at INTEGER NOT NULL DEFAULT 0
);`, `
CREATE TABLE IF NOT EXISTS job_events (
  job_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  kind TEXT NOT NULL,
  message TEXT NOT NULL,
  progress REAL NOT NULL DEFAULT 0,
  timestamp INTEGER NOT NULL,
  PRIMARY KEY (job_id, seq)
);`,
}

// Close closes the underlying database
func (s *Store) Close() error { return s.db.Close() }

// SaveJobSnapshot upserts the full job record. Replaying the same snapshot
// is safe.
func (s *Store) SaveJobSnapshot(ctx context.Context, job model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs
         (id, target_id, owner_key, status, progress, save_root, archive,
          archive_path, size_bytes, error_code, error_message,
          created_at, started_at, completed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.TargetID,
		job.OwnerKey,
		string(job.Status),
		job.Progress,
		job.SaveRoot,
		boolToInt(job.Archive),
		job.ArchivePath,
		job.SizeBytes,
		string(job.ErrorCode),
		job.ErrorMessage,
		timeToMillis(job.CreatedAt),
		timeToMillis(job.StartedAt),
		timeToMillis(job.CompletedAt),
	)
	return err
}

// AppendLogEvents stores events keyed by (job, seq); duplicates from a
// replay are ignored.
func (s *Store) AppendLogEvents(ctx context.Context, jobID string, events []model.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, event := range events {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO job_events (job_id, seq, kind, message, progress, timestamp)
             VALUES (?, ?, ?, ?, ?, ?)`,
			jobID, event.Seq, string(event.Kind), event.Message, event.Progress,
			timeToMillis(event.Timestamp),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadJob fetches one job by id
func (s *Store) LoadJob(ctx context.Context, id string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobs+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, model.ErrNotFound
	}
	return job, err
}

// ListActiveJobs returns queued and running jobs in creation order, used to
// rehydrate in-flight work after a restart.
func (s *Store) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		selectJobs+` WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(model.JobStatusQueued), string(model.JobStatusRunning),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListJobs returns jobs, optionally filtered by status, newest first
func (s *Store) ListJobs(ctx context.Context, status *model.JobStatus, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 25
	}

	query := selectJobs
	args := []any{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// LoadLogEvents returns a job's persisted events with seq greater than
// afterSeq, in order.
func (s *Store) LoadLogEvents(ctx context.Context, jobID string, afterSeq uint64) ([]model.LogEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, message, progress, timestamp
         FROM job_events WHERE job_id = ? AND seq > ? ORDER BY seq ASC`,
		jobID, afterSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LogEvent
	for rows.Next() {
		var (
			event  model.LogEvent
			kind   string
			tsMs   int64
		)
		if err := rows.Scan(&event.Seq, &kind, &event.Message, &event.Progress, &tsMs); err != nil {
			return nil, err
		}
		event.Kind = model.EventKind(kind)
		event.Timestamp = millisToTime(tsMs)
		out = append(out, event)
	}
	return out, rows.Err()
}

const selectJobs = `SELECT id, target_id, owner_key, status, progress, save_root, archive,
  archive_path, size_bytes, error_code, error_message, created_at, started_at, completed_at
  FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.Job, error) {
	var (
		job                    model.Job
		status                 string
		archive                int
		archivePath, errCode   sql.NullString
		errMessage             sql.NullString
		createdMs, startedMs   int64
		completedMs            int64
	)
	if err := row.Scan(
		&job.ID, &job.TargetID, &job.OwnerKey, &status, &job.Progress,
		&job.SaveRoot, &archive, &archivePath, &job.SizeBytes,
		&errCode, &errMessage, &createdMs, &startedMs, &completedMs,
	); err != nil {
		return model.Job{}, err
	}

	job.Status = model.JobStatus(status)
	job.Archive = archive != 0
	if archivePath.Valid {
		job.ArchivePath = archivePath.String
	}
	if errCode.Valid {
		job.ErrorCode = model.ErrorCode(errCode.String)
	}
	if errMessage.Valid {
		job.ErrorMessage = errMessage.String
	}
	job.CreatedAt = millisToTime(createdMs)
	job.StartedAt = millisToTime(startedMs)
	job.CompletedAt = millisToTime(completedMs)
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]model.Job, error) {
	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
