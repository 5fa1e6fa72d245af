package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/graymont/easel/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    status           TEXT NOT NULL,
    inference_job_id TEXT,
    workflow_count   INTEGER NOT NULL,
    error            TEXT,
    refresh_worker   INTEGER NOT NULL DEFAULT 0,
    duration_ms      INTEGER,
    created_at       DATETIME NOT NULL,
    started_at       DATETIME,
    finished_at      DATETIME
)`

const createDeliveriesTable = `
CREATE TABLE IF NOT EXISTS deliveries (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    status     TEXT NOT NULL,
    message    TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	if _, err := db.Exec(createDeliveriesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create deliveries table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, status, inference_job_id, workflow_count, error,
			refresh_worker, duration_ms, created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Status, j.InferenceJobID, j.WorkflowCount, j.Error,
		j.RefreshWorker, j.DurationMS, j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j := &model.Job{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, inference_job_id, workflow_count, error,
			refresh_worker, duration_ms, created_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id,
	).Scan(
		&j.ID, &j.Status, &j.InferenceJobID, &j.WorkflowCount, &j.Error,
		&j.RefreshWorker, &j.DurationMS, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC, along
// with the total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, status, inference_job_id, workflow_count, error,
			refresh_worker, duration_ms, created_at, started_at, finished_at
		FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j := &model.Job{}
		if err := rows.Scan(
			&j.ID, &j.Status, &j.InferenceJobID, &j.WorkflowCount, &j.Error,
			&j.RefreshWorker, &j.DurationMS, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateJobStatus updates the status of a job.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ? WHERE id = ?", status, id,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// FinishJob records a job's terminal state: status, error message, duration,
// refresh flag, and timestamps.
func (s *SQLiteStore) FinishJob(ctx context.Context, j *model.Job) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, refresh_worker = ?,
			duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		j.Status, j.Error, j.RefreshWorker, j.DurationMS, j.StartedAt, j.FinishedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetJobStats computes aggregate statistics over all job runs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{CountByStatus: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM jobs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// InsertDeliveries appends the per-artifact results of one job run, in order.
func (s *SQLiteStore) InsertDeliveries(ctx context.Context, jobID string, results []model.DeliveryResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i, r := range results {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deliveries (job_id, seq, status, message, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			jobID, i, r.Status, r.Message, now,
		); err != nil {
			return fmt.Errorf("insert delivery %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deliveries: %w", err)
	}
	return nil
}

// GetDeliveries returns all delivery records for a job, in sequence order.
func (s *SQLiteStore) GetDeliveries(ctx context.Context, jobID string) ([]model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, seq, status, message, created_at
		FROM deliveries WHERE job_id = ? ORDER BY seq ASC`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []model.Delivery
	for rows.Next() {
		var d model.Delivery
		if err := rows.Scan(&d.ID, &d.JobID, &d.Seq, &d.Status, &d.Message, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	return deliveries, nil
}
