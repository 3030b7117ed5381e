package async

import (
	"database/sql"
	"time"

	"github.com/teranos/corpipe/db"
	"github.com/teranos/corpipe/errors"
)

// ErrJobNotFound is returned when no job has the requested ID
var ErrJobNotFound = errors.Mark(errors.New("job not found"), errors.ErrNotFound)

// Store handles persistence of jobs
type Store struct {
	conn    *sql.DB
	dialect db.Dialect
}

// NewStore creates a new job store
func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{conn: conn, dialect: dialect}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	query := s.dialect.Rebind(`
		INSERT INTO pipeline_jobs (
			id, handler_name, source, run_id, status,
			progress_current, progress_total,
			payload, result, error, retry_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.conn.Exec(query,
		job.ID,
		job.HandlerName,
		job.Source,
		nullString(job.RunID),
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		nullBytes(job.Payload),
		nullBytes(job.Result),
		nullString(job.Error),
		job.RetryCount,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := s.dialect.Rebind(`SELECT ` + StandardJobSelectColumns() + ` FROM pipeline_jobs WHERE id = ?`)

	job, err := scanJob(s.conn.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrJobNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	return job, nil
}

// UpdateJob updates an existing job in the database
func (s *Store) UpdateJob(job *Job) error {
	query := s.dialect.Rebind(`
		UPDATE pipeline_jobs
		SET status = ?,
		    progress_current = ?,
		    progress_total = ?,
		    payload = ?,
		    result = ?,
		    error = ?,
		    retry_count = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`)

	result, err := s.conn.Exec(query,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		nullBytes(job.Payload),
		nullBytes(job.Result),
		nullString(job.Error),
		job.RetryCount,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(ErrJobNotFound, "job %s", job.ID)
	}

	return nil
}

// ClaimJob atomically moves a queued job to running. Returns false when
// another worker claimed it first.
func (s *Store) ClaimJob(job *Job) (bool, error) {
	job.Start()

	query := s.dialect.Rebind(`
		UPDATE pipeline_jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`)

	result, err := s.conn.Exec(query, job.Status, job.StartedAt, job.UpdatedAt, job.ID, JobStatusQueued)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}

	return rows == 1, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM pipeline_jobs`

	var query string
	var args []interface{}
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.conn.Query(s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// OldestQueued returns up to limit queued jobs, oldest first
func (s *Store) OldestQueued(limit int) ([]*Job, error) {
	query := s.dialect.Rebind(`SELECT ` + StandardJobSelectColumns() + `
		FROM pipeline_jobs
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`)

	rows, err := s.conn.Query(query, JobStatusQueued, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queued jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "queued jobs")
}

// ListJobsByRun returns every job submitted under runID, oldest first
func (s *Store) ListJobsByRun(runID string) ([]*Job, error) {
	query := s.dialect.Rebind(`SELECT ` + StandardJobSelectColumns() + `
		FROM pipeline_jobs
		WHERE run_id = ?
		ORDER BY created_at ASC`)

	rows, err := s.conn.Query(query, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs by run")
	}
	defer rows.Close()

	return scanJobs(rows, "run jobs")
}

// scanJobs scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// CountByStatus returns the number of jobs in each status
func (s *Store) CountByStatus() (map[JobStatus]int, error) {
	rows, err := s.conn.Query(`SELECT status, COUNT(*) FROM pipeline_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}

	return counts, nil
}

// CleanupOldJobs removes terminal jobs older than the specified duration
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	query := s.dialect.Rebind(`
		DELETE FROM pipeline_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < ?
	`)

	result, err := s.conn.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}
