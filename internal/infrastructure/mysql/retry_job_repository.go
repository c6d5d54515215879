package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rooster-auction/internal/domain"
)

// MySQLRetryJobRepository stores payment fallback jobs. A job is due when it
// is scheduled, or running with an expired lease, and its run_at has passed.
type MySQLRetryJobRepository struct {
	db *sql.DB
}

func NewMySQLRetryJobRepository(db *sql.DB) *MySQLRetryJobRepository {
	return &MySQLRetryJobRepository{db: db}
}

const retryJobColumns = `id, auction_id, bidder_id, amount, idempotency_key, attempt,
        next_delay_ms, run_at, state, last_error, created_at, updated_at`

func (r *MySQLRetryJobRepository) CreateJob(ctx context.Context, job *domain.RetryJob) error {
	query := `
        INSERT INTO retry_jobs (` + retryJobColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.AuctionID, job.BidderID, job.Amount, job.IdempotencyKey, job.Attempt,
		job.NextDelay.Milliseconds(), job.RunAt, string(job.State), job.LastError,
		job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *MySQLRetryJobRepository) GetJob(ctx context.Context, jobID string) (*domain.RetryJob, error) {
	query := `SELECT ` + retryJobColumns + ` FROM retry_jobs WHERE id = ?`

	job, err := scanRetryJob(r.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	return job, err
}

func (r *MySQLRetryJobRepository) GetDueJobs(ctx context.Context, before time.Time, limit int) ([]*domain.RetryJob, error) {
	query := `
        SELECT ` + retryJobColumns + `
        FROM retry_jobs
        WHERE state IN (?, ?) AND run_at <= ?
        ORDER BY run_at ASC
        LIMIT ?
    `

	rows, err := r.db.QueryContext(ctx, query,
		string(domain.JobScheduled), string(domain.JobRunning), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.RetryJob
	for rows.Next() {
		job, err := scanRetryJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (r *MySQLRetryJobRepository) UpdateJob(ctx context.Context, job *domain.RetryJob) error {
	query := `
        UPDATE retry_jobs
        SET attempt = ?, next_delay_ms = ?, run_at = ?, state = ?, last_error = ?, updated_at = ?
        WHERE id = ?
    `
	res, err := r.db.ExecContext(ctx, query,
		job.Attempt, job.NextDelay.Milliseconds(), job.RunAt, string(job.State),
		job.LastError, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("update retry job %s: %w", job.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func scanRetryJob(row rowScanner) (*domain.RetryJob, error) {
	var job domain.RetryJob
	var state string
	var delayMs int64

	err := row.Scan(&job.ID, &job.AuctionID, &job.BidderID, &job.Amount, &job.IdempotencyKey,
		&job.Attempt, &delayMs, &job.RunAt, &state, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	job.State = domain.RetryJobState(state)
	job.NextDelay = time.Duration(delayMs) * time.Millisecond
	return &job, nil
}
