package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/recoupapp/recoup-worker/internal/models"
)

type SyncJobRepository struct {
	db *sql.DB
}

func NewSyncJobRepository(db *sql.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// GetPendingJobs retrieves pending jobs of one kind, oldest first.
func (r *SyncJobRepository) GetPendingJobs(ctx context.Context, kind models.SyncJobKind, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT id, kind, user_id, target_id, status, attempts,
		       last_error, created_at, updated_at, processed_at
		FROM sync_job
		WHERE status = $1 AND kind = $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.JobStatusPending, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// GetFailedJobs retrieves failed jobs still under the retry ceiling.
func (r *SyncJobRepository) GetFailedJobs(ctx context.Context, kind models.SyncJobKind, maxAttempts, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT id, kind, user_id, target_id, status, attempts,
		       last_error, created_at, updated_at, processed_at
		FROM sync_job
		WHERE status = $1 AND kind = $2 AND attempts < $3
		ORDER BY updated_at ASC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, models.JobStatusFailed, kind, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// GetStuckProcessing retrieves jobs that have sat in processing state past the
// cutoff, usually left behind by a crashed worker.
func (r *SyncJobRepository) GetStuckProcessing(ctx context.Context, kind models.SyncJobKind, cutoff time.Time, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT id, kind, user_id, target_id, status, attempts,
		       last_error, created_at, updated_at, processed_at
		FROM sync_job
		WHERE status = $1 AND kind = $2 AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, models.JobStatusProcessing, kind, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// Create creates a new sync job
func (r *SyncJobRepository) Create(ctx context.Context, job models.SyncJob) error {
	query := `
		INSERT INTO sync_job (
			id, kind, user_id, target_id, status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Kind,
		job.UserID,
		job.TargetID,
		job.Status,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}

	return nil
}

// UpdateStatus updates the job status. Terminal states (completed, failed)
// get processed_at stamped; processing clears it.
func (r *SyncJobRepository) UpdateStatus(ctx context.Context, jobID string, status models.SyncJobStatus, lastError *string) error {
	query := `
		UPDATE sync_job
		SET status = $1, last_error = $2, updated_at = $3, processed_at = $4
		WHERE id = $5
	`

	now := time.Now()
	var processedAt *time.Time
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		processedAt = &now
	}

	_, err := r.db.ExecContext(ctx, query, status, lastError, now, processedAt, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	return nil
}

// IncrementAttempts increments the retry attempt counter
func (r *SyncJobRepository) IncrementAttempts(ctx context.Context, jobID string) error {
	query := `
		UPDATE sync_job
		SET attempts = attempts + 1, updated_at = $1
		WHERE id = $2
	`

	_, err := r.db.ExecContext(ctx, query, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}

	return nil
}

// scanJobs scans database rows into a SyncJob slice
func (r *SyncJobRepository) scanJobs(rows *sql.Rows) ([]models.SyncJob, error) {
	var jobs []models.SyncJob

	for rows.Next() {
		var job models.SyncJob
		err := rows.Scan(
			&job.ID,
			&job.Kind,
			&job.UserID,
			&job.TargetID,
			&job.Status,
			&job.Attempts,
			&job.LastError,
			&job.CreatedAt,
			&job.UpdatedAt,
			&job.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return jobs, nil
}
