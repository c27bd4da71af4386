package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/recoupapp/recoup-worker/internal/config"
	"github.com/recoupapp/recoup-worker/internal/models"
	"github.com/recoupapp/recoup-worker/internal/repository"
	"github.com/recoupapp/recoup-worker/internal/service"
)

// stuckJobAge is how long a job may sit in processing before it is treated as
// abandoned by a crashed worker and re-picked.
const stuckJobAge = 30 * time.Minute

const jobBatchSize = 5

type Watcher struct {
	cfg         *config.Config
	jobRepo     *repository.SyncJobRepository
	mailSync    *service.MailSyncOrchestrator
	fulfillSync *service.FulfillmentSyncer
}

func New(
	cfg *config.Config,
	jobRepo *repository.SyncJobRepository,
	mailSync *service.MailSyncOrchestrator,
	fulfillSync *service.FulfillmentSyncer,
) *Watcher {
	return &Watcher{
		cfg:         cfg,
		jobRepo:     jobRepo,
		mailSync:    mailSync,
		fulfillSync: fulfillSync,
	}
}

// Start begins watching for pending sync jobs
func (w *Watcher) Start(ctx context.Context) error {
	log.Println("Starting watcher for mail and fulfillment sync jobs...")

	// Process any pending jobs from previous runs
	if err := w.processAllPendingJobs(ctx); err != nil {
		log.Printf("Warning: failed to process pending jobs on startup: %v", err)
	}

	// Start polling loop
	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Watcher shutting down...")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processAllPendingJobs(ctx); err != nil {
				log.Printf("Error processing jobs: %v", err)
			}
		}
	}
}

func (w *Watcher) processAllPendingJobs(ctx context.Context) error {
	if err := w.processJobsOfKind(ctx, models.JobKindMailSync); err != nil {
		log.Printf("Error processing mail sync jobs: %v", err)
	}
	if err := w.processJobsOfKind(ctx, models.JobKindFulfillmentSync); err != nil {
		log.Printf("Error processing fulfillment sync jobs: %v", err)
	}
	return nil
}

// processJobsOfKind collects pending, retryable-failed, and stuck-processing
// jobs of one kind and runs them in order.
func (w *Watcher) processJobsOfKind(ctx context.Context, kind models.SyncJobKind) error {
	pendingJobs, err := w.jobRepo.GetPendingJobs(ctx, kind, jobBatchSize)
	if err != nil {
		return err
	}

	failedJobs, err := w.jobRepo.GetFailedJobs(ctx, kind, w.cfg.MaxRetries, jobBatchSize)
	if err != nil {
		return err
	}

	stuckJobs, err := w.jobRepo.GetStuckProcessing(ctx, kind, time.Now().Add(-stuckJobAge), jobBatchSize)
	if err != nil {
		return err
	}

	jobs := append(pendingJobs, failedJobs...)
	jobs = append(jobs, stuckJobs...)

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Found %d %s job(s) to process", len(jobs), kind)

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("Failed to process job %s: %v", job.ID, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (w *Watcher) processJob(ctx context.Context, job models.SyncJob) error {
	statusMsg := ""
	if job.Status == models.JobStatusProcessing {
		statusMsg = " (stuck in processing)"
	} else if job.Status == models.JobStatusFailed {
		statusMsg = fmt.Sprintf(" (failed, attempt %d)", job.Attempts)
	}
	log.Printf("Processing %s job %s for user %s%s", job.Kind, job.ID, job.UserID, statusMsg)

	if err := w.jobRepo.UpdateStatus(ctx, job.ID, models.JobStatusProcessing, nil); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	if err := w.jobRepo.IncrementAttempts(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}

	runErr := w.runJob(ctx, job)
	if runErr != nil {
		msg := runErr.Error()
		if statusErr := w.jobRepo.UpdateStatus(ctx, job.ID, models.JobStatusFailed, &msg); statusErr != nil {
			log.Printf("Failed to mark job %s failed: %v", job.ID, statusErr)
		}
		return runErr
	}

	if err := w.jobRepo.UpdateStatus(ctx, job.ID, models.JobStatusCompleted, nil); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	log.Printf("Job %s completed", job.ID)
	return nil
}

func (w *Watcher) runJob(ctx context.Context, job models.SyncJob) error {
	switch job.Kind {
	case models.JobKindMailSync:
		summary, err := w.mailSync.SyncUser(ctx, job.UserID, job.TargetID)
		if err != nil {
			return err
		}
		if len(summary.Errors) > 0 {
			log.Printf("Mail sync job %s finished with %d item error(s)", job.ID, len(summary.Errors))
		}
		return nil
	case models.JobKindFulfillmentSync:
		summary, err := w.fulfillSync.SyncUser(ctx, job.UserID, job.TargetID)
		if err != nil {
			return err
		}
		if len(summary.Errors) > 0 {
			log.Printf("Fulfillment sync job %s finished with %d item error(s)", job.ID, len(summary.Errors))
		}
		return nil
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}
