package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// knownJobTypes is the dispatchable vocabulary. Enqueue rejects anything
// else up front so typos never reach the worker.
var knownJobTypes = map[string]bool{
	models.JobTypeIngestDocument:    true,
	models.JobTypeProcessVersion:    true,
	models.JobTypeExtractFacts:      true,
	models.JobTypeEmbedVersion:      true,
	models.JobTypeDeleteDocument:    true,
	models.JobTypeBulkURLIngest:     true,
	models.JobTypeBulkFolderIngest:  true,
	models.JobTypeUpgradeExtraction: true,
}

// Service fronts job creation and management. The job row is the source of
// truth; the queue carries only envelopes, so a duplicate delivery or a lost
// message never corrupts state.
type Service struct {
	store  interfaces.JobStorage
	queue  interfaces.QueueManager
	events interfaces.EventService
	logger arbor.ILogger
}

var _ interfaces.JobService = (*Service)(nil)

// NewService wires job management against storage and the queue. The event
// bus may be nil.
func NewService(logger arbor.ILogger, store interfaces.JobStorage, queue interfaces.QueueManager, events interfaces.EventService) *Service {
	return &Service{
		store:  store,
		queue:  queue,
		events: events,
		logger: logger,
	}
}

// Enqueue persists the job row and pushes its envelope onto the priority
// queue.
func (s *Service) Enqueue(ctx context.Context, tenantID, jobType string, priority int, payload map[string]interface{}) (*models.Job, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", interfaces.ErrValidation)
	}
	if !knownJobTypes[jobType] {
		return nil, fmt.Errorf("%w: unknown job type %q", interfaces.ErrValidation, jobType)
	}

	job := models.NewJob(tenantID, jobType, priority, payload)
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	msg := &models.QueueMessage{
		JobID:      job.ID,
		TenantID:   tenantID,
		Type:       jobType,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, models.QueueForPriority(priority), msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.publish(ctx, job)
	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", jobType).
		Str("tenant_id", tenantID).
		Int("priority", priority).
		Msg("Job enqueued")
	return job, nil
}

// Get fetches a job within the tenant scope.
func (s *Service) Get(ctx context.Context, tc models.TenantContext, jobID string) (*models.Job, error) {
	return s.store.GetJob(ctx, tc.TenantID, jobID)
}

// List returns a filtered page of the tenant's jobs plus the filtered total.
func (s *Service) List(ctx context.Context, tc models.TenantContext, opts *interfaces.JobListOptions) ([]*models.Job, int, error) {
	jobs, err := s.store.ListJobs(ctx, tc.TenantID, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountJobs(ctx, tc.TenantID, opts)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// Cancel flips the job to canceled and raises the cooperative flag. A
// handler already past its last checkpoint runs to completion; its result is
// discarded by the finish guard.
func (s *Service) Cancel(ctx context.Context, tc models.TenantContext, jobID string) error {
	if err := s.store.CancelJob(ctx, tc.TenantID, jobID); err != nil {
		return err
	}

	job, err := s.store.GetJob(ctx, tc.TenantID, jobID)
	if err == nil {
		s.publish(ctx, job)
	}
	s.logger.Info().
		Str("job_id", jobID).
		Str("tenant_id", tc.TenantID).
		Msg("Job canceled")
	return nil
}

// Retry re-queues a failed job as a fresh attempt. The attempt counter is
// kept, so each retry grants exactly one more run before the bound applies
// again.
func (s *Service) Retry(ctx context.Context, tc models.TenantContext, jobID string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, tc.TenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: only failed jobs can be retried, job is %s",
			interfaces.ErrValidation, job.Status)
	}

	job.Status = models.JobStatusQueued
	job.Error = ""
	job.Result = nil
	job.Progress = 0
	job.ProgressMessage = ""
	job.WorkerID = ""
	job.CancelRequested = false
	job.StartedAt = nil
	job.FinishedAt = nil
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	msg := &models.QueueMessage{
		JobID:      job.ID,
		TenantID:   tc.TenantID,
		Type:       job.Type,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, models.QueueForPriority(job.Priority), msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue retry: %w", err)
	}

	s.publish(ctx, job)
	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", job.Type).
		Int("attempts", job.Attempts).
		Msg("Job re-queued for retry")
	return job, nil
}

// Delete removes a terminal job record. Live jobs must be canceled first.
func (s *Service) Delete(ctx context.Context, tc models.TenantContext, jobID string) error {
	if err := s.store.DeleteJob(ctx, tc.TenantID, jobID); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Msg("Job record deleted")
	return nil
}

// StatusSummary returns the tenant's job counts grouped by status.
func (s *Service) StatusSummary(ctx context.Context, tc models.TenantContext) (map[models.JobStatus]int, error) {
	return s.store.CountJobsByStatus(ctx, tc.TenantID)
}

func (s *Service) publish(ctx context.Context, job *models.Job) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, interfaces.Event{
		Type:     interfaces.EventJobUpdated,
		TenantID: job.TenantID,
		Payload: map[string]interface{}{
			"job_id":   job.ID,
			"type":     job.Type,
			"status":   string(job.Status),
			"progress": job.Progress,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job event")
	}
}
