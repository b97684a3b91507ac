package deletion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// levelConcurrency bounds parallel tasks within one protocol level. The fact
// level is the widest group with four tasks.
const levelConcurrency = 4

// resumeBatchSize caps how many stuck documents one sweep re-queues.
const resumeBatchSize = 100

// deleteJobPriority routes deletion jobs onto the high queue ahead of
// ordinary processing work.
const deleteJobPriority = 10

// Service runs the two-phase document deletion protocol. Marking is
// synchronous and hides the document immediately; the physical walk runs
// worker-side in ascending task levels and resumes at task granularity.
type Service struct {
	docs     interfaces.DocumentStorage
	tasks    interfaces.DeletionStorage
	spans    interfaces.SpanStorage
	facts    interfaces.FactStorage
	quality  interfaces.QualityStorage
	runs     interfaces.RunStorage
	projects interfaces.ProjectStorage
	jobs     interfaces.JobStorage
	queue    interfaces.QueueManager
	blobs    interfaces.BlobStore
	events   interfaces.EventService
	logger   arbor.ILogger
}

var _ interfaces.DeletionService = (*Service)(nil)

// NewService wires the deletion protocol against storage, the blob store, and
// the job queue. The event bus may be nil.
func NewService(
	logger arbor.ILogger,
	docs interfaces.DocumentStorage,
	tasks interfaces.DeletionStorage,
	spans interfaces.SpanStorage,
	facts interfaces.FactStorage,
	quality interfaces.QualityStorage,
	runs interfaces.RunStorage,
	projects interfaces.ProjectStorage,
	jobs interfaces.JobStorage,
	queue interfaces.QueueManager,
	blobs interfaces.BlobStore,
	events interfaces.EventService,
) *Service {
	return &Service{
		docs:     docs,
		tasks:    tasks,
		spans:    spans,
		facts:    facts,
		quality:  quality,
		runs:     runs,
		projects: projects,
		jobs:     jobs,
		queue:    queue,
		blobs:    blobs,
		events:   events,
		logger:   logger,
	}
}

// MarkForDeletion flips the document to MARKED_FOR_DELETION, records the
// requester, writes the task plan, and queues the deletion job. A document
// already marked just gets another job; execution skips finished tasks, so
// duplicate jobs are harmless.
func (s *Service) MarkForDeletion(ctx context.Context, tc models.TenantContext, documentID string) (string, error) {
	doc, err := s.docs.GetDocument(ctx, tc.TenantID, documentID)
	if err != nil {
		return "", err
	}

	switch doc.DeletionStatus {
	case models.DeletionStatusDeleted:
		return "", interfaces.ErrNotFound
	case models.DeletionStatusMarked, models.DeletionStatusFailed:
		return s.enqueueDeleteJob(ctx, tc.TenantID, documentID)
	}

	versions, err := s.docs.ListVersions(ctx, tc.TenantID, documentID)
	if err != nil {
		return "", err
	}

	if err := s.docs.SetDeletionStatus(ctx, tc.TenantID, documentID, models.DeletionStatusMarked, tc.ActorID); err != nil {
		return "", err
	}
	if err := s.tasks.CreateTasks(ctx, buildPlan(tc.TenantID, documentID, versions)); err != nil {
		return "", fmt.Errorf("failed to record deletion plan: %w", err)
	}

	jobID, err := s.enqueueDeleteJob(ctx, tc.TenantID, documentID)
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Str("document_id", documentID).
		Str("requested_by", tc.ActorID).
		Int("versions", len(versions)).
		Msg("Document marked for deletion")
	return jobID, nil
}

// ExecuteDeletion walks the task plan in ascending levels. Tasks already
// completed or skipped are not re-run, so a crashed walk picks up where it
// stopped. A document already DELETED is a no-op.
func (s *Service) ExecuteDeletion(ctx context.Context, tenantID, documentID string) error {
	doc, err := s.docs.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	switch doc.DeletionStatus {
	case models.DeletionStatusDeleted:
		return nil
	case models.DeletionStatusActive:
		return fmt.Errorf("document %s is not marked for deletion", documentID)
	}

	tasks, err := s.ensurePlan(ctx, tenantID, doc)
	if err != nil {
		return err
	}
	if doc.DeletionStatus == models.DeletionStatusFailed {
		// An explicit resume grants exhausted tasks a fresh retry budget.
		if err := s.reopenExhausted(ctx, tasks); err != nil {
			return err
		}
	}

	for _, level := range groupByLevel(tasks) {
		if err := s.runLevel(ctx, doc, level); err != nil {
			return err
		}
	}

	s.publish(ctx, interfaces.Event{
		Type:     interfaces.EventDeletionCompleted,
		TenantID: tenantID,
		Payload:  map[string]interface{}{"document_id": documentID},
	})
	s.logger.Info().
		Str("document_id", documentID).
		Msg("Deletion protocol completed")
	return nil
}

// Status reports the protocol's progress. The report is available for any
// document the tenant can still address, including DELETED tombstones.
func (s *Service) Status(ctx context.Context, tc models.TenantContext, documentID string) (*interfaces.DeletionReport, error) {
	doc, err := s.docs.GetDocument(ctx, tc.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ListTasksByDocument(ctx, tc.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	return &interfaces.DeletionReport{Document: doc, Tasks: tasks}, nil
}

// ResumePending re-queues deletion jobs for documents stuck in
// MARKED_FOR_DELETION or DELETION_FAILED, across all tenants.
func (s *Service) ResumePending(ctx context.Context) (int, error) {
	stuck, err := s.docs.ListMarkedForDeletion(ctx, resumeBatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, doc := range stuck {
		if _, err := s.enqueueDeleteJob(ctx, doc.TenantID, doc.ID); err != nil {
			s.logger.Warn().
				Err(err).
				Str("document_id", doc.ID).
				Msg("Failed to re-queue deletion")
			continue
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info().Int("documents", queued).Msg("Re-queued stuck deletions")
	}
	return queued, nil
}

// buildPlan enumerates the document's deletion tasks: one storage_file task
// per version blob, then one task per dependent resource kind.
func buildPlan(tenantID, documentID string, versions []*models.DocumentVersion) []*models.DeletionTask {
	now := time.Now().UTC()
	newTask := func(taskType models.DeletionTaskType, resourceID string) *models.DeletionTask {
		docID := documentID
		return &models.DeletionTask{
			ID:              common.NewDeletionTaskID(),
			TenantID:        tenantID,
			DocumentID:      &docID,
			TaskType:        taskType,
			ResourceID:      resourceID,
			ProcessingOrder: taskType.ProcessingOrder(),
			Status:          models.DeletionTaskPending,
			MaxRetries:      models.DefaultDeletionTaskRetries,
			CreatedAt:       now,
		}
	}

	var plan []*models.DeletionTask
	for _, version := range versions {
		plan = append(plan, newTask(models.DeletionTaskStorageFile, version.ID))
	}
	for _, taskType := range []models.DeletionTaskType{
		models.DeletionTaskEmbeddingChunks,
		models.DeletionTaskSpans,
		models.DeletionTaskFactsClaims,
		models.DeletionTaskFactsMetrics,
		models.DeletionTaskFactsConstraints,
		models.DeletionTaskFactsRisks,
		models.DeletionTaskQualityConflicts,
		models.DeletionTaskQualityQuestions,
		models.DeletionTaskExtractionRuns,
		models.DeletionTaskProjectDocuments,
		models.DeletionTaskDocumentVersions,
		models.DeletionTaskDocumentRecord,
	} {
		plan = append(plan, newTask(taskType, ""))
	}
	return plan
}

// ensurePlan returns the stored task plan, rebuilding it when marking crashed
// between the status flip and the plan write.
func (s *Service) ensurePlan(ctx context.Context, tenantID string, doc *models.Document) ([]*models.DeletionTask, error) {
	tasks, err := s.tasks.ListTasksByDocument(ctx, tenantID, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(tasks) > 0 {
		return tasks, nil
	}

	versions, err := s.docs.ListVersions(ctx, tenantID, doc.ID)
	if err != nil {
		return nil, err
	}
	plan := buildPlan(tenantID, doc.ID, versions)
	if err := s.tasks.CreateTasks(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to record deletion plan: %w", err)
	}
	return plan, nil
}

// reopenExhausted resets failed tasks that have spent their retry budget back
// to pending. Only an explicit re-drive of a DELETION_FAILED document reaches
// here.
func (s *Service) reopenExhausted(ctx context.Context, tasks []*models.DeletionTask) error {
	for _, task := range tasks {
		if task.Status != models.DeletionTaskFailed || !task.RetryExhausted() {
			continue
		}
		task.Status = models.DeletionTaskPending
		task.RetryCount = 0
		task.Error = ""
		if err := s.tasks.UpdateTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// groupByLevel buckets tasks by processing order, ascending. Levels execute
// strictly in sequence; tasks within one level are independent.
func groupByLevel(tasks []*models.DeletionTask) [][]*models.DeletionTask {
	byLevel := make(map[int][]*models.DeletionTask)
	for _, task := range tasks {
		byLevel[task.ProcessingOrder] = append(byLevel[task.ProcessingOrder], task)
	}

	levels := make([]int, 0, len(byLevel))
	for level := range byLevel {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	grouped := make([][]*models.DeletionTask, 0, len(levels))
	for _, level := range levels {
		grouped = append(grouped, byLevel[level])
	}
	return grouped
}

// runLevel executes one level's open tasks in parallel. The walk stops at the
// first level that does not fully terminate: with retry budget left the error
// surfaces so the job retry re-enters, otherwise the document flips to
// DELETION_FAILED keeping all partial state.
func (s *Service) runLevel(ctx context.Context, doc *models.Document, level []*models.DeletionTask) error {
	var open []*models.DeletionTask
	for _, task := range level {
		if !task.Status.Terminal() {
			open = append(open, task)
		}
	}
	if len(open) == 0 {
		return nil
	}

	pool := workerpool.New(levelConcurrency)
	var (
		mu       sync.Mutex
		failed   []*models.DeletionTask
		firstErr error
	)
	for _, task := range open {
		pool.Submit(func() {
			if err := s.runTask(ctx, doc, task); err != nil {
				mu.Lock()
				failed = append(failed, task)
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
	}
	pool.StopWait()

	if firstErr == nil {
		return nil
	}

	for _, task := range failed {
		if !task.RetryExhausted() {
			continue
		}
		if err := s.docs.SetDeletionStatus(ctx, doc.TenantID, doc.ID, models.DeletionStatusFailed, ""); err != nil {
			s.logger.Warn().
				Err(err).
				Str("document_id", doc.ID).
				Msg("Failed to record deletion failure")
		}
		s.publish(ctx, interfaces.Event{
			Type:     interfaces.EventDeletionFailed,
			TenantID: doc.TenantID,
			Payload: map[string]interface{}{
				"document_id": doc.ID,
				"task_type":   string(task.TaskType),
				"error":       task.Error,
			},
		})
		s.logger.Error().
			Err(firstErr).
			Str("document_id", doc.ID).
			Str("task_type", string(task.TaskType)).
			Msg("Deletion protocol exhausted retries")
		return fmt.Errorf("deletion task %s exhausted retries: %w", task.TaskType, firstErr)
	}
	return fmt.Errorf("deletion level %d incomplete: %w", open[0].ProcessingOrder, firstErr)
}

// runTask drives one task through in_progress to a terminal state. Zero
// affected resources terminates as skipped, which is a success.
func (s *Service) runTask(ctx context.Context, doc *models.Document, task *models.DeletionTask) error {
	task.Status = models.DeletionTaskInProgress
	task.Error = ""
	if err := s.tasks.UpdateTask(ctx, task); err != nil {
		return err
	}

	affected, err := s.deleteResource(ctx, doc, task)
	if err != nil {
		task.RetryCount++
		task.Status = models.DeletionTaskFailed
		task.Error = err.Error()
		if uerr := s.tasks.UpdateTask(ctx, task); uerr != nil {
			s.logger.Warn().
				Err(uerr).
				Str("task_id", task.ID).
				Msg("Failed to persist deletion task failure")
		}
		return err
	}

	now := time.Now().UTC()
	if affected == 0 {
		task.Status = models.DeletionTaskSkipped
	} else {
		task.Status = models.DeletionTaskCompleted
	}
	task.CompletedAt = &now
	return s.tasks.UpdateTask(ctx, task)
}

// deleteResource dispatches one task to its storage delete and reports how
// many resources went away.
func (s *Service) deleteResource(ctx context.Context, doc *models.Document, task *models.DeletionTask) (int64, error) {
	switch task.TaskType {
	case models.DeletionTaskStorageFile:
		return s.deleteVersionBlob(ctx, doc.TenantID, task.ResourceID)
	case models.DeletionTaskEmbeddingChunks:
		return s.spans.DeleteChunksByDocument(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskSpans:
		return s.spans.DeleteSpansByDocument(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskFactsClaims:
		return s.facts.DeleteClaimsByDocument(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskFactsMetrics:
		return s.facts.DeleteMetricsByDocument(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskFactsConstraints:
		return s.facts.DeleteConstraintsByDocument(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskFactsRisks:
		return s.facts.DeleteRisksByDocument(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskQualityConflicts:
		return s.quality.DeleteConflictsByDocument(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskQualityQuestions:
		return s.quality.DeleteOpenQuestionsByDocument(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskExtractionRuns:
		return s.deleteRuns(ctx, doc)
	case models.DeletionTaskProjectDocuments:
		return s.projects.DetachDocumentEverywhere(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskDocumentVersions:
		return s.docs.DeleteVersionsByDocument(ctx, doc.TenantID, doc.ID)
	case models.DeletionTaskDocumentRecord:
		return s.finalizeRecord(ctx, doc)
	default:
		return 0, fmt.Errorf("unknown deletion task type %q", task.TaskType)
	}
}

// deleteVersionBlob removes one version's original bytes. A version or blob
// already gone counts as skipped, not failed.
func (s *Service) deleteVersionBlob(ctx context.Context, tenantID, versionID string) (int64, error) {
	version, err := s.docs.GetVersion(ctx, tenantID, versionID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if version.BlobKey == "" {
		return 0, nil
	}

	removed, err := s.blobs.Delete(ctx, version.BlobKey)
	if err != nil {
		return 0, fmt.Errorf("failed to delete blob %s: %w", version.BlobKey, err)
	}
	if !removed {
		return 0, nil
	}
	return 1, nil
}

// deleteRuns drops run artifacts from blob storage before removing the run
// rows. Versions are still present at this level, so every run is reachable.
func (s *Service) deleteRuns(ctx context.Context, doc *models.Document) (int64, error) {
	versions, err := s.docs.ListVersions(ctx, doc.TenantID, doc.ID)
	if err != nil {
		return 0, err
	}
	for _, version := range versions {
		runs, err := s.runs.ListRunsByVersion(ctx, doc.TenantID, version.ID)
		if err != nil {
			return 0, err
		}
		for _, run := range runs {
			if run.ArtifactPath == "" {
				continue
			}
			if _, err := s.blobs.Delete(ctx, run.ArtifactPath); err != nil {
				return 0, fmt.Errorf("failed to delete run artifact %s: %w", run.ArtifactPath, err)
			}
		}
	}
	return s.runs.DeleteRunsByDocument(ctx, doc.TenantID, doc.ID)
}

// finalizeRecord leaves the DELETED tombstone and detaches the task rows as
// the surviving audit trail. The retention sweep purges the tombstone later.
func (s *Service) finalizeRecord(ctx context.Context, doc *models.Document) (int64, error) {
	if err := s.docs.SetDeletionStatus(ctx, doc.TenantID, doc.ID, models.DeletionStatusDeleted, ""); err != nil {
		return 0, err
	}
	if _, err := s.tasks.DetachTasks(ctx, doc.TenantID, doc.ID); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *Service) enqueueDeleteJob(ctx context.Context, tenantID, documentID string) (string, error) {
	job := models.NewJob(tenantID, models.JobTypeDeleteDocument, deleteJobPriority, map[string]interface{}{
		"document_id": documentID,
	})
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create deletion job: %w", err)
	}

	msg := &models.QueueMessage{
		JobID:      job.ID,
		TenantID:   tenantID,
		Type:       job.Type,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, models.QueueForPriority(job.Priority), msg); err != nil {
		return "", fmt.Errorf("failed to enqueue deletion job: %w", err)
	}
	return job.ID, nil
}

func (s *Service) publish(ctx context.Context, event interfaces.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event", string(event.Type)).
			Msg("Failed to publish deletion event")
	}
}
