package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
)

// purgeBatchSize caps how many deleted documents one purge sweep removes.
const purgeBatchSize = 200

// sweepTimeout bounds a single sweep execution.
const sweepTimeout = 10 * time.Minute

// sweep is one registered maintenance job.
type sweep struct {
	name      string
	schedule  string
	run       func(ctx context.Context) error
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// Service runs background maintenance on cron schedules. Two sweeps are
// registered: the stale sweep recovers work orphaned by crashed workers,
// the purge sweep removes deleted documents and finished jobs past their
// retention.
type Service struct {
	cfg      *common.SchedulerConfig
	store    interfaces.StorageManager
	deletion interfaces.DeletionService
	cron     *cron.Cron
	logger   arbor.ILogger

	mu      sync.Mutex
	sweeps  map[string]*sweep
	order   []string
	running bool
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates the maintenance scheduler.
func NewService(logger arbor.ILogger, cfg *common.SchedulerConfig, store interfaces.StorageManager, deletion interfaces.DeletionService) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		deletion: deletion,
		cron:     cron.New(),
		logger:   logger,
		sweeps:   make(map[string]*sweep),
	}
}

// Start registers the sweeps and starts the cron runner.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if err := s.register("stale_sweep", s.cfg.StaleJobSchedule, s.runStaleSweep); err != nil {
		return err
	}
	if err := s.register("purge_sweep", s.cfg.PurgeSchedule, s.runPurgeSweep); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("stale_schedule", s.cfg.StaleJobSchedule).
		Str("purge_schedule", s.cfg.PurgeSchedule).
		Msg("Scheduler started")
	return nil
}

// Stop halts the cron runner and waits briefly for in-flight sweeps.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("Sweep still running at scheduler shutdown")
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the cron runner is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Jobs returns the registered sweeps in registration order.
func (s *Service) Jobs() []interfaces.ScheduledJobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]interfaces.ScheduledJobStatus, 0, len(s.order))
	for _, name := range s.order {
		entry := s.sweeps[name]
		status := interfaces.ScheduledJobStatus{
			Name:      entry.name,
			Schedule:  entry.schedule,
			LastRun:   entry.lastRun,
			IsRunning: entry.isRunning,
			LastError: entry.lastError,
		}
		if s.running {
			next := s.cron.Entry(entry.cronID).Next
			if !next.IsZero() {
				status.NextRun = &next
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// TriggerNow runs a registered sweep immediately, outside its schedule.
func (s *Service) TriggerNow(name string) error {
	s.mu.Lock()
	entry, exists := s.sweeps[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("sweep %s not registered", name)
	}
	if entry.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("sweep %s is already running", name)
	}
	s.mu.Unlock()

	s.logger.Info().Str("sweep", name).Msg("Manually triggering sweep")
	common.SafeGo(s.logger, "sweep:"+name, func() {
		s.execute(name)
	})
	return nil
}

// register adds a sweep to the cron runner. Caller holds s.mu.
func (s *Service) register(name, schedule string, run func(ctx context.Context) error) error {
	entry := &sweep{name: name, schedule: schedule, run: run}
	cronID, err := s.cron.AddFunc(schedule, func() {
		s.execute(name)
	})
	if err != nil {
		return fmt.Errorf("failed to register sweep %s: %w", name, err)
	}
	entry.cronID = cronID
	s.sweeps[name] = entry
	s.order = append(s.order, name)
	return nil
}

// execute wraps one sweep run with status tracking. Overlapping runs of the
// same sweep are skipped rather than queued.
func (s *Service) execute(name string) {
	s.mu.Lock()
	entry, exists := s.sweeps[name]
	if !exists {
		s.mu.Unlock()
		return
	}
	if entry.isRunning {
		s.mu.Unlock()
		s.logger.Debug().Str("sweep", name).Msg("Sweep still running, skipping cycle")
		return
	}
	entry.isRunning = true
	run := entry.run
	s.mu.Unlock()

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	err := run(ctx)
	cancel()

	completed := time.Now()
	s.mu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("sweep", name).
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("Sweep failed")
	} else {
		s.logger.Debug().
			Str("sweep", name).
			Dur("duration", time.Since(started)).
			Msg("Sweep completed")
	}
}

// runStaleSweep recovers work orphaned by crashed workers: running jobs and
// runs past the threshold are failed, claimed extractions are released, and
// documents stuck mid-deletion get their jobs re-queued. Each step runs even
// when an earlier one fails.
func (s *Service) runStaleSweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleJobThresholdDuration())
	var errs []error

	jobs, err := s.store.JobStorage().FailStaleJobs(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("fail stale jobs: %w", err))
	}

	runs, err := s.store.RunStorage().FailStaleRuns(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("fail stale runs: %w", err))
	}

	claims, err := s.store.DocumentStorage().ReleaseStaleExtractionClaims(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("release extraction claims: %w", err))
	}

	resumed, err := s.deletion.ResumePending(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("resume pending deletions: %w", err))
	}

	if jobs > 0 || runs > 0 || claims > 0 || resumed > 0 {
		s.logger.Warn().
			Int64("stale_jobs", jobs).
			Int64("stale_runs", runs).
			Int64("released_claims", claims).
			Int("resumed_deletions", resumed).
			Msg("Stale sweep recovered orphaned work")
	}

	return errors.Join(errs...)
}

// runPurgeSweep removes DELETED document rows and finished jobs older than
// the retention window.
func (s *Service) runPurgeSweep(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.PurgeRetentionDays)
	var errs []error

	docs, err := s.store.DocumentStorage().ListDeletedBefore(ctx, cutoff, purgeBatchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("list deleted documents: %w", err))
	}

	purged := 0
	for _, doc := range docs {
		if err := s.store.DocumentStorage().DeleteDocumentRow(ctx, doc.TenantID, doc.ID); err != nil {
			s.logger.Warn().
				Err(err).
				Str("document_id", doc.ID).
				Msg("Failed to purge document row")
			continue
		}
		purged++
	}

	removedJobs, err := s.store.JobStorage().DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete finished jobs: %w", err))
	}

	if purged > 0 || removedJobs > 0 {
		s.logger.Info().
			Int("purged_documents", purged).
			Int64("purged_jobs", removedJobs).
			Msg("Purge sweep removed expired rows")
	}

	return errors.Join(errs...)
}
