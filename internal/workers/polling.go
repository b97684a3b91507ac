// -----------------------------------------------------------------------
// Polling worker - claims pending versions off their database rows
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// statusWriteTimeout bounds the claim release after a run so a shutdown
// still records the outcome.
const statusWriteTimeout = 5 * time.Second

// PollingWorker discovers version processing work by claiming rows in
// extraction status PENDING instead of consuming queue messages. It covers
// deployments where versions land in the database without a queue envelope;
// claims that a crashed poller leaves behind are released by the stale
// sweep. The poller serves every tenant.
type PollingWorker struct {
	logger   arbor.ILogger
	cfg      *common.WorkerConfig
	docs     interfaces.DocumentStorage
	pipeline interfaces.PipelineService

	workerID string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewPollingWorker(logger arbor.ILogger, cfg *common.WorkerConfig, docs interfaces.DocumentStorage, pipeline interfaces.PipelineService) *PollingWorker {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "poller"
	}
	return &PollingWorker{
		logger:   logger,
		cfg:      cfg,
		docs:     docs,
		pipeline: pipeline,
		workerID: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// Start launches the poll loop. The first sweep runs immediately.
func (w *PollingWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("polling worker already started")
	}
	w.started = true

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)

	w.logger.Info().
		Str("worker_id", w.workerID).
		Str("interval", w.cfg.PollIntervalDuration().String()).
		Int("batch_size", w.batchSize()).
		Msg("Polling worker started")
	return nil
}

// Stop halts the loop and waits out the shutdown grace for the current
// sweep. An interrupted claim stays PROCESSING until the stale sweep
// releases it.
func (w *PollingWorker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
		w.logger.Info().Str("worker_id", w.workerID).Msg("Polling worker drained")
	case <-time.After(w.cfg.ShutdownTimeoutDuration()):
		w.logger.Warn().Str("worker_id", w.workerID).Msg("Polling worker drain grace expired")
	}
}

func (w *PollingWorker) loop(ctx context.Context) {
	defer close(w.done)

	w.sweep(ctx)
	ticker := time.NewTicker(w.cfg.PollIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep claims one batch and processes it oldest first.
func (w *PollingWorker) sweep(ctx context.Context) {
	versions, err := w.docs.ClaimPendingExtractions(ctx, w.workerID, w.batchSize())
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Failed to claim pending versions")
		}
		return
	}
	if len(versions) == 0 {
		return
	}

	w.logger.Debug().Int("claimed", len(versions)).Msg("Claimed pending versions")
	for _, version := range versions {
		if ctx.Err() != nil {
			return
		}
		w.processOne(ctx, version)
	}
}

// processOne runs the claimed version through the pipeline and releases the
// claim with the outcome. The release uses a detached context so a cancel
// mid-run still lands the failure on the row.
func (w *PollingWorker) processOne(ctx context.Context, version *models.DocumentVersion) {
	start := time.Now()
	err := w.pipeline.ProcessVersion(ctx, version.TenantID, version.ID, interfaces.ProcessOptions{}, nil)

	writeCtx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	if err != nil {
		w.logger.Error().
			Err(err).
			Str("version_id", version.ID).
			Dur("duration", time.Since(start)).
			Msg("Version processing failed")
		if setErr := w.docs.SetExtractionStatus(writeCtx, version.ID, models.ExtractionStatusFailed, err.Error()); setErr != nil {
			w.logger.Warn().Err(setErr).Str("version_id", version.ID).Msg("Failed to release claim as failed")
		}
		return
	}

	if setErr := w.docs.SetExtractionStatus(writeCtx, version.ID, models.ExtractionStatusCompleted, ""); setErr != nil {
		w.logger.Warn().Err(setErr).Str("version_id", version.ID).Msg("Failed to release claim as completed")
		return
	}
	w.logger.Info().
		Str("version_id", version.ID).
		Str("tenant_id", version.TenantID).
		Dur("duration", time.Since(start)).
		Msg("Version processed")
}

func (w *PollingWorker) batchSize() int {
	if w.cfg.ClaimBatchSize > 0 {
		return w.cfg.ClaimBatchSize
	}
	return 10
}
