// -----------------------------------------------------------------------
// Queue worker - claims jobs from the priority queues and runs handlers
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

const (
	// receiveTimeout bounds one queue receive so the loop can notice
	// shutdown even on a blocking backend.
	receiveTimeout = time.Second

	// Idle backoff between empty receives. Doubles up to the max and
	// resets as soon as a message arrives.
	minIdleBackoff = 100 * time.Millisecond
	maxIdleBackoff = 5 * time.Second

	// Retry delay bounds for failed jobs that still have attempts left.
	retryBase = time.Second
	retryMax  = 60 * time.Second
)

// Handler runs one claimed job. The returned map is stored as the job's
// result. Handlers observe cancellation and the per-run deadline through
// ctx and report progress at their own checkpoints.
type Handler func(ctx context.Context, job *models.Job, report interfaces.ProgressFn) (map[string]interface{}, error)

// Processor consumes the priority queues with a pool of goroutines and
// drives each claimed job through its handler. The job row is
// authoritative: claiming, progress, and completion are all conditional
// row updates, so duplicate deliveries and cancellation races resolve
// in the database instead of in worker coordination.
type Processor struct {
	logger arbor.ILogger
	cfg    *common.WorkerConfig
	jobs   interfaces.JobStorage
	queue  interfaces.QueueManager
	events interfaces.EventService

	workerID string
	handlers map[string]Handler

	// recvCtx gates message receives and is canceled first on Stop.
	// jobCtx parents every running handler and survives until the drain
	// grace expires, so in-flight jobs can finish cleanly.
	recvCtx    context.Context
	recvCancel context.CancelFunc
	jobCtx     context.Context
	jobCancel  context.CancelFunc

	activeMu sync.Mutex
	active   map[string]context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	started bool
}

// NewProcessor builds a stopped processor. Register handlers before Start.
func NewProcessor(logger arbor.ILogger, cfg *common.WorkerConfig, jobs interfaces.JobStorage, queue interfaces.QueueManager, events interfaces.EventService) *Processor {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	recvCtx, recvCancel := context.WithCancel(context.Background())
	jobCtx, jobCancel := context.WithCancel(context.Background())
	return &Processor{
		logger:     logger,
		cfg:        cfg,
		jobs:       jobs,
		queue:      queue,
		events:     events,
		workerID:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		handlers:   make(map[string]Handler),
		recvCtx:    recvCtx,
		recvCancel: recvCancel,
		jobCtx:     jobCtx,
		jobCancel:  jobCancel,
		active:     make(map[string]context.CancelFunc),
	}
}

// Register binds a handler to a job type. Not safe after Start.
func (p *Processor) Register(jobType string, handler Handler) {
	p.handlers[jobType] = handler
}

// WorkerID returns the identity stamped onto claimed job rows.
func (p *Processor) WorkerID() string {
	return p.workerID
}

// ActiveJobs returns the number of jobs currently in a handler.
func (p *Processor) ActiveJobs() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Start launches the worker goroutines and subscribes the cancellation
// relay. Cancellation flows through the event bus: the cancel endpoint
// flips the row, publishes the update, and the relay cuts the running
// handler's context.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("worker already started")
	}
	p.started = true

	if p.events != nil {
		if err := p.events.Subscribe(interfaces.EventJobUpdated, p.onJobEvent); err != nil {
			return fmt.Errorf("failed to subscribe cancellation relay: %w", err)
		}
	}

	concurrency := p.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.run(i)
	}

	p.logger.Info().
		Str("worker_id", p.workerID).
		Int("concurrency", concurrency).
		Msg("Queue worker started")
	return nil
}

// Stop drains the worker. Receives stop immediately; running handlers get
// the shutdown grace period, then their contexts are cut and the stale
// sweep recovers whatever was interrupted.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.recvCancel()
	defer p.jobCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Str("worker_id", p.workerID).Msg("Queue worker drained")
	case <-time.After(p.cfg.ShutdownTimeoutDuration()):
		p.logger.Warn().
			Str("worker_id", p.workerID).
			Int("active_jobs", p.ActiveJobs()).
			Msg("Drain grace expired, aborting in-flight jobs")
		p.jobCancel()
		<-done
	}
}

func (p *Processor) run(n int) {
	defer p.wg.Done()
	worker := fmt.Sprintf("%s/%d", p.workerID, n)
	backoff := minIdleBackoff

	for {
		select {
		case <-p.recvCtx.Done():
			return
		default:
		}

		rctx, cancel := context.WithTimeout(p.recvCtx, receiveTimeout)
		msg, ack, err := p.queue.Receive(rctx)
		cancel()

		if err != nil {
			if !errors.Is(err, interfaces.ErrNoMessage) &&
				!errors.Is(err, context.DeadlineExceeded) &&
				!errors.Is(err, context.Canceled) {
				p.logger.Error().Err(err).Str("worker", worker).Msg("Queue receive failed")
			}
			select {
			case <-p.recvCtx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxIdleBackoff {
				backoff = maxIdleBackoff
			}
			continue
		}

		backoff = minIdleBackoff
		p.process(worker, msg, ack)
	}
}

// process claims the job row, runs its handler, and finalizes the row.
// The queue message is acknowledged on every handled path; only a
// transport failure leaves it for redelivery.
func (p *Processor) process(worker string, msg *models.QueueMessage, ack interfaces.AckFunc) {
	job, err := p.jobs.ClaimJob(p.jobCtx, msg.JobID, worker)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrInvalidTransition):
			// Duplicate delivery, or the job was canceled while queued.
			p.logger.Debug().
				Str("job_id", msg.JobID).
				Str("worker", worker).
				Msg("Job not claimable, dropping envelope")
			p.ack(msg.JobID, ack)
		case errors.Is(err, interfaces.ErrNotFound):
			p.logger.Warn().
				Str("job_id", msg.JobID).
				Msg("Queue envelope references a missing job")
			p.ack(msg.JobID, ack)
		default:
			// Leave the message for redelivery after the visibility timeout.
			p.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Failed to claim job")
		}
		return
	}

	p.execute(worker, job)
	p.ack(job.ID, ack)
}

// RunSync claims the job and runs it on the caller's goroutine, for
// debugging. The job's queue envelope, wherever it is, later loses the
// claim race and is dropped as a duplicate delivery.
func (p *Processor) RunSync(ctx context.Context, jobID string) (*models.Job, error) {
	worker := p.workerID + "/sync"
	job, err := p.jobs.ClaimJob(ctx, jobID, worker)
	if err != nil {
		return nil, err
	}
	p.execute(worker, job)
	return p.jobs.GetJobAny(ctx, jobID)
}

// ProcessNext receives and runs at most one job, for cron-driven
// deployments without resident workers. Reports whether a job ran.
func (p *Processor) ProcessNext(ctx context.Context) (string, bool, error) {
	msg, ack, err := p.queue.Receive(ctx)
	if err != nil {
		if errors.Is(err, interfaces.ErrNoMessage) {
			return "", false, nil
		}
		return "", false, err
	}
	p.process(p.workerID+"/sync", msg, ack)
	return msg.JobID, true, nil
}

// execute runs a claimed job through its handler and finalizes the row.
func (p *Processor) execute(worker string, job *models.Job) {
	start := time.Now()

	handler, ok := p.handlers[job.Type]
	if !ok {
		errMsg := fmt.Sprintf("no handler registered for job type %q", job.Type)
		p.logger.Error().Str("job_id", job.ID).Str("job_type", job.Type).Msg(errMsg)
		if err := p.jobs.FinishJob(p.jobCtx, job.ID, models.JobStatusFailed, nil, errMsg); err != nil {
			p.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to fail unroutable job")
		}
		p.publishStatus(job, models.JobStatusFailed, job.Progress)
		return
	}

	runCtx, cancelRun := p.runContext()
	p.activeMu.Lock()
	p.active[job.ID] = cancelRun
	p.activeMu.Unlock()
	defer func() {
		p.activeMu.Lock()
		delete(p.active, job.ID)
		p.activeMu.Unlock()
		cancelRun()
	}()

	p.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Str("worker", worker).
		Int("attempt", job.Attempts).
		Msg("Job started")

	result, err := p.runHandler(runCtx, handler, job)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		p.finishOrDiscard(job, models.JobStatusSucceeded, result, "", elapsed)

	case errors.Is(err, context.Canceled) && runCtx.Err() != nil:
		if p.jobCtx.Err() != nil {
			// Shutdown cut the context; the row is still running and the
			// stale sweep will fail it as abandoned.
			p.logger.Warn().
				Str("job_id", job.ID).
				Str("job_type", job.Type).
				Dur("duration", elapsed).
				Msg("Job interrupted by shutdown")
		} else {
			p.logger.Info().
				Str("job_id", job.ID).
				Str("job_type", job.Type).
				Dur("duration", elapsed).
				Msg("Job canceled")
		}

	default:
		errMsg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil {
			errMsg = fmt.Sprintf("job timed out after %s", p.cfg.JobTimeoutDuration())
		}
		if job.Attempts < job.MaxAttempts {
			p.retry(job, errMsg, elapsed)
		} else {
			p.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Str("job_type", job.Type).
				Int("attempts", job.Attempts).
				Dur("duration", elapsed).
				Msg("Job failed, attempts exhausted")
			p.finishOrDiscard(job, models.JobStatusFailed, nil, errMsg, elapsed)
		}
	}
}

// runContext derives the per-job context. The cancel func serves both the
// event relay and the deadline.
func (p *Processor) runContext() (context.Context, context.CancelFunc) {
	if timeout := p.cfg.JobTimeoutDuration(); timeout > 0 {
		return context.WithTimeout(p.jobCtx, timeout)
	}
	return context.WithCancel(p.jobCtx)
}

// runHandler invokes the handler with panic recovery. A panicking handler
// fails its job without taking the worker goroutine down.
func (p *Processor) runHandler(ctx context.Context, handler Handler, job *models.Job) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			p.logger.Error().
				Str("job_id", job.ID).
				Str("job_type", job.Type).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Job handler panicked")
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job, p.progressFn(job))
}

// progressFn reports handler progress onto the job row and the event bus.
// Progress after cancellation is dropped by the conditional update.
func (p *Processor) progressFn(job *models.Job) interfaces.ProgressFn {
	return func(pct int, message string) {
		if err := p.jobs.UpdateJobProgress(p.jobCtx, job.ID, pct, message); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record job progress")
			return
		}
		p.publishStatus(job, models.JobStatusRunning, pct)
	}
}

// finishOrDiscard finalizes the row. Losing the conditional update means
// the job was canceled mid-run; the handler's result is discarded and the
// canceled status stands.
func (p *Processor) finishOrDiscard(job *models.Job, status models.JobStatus, result map[string]interface{}, errMsg string, elapsed time.Duration) {
	err := p.jobs.FinishJob(p.jobCtx, job.ID, status, result, errMsg)
	if errors.Is(err, interfaces.ErrInvalidTransition) {
		p.logger.Info().
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Dur("duration", elapsed).
			Msg("Job finished after cancellation, result discarded")
		return
	}
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to finalize job")
		return
	}
	progress := job.Progress
	if status == models.JobStatusSucceeded {
		progress = 100
		p.logger.Info().
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Dur("duration", elapsed).
			Msg("Job completed")
	}
	p.publishStatus(job, status, progress)
}

// retry parks the job as retrying and re-enqueues its envelope after a
// jittered exponential delay.
func (p *Processor) retry(job *models.Job, errMsg string, elapsed time.Duration) {
	err := p.jobs.FinishJob(p.jobCtx, job.ID, models.JobStatusRetrying, nil, errMsg)
	if errors.Is(err, interfaces.ErrInvalidTransition) {
		p.logger.Info().
			Str("job_id", job.ID).
			Msg("Job failed after cancellation, retry suppressed")
		return
	}
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to park job for retry")
		return
	}

	delay := retryDelay(job.Attempts)
	redelivery := &models.QueueMessage{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		Type:       job.Type,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := p.queue.EnqueueWithDelay(p.jobCtx, models.QueueForPriority(job.Priority), redelivery, delay); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to re-enqueue job for retry")
		return
	}

	p.logger.Warn().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Int("attempt", job.Attempts).
		Int("max_attempts", job.MaxAttempts).
		Dur("duration", elapsed).
		Dur("retry_in", delay).
		Str("error", errMsg).
		Msg("Job failed, retry scheduled")
	p.publishStatus(job, models.JobStatusRetrying, job.Progress)
}

// onJobEvent relays cancellations onto running handler contexts.
func (p *Processor) onJobEvent(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return nil
	}
	if status, _ := payload["status"].(string); status != string(models.JobStatusCanceled) {
		return nil
	}
	jobID, _ := payload["job_id"].(string)
	if jobID == "" {
		return nil
	}

	p.activeMu.Lock()
	cancel, running := p.active[jobID]
	p.activeMu.Unlock()
	if running {
		cancel()
		p.logger.Info().Str("job_id", jobID).Msg("Cancellation delivered to running job")
	}
	return nil
}

func (p *Processor) publishStatus(job *models.Job, status models.JobStatus, progress int) {
	if p.events == nil {
		return
	}
	err := p.events.Publish(p.jobCtx, interfaces.Event{
		Type:     interfaces.EventJobUpdated,
		TenantID: job.TenantID,
		Payload: map[string]interface{}{
			"job_id":   job.ID,
			"type":     job.Type,
			"status":   string(status),
			"progress": progress,
		},
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job update")
	}
}

func (p *Processor) ack(jobID string, ack interfaces.AckFunc) {
	if err := ack(); err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to remove message from queue")
	}
}

// retryDelay computes exponential backoff with up to 25% jitter, capped
// at retryMax. attempt is the attempt that just failed, starting at 1.
func retryDelay(attempt int) time.Duration {
	d := float64(retryBase) * math.Pow(2, float64(attempt))
	d *= 1 + rand.Float64()*0.25
	if d > float64(retryMax) {
		d = float64(retryMax)
	}
	return time.Duration(d)
}
