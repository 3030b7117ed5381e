package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/corpipe/am"
	"github.com/teranos/corpipe/db"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/sym"
)

// MaxOrphanedJobsToRecover limits how many orphaned jobs are re-queued on start
const MaxOrphanedJobsToRecover = 1000

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// WorkerPool manages a pool of workers that process queued jobs
type WorkerPool struct {
	queue         *Queue
	rateLimiter   RateLimiter // optional
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	executor      JobExecutor
	registry      *HandlerRegistry
	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often an idle worker checks for new jobs
	StopTimeout  time.Duration `json:"stop_timeout"`  // How long Stop waits for running jobs

	// RecoverOrphans re-queues jobs left running on Start. Only a pool
	// that owns the queue should set it: other live pools' jobs look the same.
	RecoverOrphans bool `json:"recover_orphans"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:        1,
		PollInterval:   500 * time.Millisecond,
		StopTimeout:    30 * time.Second,
		RecoverOrphans: true,
	}
}

// PoolConfigFromAm derives the worker pool configuration from corpipe's config
func PoolConfigFromAm(cfg *am.Config) WorkerPoolConfig {
	poolCfg := DefaultWorkerPoolConfig()
	poolCfg.Workers = cfg.Pulse.Workers
	if cfg.Pulse.PollIntervalMS > 0 {
		poolCfg.PollInterval = time.Duration(cfg.Pulse.PollIntervalMS) * time.Millisecond
	}
	return poolCfg
}

// NewWorkerPool creates a worker pool with an empty handler registry.
// IMPORTANT: Callers must register handlers before calling Start().
func NewWorkerPool(queue *Queue, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithRegistry(context.Background(), queue, poolCfg, logger, NewHandlerRegistry(), nil)
}

// NewWorkerPoolWithRegistry creates a worker pool with a custom handler registry
// and an optional rate limiter. Cancelling ctx stops the workers.
func NewWorkerPoolWithRegistry(ctx context.Context, queue *Queue, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger, registry *HandlerRegistry, rateLimiter RateLimiter) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)

	if poolCfg.StopTimeout <= 0 {
		poolCfg.StopTimeout = DefaultWorkerPoolConfig().StopTimeout
	}

	wp := &WorkerPool{
		queue:      queue,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		executor:   NewRegistryExecutor(registry),
		registry:   registry,
		logger:     pulseLogger{logger.Named("pulse")},
	}
	// A nil *Limiter must not become a non-nil interface
	if rateLimiter != nil {
		if l, ok := rateLimiter.(*Limiter); !ok || l != nil {
			wp.rateLimiter = rateLimiter
		}
	}
	return wp
}

// Start begins processing jobs with the worker pool
// ✿ Opening: Recover orphaned jobs before starting workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()

	// Restart after Stop() needs a fresh context
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}

	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if wp.poolConfig.RecoverOrphans {
		if err := wp.recoverOrphanedJobs(); err != nil {
			wp.logger.Warnw("Failed to recover orphaned jobs", "error", err)
		}
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	wp.logger.Pulse(sym.Pulse+" Worker pool started",
		"workers", wp.workers,
		"handlers", wp.registry.Names(),
		"poll_interval", wp.poolConfig.PollInterval,
	)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// recoverOrphanedJobs re-queues jobs left "running" by a crashed process.
// Stage results are stored idempotently, so re-running a chain is safe.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	runningStatus := JobStatusRunning
	orphanedJobs, err := wp.queue.ListJobs(&runningStatus, MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}

	if len(orphanedJobs) == 0 {
		return nil
	}

	wp.logger.Starting("Opening - found orphaned jobs from previous crash", "count", len(orphanedJobs))

	recovered := 0
	for _, job := range orphanedJobs {
		job.Error = ""
		if err := wp.queue.RequeueJob(job); err != nil {
			wp.logger.Warnw("Failed to recover orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
		wp.logger.Starting("Recovered orphaned job", "job_id", job.ID, "handler", job.HandlerName)
	}

	wp.logger.Starting("Orphan recovery complete", "recovered", recovered, "total", len(orphanedJobs))
	return nil
}

// Stop gracefully stops the worker pool
// ❀ Closing: running jobs are re-queued if their handler honours cancellation
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := wp.poolConfig.StopTimeout
	select {
	case <-done:
		wp.logger.Pulse(sym.PulseClose + " WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be running", "timeout", timeout)
	}
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.mu.Lock()
	ctx := wp.ctx
	wp.mu.Unlock()

	interval := wp.getWorkerInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain the queue before going back to sleep
			for {
				processed, err := wp.processNextJob(ctx)
				if err != nil {
					select {
					case <-ctx.Done():
						return
					default:
					}
					if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
						// Database closed during shutdown
						return
					}

					errorCount++
					wp.logger.Errorw("Worker error processing job",
						"worker_id", id,
						"error", err,
						"consecutive_errors", errorCount)

					if errorCount >= maxConsecutiveErrors {
						wp.logger.Warnw("Worker backing off due to consecutive errors",
							"worker_id", id,
							"backoff", backoffDuration,
							"consecutive_errors", errorCount)
						time.Sleep(backoffDuration)
						backoffDuration = min(backoffDuration*2, maxBackoff)
					}
					break
				}

				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second

				if !processed {
					break
				}
			}
		}
	}
}

// getWorkerInterval returns the idle polling interval
func (wp *WorkerPool) getWorkerInterval() time.Duration {
	if wp.poolConfig.PollInterval > 0 {
		return wp.poolConfig.PollInterval
	}
	return DefaultWorkerPoolConfig().PollInterval
}

// processNextJob claims and runs one job. Reports whether a job was taken
// off the queue so the caller can keep draining.
func (wp *WorkerPool) processNextJob(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, nil
	default:
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return false, errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return false, nil
	}

	if limited, err := wp.checkRateLimit(job); limited || err != nil {
		if err != nil {
			return false, errors.Wrapf(err, "rate limit check failed for job %s", job.ID)
		}
		// Back to the queue; this worker sleeps until the next tick
		return false, nil
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	start := time.Now()
	execErr := wp.executor.Execute(ctx, job)

	if execErr != nil {
		select {
		case <-ctx.Done():
			// ❀ Closing: shutdown interrupted the job; leave it for the next start
			wp.logger.Closing("Job cancelled during execution, re-queuing", "job_id", job.ID)
			if err := wp.queue.RequeueJob(job); err != nil {
				wp.logger.Errorw("Failed to re-queue cancelled job", "job_id", job.ID, "error", err)
			}
			return true, nil
		default:
		}

		if IsRetryable(execErr) && job.RetryCount < MaxRetries {
			job.RetryCount++
			wp.logger.Infow("Retrying job",
				"job_id", job.ID,
				"retry_count", job.RetryCount,
				"error", execErr)
			return true, wp.queue.RequeueJob(job)
		}

		wp.logger.Infow("Job failed",
			"job_id", job.ID,
			"handler", job.HandlerName,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", execErr)
		return true, wp.queue.FailJob(job, execErr)
	}

	wp.logger.Debugw("Job completed",
		"job_id", job.ID,
		"handler", job.HandlerName,
		"source", job.Source,
		"duration_ms", time.Since(start).Milliseconds())
	return true, wp.queue.CompleteJob(job)
}

// checkRateLimit re-queues the job if the pool is over its start rate.
// Returns true if the job was put back.
func (wp *WorkerPool) checkRateLimit(job *Job) (limited bool, err error) {
	if wp.rateLimiter == nil {
		return false, nil
	}

	if err := wp.rateLimiter.Allow(); err != nil {
		if requeueErr := wp.queue.RequeueJob(job); requeueErr != nil {
			return false, requeueErr
		}
		callsInWindow, callsRemaining := wp.rateLimiter.Stats()
		wp.logger.Infow(sym.Pulse+" Rate limit reached - job re-queued",
			"job_id", job.ID,
			"calls_in_window", callsInWindow,
			"calls_remaining", callsRemaining,
			"reason", "rate_limited")
		return true, nil
	}
	return false, nil
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// JobsProcessed returns how many jobs this pool has started since Start
func (wp *WorkerPool) JobsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed
}

// Registry returns the handler registry. Register handlers before Start():
//
//	pool := async.NewWorkerPool(queue, poolCfg, logger)
//	pool.Registry().Register(pipeline.NewChainHandler(...))
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}
