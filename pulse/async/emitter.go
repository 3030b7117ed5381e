package async

import (
	"go.uber.org/zap"
)

// JobProgressEmitter implements pulse.ProgressEmitter for a running job.
// Each reported step is persisted so `jobs status` can show it.
type JobProgressEmitter struct {
	job   *Job
	queue *Queue
	log   *zap.SugaredLogger
}

// NewJobProgressEmitter creates a new progress emitter for an async job.
func NewJobProgressEmitter(job *Job, queue *Queue, baseLogger *zap.SugaredLogger) *JobProgressEmitter {
	return &JobProgressEmitter{
		job:   job,
		queue: queue,
		log:   baseLogger.With("job_id", job.ID),
	}
}

// EmitStage records that a stage started
func (e *JobProgressEmitter) EmitStage(stage, message string) {
	e.log.Debugw(message, "stage", stage, "step", e.job.Progress.Current)
}

// EmitProgress advances the job's progress counter and saves it
func (e *JobProgressEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	e.job.UpdateProgress(e.job.Progress.Current + count)
	if err := e.queue.UpdateJob(e.job); err != nil {
		e.log.Warnw("Failed to save job progress",
			"progress", e.job.Progress.Current,
			"error", err,
		)
	}
}

// EmitError logs a stage error; the job's final status is set by the worker
func (e *JobProgressEmitter) EmitError(stage string, err error) {
	e.log.Infow("Stage failed", "stage", stage, "error", err)
}
