package async

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/corpipe/db"
	"github.com/teranos/corpipe/errors"
)

const (
	// MaxJobsLimit caps list queries
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
	// claimBatchSize is how many queued candidates Dequeue considers per call
	claimBatchSize = 8
)

// Queue is the job queue shared by submitters and workers of one process.
// Subscribers only hear about changes made through this Queue; workers in
// other processes are observed by polling GetJob.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a new job queue
func NewQueue(conn *sql.DB, dialect db.Dialect) *Queue {
	return &Queue{
		store:       NewStore(conn, dialect),
		subscribers: make([]chan *Job, 0),
	}
}

// Store exposes the underlying job store
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return err
	}

	q.notifySubscribers(job)

	return nil
}

// Dequeue claims the oldest queued job and marks it as running.
// Returns nil when nothing is queued.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates, err := q.store.OldestQueued(claimBatchSize)
	if err != nil {
		err = errors.Wrap(err, "failed to get queued jobs")
		err = errors.WithDetail(err, fmt.Sprintf("Status filter: %s", JobStatusQueued))
		return nil, err
	}

	for _, job := range candidates {
		claimed, err := q.store.ClaimJob(job)
		if err != nil {
			err = errors.Wrap(err, "failed to mark job as running")
			err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
			err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
			return nil, err
		}
		if claimed {
			q.notifySubscribers(job)
			return job, nil
		}
		// Another process claimed it first
	}

	return nil, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(id)
}

// UpdateJob updates a job's state
func (q *Queue) UpdateJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	q.notifySubscribers(job)

	return nil
}

// CompleteJob marks a job as completed, keeping the result the handler set
func (q *Queue) CompleteJob(job *Job) error {
	job.Complete()
	if err := q.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to complete job %s", job.ID)
	}
	return nil
}

// FailJob marks a job as failed with an error
func (q *Queue) FailJob(job *Job, jobErr error) error {
	job.Fail(jobErr)
	if err := q.UpdateJob(job); err != nil {
		err = errors.Wrapf(err, "failed to mark job %s as failed", job.ID)
		return errors.WithDetail(err, fmt.Sprintf("Job error: %s", jobErr.Error()))
	}
	return nil
}

// RequeueJob puts a running job back in the queue
func (q *Queue) RequeueJob(job *Job) error {
	job.Requeue()
	if err := q.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to requeue job %s", job.ID)
	}
	return nil
}

// CancelJob cancels a job that has not finished yet
func (q *Queue) CancelJob(id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", id)
	}

	if job.Status.IsTerminal() {
		err := errors.Newf("job %s already finished (status: %s)", id, job.Status)
		return errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
	}

	job.Cancel(reason)
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", id)
	}

	q.notifySubscribers(job)

	return nil
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(status, limit)
}

// ListJobsByRun returns the jobs submitted under one run
func (q *Queue) ListJobsByRun(runID string) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobsByRun(runID)
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a snapshot of the job to all subscribers.
// REQUIRES: q.mu must be held by caller.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) notifySubscribers(job *Job) {
	if len(q.subscribers) == 0 {
		return
	}
	snapshot := *job
	for _, ch := range q.subscribers {
		select {
		case ch <- &snapshot:
		default:
			// Channel full, skip (non-blocking)
		}
	}
}

// Cleanup removes old terminal jobs
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(olderThan)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats() (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		Queued:    counts[JobStatusQueued],
		Running:   counts[JobStatusRunning],
		Completed: counts[JobStatusCompleted],
		Failed:    counts[JobStatusFailed],
		Cancelled: counts[JobStatusCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// GetJobCounts returns quick counts of queued and running jobs
func (q *Queue) GetJobCounts() (queued int, running int, err error) {
	stats, err := q.GetStats()
	if err != nil {
		return 0, 0, err
	}
	return stats.Queued, stats.Running, nil
}

// DecodeResult unmarshals a completed job's result into v.
func DecodeResult(job *Job, v interface{}) error {
	if len(job.Result) == 0 {
		return errors.Newf("job %s has no result", job.ID)
	}
	if err := json.Unmarshal(job.Result, v); err != nil {
		return errors.Wrapf(err, "failed to decode result of job %s", job.ID)
	}
	return nil
}
