package async

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/corpipe/am"
	"github.com/teranos/corpipe/errors"
)

// ============================================================================
// TAS Bot & Kirby Worker Test Universe
// ============================================================================
//
// TAS Bot schedules jobs, Kirby inhales them and copies their ability.
// ============================================================================

func createTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestKirbyExecutesJob(t *testing.T) {
	t.Log("🌟 Kirby inhales a job... 'Poyo!'")

	queue, _ := createTestQueue(t)
	pool := NewWorkerPool(queue, fastPoolConfig(2), createTestLogger())
	handler := &funcHandler{name: "test.copy", fn: func(ctx context.Context, job *Job) error {
		job.SetResult(json.RawMessage(`"sword"`))
		return nil
	}}
	pool.Registry().Register(handler)

	job := createTestJob(t, "test.copy", "dreamland/enemy/1")
	require.NoError(t, queue.Enqueue(job))

	pool.Start()
	defer pool.Stop()

	done := waitForStatus(t, queue, job.ID, JobStatusCompleted)
	assert.JSONEq(t, `"sword"`, string(done.Result))
	assert.Equal(t, int32(1), handler.calls.Load())
	assert.Equal(t, 1, pool.JobsProcessed())

	t.Log("✓ Kirby copied the sword ability")
}

func TestKirbyFailsJobOnHandlerError(t *testing.T) {
	queue, _ := createTestQueue(t)
	pool := NewWorkerPool(queue, fastPoolConfig(1), createTestLogger())
	pool.Registry().Register(&funcHandler{name: "test.copy", fn: func(ctx context.Context, job *Job) error {
		return errors.New("inhaled a bomb")
	}})

	job := createTestJob(t, "test.copy", "dreamland/enemy/2")
	require.NoError(t, queue.Enqueue(job))

	pool.Start()
	defer pool.Stop()

	failed := waitForStatus(t, queue, job.ID, JobStatusFailed)
	assert.Equal(t, "inhaled a bomb", failed.Error)
	assert.Equal(t, 0, failed.RetryCount)
}

func TestKirbyRetriesRetryableErrors(t *testing.T) {
	queue, _ := createTestQueue(t)
	pool := NewWorkerPool(queue, fastPoolConfig(1), createTestLogger())
	handler := &funcHandler{name: "test.copy"}
	handler.fn = func(ctx context.Context, job *Job) error {
		if handler.calls.Load() < 2 {
			return Retryable(errors.New("warp star stalled"))
		}
		job.SetResult(json.RawMessage(`"fire"`))
		return nil
	}
	pool.Registry().Register(handler)

	job := createTestJob(t, "test.copy", "dreamland/enemy/3")
	require.NoError(t, queue.Enqueue(job))

	pool.Start()
	defer pool.Stop()

	done := waitForStatus(t, queue, job.ID, JobStatusCompleted)
	assert.Equal(t, 1, done.RetryCount)
	assert.Equal(t, int32(2), handler.calls.Load())
}

func TestKirbyGivesUpAfterMaxRetries(t *testing.T) {
	queue, _ := createTestQueue(t)
	pool := NewWorkerPool(queue, fastPoolConfig(1), createTestLogger())
	handler := &funcHandler{name: "test.copy", fn: func(ctx context.Context, job *Job) error {
		return Retryable(errors.New("still stalled"))
	}}
	pool.Registry().Register(handler)

	job := createTestJob(t, "test.copy", "dreamland/enemy/4")
	require.NoError(t, queue.Enqueue(job))

	pool.Start()
	defer pool.Stop()

	failed := waitForStatus(t, queue, job.ID, JobStatusFailed)
	assert.Equal(t, MaxRetries, failed.RetryCount)
	assert.Equal(t, int32(MaxRetries+1), handler.calls.Load())
}

func TestUnknownHandlerFailsJob(t *testing.T) {
	queue, _ := createTestQueue(t)
	pool := NewWorkerPool(queue, fastPoolConfig(1), createTestLogger())

	job := createTestJob(t, "test.unregistered", "dreamland/enemy/5")
	require.NoError(t, queue.Enqueue(job))

	pool.Start()
	defer pool.Stop()

	failed := waitForStatus(t, queue, job.ID, JobStatusFailed)
	assert.Contains(t, failed.Error, "no handler registered")
}

func TestCronosRecoversOrphanedJobs(t *testing.T) {
	t.Log("⏳ Cronos finds jobs frozen mid-flight by a crash...")

	queue, _ := createTestQueue(t)
	job := createTestJob(t, "test.copy", "dreamland/enemy/6")
	require.NoError(t, queue.Enqueue(job))

	// Simulate a crash: claimed but never finished
	orphan, err := queue.Dequeue()
	require.NoError(t, err)
	require.Equal(t, JobStatusRunning, orphan.Status)

	poolCfg := fastPoolConfig(1)
	poolCfg.RecoverOrphans = true
	pool := NewWorkerPool(queue, poolCfg, createTestLogger())
	pool.Registry().Register(&funcHandler{name: "test.copy", fn: func(ctx context.Context, job *Job) error {
		return nil
	}})
	pool.Start()
	defer pool.Stop()

	waitForStatus(t, queue, job.ID, JobStatusCompleted)
	t.Log("✓ Cronos restored the timeline")
}

func TestGuestPoolLeavesRunningJobsAlone(t *testing.T) {
	queue, _ := createTestQueue(t)
	job := createTestJob(t, "test.copy", "dreamland/enemy/10")
	require.NoError(t, queue.Enqueue(job))

	// Claimed by a pool in another process that is still working on it
	claimed, err := queue.Dequeue()
	require.NoError(t, err)
	require.Equal(t, JobStatusRunning, claimed.Status)

	pool := NewWorkerPool(queue, fastPoolConfig(1), createTestLogger())
	pool.Registry().Register(&funcHandler{name: "test.copy", fn: func(ctx context.Context, job *Job) error {
		return nil
	}})
	pool.Start()
	time.Sleep(50 * time.Millisecond)
	pool.Stop()

	got, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)
	assert.Zero(t, pool.JobsProcessed())
}

func TestWorkerExitsWhenDatabaseCloses(t *testing.T) {
	queue, conn := createTestQueue(t)
	pool := NewWorkerPool(queue, fastPoolConfig(1), createTestLogger())
	pool.Start()
	require.NoError(t, conn.Close())

	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker kept polling a closed database")
	}
	pool.Stop()
}

func TestRateLimitedJobsAreRequeued(t *testing.T) {
	queue, _ := createTestQueue(t)

	now := time.Unix(1_700_000_000, 0)
	limiter := NewLimiterWithClock(1, func() time.Time { return now })
	pool := NewWorkerPoolWithRegistry(context.Background(), queue, fastPoolConfig(1), createTestLogger(), NewHandlerRegistry(), limiter)
	pool.Registry().Register(&funcHandler{name: "test.copy", fn: func(ctx context.Context, job *Job) error {
		return nil
	}})

	first := createTestJob(t, "test.copy", "dreamland/enemy/7")
	second := createTestJob(t, "test.copy", "dreamland/enemy/8")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, queue.Enqueue(first))
	require.NoError(t, queue.Enqueue(second))

	pool.Start()
	defer pool.Stop()

	waitForStatus(t, queue, first.ID, JobStatusCompleted)

	// The clock never advances, so the second job keeps bouncing back
	time.Sleep(100 * time.Millisecond)
	stored, err := queue.GetJob(second.ID)
	require.NoError(t, err)
	assert.NotEqual(t, JobStatusCompleted, stored.Status)
	assert.Equal(t, 0, stored.RetryCount, "rate limiting is not a retry")
}

func TestNilLimiterMeansUnlimited(t *testing.T) {
	queue, _ := createTestQueue(t)
	pool := NewWorkerPoolWithRegistry(context.Background(), queue, fastPoolConfig(1), createTestLogger(), NewHandlerRegistry(), NewLimiter(0))
	assert.Nil(t, pool.rateLimiter)
}

func TestStopRequeuesInterruptedJob(t *testing.T) {
	queue, _ := createTestQueue(t)
	pool := NewWorkerPool(queue, fastPoolConfig(1), createTestLogger())
	started := make(chan struct{})
	pool.Registry().Register(&funcHandler{name: "test.copy", fn: func(ctx context.Context, job *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})

	job := createTestJob(t, "test.copy", "dreamland/enemy/9")
	require.NoError(t, queue.Enqueue(job))

	pool.Start()
	<-started
	pool.Stop()

	stored, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, stored.Status)
}

func TestPoolConfigFromAm(t *testing.T) {
	cfg := &am.Config{Pulse: am.PulseConfig{Workers: 3, PollIntervalMS: 40}}
	poolCfg := PoolConfigFromAm(cfg)
	assert.Equal(t, 3, poolCfg.Workers)
	assert.Equal(t, 40*time.Millisecond, poolCfg.PollInterval)

	assert.True(t, poolCfg.RecoverOrphans)

	cfg.Pulse.PollIntervalMS = 0
	assert.Equal(t, DefaultWorkerPoolConfig().PollInterval, PoolConfigFromAm(cfg).PollInterval)
}

func TestHandlerRegistryRejectsDuplicates(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(&funcHandler{name: "b"})
	registry.Register(&funcHandler{name: "a"})

	assert.True(t, registry.Has("a"))
	assert.Equal(t, []string{"a", "b"}, registry.Names())
	assert.Panics(t, func() { registry.Register(&funcHandler{name: "a"}) })
}
