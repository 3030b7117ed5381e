package pipeline

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/corpipe/db"
	"github.com/teranos/corpipe/errors"
	dbtest "github.com/teranos/corpipe/internal/testing"
	"github.com/teranos/corpipe/pulse/async"
)

// queueFixture is a pipeline whose plans travel through the job queue to
// a worker pool running the chain handler
type queueFixture struct {
	pipeline *Pipeline
	queue    *async.Queue
	pool     *async.WorkerPool
	store    *memStore
	calls    *calls
}

func newQueueFixture(t *testing.T, fetcher Fetcher) *queueFixture {
	t.Helper()
	conn := dbtest.CreateTestDB(t)
	queue := async.NewQueue(conn, db.DialectSQLite)
	store := newMemStore()
	registry, c := newTestRegistry(t)

	runner := NewRunner(store, fetcher, testLogger())
	pool := async.NewWorkerPool(queue, async.WorkerPoolConfig{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	}, testLogger())
	pool.Registry().Register(NewChainHandler(registry, runner, queue, testLogger()))

	p, err := New(Config{
		Registry: registry,
		Store:    store,
		Executor: NewQueueExecutor(queue, 20*time.Millisecond, testLogger()),
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	return &queueFixture{pipeline: p, queue: queue, pool: pool, store: store, calls: c}
}

func TestQueueExecutorEndToEnd(t *testing.T) {
	good := NewHandle("corpus", "article", "good")
	bad := NewHandle("corpus", "article", "bad")
	f := newQueueFixture(t, mapFetcher{good.Key(): "queue cats", bad.Key(): "bad apple"})
	f.pool.Start()
	defer f.pool.Stop()

	refs := []StageRef{{Name: "tokenize"}, {Name: "fragile", Arguments: map[string]interface{}{"mode": "strict"}}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := f.pipeline.Run(ctx, []Document{Ref(good), Ref(bad)}, refs, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, results[good.Key()].State)
	assert.JSONEq(t, `["queue","cats"]`, string(results[good.Key()].Value))

	failed := results[bad.Key()]
	require.Equal(t, StateFailed, failed.State)
	assert.Equal(t, "fragile", failed.Failure.Stage)

	_, stored := f.store.get(good, "tokenize__fragile")
	assert.True(t, stored)

	// Both jobs completed: the stage failure travels in the job result
	stats, err := f.queue.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
}

// flakyFetcher reports the source unavailable for the first failures calls
type flakyFetcher struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyFetcher) Fetch(ctx context.Context, doc Document) (string, error) {
	if f.calls.Add(1) <= f.failures {
		return "", errors.MarkUnavailable(errors.New("connection refused"))
	}
	return "second wind", nil
}

func TestChainHandlerRetriesUnavailableSource(t *testing.T) {
	fetcher := &flakyFetcher{failures: 1}
	f := newQueueFixture(t, fetcher)
	f.pool.Start()
	defer f.pool.Stop()

	h := NewHandle("corpus", "article", "1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := f.pipeline.Run(ctx, []Document{Ref(h)}, Refs("tokenize"), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, results[h.Key()].State)
	assert.JSONEq(t, `["second","wind"]`, string(results[h.Key()].Value))
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestChainHandlerGivesUpOnUnavailableSource(t *testing.T) {
	fetcher := &flakyFetcher{failures: 100}
	f := newQueueFixture(t, fetcher)
	f.pool.Start()
	defer f.pool.Stop()

	h := NewHandle("corpus", "article", "1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := f.pipeline.Run(ctx, []Document{Ref(h)}, Refs("tokenize"), DefaultOptions())
	require.NoError(t, err)
	outcome := results[h.Key()]
	require.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, FailureFetch, outcome.Failure.Kind)
	assert.Equal(t, int32(async.MaxRetries+1), fetcher.calls.Load())

	// The last attempt completes with the failure instead of failing the job
	stats, err := f.queue.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
}

func TestQueueExecutorNonBlocking(t *testing.T) {
	h := NewHandle("corpus", "article", "1")
	f := newQueueFixture(t, mapFetcher{h.Key(): "eventually consistent"})
	opts := DefaultOptions()
	opts.Blocking = false

	results, err := f.pipeline.Run(context.Background(), []Document{Ref(h)}, Refs("tokenize"), opts)
	require.NoError(t, err)

	outcome := results[h.Key()]
	require.Equal(t, StatePending, outcome.State)
	job, err := f.queue.GetJob(outcome.JobID)
	require.NoError(t, err)
	assert.Equal(t, ChainHandlerName, job.HandlerName)
	assert.Equal(t, h.Key(), job.Source)
	assert.NotEmpty(t, job.RunID)

	_, done, err := outcome.Work.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, done, "no worker has run yet")

	f.pool.Start()
	defer f.pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := outcome.Work.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `["eventually","consistent"]`, string(result.Value))

	job, err = f.queue.GetJob(outcome.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Progress.Current)
}

func TestChainHandlerUnknownStage(t *testing.T) {
	f := newQueueFixture(t, mapFetcher{})
	registry, _ := newTestRegistry(t)
	chain := mustNormalize(t, registry, "tokenize")

	plan := Build(json.RawMessage(`"x"`), 0, chain, Text("x"), BuildOptions{})
	plan.Key = "adhoc/0"
	plan.Steps[0].Stage.Name = "retired"

	payload, err := json.Marshal(ChainPayload{Plan: plan})
	require.NoError(t, err)
	job, err := async.NewJobWithPayload(ChainHandlerName, plan.Key, payload, 1, "test")
	require.NoError(t, err)

	handler := NewChainHandler(registry, NewRunner(nil, nil, testLogger()), f.queue, testLogger())
	require.NoError(t, handler.Execute(context.Background(), job))

	var result StepResult
	require.NoError(t, async.DecodeResult(job, &result))
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureConfiguration, result.Failure.Kind)
	assert.Contains(t, result.Failure.Message, "retired")
}

func TestResultFromJob(t *testing.T) {
	job := &async.Job{ID: "JB1", Status: async.JobStatusRunning}
	_, done := ResultFromJob(job)
	assert.False(t, done)

	job.Status = async.JobStatusFailed
	job.Error = "no handler registered"
	result, done := ResultFromJob(job)
	assert.True(t, done)
	assert.Equal(t, FailureSubstrate, result.Failure.Kind)

	job.Status = async.JobStatusCancelled
	result, _ = ResultFromJob(job)
	assert.Equal(t, FailureCancelled, result.Failure.Kind)

	job.Status = async.JobStatusCompleted
	job.Result = json.RawMessage(`{"value":[1,2]}`)
	result, done = ResultFromJob(job)
	assert.True(t, done)
	assert.True(t, result.OK())
	assert.JSONEq(t, `[1,2]`, string(result.Value))
}
