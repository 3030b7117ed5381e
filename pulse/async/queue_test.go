package async

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/corpipe/errors"
)

// ============================================================================
// TAS Bot & Yugi Queue Test Universe
// ============================================================================
//
// TAS Bot places jobs in the queue with frame-perfect timing, Yugi draws
// them like cards and plays them.
// ============================================================================

func TestTASBotEnqueuesJob(t *testing.T) {
	t.Log("🎮 TAS Bot begins enqueuing jobs for the speedrun...")

	queue, _ := createTestQueue(t)
	job := createTestJob(t, "test.tokenize", "speedrun/article/1")
	job.RunID = "run-any%"

	require.NoError(t, queue.Enqueue(job))

	stored, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, stored.Status)
	assert.Equal(t, "run-any%", stored.RunID)
	assert.JSONEq(t, string(job.Payload), string(stored.Payload))

	t.Log("✓ TAS Bot successfully enqueued the job")
}

func TestYugiDrawsOldestJobFirst(t *testing.T) {
	t.Log("⭐ Yugi prepares to draw from the queue... 'It's time to duel!'")

	queue, _ := createTestQueue(t)

	first := createTestJob(t, "test.tokenize", "deck/card/1")
	second := createTestJob(t, "test.tokenize", "deck/card/2")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, queue.Enqueue(first))
	require.NoError(t, queue.Enqueue(second))

	drawn, err := queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, drawn)
	assert.Equal(t, first.ID, drawn.ID)
	assert.Equal(t, JobStatusRunning, drawn.Status)

	drawn, err = queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, drawn)
	assert.Equal(t, second.ID, drawn.ID)

	drawn, err = queue.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, drawn, "empty deck")

	t.Log("✓ Yugi drew every card in order")
}

func TestClaimJobOnlyOnce(t *testing.T) {
	queue, _ := createTestQueue(t)
	job := createTestJob(t, "test.tokenize", "deck/card/3")
	require.NoError(t, queue.Enqueue(job))

	copyA, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	copyB, err := queue.GetJob(job.ID)
	require.NoError(t, err)

	claimed, err := queue.Store().ClaimJob(copyA)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = queue.Store().ClaimJob(copyB)
	require.NoError(t, err)
	assert.False(t, claimed, "a running job cannot be claimed twice")
}

func TestCompleteJobKeepsResult(t *testing.T) {
	queue, _ := createTestQueue(t)
	job := createTestJob(t, "test.tokenize", "deck/card/4")
	require.NoError(t, queue.Enqueue(job))

	running, err := queue.Dequeue()
	require.NoError(t, err)
	running.SetResult(json.RawMessage(`{"tokens":["exodia"]}`))
	require.NoError(t, queue.CompleteJob(running))

	stored, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	var result struct {
		Tokens []string `json:"tokens"`
	}
	require.NoError(t, DecodeResult(stored, &result))
	assert.Equal(t, []string{"exodia"}, result.Tokens)
}

func TestFailAndCancel(t *testing.T) {
	queue, _ := createTestQueue(t)

	failing := createTestJob(t, "test.tokenize", "deck/card/5")
	require.NoError(t, queue.Enqueue(failing))
	require.NoError(t, queue.FailJob(failing, errors.New("trap card")))

	stored, err := queue.GetJob(failing.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, "trap card", stored.Error)

	assert.Error(t, queue.CancelJob(failing.ID, "too late"), "finished jobs cannot be cancelled")

	waiting := createTestJob(t, "test.tokenize", "deck/card/6")
	require.NoError(t, queue.Enqueue(waiting))
	require.NoError(t, queue.CancelJob(waiting.ID, "duel forfeited"))

	stored, err = queue.GetJob(waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, stored.Status)
}

func TestGetJobNotFound(t *testing.T) {
	queue, _ := createTestQueue(t)
	_, err := queue.GetJob("JB_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	queue, _ := createTestQueue(t)
	updates := queue.Subscribe()
	defer queue.Unsubscribe(updates)

	job := createTestJob(t, "test.tokenize", "deck/card/7")
	require.NoError(t, queue.Enqueue(job))
	running, err := queue.Dequeue()
	require.NoError(t, err)
	require.NoError(t, queue.CompleteJob(running))

	var seen []JobStatus
	for len(seen) < 3 {
		select {
		case update := <-updates:
			seen = append(seen, update.Status)
		case <-time.After(time.Second):
			t.Fatalf("missing updates, saw %v", seen)
		}
	}
	assert.Equal(t, []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusCompleted}, seen)
}

func TestStatsAndRuns(t *testing.T) {
	queue, _ := createTestQueue(t)

	for i, src := range []string{"a", "b", "c"} {
		job := createTestJob(t, "test.tokenize", src)
		job.RunID = "run-1"
		job.CreatedAt = job.CreatedAt.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, queue.Enqueue(job))
	}
	running, err := queue.Dequeue()
	require.NoError(t, err)
	require.NoError(t, queue.CompleteJob(running))

	stats, err := queue.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 3, stats.Total)

	queued, runningCount, err := queue.GetJobCounts()
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, 0, runningCount)

	jobs, err := queue.ListJobsByRun("run-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "a", jobs[0].Source)

	removed, err := queue.Cleanup(-time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
