package async

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teranos/corpipe/db"
	dbtest "github.com/teranos/corpipe/internal/testing"
)

// createTestJob is a shared helper for all tests to create jobs with generic payloads
func createTestJob(t *testing.T, handlerName, source string) *Job {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"source": source})
	require.NoError(t, err)
	job, err := NewJobWithPayload(handlerName, source, payload, 2, "test-system")
	require.NoError(t, err)
	return job
}

func createTestQueue(t *testing.T) (*Queue, *sql.DB) {
	t.Helper()
	conn := dbtest.CreateTestDB(t)
	return NewQueue(conn, db.DialectSQLite), conn
}

func fastPoolConfig(workers int) WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      workers,
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	}
}

// funcHandler adapts a function to JobHandler
type funcHandler struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, job *Job) error
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Execute(ctx context.Context, job *Job) error {
	h.calls.Add(1)
	return h.fn(ctx, job)
}

// waitForStatus polls until the job reaches status or the deadline passes
func waitForStatus(t *testing.T, queue *Queue, id string, status JobStatus) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = queue.GetJob(id)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, status)
	return job
}
