package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExecutor struct {
	mu      sync.Mutex
	seen    []string
	delay   time.Duration
	failIDs map[string]bool
	calls   atomic.Int32
}

func (f *fakeExecutor) Execute(ctx context.Context, taskID string) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.seen = append(f.seen, taskID)
	f.mu.Unlock()
	if f.failIDs[taskID] {
		return assert.AnError
	}
	return nil
}

func TestQueueRunsEnqueuedTasks(t *testing.T) {
	exec := &fakeExecutor{}
	q := NewQueue(exec, 10, zap.NewNop())
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue("t1")
	q.Enqueue("t2")

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.seen) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestQueueIsStartedReflectsLifecycle(t *testing.T) {
	exec := &fakeExecutor{}
	q := NewQueue(exec, 4, zap.NewNop())
	assert.False(t, q.IsStarted())
	q.Start(context.Background())
	assert.True(t, q.IsStarted())
	q.Stop()
}

func TestQueueRunningCountDuringExecution(t *testing.T) {
	exec := &fakeExecutor{delay: 100 * time.Millisecond}
	q := NewQueue(exec, 4, zap.NewNop())
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue("slow")
	require.Eventually(t, func() bool { return q.RunningCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, q.IsRunning("slow"))

	require.Eventually(t, func() bool { return q.RunningCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestQueueStopWaitsForWorkerExit(t *testing.T) {
	exec := &fakeExecutor{}
	q := NewQueue(exec, 4, zap.NewNop())
	q.Start(context.Background())
	q.Enqueue("a")
	q.Stop()
	assert.False(t, q.IsStarted())
}

func TestQueueDoubleStartIsNoop(t *testing.T) {
	exec := &fakeExecutor{}
	q := NewQueue(exec, 4, zap.NewNop())
	q.Start(context.Background())
	q.Start(context.Background())
	defer q.Stop()
	assert.True(t, q.IsStarted())
}
