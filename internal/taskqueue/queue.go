// Package taskqueue implements the strict-FIFO in-memory task queue named
// in SPEC_FULL §4.G, grounded on backend/services/task_executor.py's
// TaskQueue (asyncio.Queue + worker loop + running set).
package taskqueue

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/metrics"
)

// Executor runs one task to completion. TaskExecutor (executor.go) is the
// concrete implementation; Queue only depends on this interface so it can
// be unit-tested without a real agent/provider stack.
type Executor interface {
	Execute(ctx context.Context, taskID string) error
}

// Queue is a single-worker-loop FIFO queue: enqueue/start/stop/is_running/
// running_count, with no priority scheduling per spec Non-goals.
type Queue struct {
	executor Executor
	logger   *zap.Logger

	mu       sync.Mutex
	pending  chan string
	running  map[string]struct{}
	shutdown chan struct{}
	stopped  chan struct{}
	started  bool
}

// NewQueue builds a queue with the given buffered capacity for pending
// task IDs.
func NewQueue(executor Executor, capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		executor: executor,
		logger:   logger,
		pending:  make(chan string, capacity),
		running:  make(map[string]struct{}),
		shutdown: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the worker loop. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.workerLoop(ctx)
	q.logger.Info("task queue started")
}

// Stop signals the worker loop to exit and waits for it to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	close(q.shutdown)
	<-q.stopped
	q.logger.Info("task queue stopped")
}

// Enqueue appends taskID to the FIFO queue.
func (q *Queue) Enqueue(taskID string) {
	q.pending <- taskID
	metrics.TasksEnqueued.Inc()
	metrics.TaskQueueDepth.Set(float64(len(q.pending) + q.RunningCount()))
	q.logger.Debug("task enqueued", zap.String("task_id", taskID))
}

// IsRunning reports whether taskID is currently executing.
func (q *Queue) IsRunning(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.running[taskID]
	return ok
}

// RunningCount returns the number of tasks currently executing.
func (q *Queue) RunningCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// IsStarted reports whether the worker loop has been started and has not
// exited, for the task-queue liveness health check (SPEC_FULL §10.6).
func (q *Queue) IsStarted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return false
	}
	select {
	case <-q.stopped:
		return false
	default:
		return true
	}
}

func (q *Queue) workerLoop(ctx context.Context) {
	defer close(q.stopped)
	for {
		select {
		case <-q.shutdown:
			return
		case <-ctx.Done():
			return
		case taskID := <-q.pending:
			q.runOne(ctx, taskID)
		}
	}
}

func (q *Queue) runOne(ctx context.Context, taskID string) {
	q.mu.Lock()
	if _, already := q.running[taskID]; already {
		q.mu.Unlock()
		q.logger.Warn("task already running, skipping", zap.String("task_id", taskID))
		return
	}
	q.running[taskID] = struct{}{}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.running, taskID)
		q.mu.Unlock()
		metrics.TaskQueueDepth.Set(float64(len(q.pending) + q.RunningCount()))
	}()

	if err := q.executor.Execute(ctx, taskID); err != nil {
		q.logger.Error("task execution failed", zap.String("task_id", taskID), zap.Error(err))
	}
}
