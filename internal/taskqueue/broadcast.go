package taskqueue

import (
	"context"

	"go.uber.org/zap"
)

// Broadcaster notifies interested parties of task lifecycle transitions,
// standing in for task_executor.py's _broadcast_task_started/_completed/
// _failed (which publish over the chat service's own pub/sub). Wiring a
// real fan-out (e.g. onto the stream itself, or a separate notification
// channel) is left to main.go; LogBroadcaster is the default.
type Broadcaster interface {
	TaskStarted(ctx context.Context, taskID, sessionID string)
	TaskCompleted(ctx context.Context, taskID, sessionID string)
	TaskFailed(ctx context.Context, taskID, sessionID, reason string)
}

// LogBroadcaster broadcasts by logging, sufficient until a richer
// notification transport is wired in.
type LogBroadcaster struct {
	logger *zap.Logger
}

// NewLogBroadcaster builds a LogBroadcaster.
func NewLogBroadcaster(logger *zap.Logger) *LogBroadcaster {
	return &LogBroadcaster{logger: logger}
}

func (b *LogBroadcaster) TaskStarted(_ context.Context, taskID, sessionID string) {
	b.logger.Info("task started", zap.String("task_id", taskID), zap.String("session_id", sessionID))
}

func (b *LogBroadcaster) TaskCompleted(_ context.Context, taskID, sessionID string) {
	b.logger.Info("task completed", zap.String("task_id", taskID), zap.String("session_id", sessionID))
}

func (b *LogBroadcaster) TaskFailed(_ context.Context, taskID, sessionID, reason string) {
	b.logger.Warn("task failed", zap.String("task_id", taskID), zap.String("session_id", sessionID), zap.String("reason", reason))
}

var _ Broadcaster = (*LogBroadcaster)(nil)
