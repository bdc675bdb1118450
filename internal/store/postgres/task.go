package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrTaskNotFound is returned when a task id has no row (or is soft-deleted).
var ErrTaskNotFound = errors.New("task not found")

// TaskStatus mirrors the lifecycle SPEC_FULL §6.3 assigns to a task row,
// independent of the in-memory stream's Status (a task outlives its stream).
type TaskStatus string

const (
	TaskStatusCreated   TaskStatus = "created"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task is one row of the task store.
type Task struct {
	ID        string     `db:"id"`
	SessionID string     `db:"session_id"`
	BotName   string     `db:"bot_name"`
	Status    TaskStatus `db:"status"`
	Spec      JSONB      `db:"spec"`
	Output    JSONB      `db:"output"`
	Error     *string    `db:"error"`
	CreatedAt time.Time  `db:"created_at"`
	StartedAt *time.Time `db:"started_at"`
	EndedAt   *time.Time `db:"ended_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// TaskStore persists task rows, grounded on SPEC_FULL §6.3's
// get/create/start/complete/fail/cancel/soft_delete operation set.
type TaskStore struct {
	pool *Pool
}

// NewTaskStore wraps pool in a TaskStore.
func NewTaskStore(pool *Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

// Create inserts a new task in the "created" state.
func (s *TaskStore) Create(ctx context.Context, id, sessionID, botName string, spec JSONB) (*Task, error) {
	task := &Task{
		ID:        id,
		SessionID: sessionID,
		BotName:   botName,
		Status:    TaskStatusCreated,
		Spec:      spec,
		CreatedAt: time.Now(),
	}
	err := s.pool.exec(func() error {
		_, err := s.pool.db.ExecContext(ctx, `
			INSERT INTO tasks (id, session_id, bot_name, status, spec, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, task.ID, task.SessionID, task.BotName, task.Status, task.Spec, task.CreatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// Get fetches a non-deleted task by id.
func (s *TaskStore) Get(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := s.pool.exec(func() error {
		return s.pool.db.GetContext(ctx, &task, `
			SELECT id, session_id, bot_name, status, spec, output, error, created_at, started_at, ended_at, deleted_at
			FROM tasks WHERE id = $1 AND deleted_at IS NULL
		`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// Start transitions a task to running, stamping started_at.
func (s *TaskStore) Start(ctx context.Context, id string) error {
	return s.exec1(ctx, `UPDATE tasks SET status = $1, started_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		TaskStatusRunning, id)
}

// Complete transitions a task to completed with its final output.
func (s *TaskStore) Complete(ctx context.Context, id string, output JSONB) error {
	return s.exec1(ctx, `UPDATE tasks SET status = $1, ended_at = now(), output = $2 WHERE id = $3 AND deleted_at IS NULL`,
		TaskStatusCompleted, output, id)
}

// Fail transitions a task to failed with an error message.
func (s *TaskStore) Fail(ctx context.Context, id string, taskErr string) error {
	return s.exec1(ctx, `UPDATE tasks SET status = $1, ended_at = now(), error = $2 WHERE id = $3 AND deleted_at IS NULL`,
		TaskStatusFailed, taskErr, id)
}

// Cancel transitions a task to cancelled.
func (s *TaskStore) Cancel(ctx context.Context, id string) error {
	return s.exec1(ctx, `UPDATE tasks SET status = $1, ended_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		TaskStatusCancelled, id)
}

// exec1 runs query expecting exactly one row affected, translating zero
// rows into ErrTaskNotFound.
func (s *TaskStore) exec1(ctx context.Context, query string, args ...any) error {
	err := s.pool.exec(func() error {
		res, err := s.pool.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTaskNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// SoftDelete marks a task deleted without removing its row, per SPEC_FULL
// §6.3's soft_delete operation.
func (s *TaskStore) SoftDelete(ctx context.Context, id string) error {
	err := s.pool.exec(func() error {
		res, err := s.pool.db.ExecContext(ctx, `
			UPDATE tasks SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL
		`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTaskNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("soft delete task: %w", err)
	}
	return nil
}
