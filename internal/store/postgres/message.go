package postgres

import (
	"context"
	"fmt"
	"time"
)

// Message is one row of the message store, ordered by a per-(task_id,
// thread_id) monotone sequence per SPEC_FULL §6.3.
type Message struct {
	ID        string    `db:"id"`
	TaskID    string    `db:"task_id"`
	ThreadID  string    `db:"thread_id"`
	Sequence  int64     `db:"sequence"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// HistoryFilter narrows get_history results.
type HistoryFilter struct {
	Role      string
	Since     *time.Time
	Limit     int
	FromSeq   *int64
}

// MessageStore persists conversation turns for a task/thread.
type MessageStore struct {
	pool *Pool
}

// NewMessageStore wraps pool in a MessageStore.
func NewMessageStore(pool *Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Create appends a message, assigning the next sequence for (task_id,
// thread_id) inside the INSERT itself (MAX(sequence)+1, starting at 0). The
// statement takes no lock, so two concurrent writers to the same thread can
// compute the same sequence.
func (s *MessageStore) Create(ctx context.Context, id, taskID, threadID, role, content string, metadata JSONB) (*Message, error) {
	msg := &Message{
		ID:        id,
		TaskID:    taskID,
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	err := s.pool.exec(func() error {
		return s.pool.db.GetContext(ctx, &msg.Sequence, `
			INSERT INTO messages (id, task_id, thread_id, sequence, role, content, metadata, created_at)
			VALUES (
				$1, $2, $3,
				COALESCE((SELECT MAX(sequence) + 1 FROM messages WHERE task_id = $2 AND thread_id = $3), 0),
				$4, $5, $6, $7
			)
			RETURNING sequence
		`, msg.ID, msg.TaskID, msg.ThreadID, msg.Role, msg.Content, msg.Metadata, msg.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// GetHistory returns messages for (task_id, thread_id) in sequence order,
// applying filter's role/since/from_seq/limit.
func (s *MessageStore) GetHistory(ctx context.Context, taskID, threadID string, filter HistoryFilter) ([]Message, error) {
	query := `
		SELECT id, task_id, thread_id, sequence, role, content, metadata, created_at
		FROM messages
		WHERE task_id = $1 AND thread_id = $2
	`
	args := []any{taskID, threadID}

	if filter.Role != "" {
		args = append(args, filter.Role)
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.FromSeq != nil {
		args = append(args, *filter.FromSeq)
		query += fmt.Sprintf(" AND sequence >= $%d", len(args))
	}
	query += " ORDER BY sequence ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var messages []Message
	err := s.pool.exec(func() error {
		return s.pool.db.SelectContext(ctx, &messages, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("get message history: %w", err)
	}
	return messages, nil
}
