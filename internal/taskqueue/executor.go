package taskqueue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/agent"
	"github.com/chatshell/streamcore/internal/metrics"
	"github.com/chatshell/streamcore/internal/policy"
	"github.com/chatshell/streamcore/internal/store/postgres"
	"github.com/chatshell/streamcore/internal/streaming"
)

// MaxRetries and RetryDelay mirror task_executor.py's TaskExecutor class
// constants: 3 attempts, linear backoff of RetryDelay * attempt.
const (
	MaxRetries = 3
	RetryDelay = 1 * time.Second
)

// defaultNamespace is the bot/resource namespace every bot lookup uses,
// matching execute_task's namespace="default" parameter; a namespace in the
// task spec is not read.
const defaultNamespace = "default"

// TaskExecutor implements Executor, running one task end-to-end per
// SPEC_FULL §4.G / task_executor.py's execute_task: resolve the bot,
// validate it, transition to running, drive the Agent Adapter through the
// Streaming Core with a bounded retry loop, and persist the conversation.
type TaskExecutor struct {
	tasks     *postgres.TaskStore
	messages  *postgres.MessageStore
	resources *postgres.ResourceStore

	core     *streaming.Core
	provider agent.Provider
	registry *agent.Registry
	agentCfg agent.Config
	gate     *policy.ToolGate

	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewTaskExecutor wires the stores, streaming core, and agent stack into a
// TaskExecutor. gate may be nil to allow every tool call.
func NewTaskExecutor(
	tasks *postgres.TaskStore,
	messages *postgres.MessageStore,
	resources *postgres.ResourceStore,
	core *streaming.Core,
	provider agent.Provider,
	registry *agent.Registry,
	agentCfg agent.Config,
	gate *policy.ToolGate,
	broadcaster Broadcaster,
	logger *zap.Logger,
) *TaskExecutor {
	return &TaskExecutor{
		tasks: tasks, messages: messages, resources: resources,
		core: core, provider: provider, registry: registry, agentCfg: agentCfg, gate: gate,
		broadcaster: broadcaster, logger: logger,
	}
}

var _ Executor = (*TaskExecutor)(nil)

// Execute runs task_executor.py's execute_task pseudocode for taskID.
func (e *TaskExecutor) Execute(ctx context.Context, taskID string) error {
	start := time.Now()
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("execute task %s: %w", taskID, err)
	}

	botName := extractBotName(task.Spec)
	if err := e.validateBot(ctx, botName); err != nil {
		failMsg := fmt.Sprintf("invalid bot configuration: %v", err)
		if failErr := e.tasks.Fail(ctx, taskID, failMsg); failErr != nil {
			e.logger.Error("failed to record bot-validation failure", zap.String("task_id", taskID), zap.Error(failErr))
		}
		e.broadcaster.TaskFailed(ctx, taskID, task.SessionID, failMsg)
		return fmt.Errorf("%s", failMsg)
	}

	if err := e.tasks.Start(ctx, taskID); err != nil {
		return fmt.Errorf("start task %s: %w", taskID, err)
	}
	e.broadcaster.TaskStarted(ctx, taskID, task.SessionID)

	threadID := taskID
	input, _ := task.Spec["input"].(string)
	if input != "" {
		if _, err := e.messages.Create(ctx, uuid.NewString(), taskID, threadID, "user", input, nil); err != nil {
			e.logger.Error("failed to persist user message", zap.String("task_id", taskID), zap.Error(err))
		}
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		content, runErr := e.runOnce(ctx, task, threadID, input)
		if runErr == nil {
			if content != "" {
				if _, err := e.messages.Create(ctx, uuid.NewString(), taskID, threadID, "assistant", content, nil); err != nil {
					e.logger.Error("failed to persist assistant message", zap.String("task_id", taskID), zap.Error(err))
				}
			}
			if err := e.tasks.Complete(ctx, taskID, postgres.JSONB{"content": content}); err != nil {
				return fmt.Errorf("complete task %s: %w", taskID, err)
			}
			e.broadcaster.TaskCompleted(ctx, taskID, task.SessionID)
			metrics.RecordTaskTerminal("completed", time.Since(start).Seconds(), attempt)
			return nil
		}

		lastErr = runErr
		e.logger.Warn("task execution attempt failed",
			zap.String("task_id", taskID), zap.Int("attempt", attempt+1), zap.Error(runErr))

		if attempt < MaxRetries-1 {
			select {
			case <-time.After(RetryDelay * time.Duration(attempt+1)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = MaxRetries
			}
		}
	}

	failMsg := fmt.Sprintf("task execution failed after %d attempts: %v", MaxRetries, lastErr)
	if err := e.tasks.Fail(ctx, taskID, failMsg); err != nil {
		e.logger.Error("failed to record final task failure", zap.String("task_id", taskID), zap.Error(err))
	}
	e.broadcaster.TaskFailed(ctx, taskID, task.SessionID, failMsg)
	metrics.RecordTaskTerminal("failed", time.Since(start).Seconds(), MaxRetries-1)
	return fmt.Errorf("%s", failMsg)
}

// runOnce opens one stream via Streaming Core, drives the Agent Adapter
// through it, and returns the concatenated assistant content once the
// stream reaches a terminal state.
func (e *TaskExecutor) runOnce(ctx context.Context, task *postgres.Task, threadID, input string) (string, error) {
	streamID := uuid.NewString()

	if _, err := e.core.CreateStream(streamID, task.SessionID, nil, map[string]any{
		"task_id": task.ID, "bot_name": task.BotName,
	}); err != nil {
		return "", fmt.Errorf("create stream: %w", err)
	}

	history := e.loadHistory(ctx, task.ID, threadID, input)
	adapter := agent.NewAdapter(e.provider, e.registry, e.agentCfg, e.gate, e.logger)
	tee := newContentTee(adapter.Producer(systemPrompt(task.BotName), history))

	if err := e.core.StartStream(streamID, tee); err != nil {
		return "", fmt.Errorf("start stream: %w", err)
	}

	status, err := e.core.Await(streamID)
	if err != nil {
		return "", fmt.Errorf("await stream: %w", err)
	}
	if status != streaming.StatusCompleted {
		if tee.lastError() != "" {
			return "", fmt.Errorf("stream ended %s: %s", status, tee.lastError())
		}
		return "", fmt.Errorf("stream ended in status %s", status)
	}
	return tee.content(), nil
}

// loadHistory fetches prior turns for (task_id, thread_id) so a retry
// resumes the same conversation instead of replaying the user input alone;
// on the first attempt this is just the user message already persisted.
func (e *TaskExecutor) loadHistory(ctx context.Context, taskID, threadID, input string) []agent.Message {
	rows, err := e.messages.GetHistory(ctx, taskID, threadID, postgres.HistoryFilter{})
	if err != nil || len(rows) == 0 {
		if input == "" {
			return nil
		}
		return []agent.Message{{Role: agent.RoleUser, Content: input}}
	}
	out := make([]agent.Message, 0, len(rows))
	for _, r := range rows {
		role := agent.RoleUser
		if r.Role == "assistant" {
			role = agent.RoleAssistant
		}
		out = append(out, agent.Message{Role: role, Content: r.Content})
	}
	return out
}

func systemPrompt(botName string) string {
	return fmt.Sprintf("You are %s, a helpful assistant.", botName)
}

// validateBot confirms the resolved bot name exists in the resource store,
// mirroring execute_task's validate_bot_configuration call.
func (e *TaskExecutor) validateBot(ctx context.Context, botName string) error {
	if botName == "default" {
		return nil
	}
	ok, err := e.resources.Exists(ctx, postgres.Ref{Kind: postgres.KindBot, Name: botName, Namespace: defaultNamespace})
	if err != nil {
		return fmt.Errorf("validate bot %s: %w", botName, err)
	}
	if !ok {
		return fmt.Errorf("bot %s not found", botName)
	}
	return nil
}

// extractBotName mirrors _extract_bot_name's fallback chain: spec["bot_name"],
// then spec["botRef"]["name"], then "default".
func extractBotName(spec postgres.JSONB) string {
	if name, ok := spec["bot_name"].(string); ok && name != "" {
		return name
	}
	if ref, ok := spec["botRef"].(map[string]any); ok {
		if name, ok := ref["name"].(string); ok && name != "" {
			return name
		}
	}
	return "default"
}

// contentTee wraps a Producer, forwarding every event unchanged while
// accumulating assistant content deltas and the last error message, so the
// executor can persist a Message and task output once the stream finishes
// without attaching a second client to read them back.
type contentTee struct {
	inner streaming.Producer

	mu       sync.Mutex
	builder  strings.Builder
	errorMsg string
}

func newContentTee(inner streaming.Producer) *contentTee {
	return &contentTee{inner: inner}
}

func (t *contentTee) Next(ctx context.Context) (streaming.Event, bool, error) {
	ev, more, err := t.inner.Next(ctx)
	if err != nil || !more {
		return ev, more, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch data := ev.Data.(type) {
	case streaming.ChunkData:
		t.builder.WriteString(data.Text)
	case streaming.ErrorData:
		t.errorMsg = data.Message
	}
	return ev, more, err
}

func (t *contentTee) content() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.builder.String()
}

func (t *contentTee) lastError() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorMsg
}

var _ streaming.Producer = (*contentTee)(nil)
