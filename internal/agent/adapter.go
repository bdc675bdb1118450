package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/metrics"
	"github.com/chatshell/streamcore/internal/policy"
	"github.com/chatshell/streamcore/internal/streaming"
)

// Config mirrors agent/config.py's AgentConfig: the knobs a run customizes
// per invocation.
type Config struct {
	Model             string
	Temperature       float64
	MaxTokens         int
	MaxIterations     int
	Tools             []string // empty means "all registered tools"
	ShowThinking      bool
	CompressContext   bool
	MaxContextTokens  int
	CompressionThresh float64
	KeepRecentMsgs    int

	// UserID/Role identify the caller for the tool-execution policy gate;
	// both are empty for unauthenticated/dev-mode runs.
	UserID string
	Role   string
}

// DefaultConfig mirrors AgentConfig's dataclass defaults.
func DefaultConfig() Config {
	return Config{
		Model: "gpt-4o", Temperature: 0.7, MaxTokens: 2048,
		MaxIterations: 10, CompressContext: true, MaxContextTokens: 8000,
		CompressionThresh: 0.8, KeepRecentMsgs: 4,
	}
}

// Adapter is the Agent Adapter of SPEC_FULL §4.F: a ReAct loop over a
// Provider and a bound Registry, grounded on agent.py's ChatAgent.stream().
type Adapter struct {
	provider Provider
	registry *Registry
	config   Config
	compress *MessageCompressor
	gate     *policy.ToolGate
	logger   *zap.Logger
}

// NewAdapter builds an Adapter. registry is filtered to cfg.Tools at Run
// time so a single registry can back adapters bound to different tool sets.
// gate may be nil, in which case every tool call is allowed.
func NewAdapter(provider Provider, registry *Registry, cfg Config, gate *policy.ToolGate, logger *zap.Logger) *Adapter {
	var compress *MessageCompressor
	if cfg.CompressContext {
		compress = NewMessageCompressor(cfg.Model, cfg.MaxContextTokens, cfg.CompressionThresh, cfg.KeepRecentMsgs, StrategyWindow)
	}
	return &Adapter{provider: provider, registry: registry, config: cfg, compress: compress, gate: gate, logger: logger}
}

// Producer adapts a running Adapter invocation to streaming.Producer, so
// Streaming Core can drive it through StartStream without any agent-shaped
// knowledge of its own.
func (a *Adapter) Producer(systemPrompt string, history []Message) streaming.Producer {
	events := make(chan streaming.Event, 64)
	done := make(chan error, 1)

	started := false
	return streaming.ProducerFunc(func(ctx context.Context) (streaming.Event, bool, error) {
		if !started {
			started = true
			go a.run(ctx, systemPrompt, history, events, done)
		}
		select {
		case ev, ok := <-events:
			if !ok {
				return streaming.Event{}, false, <-done
			}
			return ev, true, nil
		case <-ctx.Done():
			return streaming.Event{}, false, ctx.Err()
		}
	})
}

// run executes the ReAct loop: call the provider, stream content deltas,
// execute any tool calls it asks for, loop until no tool calls remain or
// MaxIterations is hit, mirroring agent.py's stream()/should_continue.
func (a *Adapter) run(ctx context.Context, systemPrompt string, history []Message, events chan<- streaming.Event, done chan<- error) {
	defer close(events)

	messages := append([]Message{{Role: RoleSystem, Content: systemPrompt}}, history...)
	tools := a.registry.Filter(a.config.Tools)

	iteration := 0
	for {
		if a.compress != nil {
			messages = a.compress.CompressIfNeeded(messages).Messages
		}

		chunks, err := a.provider.StreamChat(ctx, messages, tools)
		if err != nil {
			err = fmt.Errorf("%w: %w", streaming.ErrProvider, err)
			a.emitError(events, err)
			done <- err
			return
		}

		var contentBuilder []byte
		var toolCalls []ToolCall
		for chunk := range chunks {
			if chunk.ContentDelta != "" {
				contentBuilder = append(contentBuilder, chunk.ContentDelta...)
				events <- streaming.NewEvent("", streaming.ChunkData{Text: chunk.ContentDelta, IsDelta: true})
			}
			if chunk.Done {
				toolCalls = chunk.ToolCalls
			}
		}

		assistantContent := string(contentBuilder)
		if assistantContent != "" {
			messages = append(messages, Message{Role: RoleAssistant, Content: assistantContent})
		}

		if len(toolCalls) == 0 {
			done <- nil
			return
		}

		if iteration >= a.config.MaxIterations {
			a.emitError(events, ErrToolIterationLimit)
			done <- ErrToolIterationLimit
			return
		}
		iteration++

		for _, call := range toolCalls {
			if a.config.ShowThinking {
				step := fmt.Sprintf("calling tool %s", call.Name)
				events <- streaming.NewEvent("", streaming.ThinkingData{Text: "deciding next action", Step: &step})
			}
			events <- streaming.NewEvent("", streaming.ToolStartData{ToolName: call.Name, ToolInput: call.Args, ToolCallID: call.ID})

			result, execErr := a.callTool(ctx, call)
			var resultData streaming.ToolResultData
			resultData.ToolName = call.Name
			resultData.ToolCallID = call.ID
			if execErr != nil {
				msg := execErr.Error()
				resultData.Error = &msg
				messages = append(messages, Message{Role: RoleAssistant, Content: "Error: " + msg})
			} else if result.Error != "" {
				resultData.Error = &result.Error
				messages = append(messages, Message{Role: RoleAssistant, Content: "Error: " + result.Error})
			} else {
				resultData.Result = result.Result
				messages = append(messages, Message{Role: RoleAssistant, Content: fmt.Sprintf("%v", result.Result)})
			}
			events <- streaming.NewEvent("", resultData)
		}
	}
}

// callTool authorizes call against the policy gate (spec §4.F step 5)
// before running it; a denial surfaces as a ToolOutput error rather than an
// execution error, so the model sees it the same way it sees any other
// tool failure.
func (a *Adapter) callTool(ctx context.Context, call ToolCall) (ToolOutput, error) {
	tool, err := a.registry.Get(call.Name)
	if err != nil {
		return ToolOutput{}, err
	}
	if a.gate != nil {
		decision, err := a.gate.Authorize(ctx, a.config.UserID, a.config.Role, call.Name, call.Args)
		if err != nil {
			return ToolOutput{}, fmt.Errorf("policy evaluation: %w", err)
		}
		metrics.RecordPolicyDecision(decision.Allow)
		if !decision.Allow {
			metrics.RecordToolCall(call.Name, "denied")
			return ToolOutput{Error: "denied by policy: " + decision.Reason}, nil
		}
	}
	out, err := tool.Execute(ctx, call.Args)
	switch {
	case err != nil || out.Error != "":
		metrics.RecordToolCall(call.Name, "error")
	default:
		metrics.RecordToolCall(call.Name, "success")
	}
	return out, err
}

func (a *Adapter) emitError(events chan<- streaming.Event, err error) {
	events <- streaming.NewEvent("", streaming.ErrorData{
		ErrorCode: streaming.ErrorCode(err), Message: err.Error(), IsRecoverable: false,
	})
}
