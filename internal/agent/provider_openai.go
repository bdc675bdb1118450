package agent

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/circuitbreaker"
)

// OpenAIProvider is a Provider backed by the OpenAI chat completions API,
// grounded on chat_shell_101/models/factory.py's ModelFactory (which binds
// an OpenAI-compatible client for every configured provider). Its outbound
// HTTP traffic is wrapped in a circuit breaker so a degraded LLM endpoint
// opens the breaker instead of stalling every in-flight agent run.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAIProvider builds a provider whose HTTP transport is wrapped in a
// circuit breaker, following internal/circuitbreaker's HTTPWrapper pattern.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	wrapper := circuitbreaker.NewHTTPWrapper(nil, "openai-provider", "llm", logger)

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Transport: wrapperTransport{wrapper}}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIProvider{client: &client, model: model, logger: logger}
}

// wrapperTransport adapts circuitbreaker.HTTPWrapper to http.RoundTripper
// so it can be installed as an *http.Client's Transport.
type wrapperTransport struct {
	wrapper *circuitbreaker.HTTPWrapper
}

func (t wrapperTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.wrapper.Do(req)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name(),
				Description: openai.String(t.Description()),
				Parameters:  openai.FunctionParameters(t.InputSchema()),
			},
		})
	}
	return out
}

// StreamChat implements Provider by streaming OpenAI chat completion
// chunks, accumulating tool_call fragments across the stream the way
// agent.py's astream() loop accumulates `full_response` before acting on
// tool_calls.
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 16)

	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	go func() {
		defer close(out)

		type pendingCall struct {
			id, name, args string
		}
		calls := map[int64]*pendingCall{}

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				select {
				case out <- StreamChunk{ContentDelta: delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				pc, ok := calls[tc.Index]
				if !ok {
					pc = &pendingCall{}
					calls[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args += tc.Function.Arguments
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Warn("openai stream error", zap.Error(err))
		}

		var finalCalls []ToolCall
		for _, pc := range calls {
			var args map[string]any
			if pc.args != "" {
				if err := json.Unmarshal([]byte(pc.args), &args); err != nil {
					p.logger.Warn("tool call args not valid JSON", zap.String("tool", pc.name), zap.Error(err))
					args = map[string]any{}
				}
			}
			finalCalls = append(finalCalls, ToolCall{ID: pc.id, Name: pc.name, Args: args})
		}

		select {
		case out <- StreamChunk{ToolCalls: finalCalls, Done: true}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

var _ Provider = (*OpenAIProvider)(nil)
