package agent

import "context"

// ToolCall is one function-call the model asked to make, parsed from a
// Provider's streamed response.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// StreamChunk is one increment of a Provider's streamed completion: either
// a content delta, or (once streaming ends) the accumulated tool calls.
type StreamChunk struct {
	ContentDelta string
	ToolCalls    []ToolCall
	Done         bool
}

// Provider is the LLM backend the Agent Adapter drives, standing in for
// chat_shell_101/models' ModelFactory-produced LangChain chat model. A
// concrete Provider binds one model/vendor; provider_openai.go is the
// reference implementation.
type Provider interface {
	// StreamChat sends messages (with tools bound) and yields StreamChunks
	// until the model's turn is complete. The returned channel is closed
	// when done, or ctx is cancelled.
	StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error)
}
