package agent

import "context"

// ToolOutput is the result of one tool invocation, mirroring
// tools/base.py's ToolOutput shape (result, error).
type ToolOutput struct {
	Result any
	Error  string
}

// Tool is the in-process equivalent of tools/base.py's BaseTool: bind an
// LLM-callable name/description/schema to a Go function.
type Tool interface {
	Name() string
	Description() string
	// InputSchema is a JSON Schema object describing the tool's arguments,
	// handed to the Provider when binding tools to the model.
	InputSchema() map[string]any
	Execute(ctx context.Context, input map[string]any) (ToolOutput, error)
}

// PromptModifierTool is an optional capability a Tool can implement to
// rewrite the system prompt before each agent turn, mirroring
// tools/base.py's PromptModifierTool mixin used by agent.py's
// _get_modified_system_prompt.
type PromptModifierTool interface {
	Tool
	ModifyPrompt(current string, iteration int) string
}

// Registry is a static in-process map of tool name to Tool, matching
// tools/registry.py's tool_registry but without the LangChain adapter
// layer since this system speaks directly to Provider.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, overwriting any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns the tool named name, or ErrToolNotFound.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, ErrToolNotFound
	}
	return t, nil
}

// All returns every registered tool, for binding to an LLM call.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Filter returns only the tools named in names, in the order of names,
// skipping unknown names. An empty names means "all tools", returned in no
// particular order.
func (r *Registry) Filter(names []string) []Tool {
	if len(names) == 0 {
		return r.All()
	}
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}
