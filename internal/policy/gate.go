package policy

import (
	"context"
	"time"
)

// ToolGate authorizes one tool invocation before the Agent Adapter executes
// it, grounded on SPEC_FULL §11's "tool-execution authorization gate": the
// same Engine/Decision plumbing the teacher used for agent-budget
// enforcement, repointed at a {user_id, role, tool_name, tool_input}
// document instead of a budget/delegation one.
type ToolGate struct {
	engine Engine
}

// NewToolGate wraps engine in a ToolGate. A nil or disabled engine allows
// every call, so policy enforcement is strictly opt-in.
func NewToolGate(engine Engine) *ToolGate {
	return &ToolGate{engine: engine}
}

// Authorize evaluates whether (userID, role) may run toolName with the
// given arguments. A nil engine, or one with IsEnabled()==false, allows by
// default.
func (g *ToolGate) Authorize(ctx context.Context, userID, role, toolName string, toolInput map[string]any) (*Decision, error) {
	if g.engine == nil || !g.engine.IsEnabled() {
		return &Decision{Allow: true, Reason: "policy engine disabled"}, nil
	}
	input := &PolicyInput{
		UserID:    userID,
		Query:     toolName,
		Mode:      "tool_call",
		Context:   map[string]interface{}{"tool_name": toolName, "tool_input": toolInput, "role": role},
		Timestamp: time.Now(),
	}
	return g.engine.Evaluate(ctx, input)
}
