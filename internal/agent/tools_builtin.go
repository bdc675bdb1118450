package agent

import (
	"context"
	"fmt"
)

// CalculatorTool evaluates a simple two-operand arithmetic expression,
// standing in for chat_shell_101/tools' reference tool set (data_table,
// knowledge_base, file_reader) without pulling in their external
// dependencies — the calculator and echo tools below exercise the same
// Tool interface those would.
type CalculatorTool struct{}

func (CalculatorTool) Name() string        { return "calculator" }
func (CalculatorTool) Description() string { return "Evaluates a+b, a-b, a*b, or a/b" }
func (CalculatorTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a":        map[string]any{"type": "number"},
			"b":        map[string]any{"type": "number"},
			"operator": map[string]any{"type": "string", "enum": []string{"+", "-", "*", "/"}},
		},
		"required": []string{"a", "b", "operator"},
	}
}

func (CalculatorTool) Execute(_ context.Context, input map[string]any) (ToolOutput, error) {
	a, _ := input["a"].(float64)
	b, _ := input["b"].(float64)
	op, _ := input["operator"].(string)

	switch op {
	case "+":
		return ToolOutput{Result: a + b}, nil
	case "-":
		return ToolOutput{Result: a - b}, nil
	case "*":
		return ToolOutput{Result: a * b}, nil
	case "/":
		if b == 0 {
			return ToolOutput{Error: "division by zero"}, nil
		}
		return ToolOutput{Result: a / b}, nil
	default:
		return ToolOutput{Error: fmt.Sprintf("unknown operator %q", op)}, nil
	}
}

// EchoTool returns its input text unchanged, useful for exercising the
// tool-call/tool-result event path in tests without a real dependency.
type EchoTool struct{}

func (EchoTool) Name() string        { return "echo" }
func (EchoTool) Description() string { return "Returns the given text unchanged" }
func (EchoTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []string{"text"},
	}
}

func (EchoTool) Execute(_ context.Context, input map[string]any) (ToolOutput, error) {
	text, _ := input["text"].(string)
	return ToolOutput{Result: text}, nil
}

var _ Tool = CalculatorTool{}
var _ Tool = EchoTool{}
