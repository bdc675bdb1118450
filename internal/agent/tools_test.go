package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(CalculatorTool{})

	tool, err := r.Get("calculator")
	require.NoError(t, err)
	assert.Equal(t, "calculator", tool.Name())
}

func TestRegistryGetUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistryRegisterOverwritesSameName(t *testing.T) {
	r := NewRegistry()
	r.Register(EchoTool{})
	r.Register(EchoTool{})
	assert.Len(t, r.All(), 1)
}

func TestCalculatorToolArithmetic(t *testing.T) {
	tool := CalculatorTool{}
	cases := []struct {
		op   string
		a, b float64
		want float64
	}{
		{"+", 2, 3, 5},
		{"-", 5, 3, 2},
		{"*", 4, 3, 12},
		{"/", 9, 3, 3},
	}
	for _, c := range cases {
		out, err := tool.Execute(context.Background(), map[string]any{"a": c.a, "b": c.b, "operator": c.op})
		require.NoError(t, err)
		assert.Empty(t, out.Error)
		assert.Equal(t, c.want, out.Result)
	}
}

func TestCalculatorToolDivisionByZero(t *testing.T) {
	tool := CalculatorTool{}
	out, err := tool.Execute(context.Background(), map[string]any{"a": 1.0, "b": 0.0, "operator": "/"})
	require.NoError(t, err)
	assert.Equal(t, "division by zero", out.Error)
}

func TestCalculatorToolUnknownOperator(t *testing.T) {
	tool := CalculatorTool{}
	out, err := tool.Execute(context.Background(), map[string]any{"a": 1.0, "b": 2.0, "operator": "%"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Error)
}

func TestEchoToolReturnsInputUnchanged(t *testing.T) {
	tool := EchoTool{}
	out, err := tool.Execute(context.Background(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Result)
}
