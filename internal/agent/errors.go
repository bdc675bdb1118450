// Package agent implements the Agent Adapter (SPEC_FULL §4.F): a ReAct
// loop over an LLM Provider and a bound tool set, streaming content,
// thinking, tool_call, and tool_result events the same shape Streaming
// Core's Producer interface expects.
package agent

import (
	"errors"

	"github.com/chatshell/streamcore/internal/streaming"
)

// ErrToolIterationLimit is raised when a run exceeds its configured tool
// iteration cap, mirroring agent.py's ToolIterationLimitError. It is the
// same sentinel streaming.ErrorCode checks, so the terminal Error event
// Core emits for a failed Producer carries error_code=ITERATION_LIMIT
// instead of the generic STREAM_ERROR fallback.
var ErrToolIterationLimit = streaming.ErrToolIterationLimit

// ErrToolNotFound is returned by the tool registry for an unknown tool name.
var ErrToolNotFound = errors.New("tool not found")
