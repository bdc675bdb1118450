package agent

import (
	"fmt"
	"strings"
)

// Role mirrors the three message roles chat_shell_101's LangChain messages
// carry (system, user, assistant); there is no fourth tool role, and the
// adapter records tool results as assistant messages, since it has no
// LangChain ToolMessage type to convert to/from.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the conversation handed to a Provider.
type Message struct {
	Role    Role
	Content string
}

// CompressionStrategy selects how MessageCompressor reduces history when it
// exceeds budget, matching compressor.py's CompressionStrategy enum.
type CompressionStrategy string

const (
	StrategyWindow    CompressionStrategy = "window"
	StrategyTruncate  CompressionStrategy = "truncate"
	StrategySummarize CompressionStrategy = "summarize"
)

// TokenCounter estimates token counts without a real tokenizer. Grounded on
// test_compressor.py's cross-model expectations (gpt-4, gpt-4o, claude-3,
// deepseek-chat all produce count > 0 for the same fallback path), this
// always uses the ceil(len/4) heuristic rather than per-model tokenizers.
type TokenCounter struct {
	Model string
}

// NewTokenCounter builds a counter for model (unused beyond bookkeeping,
// since every model shares the same estimate).
func NewTokenCounter(model string) TokenCounter {
	return TokenCounter{Model: model}
}

// CountTokens estimates ceil(len(text)/4) tokens, 0 for an empty string.
func (TokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// CountMessageTokens adds a small per-message overhead on top of content,
// approximating the role/formatting tokens a real chat tokenizer spends.
func (c TokenCounter) CountMessageTokens(m Message) int {
	return c.CountTokens(m.Content) + 4
}

// CountMessagesTokens sums CountMessageTokens over messages.
func (c TokenCounter) CountMessagesTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += c.CountMessageTokens(m)
	}
	return total
}

// CompressionResult is returned by every Compressor, mirroring
// compressor.py's CompressionResult dataclass.
type CompressionResult struct {
	Messages             []Message
	OriginalTokenCount   int
	CompressedTokenCount int
	CompressionRatio     float64
	StrategyUsed         CompressionStrategy
}

// Compressor reduces messages to fit within target_tokens, keeping at least
// keepRecent of the most recent non-system messages verbatim.
type Compressor interface {
	Compress(messages []Message, targetTokens int, keepRecent int) CompressionResult
}

func splitSystem(messages []Message) (sys *Message, rest []Message) {
	for i, m := range messages {
		if m.Role == RoleSystem {
			s := messages[i]
			return &s, append(append([]Message{}, messages[:i]...), messages[i+1:]...)
		}
	}
	return nil, messages
}

func tailRecent(rest []Message, keepRecent int) []Message {
	if keepRecent >= len(rest) {
		return rest
	}
	if keepRecent <= 0 {
		return nil
	}
	return rest[len(rest)-keepRecent:]
}

// WindowCompressor keeps the system message plus a sliding window of the
// most recent messages, dropping everything older, mirroring
// WindowCompressor in compressor.py.
type WindowCompressor struct {
	counter TokenCounter
}

// NewWindowCompressor builds a WindowCompressor using counter to measure size.
func NewWindowCompressor(counter TokenCounter) *WindowCompressor {
	return &WindowCompressor{counter: counter}
}

func (c *WindowCompressor) Compress(messages []Message, targetTokens int, keepRecent int) CompressionResult {
	original := c.counter.CountMessagesTokens(messages)
	if original <= targetTokens {
		return CompressionResult{
			Messages: messages, OriginalTokenCount: original, CompressedTokenCount: original,
			CompressionRatio: 1.0, StrategyUsed: StrategyWindow,
		}
	}

	sys, rest := splitSystem(messages)
	kept := tailRecent(rest, keepRecent)

	out := kept
	if sys != nil {
		out = append([]Message{*sys}, kept...)
	}
	compressed := c.counter.CountMessagesTokens(out)
	return CompressionResult{
		Messages: out, OriginalTokenCount: original, CompressedTokenCount: compressed,
		CompressionRatio: ratio(compressed, original), StrategyUsed: StrategyWindow,
	}
}

// TruncateCompressor drops everything except the system message and the
// most recent keepRecent messages — no summary is synthesized.
type TruncateCompressor struct {
	counter TokenCounter
}

// NewTruncateCompressor builds a TruncateCompressor using counter.
func NewTruncateCompressor(counter TokenCounter) *TruncateCompressor {
	return &TruncateCompressor{counter: counter}
}

func (c *TruncateCompressor) Compress(messages []Message, targetTokens int, keepRecent int) CompressionResult {
	original := c.counter.CountMessagesTokens(messages)
	if original <= targetTokens {
		return CompressionResult{
			Messages: messages, OriginalTokenCount: original, CompressedTokenCount: original,
			CompressionRatio: 1.0, StrategyUsed: StrategyTruncate,
		}
	}

	sys, rest := splitSystem(messages)
	kept := tailRecent(rest, keepRecent)

	out := kept
	if sys != nil {
		out = append([]Message{*sys}, kept...)
	}
	compressed := c.counter.CountMessagesTokens(out)
	return CompressionResult{
		Messages: out, OriginalTokenCount: original, CompressedTokenCount: compressed,
		CompressionRatio: ratio(compressed, original), StrategyUsed: StrategyTruncate,
	}
}

// SummarizeCompressor replaces the dropped middle of the conversation with
// a single synthetic system message summarizing it, followed by the most
// recent keepRecent messages verbatim. The original system message (if any)
// is dropped and not included in the summary.
type SummarizeCompressor struct {
	counter TokenCounter
}

// NewSummarizeCompressor builds a SummarizeCompressor using counter.
func NewSummarizeCompressor(counter TokenCounter) *SummarizeCompressor {
	return &SummarizeCompressor{counter: counter}
}

func (c *SummarizeCompressor) Compress(messages []Message, targetTokens int, keepRecent int) CompressionResult {
	original := c.counter.CountMessagesTokens(messages)
	if original <= targetTokens {
		return CompressionResult{
			Messages: messages, OriginalTokenCount: original, CompressedTokenCount: original,
			CompressionRatio: 1.0, StrategyUsed: StrategySummarize,
		}
	}

	_, rest := splitSystem(messages)
	kept := tailRecent(rest, keepRecent)
	dropped := rest[:len(rest)-len(kept)]

	summary := Message{Role: RoleSystem, Content: summarize(dropped)}
	out := append([]Message{summary}, kept...)

	compressed := c.counter.CountMessagesTokens(out)
	return CompressionResult{
		Messages: out, OriginalTokenCount: original, CompressedTokenCount: compressed,
		CompressionRatio: ratio(compressed, original), StrategyUsed: StrategySummarize,
	}
}

func summarize(dropped []Message) string {
	if len(dropped) == 0 {
		return "Previous conversation summary: (no prior turns)"
	}
	var b strings.Builder
	b.WriteString("Previous conversation summary: ")
	for i, m := range dropped {
		if i > 0 {
			b.WriteString(" | ")
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, truncate(m.Content, 80))
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func ratio(compressed, original int) float64 {
	if original == 0 {
		return 1.0
	}
	return float64(compressed) / float64(original)
}

// MessageCompressor is the facade adapter.go calls, matching
// compressor.py's MessageCompressor: decides whether compression is needed
// and dispatches to the configured strategy.
type MessageCompressor struct {
	counter               TokenCounter
	MaxTokens             int
	CompressionThreshold  float64
	KeepRecentMessages    int
	Strategy              CompressionStrategy
}

// NewMessageCompressor builds a compressor with compressor.py's defaults
// (max_tokens=8000, threshold=0.8, keep_recent=4, strategy=window) unless
// overridden.
func NewMessageCompressor(model string, maxTokens int, threshold float64, keepRecent int, strategy CompressionStrategy) *MessageCompressor {
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	if threshold <= 0 {
		threshold = 0.8
	}
	if keepRecent <= 0 {
		keepRecent = 4
	}
	if strategy == "" {
		strategy = StrategyWindow
	}
	return &MessageCompressor{
		counter: NewTokenCounter(model), MaxTokens: maxTokens,
		CompressionThreshold: threshold, KeepRecentMessages: keepRecent, Strategy: strategy,
	}
}

// ShouldCompress reports whether messages exceed threshold*max_tokens.
func (c *MessageCompressor) ShouldCompress(messages []Message) bool {
	return c.GetTokenCount(messages) > int(float64(c.MaxTokens)*c.CompressionThreshold)
}

// GetTokenCount returns the estimated token count of messages.
func (c *MessageCompressor) GetTokenCount(messages []Message) int {
	return c.counter.CountMessagesTokens(messages)
}

// CompressIfNeeded compresses messages only if ShouldCompress is true,
// otherwise returns them unchanged with a 1.0 ratio.
func (c *MessageCompressor) CompressIfNeeded(messages []Message) CompressionResult {
	if !c.ShouldCompress(messages) {
		total := c.GetTokenCount(messages)
		return CompressionResult{
			Messages: messages, OriginalTokenCount: total, CompressedTokenCount: total,
			CompressionRatio: 1.0, StrategyUsed: c.Strategy,
		}
	}
	return c.ForceCompress(messages, int(float64(c.MaxTokens)*c.CompressionThreshold))
}

// ForceCompress compresses messages down toward targetTokens regardless of
// ShouldCompress, using the configured strategy.
func (c *MessageCompressor) ForceCompress(messages []Message, targetTokens int) CompressionResult {
	var compressor Compressor
	switch c.Strategy {
	case StrategyTruncate:
		compressor = NewTruncateCompressor(c.counter)
	case StrategySummarize:
		compressor = NewSummarizeCompressor(c.counter)
	default:
		compressor = NewWindowCompressor(c.counter)
	}
	return compressor.Compress(messages, targetTokens, c.KeepRecentMessages)
}
