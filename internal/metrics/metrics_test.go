package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordStreamTerminalIncrementsCounterAndHistogram(t *testing.T) {
	before := testutil.ToFloat64(StreamsCompleted.WithLabelValues("completed"))
	RecordStreamTerminal("completed", 1.5)
	after := testutil.ToFloat64(StreamsCompleted.WithLabelValues("completed"))
	assert.Equal(t, before+1, after)
}

func TestRecordStreamTerminalSkipsHistogramForZeroDuration(t *testing.T) {
	before := testutil.ToFloat64(StreamsCompleted.WithLabelValues("cancelled"))
	RecordStreamTerminal("cancelled", 0)
	after := testutil.ToFloat64(StreamsCompleted.WithLabelValues("cancelled"))
	assert.Equal(t, before+1, after)
}

func TestRecordToolCallIncrementsByToolAndResult(t *testing.T) {
	before := testutil.ToFloat64(ToolCalls.WithLabelValues("calculator", "success"))
	RecordToolCall("calculator", "success")
	after := testutil.ToFloat64(ToolCalls.WithLabelValues("calculator", "success"))
	assert.Equal(t, before+1, after)
}

func TestRecordTaskTerminalTracksRetries(t *testing.T) {
	beforeRetries := testutil.ToFloat64(TaskRetries)
	RecordTaskTerminal("completed", 2.0, 3)
	afterRetries := testutil.ToFloat64(TaskRetries)
	assert.Equal(t, beforeRetries+3, afterRetries)
}

func TestRecordPolicyDecisionSplitsAllowDeny(t *testing.T) {
	beforeAllow := testutil.ToFloat64(PolicyDecisions.WithLabelValues("allow"))
	beforeDeny := testutil.ToFloat64(PolicyDecisions.WithLabelValues("deny"))

	RecordPolicyDecision(true)
	RecordPolicyDecision(false)

	assert.Equal(t, beforeAllow+1, testutil.ToFloat64(PolicyDecisions.WithLabelValues("allow")))
	assert.Equal(t, beforeDeny+1, testutil.ToFloat64(PolicyDecisions.WithLabelValues("deny")))
}

func TestRecordRateLimitRejectionLabelsByLimiter(t *testing.T) {
	before := testutil.ToFloat64(RateLimitRejections.WithLabelValues("connect"))
	RecordRateLimitRejection("connect")
	after := testutil.ToFloat64(RateLimitRejections.WithLabelValues("connect"))
	assert.Equal(t, before+1, after)
}
