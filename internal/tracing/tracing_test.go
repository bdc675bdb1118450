package tracing

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitializeDisabledStillSetsUpTracerHandle(t *testing.T) {
	require.NoError(t, Initialize(Config{Enabled: false}, zap.NewNop()))

	ctx, span := StartSpan(context.Background(), "noop")
	assert.NotNil(t, span)
	assert.Equal(t, "", W3CTraceparent(ctx))
	span.End()
}

func TestParseTraceparentRoundTripsValidHeader(t *testing.T) {
	traceID, spanID, flags, ok := ParseTraceparent("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	require.True(t, ok)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
	assert.Equal(t, "00f067aa0ba902b7", spanID)
	assert.Equal(t, byte(1), flags)
}

func TestParseTraceparentRejectsWrongPartCount(t *testing.T) {
	_, _, _, ok := ParseTraceparent("00-abc-def")
	assert.False(t, ok)
}

func TestParseTraceparentRejectsUnknownVersion(t *testing.T) {
	_, _, _, ok := ParseTraceparent("01-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	assert.False(t, ok)
}

func TestInjectTraceparentNoopsWithoutActiveSpan(t *testing.T) {
	require.NoError(t, Initialize(Config{Enabled: false}, zap.NewNop()))
	req, err := http.NewRequest("GET", "http://example.com", nil)
	require.NoError(t, err)

	InjectTraceparent(context.Background(), req)
	assert.Empty(t, req.Header.Get("traceparent"))
}
