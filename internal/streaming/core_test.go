package streaming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := DefaultStreamConfig()
	core := NewCore(NewStreamState(), NewPerStreamBuffer(cfg.BufferSize, cfg.BufferAge), NewEmitter(16, time.Second, zap.NewNop()), cfg, zap.NewNop())
	core.Start()
	t.Cleanup(core.Stop)
	return core
}

// chunkProducer yields n chunk events then finishes.
func chunkProducer(n int) Producer {
	i := 0
	return ProducerFunc(func(ctx context.Context) (Event, bool, error) {
		if i >= n {
			return Event{}, false, nil
		}
		i++
		return NewEvent("", ChunkData{Text: "hi", IsDelta: true}), true, nil
	})
}

func TestCreateAndRunStreamToCompletion(t *testing.T) {
	core := newTestCore(t)

	_, err := core.CreateStream("s1", "sess1", nil, nil)
	require.NoError(t, err)

	require.NoError(t, core.StartStream("s1", chunkProducer(3)))

	status, err := core.Await("s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	st, err := core.GetStreamStatus("s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
}

func TestStartStreamUnknownIDFails(t *testing.T) {
	core := newTestCore(t)
	err := core.StartStream("missing", chunkProducer(1))
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestProducerErrorEndsStreamInError(t *testing.T) {
	core := newTestCore(t)
	_, err := core.CreateStream("s-err", "sess", nil, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	failing := ProducerFunc(func(ctx context.Context) (Event, bool, error) {
		return Event{}, false, boom
	})
	require.NoError(t, core.StartStream("s-err", failing))

	status, err := core.Await("s-err")
	require.NoError(t, err)
	assert.Equal(t, StatusError, status)
}

func TestCancelStreamMarksCancelled(t *testing.T) {
	core := newTestCore(t)
	_, err := core.CreateStream("s-cancel", "sess", nil, nil)
	require.NoError(t, err)

	block := make(chan struct{})
	slow := ProducerFunc(func(ctx context.Context) (Event, bool, error) {
		<-block
		return Event{}, false, nil
	})
	require.NoError(t, core.StartStream("s-cancel", slow))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()

	require.NoError(t, core.CancelStream("s-cancel", "user requested"))
	status, err := core.Await("s-cancel")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status)
}

func TestConnectClientReceivesEvents(t *testing.T) {
	core := newTestCore(t)
	_, err := core.CreateStream("s-conn", "sess", nil, nil)
	require.NoError(t, err)
	require.NoError(t, core.StartStream("s-conn", chunkProducer(2)))

	conn, err := core.ConnectClient("s-conn", "", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, conn.ClientID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	messages, err := core.Events(ctx, conn.ClientID)
	require.NoError(t, err)

	count := 0
	for range messages {
		count++
	}
	assert.GreaterOrEqual(t, count, 1)
}

func TestConnectClientToCompletedStreamFails(t *testing.T) {
	core := newTestCore(t)
	_, err := core.CreateStream("s-done", "sess", nil, nil)
	require.NoError(t, err)
	require.NoError(t, core.StartStream("s-done", chunkProducer(0)))
	_, err = core.Await("s-done")
	require.NoError(t, err)

	_, err = core.ConnectClient("s-done", "", nil, nil)
	assert.ErrorIs(t, err, ErrStreamCompleted)
}

func TestReplayTerminalReturnsBufferedHistory(t *testing.T) {
	core := newTestCore(t)
	_, err := core.CreateStream("s-replay", "sess", nil, nil)
	require.NoError(t, err)
	require.NoError(t, core.StartStream("s-replay", chunkProducer(3)))
	_, err = core.Await("s-replay")
	require.NoError(t, err)

	events, err := core.ReplayTerminal("s-replay", 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(events), 3)
}

func TestGetRecoveryInfoReportsInactiveAfterCompletion(t *testing.T) {
	core := newTestCore(t)
	_, err := core.CreateStream("s-rec", "sess", nil, nil)
	require.NoError(t, err)
	require.NoError(t, core.StartStream("s-rec", chunkProducer(1)))
	_, err = core.Await("s-rec")
	require.NoError(t, err)

	info, err := core.GetRecoveryInfo("s-rec", 0)
	require.NoError(t, err)
	assert.False(t, info.Active)
}
