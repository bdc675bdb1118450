package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/metrics"
)

// Producer is a lazy, finite, non-restartable sequence of events with
// cooperative cancellation (SPEC_FULL §9 design notes). Next returns the
// next event and more=true, or more=false when the producer is exhausted,
// or a non-nil error if the producer failed. Implementations must not
// block indefinitely once ctx is cancelled.
type Producer interface {
	Next(ctx context.Context) (event Event, more bool, err error)
}

// ProducerFunc adapts a plain function to Producer.
type ProducerFunc func(ctx context.Context) (Event, bool, error)

// Next implements Producer.
func (f ProducerFunc) Next(ctx context.Context) (Event, bool, error) { return f(ctx) }

// StreamContext is the handle a running stream's processing goroutine and
// its canceller share. cancelCh is edge-triggered: the canceller closes it
// once; the processing goroutine polls it between producer yields.
type StreamContext struct {
	StreamID  string
	SessionID string
	createdAt time.Time

	cancelCh   chan struct{}
	cancelOnce sync.Once
	reason     string

	done chan struct{} // closed when the processing goroutine returns
}

// Cancel requests cancellation with reason, idempotently.
func (sc *StreamContext) Cancel(reason string) {
	sc.cancelOnce.Do(func() {
		sc.reason = reason
		close(sc.cancelCh)
	})
}

// Cancelled reports whether Cancel has been called.
func (sc *StreamContext) Cancelled() bool {
	select {
	case <-sc.cancelCh:
		return true
	default:
		return false
	}
}

// Core orchestrates Event Types, Event Buffer, Stream State, and SSE
// Emitter into the stream lifecycle contract (SPEC_FULL §4.E).
type Core struct {
	state   *StreamState
	buffers *PerStreamBuffer
	emitter *Emitter
	logger  *zap.Logger

	defaultConfig StreamConfig

	mu       sync.Mutex
	contexts map[string]*StreamContext
	configs  map[string]StreamConfig

	wg sync.WaitGroup

	stopOnce     sync.Once
	stopCh       chan struct{}
	cleanupEvery time.Duration
	staleAfter   time.Duration

	lastCleanup atomic.Int64 // unix nanos, for the health check's liveness probe
}

// NewCore wires the four sub-components into one orchestrator.
func NewCore(state *StreamState, buffers *PerStreamBuffer, emitter *Emitter, defaultConfig StreamConfig, logger *zap.Logger) *Core {
	return &Core{
		state:         state,
		buffers:       buffers,
		emitter:       emitter,
		logger:        logger,
		defaultConfig: defaultConfig,
		contexts:      make(map[string]*StreamContext),
		configs:       make(map[string]StreamConfig),
		stopCh:        make(chan struct{}),
		cleanupEvery:  60 * time.Second,
		staleAfter:    2 * defaultConfig.HeartbeatInterval,
	}
}

// Start launches the background cleanup loop (SPEC_FULL §5: 60s cadence).
func (c *Core) Start() {
	c.lastCleanup.Store(time.Now().UnixNano())
	c.wg.Add(1)
	go c.cleanupLoop()
}

// CleanupAlive reports whether the cleanup loop has ticked within two
// cleanup intervals, for StreamingCoreHealthChecker (SPEC_FULL §10.6).
func (c *Core) CleanupAlive() bool {
	last := c.lastCleanup.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < 2*c.cleanupEvery
}

func (c *Core) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.lastCleanup.Store(time.Now().UnixNano())
			c.buffers.CleanupExpired()
			removed := c.state.CleanupOldStreams(24 * time.Hour)
			stale := c.emitter.DisconnectStaleClients(c.staleAfter)
			if c.logger != nil && (removed > 0 || stale > 0) {
				c.logger.Info("streaming cleanup",
					zap.Int("streams_removed", removed), zap.Int("clients_reaped", stale))
			}
		}
	}
}

// Stop cancels every live stream with reason "shutdown", stops the
// cleanup loop, shuts down the emitter, and clears all buffers. Idempotent.
func (c *Core) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)

		c.mu.Lock()
		ids := make([]string, 0, len(c.contexts))
		for id := range c.contexts {
			ids = append(ids, id)
		}
		c.mu.Unlock()

		for _, id := range ids {
			_ = c.CancelStream(id, "shutdown")
		}

		c.wg.Wait()
		c.emitter.Shutdown()
		c.buffers.Clear()
	})
}

// CreateStream registers a new stream with Stream State and creates its
// EventBuffer, capturing config at creation time.
func (c *Core) CreateStream(streamID, sessionID string, config *StreamConfig, metadata map[string]any) (*StreamContext, error) {
	cfg := c.defaultConfig
	if config != nil {
		cfg = *config
	}

	if _, err := c.state.CreateStream(streamID, sessionID, metadata); err != nil {
		return nil, err
	}
	c.buffers.GetOrCreate(streamID, cfg.BufferSize, cfg.BufferAge)

	sctx := &StreamContext{
		StreamID:  streamID,
		SessionID: sessionID,
		createdAt: time.Now(),
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.contexts[streamID] = sctx
	c.configs[streamID] = cfg
	c.mu.Unlock()

	metrics.StreamsCreated.Inc()
	return sctx, nil
}

// StartStream transitions streamID to Running and spawns the processing
// goroutine driving producer.
func (c *Core) StartStream(streamID string, producer Producer) error {
	c.mu.Lock()
	sctx, ok := c.contexts[streamID]
	cfg := c.configs[streamID]
	c.mu.Unlock()
	if !ok {
		return ErrStreamNotFound
	}
	session, err := c.state.GetStream(streamID)
	if err != nil {
		return err
	}
	buffer, ok := c.buffers.Get(streamID)
	if !ok {
		return ErrStreamNotFound
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.processStream(sctx, session, buffer, cfg, producer)
	}()
	return nil
}

// processStream is the heart of §4.E: pull events from producer, assign
// offsets, append to the buffer, optionally checkpoint, then fan out —
// buffer-before-emit, always.
func (c *Core) processStream(sctx *StreamContext, session *StreamSession, buffer *EventBuffer, cfg StreamConfig, producer Producer) {
	defer close(sctx.done)

	ctx := context.Background()
	var (
		cancelled bool
		failure   error
	)

loop:
	for {
		if sctx.Cancelled() {
			cancelled = true
			break loop
		}

		event, more, err := producer.Next(ctx)
		if sctx.Cancelled() {
			cancelled = true
			break loop
		}
		if err != nil {
			failure = err
			break loop
		}
		if !more {
			break loop
		}

		offset := session.NextOffset()
		event = event.WithOffset(offset, session.SessionID, time.Now())
		buffer.Append(event)

		if cfg.EmitCheckpoints && cfg.CheckpointInterval > 0 && offset%cfg.CheckpointInterval == 0 {
			cpOffset := session.NextOffset()
			cp := NewEvent(session.SessionID, OffsetData{
				CheckpointData: map[string]any{"stream_id": sctx.StreamID},
				IsRecoverable:  true,
			}).WithOffset(cpOffset, session.SessionID, time.Now())
			buffer.Append(cp)
			c.emitter.EmitToStream(sctx.StreamID, cp, "")
		}

		c.emitter.EmitToStream(sctx.StreamID, event, "")
	}

	switch {
	case cancelled:
		c.finalize(sctx, session, buffer, StatusCancelled, nil)
	case failure != nil:
		c.finalize(sctx, session, buffer, StatusError, failure)
	default:
		c.finalize(sctx, session, buffer, StatusCompleted, nil)
	}
}

// finalize marks status, appends and emits the one synthetic terminal
// event, then disconnects every client of the stream (SPEC_FULL §4.E).
func (c *Core) finalize(sctx *StreamContext, session *StreamSession, buffer *EventBuffer, status Status, failure error) {
	session.setStatus(status)

	offset := session.NextOffset()
	var data Payload
	switch status {
	case StatusCompleted:
		reason := "stop"
		data = CompleteData{FinalOffset: offset, FinishReason: &reason}
	case StatusCancelled:
		var reason *string
		if sctx.reason != "" {
			r := sctx.reason
			reason = &r
		}
		data = CancelledData{Reason: reason, CancelledAtOffset: offset}
	case StatusError:
		msg := "stream producer failed"
		if failure != nil {
			msg = failure.Error()
		}
		ed := ErrorData{ErrorCode: ErrorCode(failure), Message: msg, IsRecoverable: false}
		session.setError(&ed)
		data = ed
	}

	ev := NewEvent(session.SessionID, data).WithOffset(offset, session.SessionID, time.Now())
	buffer.Append(ev)
	c.emitter.EmitToStream(sctx.StreamID, ev, "")

	for _, cid := range session.ClientIDs() {
		c.state.DisconnectClient(cid, sctx.StreamID)
		c.emitter.UnregisterClient(cid)
		metrics.ClientsDisconnected.WithLabelValues("stream_terminal").Inc()
		metrics.ClientsConnected.Dec()
	}

	metrics.RecordStreamTerminal(string(status), time.Since(sctx.createdAt).Seconds())
}

// Await blocks until streamID's processing goroutine has returned, then
// reports its terminal Status. Used by callers that must persist
// side-effects (e.g. the task queue executor saving messages and task
// output) only after a run has actually finished.
func (c *Core) Await(streamID string) (Status, error) {
	c.mu.Lock()
	sctx, ok := c.contexts[streamID]
	c.mu.Unlock()
	if !ok {
		return "", ErrStreamNotFound
	}
	<-sctx.done
	session, err := c.state.GetStream(streamID)
	if err != nil {
		return "", err
	}
	return session.Status(), nil
}

// CancelStream sets the cancel signal and awaits the processing task with
// a bounded timeout, outside any lock, per the deadlock-avoidance rule in
// SPEC_FULL §5: the processing goroutine itself acquires locks (via
// session/state/buffer/emitter) while finalizing, so the canceller must
// never hold a lock while it waits.
func (c *Core) CancelStream(streamID, reason string) error {
	c.mu.Lock()
	sctx, ok := c.contexts[streamID]
	c.mu.Unlock()
	if !ok {
		return ErrStreamNotFound
	}

	sctx.Cancel(reason)

	select {
	case <-sctx.done:
		return nil
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("cancel-join timed out, stream considered orphaned", zap.String("stream_id", streamID))
		}
		return nil
	}
}

// ConnectClient registers a new (or resuming) client. If resumeFromOffset
// is non-nil and recovery is enabled, buffered events from that offset are
// enqueued to the client's own queue *before* the client is attached to
// the stream's fan-out index, so no live event can reach it first
// (SPEC_FULL §5 ordering guarantee, §8 property 4).
func (c *Core) ConnectClient(streamID, clientID string, resumeFromOffset *uint64, metadata map[string]any) (*Connection, error) {
	session, err := c.state.GetStream(streamID)
	if err != nil {
		return nil, err
	}
	if session.Status().Terminal() {
		return nil, ErrStreamCompleted
	}

	c.mu.Lock()
	cfg := c.configs[streamID]
	c.mu.Unlock()

	if clientID == "" {
		clientID = uuid.NewString()
	}

	startOffset := uint64(0)
	if resumeFromOffset != nil {
		startOffset = *resumeFromOffset
	}
	if err := c.state.RegisterClient(clientID, streamID, startOffset); err != nil {
		return nil, err
	}

	if resumeFromOffset != nil && cfg.EnableRecovery {
		conn := c.emitter.RegisterClientDeferred(streamID, clientID, metadata)
		buffer, _ := c.buffers.Get(streamID)
		if buffer != nil {
			events := buffer.GetFrom(*resumeFromOffset, 0)
			for _, ev := range events {
				c.emitter.Emit(clientID, ev, 0)
			}
			if len(events) > 0 {
				c.state.UpdateClientOffset(clientID, events[len(events)-1].Offset)
			}
		}
		c.emitter.AttachToStream(streamID, clientID)
		metrics.ClientsConnected.Inc()
		metrics.ClientReconnects.WithLabelValues("recovered").Inc()
		return conn, nil
	}

	metrics.ClientsConnected.Inc()
	return c.emitter.RegisterClient(streamID, clientID, metadata), nil
}

// Events returns the rendered SSE wire-format channel for clientID, per
// SPEC_FULL §6.1. Thin passthrough to the Emitter so httpapi's handlers
// never need a direct Emitter reference.
func (c *Core) Events(ctx context.Context, clientID string) (<-chan string, error) {
	return c.emitter.EventGenerator(ctx, clientID)
}

// DisconnectClient removes clientID from both Stream State and the
// Emitter. Idempotent.
func (c *Core) DisconnectClient(clientID, streamID string) {
	c.state.DisconnectClient(clientID, streamID)
	c.emitter.UnregisterClient(clientID)
	metrics.ClientsDisconnected.WithLabelValues("client_disconnect").Inc()
	metrics.ClientsConnected.Dec()
}

// RecoveryInfo is the response to `GET /streams/{id}/recovery`.
type RecoveryInfo struct {
	Coverage Coverage
	Active   bool
}

// GetRecoveryInfo returns buffer coverage for offset plus whether the
// stream is still active, enough for a client to decide whether to
// reconnect.
func (c *Core) GetRecoveryInfo(streamID string, offset uint64) (RecoveryInfo, error) {
	session, err := c.state.GetStream(streamID)
	if err != nil {
		return RecoveryInfo{}, err
	}
	buffer, ok := c.buffers.Get(streamID)
	if !ok {
		return RecoveryInfo{}, ErrStreamNotFound
	}
	return RecoveryInfo{Coverage: buffer.Coverage(offset), Active: !session.Status().Terminal()}, nil
}

// ReplayTerminal serves a read-only buffered replay of a terminal stream's
// history from offset, without attaching a live client, per the 410-vs-200
// split in spec §6.2: it returns ErrStreamNotFound for a stream State has no
// record of (404), and ErrStreamCompleted when the stream is known but its
// buffer can no longer cover offset — garbage-collected in the sense that
// matters to a caller (410) — otherwise the covered slice (200).
func (c *Core) ReplayTerminal(streamID string, offset uint64) ([]Event, error) {
	if _, err := c.state.GetStream(streamID); err != nil {
		return nil, err
	}
	buffer, ok := c.buffers.Get(streamID)
	if !ok || !buffer.Coverage(offset).CanRecover {
		return nil, ErrStreamCompleted
	}
	return buffer.GetFrom(offset, 0), nil
}

// StreamStatus is the response to `GET /streams/{id}`.
type StreamStatus struct {
	Status        Status
	CurrentOffset uint64
	Buffer        Stats
	ClientCount   int
}

// GetStreamStatus summarizes a stream's status, buffer bounds, and live
// client count.
func (c *Core) GetStreamStatus(streamID string) (StreamStatus, error) {
	session, err := c.state.GetStream(streamID)
	if err != nil {
		return StreamStatus{}, err
	}
	buffer, _ := c.buffers.Get(streamID)
	var stats Stats
	if buffer != nil {
		stats = buffer.Stats()
	}
	return StreamStatus{
		Status:        session.Status(),
		CurrentOffset: session.CurrentOffset(),
		Buffer:        stats,
		ClientCount:   c.emitter.StreamClientCount(streamID),
	}, nil
}

// ClientIDs returns a snapshot of clients currently registered on s.
func (s *StreamSession) ClientIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.clientIDs))
	for id := range s.clientIDs {
		out = append(out, id)
	}
	return out
}
