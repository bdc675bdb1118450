package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ConnState is a client connection's liveness state (SPEC_FULL §4.D).
type ConnState string

const (
	ConnConnecting    ConnState = "connecting"
	ConnConnected     ConnState = "connected"
	ConnDisconnecting ConnState = "disconnecting"
	ConnDisconnected  ConnState = "disconnected"
	ConnError         ConnState = "error"
)

const defaultQueueCapacity = 1000

// SSEMessage is one rendered SSE wire message (SPEC_FULL §6.1).
type SSEMessage struct {
	Sequence uint64
	Event    EventType
	Data     string // pre-marshaled JSON, or empty for a pure comment
	Comment  string // heartbeat comment body, no leading "heartbeat " prefix stripped
}

// ToSSEFormat renders the message as wire bytes: an optional comment line,
// then id/event/data lines, terminated by a blank line.
func (m SSEMessage) ToSSEFormat() string {
	var b strings.Builder
	if m.Comment != "" {
		b.WriteString(": ")
		b.WriteString(m.Comment)
		b.WriteString("\n")
	}
	if m.Data == "" && m.Comment != "" {
		// Heartbeat: comment line plus an empty data line, then terminator.
		b.WriteString("data:\n\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("id: %d\n", m.Sequence))
	b.WriteString(fmt.Sprintf("event: %s\n", m.Event))
	for _, line := range strings.Split(m.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// Connection is one client's delivery state (SPEC_FULL §4.D).
type Connection struct {
	ClientID    string
	StreamID    string
	ConnectedAt time.Time
	Metadata    map[string]any

	queue chan SSEMessage

	mu           sync.Mutex
	state        ConnState
	lastActivity time.Time

	disconnectCh   chan struct{}
	disconnectOnce sync.Once
}

// State returns the connection's current state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) markActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the last time this connection sent or drained.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// signalDisconnect is idempotent: only the first call closes the channel.
func (c *Connection) signalDisconnect() {
	c.disconnectOnce.Do(func() { close(c.disconnectCh) })
}

// Emitter is the per-client fan-out and delivery component (SPEC_FULL
// §4.D). Its maps are owned exclusively by the Emitter; callers only use
// the operations below.
type Emitter struct {
	mu            sync.Mutex
	clients       map[string]*Connection
	streamClients map[string]map[string]struct{}

	sequence uint64 // atomic, monotone across all emissions

	logger            *zap.Logger
	queueCapacity     int
	heartbeatInterval time.Duration
	enableHeartbeats  bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// NewEmitter builds an Emitter. queueCapacity<=0 uses the spec default of
// 1000; heartbeatInterval<=0 disables heartbeats.
func NewEmitter(queueCapacity int, heartbeatInterval time.Duration, logger *zap.Logger) *Emitter {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	return &Emitter{
		clients:           make(map[string]*Connection),
		streamClients:     make(map[string]map[string]struct{}),
		logger:            logger,
		queueCapacity:     queueCapacity,
		heartbeatInterval: heartbeatInterval,
		enableHeartbeats:  heartbeatInterval > 0,
		shutdownCh:        make(chan struct{}),
	}
}

// RegisterClient creates a Connection for streamID, generating clientID if
// empty, attaches it to the stream's fan-out index immediately, and starts
// its heartbeat loop if enabled. Used for clients with no recovery offset.
func (e *Emitter) RegisterClient(streamID, clientID string, metadata map[string]any) *Connection {
	conn := e.newConnection(streamID, clientID, metadata)
	e.AttachToStream(streamID, clientID)
	e.startHeartbeat(conn)
	return conn
}

// RegisterClientDeferred creates a Connection reachable by clientID (so the
// caller can enqueue buffered recovery events to it directly) but not yet
// part of the stream's fan-out index, so no concurrently-emitted live
// event can reach it first. The caller must call AttachToStream once
// recovery enqueueing is finished (SPEC_FULL §5 ordering guarantee).
func (e *Emitter) RegisterClientDeferred(streamID, clientID string, metadata map[string]any) *Connection {
	conn := e.newConnection(streamID, clientID, metadata)
	e.startHeartbeat(conn)
	return conn
}

func (e *Emitter) newConnection(streamID, clientID string, metadata map[string]any) *Connection {
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := time.Now()
	conn := &Connection{
		ClientID:     clientID,
		StreamID:     streamID,
		ConnectedAt:  now,
		Metadata:     metadata,
		queue:        make(chan SSEMessage, e.queueCapacity),
		state:        ConnConnected,
		lastActivity: now,
		disconnectCh: make(chan struct{}),
	}

	e.mu.Lock()
	e.clients[clientID] = conn
	e.mu.Unlock()
	return conn
}

// AttachToStream adds clientID to streamID's fan-out index, making it a
// target of EmitToStream.
func (e *Emitter) AttachToStream(streamID, clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamClients[streamID] == nil {
		e.streamClients[streamID] = make(map[string]struct{})
	}
	e.streamClients[streamID][clientID] = struct{}{}
}

func (e *Emitter) startHeartbeat(conn *Connection) {
	if e.enableHeartbeats {
		e.wg.Add(1)
		go e.heartbeatLoop(conn)
	}
}

// UnregisterClient tears down clientID. Idempotent.
func (e *Emitter) UnregisterClient(clientID string) {
	e.mu.Lock()
	conn, ok := e.clients[clientID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.clients, clientID)
	if set, ok := e.streamClients[conn.StreamID]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(e.streamClients, conn.StreamID)
		}
	}
	e.mu.Unlock()

	conn.setState(ConnDisconnected)
	conn.signalDisconnect()
}

// nextSequence assigns the next global sequence number.
func (e *Emitter) nextSequence() uint64 {
	return atomic.AddUint64(&e.sequence, 1) - 1
}

func (e *Emitter) render(event Event, seq uint64) (SSEMessage, error) {
	return renderEvent(event, seq)
}

func renderEvent(event Event, seq uint64) (SSEMessage, error) {
	payload := event.ToWirePayload(seq)
	data, err := json.Marshal(payload)
	if err != nil {
		return SSEMessage{}, err
	}
	return SSEMessage{Sequence: seq, Event: event.Type, Data: string(data)}, nil
}

// RenderEvent renders a single event to SSE wire format outside of a live
// connection, for the terminal-stream replay path (SPEC_FULL §6.2): a closed
// stream has no Connection or Emitter sequence counter to drive it through
// Emit, so the replay reuses the event's own permanently stamped offset as
// the SSE id.
func RenderEvent(event Event) (string, error) {
	msg, err := renderEvent(event, event.Offset)
	if err != nil {
		return "", err
	}
	return msg.ToSSEFormat(), nil
}

// Emit assigns a sequence number, renders event, and attempts a
// non-blocking enqueue; if timeout > 0 and the queue is full, it waits up
// to timeout before giving up. Returns false on queue-full. Raises
// ErrClientDisconnected if the client is not Connected.
func (e *Emitter) Emit(clientID string, event Event, timeout time.Duration) (bool, error) {
	e.mu.Lock()
	conn, ok := e.clients[clientID]
	e.mu.Unlock()
	if !ok {
		return false, ErrClientDisconnected
	}
	if conn.State() != ConnConnected {
		return false, ErrClientDisconnected
	}

	msg, err := e.render(event, e.nextSequence())
	if err != nil {
		return false, err
	}

	if timeout <= 0 {
		select {
		case conn.queue <- msg:
			conn.markActivity()
			return true, nil
		default:
			return false, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case conn.queue <- msg:
		conn.markActivity()
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// EmitToStream fans event out to every client of streamID, except
// excludeClient if non-empty. Per-client failures are recorded, not
// raised — a slow subscriber never cancels the stream.
func (e *Emitter) EmitToStream(streamID string, event Event, excludeClient string) map[string]bool {
	e.mu.Lock()
	set := e.streamClients[streamID]
	ids := make([]string, 0, len(set))
	for id := range set {
		if id != excludeClient {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	results := make(map[string]bool, len(ids))
	for _, id := range ids {
		ok, err := e.Emit(id, event, 0)
		if err != nil {
			results[id] = false
			if e.logger != nil {
				e.logger.Warn("emit failed, client disconnected",
					zap.String("client_id", id), zap.String("stream_id", streamID), zap.Error(err))
			}
			continue
		}
		results[id] = ok
		if !ok && e.logger != nil {
			e.logger.Warn("emit dropped, client queue full",
				zap.String("client_id", id), zap.String("stream_id", streamID))
		}
	}
	return results
}

// EmitBatch emits events to clientID in order, stopping at the first
// failure, and returns how many were delivered.
func (e *Emitter) EmitBatch(clientID string, events []Event, timeout time.Duration) int {
	count := 0
	for _, ev := range events {
		ok, err := e.Emit(clientID, ev, timeout)
		if err != nil || !ok {
			break
		}
		count++
	}
	return count
}

// EventGenerator returns a channel of rendered SSE wire strings for
// clientID, and unregisters the client when the context is cancelled, the
// connection is disconnected by another path, or the queue is closed.
// Polling never blocks longer than ~1s so cooperative cancellation between
// producer yields is observed (SPEC_FULL §4.D, §5).
func (e *Emitter) EventGenerator(ctx context.Context, clientID string) (<-chan string, error) {
	e.mu.Lock()
	conn, ok := e.clients[clientID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrClientDisconnected
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer e.UnregisterClient(clientID)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.disconnectCh:
				return
			case <-ticker.C:
				continue
			case msg, ok := <-conn.queue:
				if !ok {
					return
				}
				conn.markActivity()
				select {
				case out <- msg.ToSSEFormat():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (e *Emitter) heartbeatLoop(conn *Connection) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdownCh:
			return
		case <-conn.disconnectCh:
			return
		case <-ticker.C:
			msg := SSEMessage{Comment: "heartbeat " + time.Now().UTC().Format(time.RFC3339)}
			select {
			case conn.queue <- msg:
				conn.markActivity()
			default:
				// Queue full for a full heartbeat interval: the consumer
				// is stalled. Mark it Disconnecting per §4.D / §8 property 7.
				conn.setState(ConnDisconnecting)
				if e.logger != nil {
					e.logger.Warn("client stalled, disconnecting",
						zap.String("client_id", conn.ClientID), zap.String("stream_id", conn.StreamID))
				}
				conn.signalDisconnect()
				return
			}
		}
	}
}

// DisconnectStaleClients disconnects every client whose LastActivity is
// older than timeout, returning the count affected.
func (e *Emitter) DisconnectStaleClients(timeout time.Duration) int {
	e.mu.Lock()
	cutoff := time.Now().Add(-timeout)
	var stale []string
	for id, conn := range e.clients {
		if conn.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		e.UnregisterClient(id)
	}
	return len(stale)
}

// StreamClientCount returns how many clients are currently attached to
// streamID.
func (e *Emitter) StreamClientCount(streamID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streamClients[streamID])
}

// Shutdown disconnects every client and stops all heartbeat loops.
// Idempotent.
func (e *Emitter) Shutdown() {
	e.shutdownOnce.Do(func() { close(e.shutdownCh) })

	e.mu.Lock()
	ids := make([]string, 0, len(e.clients))
	for id := range e.clients {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.UnregisterClient(id)
	}
	e.wg.Wait()
}
