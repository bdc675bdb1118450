package streaming

import (
	"sync"
	"time"
)

// Status is a StreamSession's lifecycle state (SPEC_FULL §4.C).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether status is one of the three terminal leaves.
// No transition ever leaves a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// StreamSession is one logical producer run (SPEC_FULL §3).
type StreamSession struct {
	StreamID  string
	SessionID string

	mu            sync.Mutex
	status        Status
	currentOffset uint64
	createdAt     time.Time
	updatedAt     time.Time
	completedAt   *time.Time
	metadata      map[string]any
	checkpoint    map[string]any
	clientIDs     map[string]struct{}
	errorInfo     *ErrorData
}

func newStreamSession(streamID, sessionID string, metadata map[string]any) *StreamSession {
	now := time.Now()
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &StreamSession{
		StreamID:  streamID,
		SessionID: sessionID,
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
		metadata:  metadata,
		clientIDs: make(map[string]struct{}),
	}
}

// NextOffset atomically assigns and returns the next offset, transitioning
// Pending to Running on the first assignment. This is the only place a
// stream's current_offset advances.
func (s *StreamSession) NextOffset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset := s.currentOffset
	s.currentOffset++
	if s.status == StatusPending {
		s.status = StatusRunning
	}
	s.updatedAt = time.Now()
	return offset
}

// Status returns the current status.
func (s *StreamSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CurrentOffset returns the next offset that will be assigned.
func (s *StreamSession) CurrentOffset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentOffset
}

// setStatus transitions status; terminal states set completed_at exactly
// once, and no transition is honored once terminal.
func (s *StreamSession) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = status
	s.updatedAt = time.Now()
	if status.Terminal() {
		now := time.Now()
		s.completedAt = &now
	}
}

func (s *StreamSession) setError(info *ErrorData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorInfo = info
}

func (s *StreamSession) snapshot() StreamSessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make([]string, 0, len(s.clientIDs))
	for c := range s.clientIDs {
		clients = append(clients, c)
	}
	return StreamSessionView{
		StreamID:      s.StreamID,
		SessionID:     s.SessionID,
		Status:        s.status,
		CurrentOffset: s.currentOffset,
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.updatedAt,
		CompletedAt:   s.completedAt,
		Metadata:      s.metadata,
		ClientIDs:     clients,
		ErrorInfo:     s.errorInfo,
	}
}

// StreamSessionView is a read-only, race-free copy of a StreamSession for
// status endpoints and tests.
type StreamSessionView struct {
	StreamID      string
	SessionID     string
	Status        Status
	CurrentOffset uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	Metadata      map[string]any
	ClientIDs     []string
	ErrorInfo     *ErrorData
}

// ClientSubscription tracks one HTTP connection's position in a stream
// (SPEC_FULL §3). LastOffset only ever increases.
type ClientSubscription struct {
	ClientID       string
	StreamID       string
	ConnectedAt    time.Time
	LastOffset     uint64
	IsActive       bool
	LastActivity   time.Time
	DisconnectedAt *time.Time
}

// StreamState is the authoritative registry of stream sessions and client
// subscriptions, decoupled from buffering (SPEC_FULL §4.C). All of its maps
// have Streaming Core as their only writer; every access goes through the
// single mutex below.
type StreamState struct {
	mu           sync.Mutex
	streams      map[string]*StreamSession
	sessionIndex map[string]map[string]struct{} // session_id -> stream_ids
	clients      map[string]*ClientSubscription // client_id -> subscription
}

// NewStreamState builds an empty registry.
func NewStreamState() *StreamState {
	return &StreamState{
		streams:      make(map[string]*StreamSession),
		sessionIndex: make(map[string]map[string]struct{}),
		clients:      make(map[string]*ClientSubscription),
	}
}

// CreateStream registers a new stream, failing with ErrStreamAlreadyExists
// if stream_id is already in use.
func (s *StreamState) CreateStream(streamID, sessionID string, metadata map[string]any) (*StreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[streamID]; ok {
		return nil, ErrStreamAlreadyExists
	}
	sess := newStreamSession(streamID, sessionID, metadata)
	s.streams[streamID] = sess

	if s.sessionIndex[sessionID] == nil {
		s.sessionIndex[sessionID] = make(map[string]struct{})
	}
	s.sessionIndex[sessionID][streamID] = struct{}{}
	return sess, nil
}

// GetStream returns the session for streamID.
func (s *StreamState) GetStream(streamID string) (*StreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.streams[streamID]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return sess, nil
}

// UpdateStreamStatus transitions streamID's status.
func (s *StreamState) UpdateStreamStatus(streamID string, status Status) error {
	s.mu.Lock()
	sess, ok := s.streams[streamID]
	s.mu.Unlock()
	if !ok {
		return ErrStreamNotFound
	}
	sess.setStatus(status)
	return nil
}

// DeleteStream removes streamID and cleans the session index. Idempotent.
func (s *StreamState) DeleteStream(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.streams[streamID]
	if !ok {
		return
	}
	delete(s.streams, streamID)
	if set, ok := s.sessionIndex[sess.SessionID]; ok {
		delete(set, streamID)
		if len(set) == 0 {
			delete(s.sessionIndex, sess.SessionID)
		}
	}
}

// GetSessionStreams returns every stream belonging to sessionID.
func (s *StreamState) GetSessionStreams(sessionID string) []*StreamSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sessionIndex[sessionID]
	out := make([]*StreamSession, 0, len(set))
	for streamID := range set {
		if sess, ok := s.streams[streamID]; ok {
			out = append(out, sess)
		}
	}
	return out
}

// RegisterClient attaches clientID to streamID at start_offset, failing
// with ErrStreamNotFound if the stream is gone.
func (s *StreamState) RegisterClient(clientID, streamID string, startOffset uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.streams[streamID]
	if !ok {
		return ErrStreamNotFound
	}
	now := time.Now()
	s.clients[clientID] = &ClientSubscription{
		ClientID:     clientID,
		StreamID:     streamID,
		ConnectedAt:  now,
		LastOffset:   startOffset,
		IsActive:     true,
		LastActivity: now,
	}
	sess.mu.Lock()
	sess.clientIDs[clientID] = struct{}{}
	sess.mu.Unlock()
	return nil
}

// DisconnectClient marks clientID inactive and removes it from streamID's
// client set. Idempotent: a second call is a no-op.
func (s *StreamState) DisconnectClient(clientID string, streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.clients[clientID]
	if !ok || !sub.IsActive {
		return
	}
	now := time.Now()
	sub.IsActive = false
	sub.DisconnectedAt = &now

	if sess, ok := s.streams[sub.StreamID]; ok {
		sess.mu.Lock()
		delete(sess.clientIDs, clientID)
		sess.mu.Unlock()
	}
	_ = streamID
}

// UpdateClientOffset moves clientID's LastOffset forward, never back.
func (s *StreamState) UpdateClientOffset(clientID string, offset uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.clients[clientID]
	if !ok {
		return
	}
	if offset > sub.LastOffset {
		sub.LastOffset = offset
	}
	sub.LastActivity = time.Now()
}

// GetClient returns a copy of clientID's subscription.
func (s *StreamState) GetClient(clientID string) (ClientSubscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.clients[clientID]
	if !ok {
		return ClientSubscription{}, false
	}
	return *sub, true
}

// ValidateOffset rejects negative (impossible in uint64, so: n/a) or
// offsets strictly greater than the stream's current_offset.
func (s *StreamState) ValidateOffset(streamID string, offset uint64) error {
	sess, err := s.GetStream(streamID)
	if err != nil {
		return err
	}
	if offset > sess.CurrentOffset() {
		return ErrInvalidOffset
	}
	return nil
}

// CleanupOldStreams removes terminal streams whose CompletedAt is older
// than maxAge, returning the count removed.
func (s *StreamState) CleanupOldStreams(maxAge time.Duration) int {
	s.mu.Lock()
	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for id, sess := range s.streams {
		sess.mu.Lock()
		completed := sess.completedAt
		sess.mu.Unlock()
		if completed != nil && completed.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.DeleteStream(id)
	}
	return len(stale)
}

// StateStats is a snapshot of the registry for health/metrics export.
type StateStats struct {
	ByStatus          map[Status]int
	ActiveClients     int
	DisconnectedCount int
}

// GetStats summarizes counts per status and connection state.
func (s *StreamState) GetStats() StateStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := StateStats{ByStatus: make(map[Status]int)}
	for _, sess := range s.streams {
		stats.ByStatus[sess.Status()]++
	}
	for _, c := range s.clients {
		if c.IsActive {
			stats.ActiveClients++
		} else {
			stats.DisconnectedCount++
		}
	}
	return stats
}
