package streaming

import "time"

// StreamConfig holds the per-stream knobs named in SPEC_FULL §4.E. A
// stream captures its config at CreateStream time, so a config reload never
// reaches a live stream; a stream created without its own config gets the
// Core's default, which is fixed when the Core is constructed.
type StreamConfig struct {
	BufferSize         int
	BufferAge          time.Duration
	EnableRecovery     bool
	EmitCheckpoints    bool
	CheckpointInterval uint64
	HeartbeatInterval  time.Duration
	MaxConcurrentClients int
}

// DefaultStreamConfig returns the defaults a stream gets when the caller
// supplies no override.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BufferSize:           1000,
		BufferAge:            10 * time.Minute,
		EnableRecovery:       true,
		EmitCheckpoints:      true,
		CheckpointInterval:   50,
		HeartbeatInterval:    30 * time.Second,
		MaxConcurrentClients: 100,
	}
}
