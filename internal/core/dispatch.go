package core

import "time"

// DispatchConfig holds tuning for the agent dispatch sweeper.
type DispatchConfig struct {
	// SweepInterval is the cadence of the placement and liveness sweep.
	SweepInterval time.Duration `json:"sweep_interval"`
	// HeartbeatInterval is the cadence agents are told to report at.
	// Liveness cutoffs derive from it: agents flip offline after missing
	// two beats, and their assignments are orphaned after three.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	// ScanLimit bounds how many queued executions one sweep considers.
	ScanLimit int `json:"scan_limit"`
}

// DefaultDispatchConfig returns a DispatchConfig with sensible defaults.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		SweepInterval:     10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ScanLimit:         100,
	}
}
