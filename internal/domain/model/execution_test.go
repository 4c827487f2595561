//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStatus_Terminal(t *testing.T) {
	terminal := []ExecutionStatus{
		ExecutionStatusSuccess,
		ExecutionStatusFailed,
		ExecutionStatusTimeout,
		ExecutionStatusCancelled,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
		assert.False(t, s.Live(), "%s should not be live", s)
	}

	live := []ExecutionStatus{
		ExecutionStatusPending,
		ExecutionStatusRunning,
		ExecutionStatusQueued,
		ExecutionStatusAssigned,
	}
	for _, s := range live {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
		assert.True(t, s.Live(), "%s should be live", s)
	}
}

func TestExecutionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from ExecutionStatus
		to   ExecutionStatus
		want bool
	}{
		// Inline path.
		{ExecutionStatusPending, ExecutionStatusRunning, true},
		{ExecutionStatusRunning, ExecutionStatusSuccess, true},
		{ExecutionStatusRunning, ExecutionStatusFailed, true},
		{ExecutionStatusRunning, ExecutionStatusTimeout, true},
		{ExecutionStatusRunning, ExecutionStatusCancelled, true},

		// Agent path: controller records running, backend hands off to queued.
		{ExecutionStatusRunning, ExecutionStatusQueued, true},
		{ExecutionStatusQueued, ExecutionStatusAssigned, true},
		{ExecutionStatusAssigned, ExecutionStatusSuccess, true},
		{ExecutionStatusAssigned, ExecutionStatusFailed, true},
		{ExecutionStatusAssigned, ExecutionStatusTimeout, true},

		// Cancellation from any non-terminal state.
		{ExecutionStatusPending, ExecutionStatusCancelled, true},
		{ExecutionStatusQueued, ExecutionStatusCancelled, true},
		{ExecutionStatusAssigned, ExecutionStatusCancelled, true},

		// Orphaned agent work fails from queued.
		{ExecutionStatusQueued, ExecutionStatusFailed, true},

		// No re-entry into running.
		{ExecutionStatusQueued, ExecutionStatusRunning, false},
		{ExecutionStatusAssigned, ExecutionStatusRunning, false},
		{ExecutionStatusSuccess, ExecutionStatusRunning, false},

		// Terminal states accept nothing.
		{ExecutionStatusSuccess, ExecutionStatusFailed, false},
		{ExecutionStatusFailed, ExecutionStatusSuccess, false},
		{ExecutionStatusTimeout, ExecutionStatusCancelled, false},
		{ExecutionStatusCancelled, ExecutionStatusCancelled, false},

		// No skipping backward.
		{ExecutionStatusAssigned, ExecutionStatusQueued, false},
		{ExecutionStatusRunning, ExecutionStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestExecutionStatus_UnmarshalText(t *testing.T) {
	var s ExecutionStatus
	require.NoError(t, s.UnmarshalText([]byte(" Running ")))
	assert.Equal(t, ExecutionStatusRunning, s)

	assert.Error(t, s.UnmarshalText([]byte("paused")))
}

func TestExecutionMode_UnmarshalText(t *testing.T) {
	var m ExecutionMode
	require.NoError(t, m.UnmarshalText([]byte("SCHEDULED")))
	assert.Equal(t, ExecutionModeScheduled, m)

	assert.Error(t, m.UnmarshalText([]byte("cron")))
}

func TestTerminalStatuses(t *testing.T) {
	got := TerminalStatuses()
	require.Len(t, got, 4)
	for _, s := range got {
		assert.True(t, s.Terminal())
	}
}

