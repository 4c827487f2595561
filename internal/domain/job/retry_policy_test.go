package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmill/jobmill/internal/domain/model"
)

func TestNewRetryPolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		policy, err := NewRetryPolicy(60*time.Second, false)
		require.NoError(t, err)
		assert.Equal(t, 60*time.Second, policy.DefaultDelay())
	})

	t.Run("invalid default delay", func(t *testing.T) {
		policy, err := NewRetryPolicy(0, false)
		require.ErrorIs(t, err, ErrInvalidDefaultDelay)
		assert.Nil(t, policy)
	})
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy, err := NewRetryPolicy(60*time.Second, false)
	require.NoError(t, err)

	timeoutPolicy, err := NewRetryPolicy(60*time.Second, true)
	require.NoError(t, err)

	tests := []struct {
		name       string
		policy     *RetryPolicy
		status     model.ExecutionStatus
		retryCount int
		maxRetries int
		jobOptsIn  bool
		want       bool
	}{
		{
			name:       "failed with retries remaining",
			policy:     policy,
			status:     model.ExecutionStatusFailed,
			retryCount: 0,
			maxRetries: 3,
			want:       true,
		},
		{
			name:       "failed with retries exhausted",
			policy:     policy,
			status:     model.ExecutionStatusFailed,
			retryCount: 3,
			maxRetries: 3,
			want:       false,
		},
		{
			name:       "failed with no retry budget",
			policy:     policy,
			status:     model.ExecutionStatusFailed,
			retryCount: 0,
			maxRetries: 0,
			want:       false,
		},
		{
			name:       "timeout without opt-in",
			policy:     policy,
			status:     model.ExecutionStatusTimeout,
			retryCount: 0,
			maxRetries: 3,
			want:       false,
		},
		{
			name:       "timeout with job opt-in",
			policy:     policy,
			status:     model.ExecutionStatusTimeout,
			retryCount: 0,
			maxRetries: 3,
			jobOptsIn:  true,
			want:       true,
		},
		{
			name:       "timeout with deployment opt-in",
			policy:     timeoutPolicy,
			status:     model.ExecutionStatusTimeout,
			retryCount: 0,
			maxRetries: 3,
			want:       true,
		},
		{
			name:       "success never retries",
			policy:     policy,
			status:     model.ExecutionStatusSuccess,
			retryCount: 0,
			maxRetries: 3,
			want:       false,
		},
		{
			name:       "cancelled never retries",
			policy:     policy,
			status:     model.ExecutionStatusCancelled,
			retryCount: 0,
			maxRetries: 3,
			want:       false,
		},
		{
			name:       "nil policy",
			policy:     nil,
			status:     model.ExecutionStatusFailed,
			retryCount: 0,
			maxRetries: 3,
			want:       false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.policy.ShouldRetry(tc.status, tc.retryCount, tc.maxRetries, tc.jobOptsIn)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy, err := NewRetryPolicy(60*time.Second, false)
	require.NoError(t, err)

	t.Run("explicit duration uses whole seconds", func(t *testing.T) {
		decision := policy.Delay(45 * time.Second)
		assert.Equal(t, 45, decision.Seconds)
		assert.Equal(t, DelaySourceExplicit, decision.Source)
		assert.False(t, decision.Clamped())
		assert.Equal(t, 45*time.Second, decision.Duration())
	})

	t.Run("default duration when request is zero", func(t *testing.T) {
		decision := policy.Delay(0)
		assert.Equal(t, 60, decision.Seconds)
		assert.Equal(t, DelaySourceDefault, decision.Source)
		assert.True(t, decision.UsedDefault())
	})

	t.Run("sub-second duration clamps to minimum", func(t *testing.T) {
		decision := policy.Delay(500 * time.Millisecond)
		assert.Equal(t, 1, decision.Seconds)
		assert.Equal(t, DelaySourceClamped, decision.Source)
		assert.True(t, decision.Clamped())
	})

	t.Run("negative duration clamps to minimum", func(t *testing.T) {
		decision := policy.Delay(-5 * time.Second)
		assert.Equal(t, 1, decision.Seconds)
		assert.Equal(t, DelaySourceClamped, decision.Source)
		assert.True(t, decision.Clamped())
	})
}
