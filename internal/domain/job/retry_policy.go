package job

import (
	"errors"
	"math"
	"time"

	"github.com/jobmill/jobmill/internal/domain/model"
)

// ErrInvalidDefaultDelay indicates the configured default retry delay is not positive.
var ErrInvalidDefaultDelay = errors.New("default retry delay must be positive")

// DelaySource identifies how a retry delay was resolved.
type DelaySource string

const (
	// DelaySourceExplicit indicates the job definition supplied a positive delay.
	DelaySourceExplicit DelaySource = "explicit"
	// DelaySourceDefault indicates the configured default delay was used.
	DelaySourceDefault DelaySource = "default"
	// DelaySourceClamped indicates the requested delay was clamped to the minimum supported value.
	DelaySourceClamped DelaySource = "clamped"
)

// RetryPolicy decides whether a finished execution spawns a retry and how
// long to wait before it. Timeouts do not retry unless the job opts in or
// the deployment enables it globally.
type RetryPolicy struct {
	defaultDelay   time.Duration
	retryOnTimeout bool
}

// NewRetryPolicy constructs a RetryPolicy with the deployment defaults.
func NewRetryPolicy(defaultDelay time.Duration, retryOnTimeout bool) (*RetryPolicy, error) {
	if defaultDelay <= 0 {
		return nil, ErrInvalidDefaultDelay
	}
	return &RetryPolicy{
		defaultDelay:   defaultDelay,
		retryOnTimeout: retryOnTimeout,
	}, nil
}

// DefaultDelay returns the configured default retry delay.
func (p *RetryPolicy) DefaultDelay() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultDelay
}

// ShouldRetry reports whether a terminal execution earns another attempt.
// jobOptsIn is the definition's retry_on_timeout flag.
func (p *RetryPolicy) ShouldRetry(status model.ExecutionStatus, retryCount, maxRetries int, jobOptsIn bool) bool {
	if p == nil || retryCount >= maxRetries || maxRetries <= 0 {
		return false
	}
	switch status {
	case model.ExecutionStatusFailed:
		return true
	case model.ExecutionStatusTimeout:
		return jobOptsIn || p.retryOnTimeout
	default:
		return false
	}
}

// DelayDecision captures the outcome of resolving a retry delay request.
type DelayDecision struct {
	Seconds   int
	Source    DelaySource
	Requested time.Duration
}

// UsedDefault reports whether the policy fell back to the default delay.
func (d DelayDecision) UsedDefault() bool {
	return d.Source == DelaySourceDefault
}

// Clamped reports whether the requested value was clamped to the minimum supported duration.
func (d DelayDecision) Clamped() bool {
	return d.Source == DelaySourceClamped
}

// Duration returns the resolved delay.
func (d DelayDecision) Duration() time.Duration {
	return time.Duration(d.Seconds) * time.Second
}

// Delay normalises the definition's requested retry delay to a whole
// number of seconds. Zero means "use the default"; anything under a
// second clamps up to one.
func (p *RetryPolicy) Delay(request time.Duration) DelayDecision {
	if p == nil {
		return DelayDecision{Seconds: 0, Source: DelaySourceDefault, Requested: request}
	}

	decision := DelayDecision{Requested: request}

	switch {
	case request > 0:
		seconds, clamped := durationToSeconds(request)
		decision.Seconds = seconds
		if clamped {
			decision.Source = DelaySourceClamped
		} else {
			decision.Source = DelaySourceExplicit
		}
		return decision
	case request == 0:
		seconds, _ := durationToSeconds(p.defaultDelay)
		decision.Seconds = seconds
		decision.Source = DelaySourceDefault
		return decision
	default:
		decision.Seconds = 1
		decision.Source = DelaySourceClamped
		return decision
	}
}

func durationToSeconds(d time.Duration) (int, bool) {
	seconds := int64(d / time.Second)
	clamped := false

	if seconds <= 0 {
		seconds = 1
		clamped = true
	}

	maxSeconds := int64(math.MaxInt)
	if seconds > maxSeconds {
		seconds = maxSeconds
		clamped = true
	}

	return int(seconds), clamped
}
