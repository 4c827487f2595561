package metrics

import (
	"time"

	obserrors "github.com/jobmill/jobmill/internal/observability/errors"
	"github.com/jobmill/jobmill/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// ExecutionMetric captures details about one finished execution for metric
// emission.
type ExecutionMetric struct {
	JobType  string
	Mode     string
	Status   string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitExecutionStarted counts an execution entering the running state.
func EmitExecutionStarted(sink statsd.Sink, jobType, mode string) {
	if sink == nil {
		return
	}
	sink.Count("execution.started", 1, map[string]string{
		"job_type": jobType,
		"mode":     mode,
	})
}

// EmitExecutionFinished emits standardised execution lifecycle metrics.
func EmitExecutionFinished(sink statsd.Sink, in ExecutionMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type": in.JobType,
		"mode":     in.Mode,
		"status":   in.Status,
		"result":   in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("execution.finished", 1, tags)

	if in.Duration > 0 {
		sink.Timing("execution.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
