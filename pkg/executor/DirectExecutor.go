// Package executor with the command executors that dispatch remote work:
//  - DirectExecutor runs the work exactly once
//  - RetryingExecutor reconnects and retries exactly once on a transient failure
//  - QueueExecutor runs submitted work asynchronously in FIFO order
package executor

import (
	"context"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/metrics"
)

// DirectExecutor performs the call against the transport exactly once
type DirectExecutor struct {
	metrics *metrics.Metrics
}

// Execute runs the work on the calling goroutine
func (exec *DirectExecutor) Execute(ctx context.Context, work communication.Work) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := work(ctx)
	exec.metrics.ObserveRemoteCall(err)
	return result, err
}

// NewDirectExecutor creates a plain executor.
//  m is optional and can be nil
func NewDirectExecutor(m *metrics.Metrics) *DirectExecutor {
	return &DirectExecutor{metrics: m}
}
