package executor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/metrics"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// RetryingExecutor wraps an executor with a single reconnect-and-retry.
//
// When the work fails and the classifier considers the error transient, the factory is asked to
// rebuild the connection and the same work is issued exactly once more. Any failure of the retry,
// including a second transient one, is returned as-is.
type RetryingExecutor struct {
	classifier communication.FailureClassifier
	factory    communication.Reconnector
	delegate   communication.Executor
	metrics    *metrics.Metrics
}

// Execute the work with at most one reconnect
func (exec *RetryingExecutor) Execute(ctx context.Context, work communication.Work) (any, error) {
	result, err := exec.delegate.Execute(ctx, work)
	if err == nil || !exec.classifier.ShouldRetryOnFailure(err) {
		return result, err
	}
	logrus.Warningf("RetryingExecutor: transient failure, reconnecting: %s", err)
	if rerr := exec.factory.Reconnect(ctx); rerr != nil {
		exec.metrics.IncReconnectFailed()
		logrus.Errorf("RetryingExecutor: reconnect failed: %s", rerr)
		return nil, fmt.Errorf("reconnect after '%v' failed: %w", err, rerr)
	}
	exec.metrics.IncRetry()
	return exec.delegate.Execute(ctx, work)
}

// NewRetryingExecutor creates a retrying executor.
//  classifier decides which errors are transient, usually the Communication
//  factory rebuilds the connection the work runs on
//  delegate runs the work. nil for a DirectExecutor
//  m is optional and can be nil
func NewRetryingExecutor(classifier communication.FailureClassifier, factory communication.Reconnector,
	delegate communication.Executor, m *metrics.Metrics) *RetryingExecutor {
	if delegate == nil {
		delegate = NewDirectExecutor(m)
	}
	return &RetryingExecutor{
		classifier: classifier,
		factory:    factory,
		delegate:   delegate,
		metrics:    m,
	}
}

// RetryingEntry is a stateless entry whose calls reconnect and retry once on transient failures
type RetryingEntry struct {
	conn     *communication.StatelessConnection
	executor *RetryingExecutor
}

// Invoke the call through the retrying executor
func (entry *RetryingEntry) Invoke(ctx context.Context, call *communication.Invocation) (*communication.InvocationResult, error) {
	res, err := entry.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return entry.conn.Invoke(ctx, call)
	})
	if err != nil {
		return nil, err
	}
	return res.(*communication.InvocationResult), nil
}

// ResolveType through the retrying executor
func (entry *RetryingEntry) ResolveType(ctx context.Context, typeName string) (*typeresolver.Type, error) {
	res, err := entry.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return entry.conn.ResolveType(ctx, typeName)
	})
	if err != nil {
		return nil, err
	}
	return res.(*typeresolver.Type), nil
}

// Codebase declared by the server
func (entry *RetryingEntry) Codebase() string {
	return entry.conn.Codebase()
}

// Close releases the current stateless entry of the connection
func (entry *RetryingEntry) Close() error {
	return entry.conn.Close()
}

// Connection returns the underlying connection holder
func (entry *RetryingEntry) Connection() *communication.StatelessConnection {
	return entry.conn
}

// NewRetryingEntry wraps a stateless connection with reconnect logic
func NewRetryingEntry(classifier communication.FailureClassifier,
	conn *communication.StatelessConnection, m *metrics.Metrics) *RetryingEntry {
	return &RetryingEntry{
		conn:     conn,
		executor: NewRetryingExecutor(classifier, conn, nil, m),
	}
}
