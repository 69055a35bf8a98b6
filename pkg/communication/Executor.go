package communication

import "context"

// Work is a unit of remote work. It reads the current connection each time it runs so that
// re-running it after a reconnect uses the new connection.
type Work func(ctx context.Context) (any, error)

// Executor dispatches units of remote work
type Executor interface {
	Execute(ctx context.Context, work Work) (any, error)
}

// FailureClassifier decides whether an error is a transient transport failure that is
// worth a reconnect and a single retry
type FailureClassifier interface {
	ShouldRetryOnFailure(err error) bool
}

// Reconnector rebuilds the underlying connection
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Invoker forwards an invocation to the server
type Invoker interface {
	Invoke(ctx context.Context, call *Invocation) (*InvocationResult, error)
}
