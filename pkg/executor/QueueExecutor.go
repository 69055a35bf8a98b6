package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
)

// ErrExecutorClosed is returned when submitting to a closed executor
var ErrExecutorClosed = errors.New("executor is closed")

// Callback receives the result of submitted work on the executor goroutine
type Callback func(result any, err error)

type queuedWork struct {
	ctx      context.Context
	work     communication.Work
	callback Callback
}

// QueueExecutor runs submitted work on a single worker goroutine in submission order.
// Callers are notified through the callback, which also runs on the worker goroutine.
//
// Work running on the worker must not submit and wait on the same executor, as that deadlocks.
type QueueExecutor struct {
	name     string
	delegate communication.Executor
	queue    []queuedWork
	closed   bool
	mutex    sync.Mutex
	cond     *sync.Cond
	stopped  chan struct{}
}

// Submit queues the work. The callback is invoked exactly once with the result.
func (exec *QueueExecutor) Submit(ctx context.Context, work communication.Work, callback Callback) error {
	exec.mutex.Lock()
	defer exec.mutex.Unlock()
	if exec.closed {
		return ErrExecutorClosed
	}
	exec.queue = append(exec.queue, queuedWork{ctx: ctx, work: work, callback: callback})
	exec.cond.Signal()
	return nil
}

// Execute submits the work and waits for its result.
// The work runs on the worker goroutine, not on the caller's.
func (exec *QueueExecutor) Execute(ctx context.Context, work communication.Work) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	err := exec.Submit(ctx, work, func(result any, err error) {
		done <- outcome{result, err}
	})
	if err != nil {
		return nil, err
	}
	o := <-done
	return o.result, o.err
}

// Close stops accepting work, runs what is already queued and waits for the worker to end
func (exec *QueueExecutor) Close() {
	exec.mutex.Lock()
	if !exec.closed {
		exec.closed = true
		exec.cond.Broadcast()
	}
	exec.mutex.Unlock()
	<-exec.stopped
}

func (exec *QueueExecutor) next() (queuedWork, bool) {
	exec.mutex.Lock()
	defer exec.mutex.Unlock()
	for len(exec.queue) == 0 && !exec.closed {
		exec.cond.Wait()
	}
	if len(exec.queue) == 0 {
		return queuedWork{}, false
	}
	item := exec.queue[0]
	exec.queue[0] = queuedWork{}
	exec.queue = exec.queue[1:]
	return item, true
}

func (exec *QueueExecutor) run() {
	defer close(exec.stopped)
	for {
		item, ok := exec.next()
		if !ok {
			logrus.Debugf("QueueExecutor '%s' stopped", exec.name)
			return
		}
		result, err := exec.delegate.Execute(item.ctx, item.work)
		if item.callback != nil {
			item.callback(result, err)
		}
	}
}

// NewQueueExecutor creates and starts a FIFO executor
//  name for logging
//  delegate runs the work on the worker goroutine. nil for a DirectExecutor.
func NewQueueExecutor(name string, delegate communication.Executor) *QueueExecutor {
	if delegate == nil {
		delegate = NewDirectExecutor(nil)
	}
	exec := &QueueExecutor{
		name:     name,
		delegate: delegate,
		stopped:  make(chan struct{}),
	}
	exec.cond = sync.NewCond(&exec.mutex)
	go exec.run()
	return exec
}
