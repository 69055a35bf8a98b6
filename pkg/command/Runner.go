package command

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/executor"
	"github.com/wostzone/wost-session/pkg/metrics"
)

// Outcome of running a command
type Outcome struct {
	// Command that ran
	Command string
	// State is DONE, ABORT or CONTINUE
	State State
	// Result of a DONE command
	Result any
	// Err is the traced failure of an ABORT or CONTINUE command. nil for a silent abort.
	Err *TracedError
}

// Error returns the failure as an error, or nil
func (o Outcome) Error() error {
	if o.Err == nil {
		return nil
	}
	return o.Err
}

// Runner drives commands through their phases.
// Before runs on the caller, Execute, After and OnError run on the queue executor worker.
type Runner struct {
	queue        *executor.QueueExecutor
	errorHandler *ErrorHandler
	metrics      *metrics.Metrics
}

// Submit starts the command and returns after its Before phase.
// done is invoked exactly once with the outcome; on the caller for a silent abort,
// on the executor worker otherwise.
func (runner *Runner) Submit(ctx context.Context, cmd Command, done func(Outcome)) {
	if done == nil {
		done = func(Outcome) {}
	}
	if err := cmd.transition(StateBefore); err != nil {
		// a command runs only once
		done(runner.fail(ctx, cmd, err))
		return
	}
	if !cmd.runBefore(ctx) {
		_ = cmd.transition(StateAbort)
		logrus.Infof("Runner: command '%s' aborted before execution", cmd.Name())
		runner.metrics.ObserveCommand(cmd.Name(), StateAbort.String())
		done(Outcome{Command: cmd.Name(), State: StateAbort})
		return
	}
	_ = cmd.transition(StateExecuting)
	err := runner.queue.Submit(ctx, func(ctx context.Context) (result any, err error) {
		defer recoverPanic(&err)
		return cmd.runExecute(ctx)
	}, func(result any, err error) {
		if err != nil {
			done(runner.fail(ctx, cmd, err))
			return
		}
		done(runner.succeed(ctx, cmd, result))
	})
	if err != nil {
		done(runner.fail(ctx, cmd, err))
	}
}

// Run the command and wait for its outcome.
// This must not be called from work running on the same queue executor.
func (runner *Runner) Run(ctx context.Context, cmd Command) Outcome {
	outcomeChan := make(chan Outcome, 1)
	runner.Submit(ctx, cmd, func(o Outcome) {
		outcomeChan <- o
	})
	return <-outcomeChan
}

func (runner *Runner) succeed(ctx context.Context, cmd Command, result any) Outcome {
	_ = cmd.transition(StateAfter)
	var err error
	func() {
		defer recoverPanic(&err)
		cmd.runAfter(ctx, result)
	}()
	if err != nil {
		return runner.fail(ctx, cmd, err)
	}
	_ = cmd.transition(StateDone)
	runner.metrics.ObserveCommand(cmd.Name(), StateDone.String())
	return Outcome{Command: cmd.Name(), State: StateDone, Result: result}
}

// fail runs the error hook and hands the error to the error handler
func (runner *Runner) fail(ctx context.Context, cmd Command, err error) Outcome {
	traced := Trace(err, cmd.Name())
	final := StateAbort
	if cmd.transition(StateError) == nil {
		var policy = PolicyAbort
		var hookErr error
		func() {
			defer recoverPanic(&hookErr)
			policy = cmd.runOnError(ctx, traced)
		}()
		if hookErr != nil {
			logrus.Errorf("Runner: error hook of '%s' failed: %s", cmd.Name(), hookErr)
			policy = PolicyAbort
		}
		if policy == PolicyContinue {
			final = StateContinue
		}
		_ = cmd.transition(final)
	}
	if runner.errorHandler != nil {
		runner.errorHandler.Handle(traced)
	} else if traced.MarkLogged() {
		logrus.Errorf("%s", traced)
	}
	runner.metrics.ObserveCommand(cmd.Name(), final.String())
	return Outcome{Command: cmd.Name(), State: final, Err: traced}
}

func recoverPanic(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok {
			*err = fmt.Errorf("unexpected failure: %w", e)
		} else {
			*err = fmt.Errorf("unexpected failure: %v", r)
		}
	}
}

// NewRunner creates a command runner
//  queue executor that runs the Execute phase. Required.
//  errorHandler logs and shows failures. nil to only log them.
//  m is optional and can be nil
func NewRunner(queue *executor.QueueExecutor, errorHandler *ErrorHandler, m *metrics.Metrics) *Runner {
	return &Runner{
		queue:        queue,
		errorHandler: errorHandler,
		metrics:      m,
	}
}
