// Package command with the four phase request pipeline used to run remote work.
//
// A request passes through Before, Execute and After, or Before, Execute and OnError.
// Before runs on the caller, Execute runs on the executor and is the only phase that
// may block on remote I/O. After and OnError run with the executor callback.
package command

import (
	"context"
	"fmt"
	"sync"
)

// State of a request
type State int

const (
	StateInit State = iota
	StateBefore
	StateExecuting
	StateAfter
	StateDone
	StateError
	StateAbort
	StateContinue
)

var stateNames = map[State]string{
	StateInit:      "INIT",
	StateBefore:    "BEFORE",
	StateExecuting: "EXECUTING",
	StateAfter:     "AFTER",
	StateDone:      "DONE",
	StateError:     "ERROR",
	StateAbort:     "ABORT",
	StateContinue:  "CONTINUE",
}

func (s State) String() string {
	name, found := stateNames[s]
	if !found {
		return "UNKNOWN"
	}
	return name
}

// Terminal returns true for states in which a request has finished
func (s State) Terminal() bool {
	return s == StateDone || s == StateAbort || s == StateContinue
}

// allowed state transitions. A silent abort in Before goes straight to ABORT.
var transitions = map[State][]State{
	StateInit:      {StateBefore},
	StateBefore:    {StateExecuting, StateAbort},
	StateExecuting: {StateAfter, StateError},
	StateAfter:     {StateDone, StateError},
	StateError:     {StateAbort, StateContinue},
}

// Policy is the decision of the error hook on whether a containing sequence proceeds
type Policy int

const (
	// PolicyAbort stops the remaining steps
	PolicyAbort Policy = iota
	// PolicyContinue proceeds with the next step
	PolicyContinue
)

// Command is a request of any result type as seen by the runner
type Command interface {
	// Name of the command for logging and metrics
	Name() string
	// State the command is currently in
	State() State

	transition(to State) error
	runBefore(ctx context.Context) bool
	runExecute(ctx context.Context) (any, error)
	runAfter(ctx context.Context, result any)
	runOnError(ctx context.Context, err *TracedError) Policy
}

// Request is a unit of remote work with a typed result.
// The hooks are optional except for Execute.
type Request[T any] struct {
	name string

	// Before does pre-checks and setup such as disabling an interactive surface.
	// Returning false aborts the request without surfacing an error.
	Before func(ctx context.Context) bool

	// Execute performs the remote work. It runs on the executor.
	Execute func(ctx context.Context) (T, error)

	// After applies the side effects of success
	After func(ctx context.Context, result T)

	// OnError is invoked when Execute or After fails. It must restore any UI state
	// changed in Before and decides whether a containing sequence continues.
	// The default is to abort.
	OnError func(ctx context.Context, err *TracedError) Policy

	state      State
	result     T
	stateMutex sync.Mutex
}

// Name of the request
func (req *Request[T]) Name() string { return req.name }

// State the request is in
func (req *Request[T]) State() State {
	req.stateMutex.Lock()
	defer req.stateMutex.Unlock()
	return req.state
}

// Result of a successful execution. Only valid in state AFTER or DONE.
func (req *Request[T]) Result() T {
	req.stateMutex.Lock()
	defer req.stateMutex.Unlock()
	return req.result
}

func (req *Request[T]) transition(to State) error {
	req.stateMutex.Lock()
	defer req.stateMutex.Unlock()
	for _, allowed := range transitions[req.state] {
		if allowed == to {
			req.state = to
			return nil
		}
	}
	return fmt.Errorf("command '%s': illegal transition %s -> %s", req.name, req.state, to)
}

func (req *Request[T]) runBefore(ctx context.Context) bool {
	if req.Before == nil {
		return true
	}
	return req.Before(ctx)
}

func (req *Request[T]) runExecute(ctx context.Context) (any, error) {
	if req.Execute == nil {
		return nil, fmt.Errorf("command '%s' has nothing to execute", req.name)
	}
	result, err := req.Execute(ctx)
	if err != nil {
		return nil, err
	}
	req.stateMutex.Lock()
	req.result = result
	req.stateMutex.Unlock()
	return result, nil
}

func (req *Request[T]) runAfter(ctx context.Context, result any) {
	if req.After == nil {
		return
	}
	typed, _ := result.(T)
	req.After(ctx, typed)
}

func (req *Request[T]) runOnError(ctx context.Context, err *TracedError) Policy {
	if req.OnError == nil {
		return PolicyAbort
	}
	return req.OnError(ctx, err)
}

// NewRequest creates a request in state INIT
//  name of the request for logging and metrics
//  execute performs the remote work
func NewRequest[T any](name string, execute func(ctx context.Context) (T, error)) *Request[T] {
	return &Request[T]{
		name:    name,
		Execute: execute,
		state:   StateInit,
	}
}
