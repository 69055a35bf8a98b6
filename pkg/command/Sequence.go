package command

import (
	"context"

	"github.com/sirupsen/logrus"
)

// SequenceOutcome is the result of running a sequence
type SequenceOutcome struct {
	// Completed holds the names of the steps that finished with DONE or CONTINUE
	Completed []string
	// Aborted is true when a step aborted and the remaining steps were skipped
	Aborted bool
	// Last is the outcome of the last step that ran
	Last Outcome
}

// Err returns the error of the aborting step, or nil for success or a silent abort
func (so SequenceOutcome) Err() error {
	if !so.Aborted {
		return nil
	}
	return so.Last.Error()
}

// Sequence runs a fixed list of commands in order.
// A step that aborts stops the sequence. A step that fails with CONTINUE lets it proceed.
type Sequence struct {
	name   string
	runner *Runner
	steps  []Command
}

// Run the steps in order. A cancelled context prevents the next step from starting.
func (seq *Sequence) Run(ctx context.Context) SequenceOutcome {
	result := SequenceOutcome{}
	for _, step := range seq.steps {
		if ctx.Err() != nil {
			logrus.Warningf("Sequence '%s': cancelled before step '%s'", seq.name, step.Name())
			result.Aborted = true
			result.Last = Outcome{Command: step.Name(), State: StateAbort, Err: Trace(ctx.Err(), step.Name())}
			return result
		}
		outcome := seq.runner.Run(ctx, step)
		result.Last = outcome
		if outcome.State == StateAbort {
			logrus.Infof("Sequence '%s': aborted at step '%s'", seq.name, step.Name())
			result.Aborted = true
			return result
		}
		result.Completed = append(result.Completed, step.Name())
	}
	logrus.Infof("Sequence '%s': completed %d steps", seq.name, len(result.Completed))
	return result
}

// NewSequence creates a sequence of steps run by the given runner
func NewSequence(name string, runner *Runner, steps ...Command) *Sequence {
	return &Sequence{name: name, runner: runner, steps: steps}
}
