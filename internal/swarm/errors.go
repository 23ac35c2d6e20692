package swarm

import (
	"errors"
	"fmt"
)

// ErrStopUser is returned by a task body to stop its virtual user
// gracefully. The user's OnStop hooks run before the user exits.
var ErrStopUser = errors.New("swarm: stop user")

// ConfigurationError reports a user class or task set that cannot run.
//
// It is returned at construction time (NewVirtualUser, ResolveTasks) and is
// never produced from inside the scheduling loop.
type ConfigurationError struct {
	Class  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Class, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// InterruptError is returned by a task inside a nested task set to leave the
// set and hand control back to the parent loop.
type InterruptError struct {
	// Reschedule makes the parent draw its next task immediately instead of
	// waiting first.
	Reschedule bool
}

func (e *InterruptError) Error() string {
	return "swarm: task set interrupted"
}

// Interrupt returns the error a task uses to leave its enclosing task set.
func Interrupt(reschedule bool) error {
	return &InterruptError{Reschedule: reschedule}
}

// TaskError wraps a failure returned (or panicked) by a task body.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Outcome tags how a scheduler loop ended.
type Outcome int

const (
	// OutcomeNone means the loop has not ended (or ended with a task failure).
	OutcomeNone Outcome = iota
	// OutcomeStopped is a graceful termination: stop requested or ErrStopUser.
	OutcomeStopped
	// OutcomeKilled is a forced termination delivered through the context.
	OutcomeKilled
	// OutcomeInterrupted means a nested task set was left via Interrupt.
	OutcomeInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeStopped:
		return "stopped"
	case OutcomeKilled:
		return "killed"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the outcome must unwind every enclosing loop.
func (o Outcome) Terminal() bool {
	return o == OutcomeStopped || o == OutcomeKilled
}
