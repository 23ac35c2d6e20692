package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// loopResult is what a scheduler loop, or one step of it, ends with.
type loopResult struct {
	outcome Outcome

	// reschedule skips the wait before the parent's next draw after a
	// nested set was interrupted.
	reschedule bool
}

// taskLoop is the cooperative scheduling loop of one nesting level: the
// user class itself (set == nil) or a nested task set.
type taskLoop struct {
	user  *VirtualUser
	set   *TaskSet
	tasks *WeightedTaskList
	wait  WaitTimeFunc
}

// run draws and executes tasks until a termination signal, an interrupt of
// this set, or a task failure.
//
// The stopping flag is only read here, between tasks, so a graceful stop
// never cuts a task short. Cancellation of ctx can land anywhere a task
// blocks on ctx.
func (l *taskLoop) run(ctx context.Context) (loopResult, error) {
	for {
		if l.user.State() == StateStopping {
			return loopResult{outcome: OutcomeStopped}, nil
		}
		if ctx.Err() != nil {
			return loopResult{outcome: OutcomeKilled}, nil
		}

		entry := l.tasks.Pick(l.user.rng)

		var (
			res loopResult
			err error
		)
		if entry.Task.IsGroup() {
			res, err = l.runGroup(ctx, entry.Task)
		} else {
			res, err = l.runTask(ctx, entry.Task)
		}
		if err != nil {
			return loopResult{}, err
		}

		switch {
		case res.outcome.Terminal(), res.outcome == OutcomeInterrupted:
			return res, nil
		case res.reschedule:
			continue
		}

		if outcome := l.user.sleep(ctx, l.wait); outcome.Terminal() {
			return loopResult{outcome: outcome}, nil
		}
	}
}

// runTask executes a leaf task.
func (l *taskLoop) runTask(ctx context.Context, t *Task) (loopResult, error) {
	start := time.Now()
	err := l.user.call(ctx, t.Name, func(ctx context.Context, u *VirtualUser) error {
		return t.Fn(ctx, u)
	})
	outcome := classify(ctx, err)
	l.report(t, start, outcome, err)

	switch outcome {
	case OutcomeStopped, OutcomeKilled:
		return loopResult{outcome: outcome}, nil
	case OutcomeInterrupted:
		if l.set == nil {
			return loopResult{}, &TaskError{Task: t.Name, Err: fmt.Errorf("interrupt outside of a task set")}
		}
		return loopResult{outcome: OutcomeInterrupted, reschedule: rescheduleOf(err)}, nil
	}

	if err != nil {
		return loopResult{}, wrapTaskError(t.Name, err)
	}
	return loopResult{}, nil
}

// runGroup runs a nested task set in a fresh loop, with the set's own hooks
// around it. Termination unwinds the nested loop first, running its OnStop,
// and is then handed to the caller so enclosing levels unwind too.
func (l *taskLoop) runGroup(ctx context.Context, t *Task) (loopResult, error) {
	set := t.Set
	tasks, err := l.user.resolver.TaskSet(set)
	if err != nil {
		return loopResult{}, err
	}

	wait := set.waitTime()
	if wait == nil {
		wait = l.wait
	}
	child := &taskLoop{user: l.user, set: set, tasks: tasks, wait: wait}

	start := time.Now()
	res, err := child.enter(ctx)
	if err != nil {
		l.report(t, start, OutcomeNone, err)
		return loopResult{}, err
	}
	l.report(t, start, res.outcome, nil)

	if res.outcome == OutcomeInterrupted {
		// The set is left; this level carries on.
		return loopResult{reschedule: res.reschedule}, nil
	}
	return res, nil
}

// enter runs OnStart, the loop, and OnStop when the loop ends by signal.
func (l *taskLoop) enter(ctx context.Context) (loopResult, error) {
	if hook := l.set.onStart(); hook != nil {
		err := l.user.call(ctx, l.set.Name+".on_start", hook)
		switch outcome := classify(ctx, err); {
		case outcome == OutcomeInterrupted:
			l.leave(ctx)
			return loopResult{outcome: outcome, reschedule: rescheduleOf(err)}, nil
		case outcome.Terminal():
			l.leave(ctx)
			return loopResult{outcome: outcome}, nil
		case err != nil:
			return loopResult{}, wrapTaskError(l.set.Name+".on_start", err)
		}
	}

	res, err := l.run(ctx)
	if err != nil {
		return loopResult{}, err
	}
	l.leave(ctx)
	return res, nil
}

func (l *taskLoop) leave(ctx context.Context) {
	l.user.logger.Debug("leaving task set", zap.String("task_set", l.set.Name))
	l.user.teardown(ctx, l.set.Name+".on_stop", l.set.onStop())
}

func (l *taskLoop) report(t *Task, start time.Time, outcome Outcome, err error) {
	if l.user.reporter == nil {
		return
	}
	ev := TaskEvent{
		UserID:   l.user.ID,
		Class:    l.user.Class.Name,
		Task:     t.Name,
		Start:    start,
		Duration: time.Since(start),
		Outcome:  outcome,
	}
	if l.set != nil {
		ev.TaskSet = l.set.Name
	}
	if outcome == OutcomeNone {
		ev.Err = err
	}
	l.user.reporter.ReportTask(ev)
}

func rescheduleOf(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie) && ie.Reschedule
}
