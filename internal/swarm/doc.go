// Package swarm is the scheduling core of the load generator.
//
// A UserClass describes one kind of simulated client: its weighted tasks,
// the wait policy between tasks, and setup/teardown hooks. Classes chain to
// a Base, and ResolveTasks merges the chain into a WeightedTaskList once per
// class.
//
// A VirtualUser is one running instance of a class. Started in a Group, it
// runs OnStart, then repeatedly draws a task by weight, runs it and waits,
// until it is stopped:
//
//	g := swarm.NewGroup(ctx)
//	u, err := swarm.NewVirtualUser(1, shopper)
//	if err != nil {
//		return err // *ConfigurationError
//	}
//	u.Start(g)
//	...
//	if !u.Stop(g, false) {
//		// graceful: the current task finishes first
//	}
//
// Tasks may point at a nested TaskSet, which runs its own loop with its own
// hooks. Stopping unwinds nested loops bottom-up, running each level's
// OnStop.
//
// # Stop signals
//
// A graceful stop marks the user stopping; the loop notices between tasks.
// A forced stop cancels the user's context, which interrupts waits and any
// ctx-aware I/O. Tasks can end their user with ErrStopUser or leave a nested
// set with Interrupt. These signals never surface as errors from Run; any
// other error a task returns ends that one user with a *TaskError.
package swarm
