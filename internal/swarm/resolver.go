package swarm

import (
	"fmt"
	"sort"
	"sync"
)

// declaration is one level of a class or task set hierarchy.
type declaration struct {
	name    string
	tasks   []TaskEntry
	weights map[*Task]int
}

// Resolver builds and caches weighted task lists, once per class or task set.
//
// Lists are keyed by pointer identity and never rebuilt, so every caller gets
// the same *WeightedTaskList for the same class.
//
// Resolver is safe for concurrent use.
type Resolver struct {
	mu      sync.RWMutex
	classes map[*UserClass]*WeightedTaskList
	sets    map[*TaskSet]*WeightedTaskList
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		classes: make(map[*UserClass]*WeightedTaskList),
		sets:    make(map[*TaskSet]*WeightedTaskList),
	}
}

var defaultResolver = NewResolver()

// ResolveTasks resolves a class's task list with the process-wide resolver.
func ResolveTasks(c *UserClass) (*WeightedTaskList, error) {
	return defaultResolver.Class(c)
}

// ResolveTaskSet resolves a task set's list with the process-wide resolver.
func ResolveTaskSet(ts *TaskSet) (*WeightedTaskList, error) {
	return defaultResolver.TaskSet(ts)
}

// Class returns the merged task list of c and its Base chain.
//
// Every nested task set reachable from the list is resolved too, so an empty
// set anywhere below a runnable class is reported here. A non-abstract class
// whose merged list is empty is a ConfigurationError.
func (r *Resolver) Class(c *UserClass) (*WeightedTaskList, error) {
	if c == nil {
		return nil, &ConfigurationError{Reason: "nil user class"}
	}

	r.mu.RLock()
	l, ok := r.classes[c]
	r.mu.RUnlock()
	if ok {
		return l, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.classes[c]; ok {
		return l, nil
	}

	entries, err := merge(c.levels())
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 && !c.Abstract {
		return nil, &ConfigurationError{
			Class:  c.Name,
			Reason: "no tasks defined; declare Tasks or TaskWeights, or mark the class Abstract",
		}
	}

	visiting := make(map[*TaskSet]bool)
	for _, e := range entries {
		if e.Task.IsGroup() {
			if _, err := r.resolveSet(e.Task.Set, visiting); err != nil {
				return nil, err
			}
		}
	}

	l = newWeightedTaskList(entries)
	r.classes[c] = l
	return l, nil
}

// TaskSet returns the merged task list of ts and its Base chain. Lists
// already resolved, including every set reachable from a resolved class, are
// served under a read lock.
func (r *Resolver) TaskSet(ts *TaskSet) (*WeightedTaskList, error) {
	if ts == nil {
		return nil, &ConfigurationError{Reason: "nil task set"}
	}

	r.mu.RLock()
	l, ok := r.sets[ts]
	r.mu.RUnlock()
	if ok {
		return l, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveSet(ts, make(map[*TaskSet]bool))
}

// resolveSet must be called with r.mu held.
func (r *Resolver) resolveSet(ts *TaskSet, visiting map[*TaskSet]bool) (*WeightedTaskList, error) {
	if l, ok := r.sets[ts]; ok {
		return l, nil
	}
	if visiting[ts] {
		// Recursive reference; the outer call finishes and caches it.
		return nil, nil
	}
	visiting[ts] = true

	entries, err := merge(ts.levels())
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &ConfigurationError{Class: ts.Name, Reason: "task set has no tasks"}
	}

	for _, e := range entries {
		if e.Task.IsGroup() {
			if _, err := r.resolveSet(e.Task.Set, visiting); err != nil {
				return nil, err
			}
		}
	}

	l := newWeightedTaskList(entries)
	r.sets[ts] = l
	return l, nil
}

// merge flattens a hierarchy, most-derived level first.
//
// Within a level, sequence entries come before mapping entries and repeated
// declarations of one task add up. A task already declared by a more-derived
// level is skipped, so the subclass weight wins.
func merge(levels []declaration) ([]TaskEntry, error) {
	var out []TaskEntry
	seen := make(map[*Task]bool)

	for _, lvl := range levels {
		index := make(map[*Task]int)

		add := func(t *Task, weight int) error {
			if t == nil {
				return &ConfigurationError{Class: lvl.name, Reason: "nil task"}
			}
			if t.Fn == nil && t.Set == nil {
				return &ConfigurationError{Class: lvl.name, Reason: fmt.Sprintf("task %q has neither a function nor a task set", t.Name)}
			}
			if weight <= 0 {
				return &ConfigurationError{Class: lvl.name, Reason: fmt.Sprintf("task %q has non-positive weight %d", t.Name, weight)}
			}
			if seen[t] {
				return nil
			}
			if i, ok := index[t]; ok {
				out[i].Weight += weight
				return nil
			}
			index[t] = len(out)
			out = append(out, TaskEntry{Task: t, Weight: weight})
			return nil
		}

		for _, e := range lvl.tasks {
			if err := add(e.Task, e.Weight); err != nil {
				return nil, err
			}
		}

		mapped := make([]*Task, 0, len(lvl.weights))
		for t := range lvl.weights {
			mapped = append(mapped, t)
		}
		sort.SliceStable(mapped, func(i, j int) bool {
			return taskName(mapped[i]) < taskName(mapped[j])
		})
		for _, t := range mapped {
			if err := add(t, lvl.weights[t]); err != nil {
				return nil, err
			}
		}

		for t := range index {
			seen[t] = true
		}
	}

	return out, nil
}

func taskName(t *Task) string {
	if t == nil {
		return ""
	}
	return t.Name
}
