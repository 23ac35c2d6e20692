package swarm

import (
	"context"
	"math/rand"
	"sort"
)

// TaskFunc is the body of a leaf task. It runs inside the virtual user's
// goroutine and should honor ctx for any blocking work so a forced stop can
// interrupt it.
type TaskFunc func(ctx context.Context, u *VirtualUser) error

// HookFunc is a setup or teardown hook of a user class or task set.
type HookFunc func(ctx context.Context, u *VirtualUser) error

// Task is a unit of work: either a leaf function or a nested task set.
//
// Tasks are compared by pointer identity when task lists are merged, so a
// task should be declared once and referenced wherever it is used.
type Task struct {
	Name string
	Fn   TaskFunc
	Set  *TaskSet
}

// NewTask declares a leaf task.
func NewTask(name string, fn TaskFunc) *Task {
	return &Task{Name: name, Fn: fn}
}

// NewSetTask declares a task that runs a nested task set.
func NewSetTask(set *TaskSet) *Task {
	return &Task{Name: set.Name, Set: set}
}

// IsGroup reports whether the task runs a nested task set.
func (t *Task) IsGroup() bool {
	return t.Set != nil
}

// TaskEntry pairs a task with its selection weight.
type TaskEntry struct {
	Task   *Task
	Weight int
}

// Weighted is shorthand for a TaskEntry literal.
func Weighted(t *Task, weight int) TaskEntry {
	return TaskEntry{Task: t, Weight: weight}
}

// TaskSet is a named, independently weighted group of tasks executed by its
// own nested scheduling loop.
type TaskSet struct {
	Name string

	// Base is the parent declaration whose tasks are merged after this one.
	Base *TaskSet

	// Tasks declares (task, weight) pairs in order.
	Tasks []TaskEntry

	// TaskWeights declares tasks in mapping form.
	TaskWeights map[*Task]int

	// WaitTime overrides the user's wait policy inside this set.
	WaitTime WaitTimeFunc

	OnStart HookFunc
	OnStop  HookFunc
}

func (ts *TaskSet) waitTime() WaitTimeFunc {
	for s := ts; s != nil; s = s.Base {
		if s.WaitTime != nil {
			return s.WaitTime
		}
	}
	return nil
}

func (ts *TaskSet) onStart() HookFunc {
	for s := ts; s != nil; s = s.Base {
		if s.OnStart != nil {
			return s.OnStart
		}
	}
	return nil
}

func (ts *TaskSet) onStop() HookFunc {
	for s := ts; s != nil; s = s.Base {
		if s.OnStop != nil {
			return s.OnStop
		}
	}
	return nil
}

func (ts *TaskSet) levels() []declaration {
	var out []declaration
	for s := ts; s != nil; s = s.Base {
		out = append(out, declaration{name: s.Name, tasks: s.Tasks, weights: s.TaskWeights})
	}
	return out
}

// WeightedTaskList is a resolved, read-only list of weighted tasks shared by
// every user of a class.
type WeightedTaskList struct {
	entries    []TaskEntry
	cumulative []int
	total      int
}

func newWeightedTaskList(entries []TaskEntry) *WeightedTaskList {
	l := &WeightedTaskList{
		entries:    entries,
		cumulative: make([]int, len(entries)),
	}
	for i, e := range entries {
		l.total += e.Weight
		l.cumulative[i] = l.total
	}
	return l
}

// Len returns the number of distinct entries.
func (l *WeightedTaskList) Len() int {
	return len(l.entries)
}

// TotalWeight returns the sum of all entry weights.
func (l *WeightedTaskList) TotalWeight() int {
	return l.total
}

// Entries returns a copy of the resolved entries in order.
func (l *WeightedTaskList) Entries() []TaskEntry {
	out := make([]TaskEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Pick draws one entry with probability weight/TotalWeight.
// A nil rng uses the package-level source.
func (l *WeightedTaskList) Pick(rng *rand.Rand) TaskEntry {
	var target int
	if rng != nil {
		target = rng.Intn(l.total)
	} else {
		target = rand.Intn(l.total)
	}

	// First entry whose cumulative weight exceeds the target.
	i := sort.Search(len(l.cumulative), func(i int) bool {
		return l.cumulative[i] > target
	})
	return l.entries[i]
}
