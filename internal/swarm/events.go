package swarm

import "time"

// TaskEvent describes one finished task execution.
type TaskEvent struct {
	UserID   int
	Class    string
	Task     string
	TaskSet  string // empty for tasks of the user class itself
	Start    time.Time
	Duration time.Duration
	Outcome  Outcome
	Err      error
}

// TaskReporter receives task execution outcomes. It is optional and plays no
// part in scheduling decisions.
type TaskReporter interface {
	ReportTask(TaskEvent)
}

// TaskReporterFunc adapts a function to TaskReporter.
type TaskReporterFunc func(TaskEvent)

// ReportTask calls f(ev).
func (f TaskReporterFunc) ReportTask(ev TaskEvent) {
	f(ev)
}
