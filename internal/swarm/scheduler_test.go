package swarm_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wesleyorama2/swarm/internal/swarm"
)

// recorder collects hook and task invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) hook(s string) swarm.HookFunc {
	return func(ctx context.Context, u *swarm.VirtualUser) error {
		r.add(s)
		return nil
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(s string) int {
	n := 0
	for _, c := range r.snapshot() {
		if c == s {
			n++
		}
	}
	return n
}

func nestedClass(rec *recorder, inner swarm.TaskFunc) *swarm.UserClass {
	set := &swarm.TaskSet{
		Name:    "inner",
		OnStart: rec.hook("inner.on_start"),
		OnStop:  rec.hook("inner.on_stop"),
		Tasks: []swarm.TaskEntry{swarm.Weighted(swarm.NewTask("work", func(ctx context.Context, u *swarm.VirtualUser) error {
			rec.add("work")
			return inner(ctx, u)
		}), 1)},
	}
	return &swarm.UserClass{
		Name:    "outer",
		OnStart: rec.hook("user.on_start"),
		OnStop:  rec.hook("user.on_stop"),
		Tasks:   []swarm.TaskEntry{swarm.Weighted(swarm.NewSetTask(set), 1)},
	}
}

func TestScheduler_GracefulStopUnwindsNestedSets(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	class := nestedClass(rec, func(ctx context.Context, u *swarm.VirtualUser) error {
		started <- struct{}{}
		<-release
		return nil
	})

	u, err := swarm.NewVirtualUser(1, class, swarm.WithResolver(swarm.NewResolver()))
	if err != nil {
		t.Fatalf("NewVirtualUser() error = %v", err)
	}
	g := swarm.NewGroup(context.Background())
	defer g.Close()

	h, _ := u.Start(g)
	<-started
	if u.Stop(g, false) {
		t.Fatal("Stop(false) while running = true, want false")
	}
	close(release)
	waitDone(t, h)

	want := []string{"user.on_start", "inner.on_start", "work", "inner.on_stop", "user.on_stop"}
	if got := rec.snapshot(); !equalStrings(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestScheduler_ForcedStopUnwindsNestedSets(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{}, 1)

	class := nestedClass(rec, func(ctx context.Context, u *swarm.VirtualUser) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})

	u, err := swarm.NewVirtualUser(1, class, swarm.WithResolver(swarm.NewResolver()))
	if err != nil {
		t.Fatalf("NewVirtualUser() error = %v", err)
	}
	g := swarm.NewGroup(context.Background())
	defer g.Close()

	h, _ := u.Start(g)
	<-started
	if !u.Stop(g, true) {
		t.Fatal("Stop(true) = false, want true")
	}
	waitDone(t, h)

	if err := h.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	want := []string{"user.on_start", "inner.on_start", "work", "inner.on_stop", "user.on_stop"}
	if got := rec.snapshot(); !equalStrings(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestScheduler_StopUserFromNestedTask(t *testing.T) {
	rec := &recorder{}
	class := nestedClass(rec, func(ctx context.Context, u *swarm.VirtualUser) error {
		return swarm.ErrStopUser
	})

	u, err := swarm.NewVirtualUser(1, class, swarm.WithResolver(swarm.NewResolver()))
	if err != nil {
		t.Fatalf("NewVirtualUser() error = %v", err)
	}
	if err := u.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"user.on_start", "inner.on_start", "work", "inner.on_stop", "user.on_stop"}
	if got := rec.snapshot(); !equalStrings(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestScheduler_NestedFailureSkipsTeardown(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	class := nestedClass(rec, func(ctx context.Context, u *swarm.VirtualUser) error {
		return boom
	})

	u, err := swarm.NewVirtualUser(1, class, swarm.WithResolver(swarm.NewResolver()))
	if err != nil {
		t.Fatalf("NewVirtualUser() error = %v", err)
	}

	err = u.Run(context.Background())
	var taskErr *swarm.TaskError
	if !errors.As(err, &taskErr) || taskErr.Task != "work" {
		t.Fatalf("Run() error = %v, want *TaskError for work", err)
	}
	if n := rec.count("inner.on_stop") + rec.count("user.on_stop"); n != 0 {
		t.Errorf("teardown ran %d times after a failure, want 0", n)
	}
}

func TestScheduler_InterruptReturnsToParent(t *testing.T) {
	rec := &recorder{}
	var entered atomic.Int32

	class := nestedClass(rec, func(ctx context.Context, u *swarm.VirtualUser) error {
		if entered.Add(1) == 5 {
			return swarm.ErrStopUser
		}
		return swarm.Interrupt(true)
	})

	u, err := swarm.NewVirtualUser(1, class, swarm.WithResolver(swarm.NewResolver()))
	if err != nil {
		t.Fatalf("NewVirtualUser() error = %v", err)
	}
	if err := u.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := rec.count("inner.on_start"); got != 5 {
		t.Errorf("inner set entered %d times, want 5", got)
	}
	if got := rec.count("inner.on_stop"); got != 5 {
		t.Errorf("inner set left %d times, want 5", got)
	}
	if got := rec.count("user.on_stop"); got != 1 {
		t.Errorf("user teardown ran %d times, want 1", got)
	}
}

func TestScheduler_InterruptOutsideTaskSet(t *testing.T) {
	class := &swarm.UserClass{
		Name: "root",
		Tasks: []swarm.TaskEntry{swarm.Weighted(swarm.NewTask("escape", func(ctx context.Context, u *swarm.VirtualUser) error {
			return swarm.Interrupt(false)
		}), 1)},
	}

	u, err := swarm.NewVirtualUser(1, class, swarm.WithResolver(swarm.NewResolver()))
	if err != nil {
		t.Fatalf("NewVirtualUser() error = %v", err)
	}

	var taskErr *swarm.TaskError
	if err := u.Run(context.Background()); !errors.As(err, &taskErr) {
		t.Errorf("Run() error = %v, want *TaskError", err)
	}
}

func TestScheduler_ReportsTaskEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []swarm.TaskEvent
	)
	reporter := swarm.TaskReporterFunc(func(ev swarm.TaskEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	var runs atomic.Int32
	set := &swarm.TaskSet{
		Name: "checkout",
		Tasks: []swarm.TaskEntry{swarm.Weighted(swarm.NewTask("pay", func(ctx context.Context, u *swarm.VirtualUser) error {
			switch runs.Add(1) {
			case 1:
				return nil
			case 2:
				return swarm.Interrupt(false)
			}
			return swarm.ErrStopUser
		}), 1)},
	}
	class := &swarm.UserClass{
		Name:  "shopper",
		Tasks: []swarm.TaskEntry{swarm.Weighted(swarm.NewSetTask(set), 1)},
	}

	u, err := swarm.NewVirtualUser(7, class,
		swarm.WithResolver(swarm.NewResolver()),
		swarm.WithReporter(reporter),
	)
	if err != nil {
		t.Fatalf("NewVirtualUser() error = %v", err)
	}
	if err := u.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	type summary struct {
		task, set string
		outcome   swarm.Outcome
	}
	want := []summary{
		{"pay", "checkout", swarm.OutcomeNone},
		{"pay", "checkout", swarm.OutcomeInterrupted},
		{"checkout", "", swarm.OutcomeInterrupted},
		{"pay", "checkout", swarm.OutcomeStopped},
		{"checkout", "", swarm.OutcomeStopped},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, ev := range events {
		got := summary{ev.Task, ev.TaskSet, ev.Outcome}
		if got != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got, want[i])
		}
		if ev.UserID != 7 || ev.Class != "shopper" {
			t.Errorf("event %d user = %d/%s, want 7/shopper", i, ev.UserID, ev.Class)
		}
		if ev.Err != nil {
			t.Errorf("event %d Err = %v, want nil", i, ev.Err)
		}
	}
}
