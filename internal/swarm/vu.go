package swarm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/swarm/client"
)

// UserState represents the lifecycle state of a VirtualUser.
type UserState int32

const (
	// StateUnstarted is the state of a user that has not entered Run yet.
	StateUnstarted UserState = iota
	// StateRunning indicates the user is executing tasks.
	StateRunning
	// StateWaiting indicates the user is sleeping between tasks.
	StateWaiting
	// StateStopping indicates a graceful stop was requested; the user exits
	// once its current task finishes.
	StateStopping
	// StateTerminated indicates the user's goroutine has finished.
	StateTerminated
)

func (s UserState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated client.
//
// A user is created by NewVirtualUser, started once with Start and runs its
// class's tasks until it is stopped:
//
//	unstarted -> running -> (waiting <-> running) -> stopping -> terminated
//
// Stop is meant to be called from outside the user's own goroutine.
type VirtualUser struct {
	// ID identifies the user within its run.
	ID int

	// Class is the descriptor this user was created from.
	Class *UserClass

	// Client is the user's HTTP session. It is nil unless the class
	// requires a client.
	Client *client.Session

	tasks    *WeightedTaskList
	waitTime WaitTimeFunc
	resolver *Resolver
	reporter TaskReporter
	logger   *zap.Logger
	rng      *rand.Rand

	state   atomic.Int32
	started atomic.Bool
	handle  atomic.Pointer[Handle]

	// Per-user variable scope
	data   map[string]string
	dataMu sync.RWMutex
}

type userOptions struct {
	host       string
	resolver   *Resolver
	reporter   TaskReporter
	logger     *zap.Logger
	seed       int64
	seeded     bool
	clientOpts []client.Option
}

// Option configures a VirtualUser.
type Option func(*userOptions)

// WithHost overrides the class host for this user's client.
func WithHost(host string) Option {
	return func(o *userOptions) {
		o.host = host
	}
}

// WithResolver uses r instead of the process-wide resolver.
func WithResolver(r *Resolver) Option {
	return func(o *userOptions) {
		o.resolver = r
	}
}

// WithReporter sets the sink notified of every task execution.
func WithReporter(r TaskReporter) Option {
	return func(o *userOptions) {
		o.reporter = r
	}
}

// WithLogger sets the user's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *userOptions) {
		o.logger = l
	}
}

// WithSeed makes the user's task draws reproducible.
func WithSeed(seed int64) Option {
	return func(o *userOptions) {
		o.seed = seed
		o.seeded = true
	}
}

// WithClientOptions passes options to the user's HTTP session.
func WithClientOptions(opts ...client.Option) Option {
	return func(o *userOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// NewVirtualUser creates a user of class.
//
// Configuration problems are reported here, before anything runs: an
// abstract class, an empty task list, or a client-requiring class without a
// host all return a *ConfigurationError.
func NewVirtualUser(id int, class *UserClass, options ...Option) (*VirtualUser, error) {
	opts := userOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.resolver == nil {
		opts.resolver = defaultResolver
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if !opts.seeded {
		opts.seed = rand.Int63()
	}

	if class == nil {
		return nil, &ConfigurationError{Reason: "nil user class"}
	}
	if class.Abstract {
		return nil, &ConfigurationError{Class: class.Name, Reason: "abstract classes cannot be instantiated"}
	}

	tasks, err := opts.resolver.Class(class)
	if err != nil {
		return nil, err
	}

	u := &VirtualUser{
		ID:       id,
		Class:    class,
		tasks:    tasks,
		waitTime: class.waitTime(),
		resolver: opts.resolver,
		reporter: opts.reporter,
		logger:   opts.logger.With(zap.Int("user_id", id), zap.String("class", class.Name)),
		rng:      rand.New(rand.NewSource(opts.seed)),
		data:     make(map[string]string),
	}

	if class.requiresClient() {
		host := opts.host
		if host == "" {
			host = class.EffectiveHost()
		}
		if host == "" {
			return nil, &ConfigurationError{
				Class:  class.Name,
				Reason: "no host specified; set the class Host or pass --host",
			}
		}
		session, err := client.NewSession(host, opts.clientOpts...)
		if err != nil {
			return nil, &ConfigurationError{Class: class.Name, Reason: err.Error()}
		}
		u.Client = session
	}

	return u, nil
}

// State returns the current lifecycle state.
func (u *VirtualUser) State() UserState {
	return UserState(u.state.Load())
}

// Tasks returns the user's resolved task list.
func (u *VirtualUser) Tasks() *WeightedTaskList {
	return u.tasks
}

// Logger returns the user's logger, tagged with its id and class.
func (u *VirtualUser) Logger() *zap.Logger {
	return u.logger
}

// Handle returns the execution handle, or nil before Start.
func (u *VirtualUser) Handle() *Handle {
	return u.handle.Load()
}

// Start spawns the user's goroutine in g. It may be called once.
func (u *VirtualUser) Start(g *Group) (*Handle, error) {
	if !u.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("swarm: user %d already started", u.ID)
	}
	h := g.Spawn(func(ctx context.Context, u *VirtualUser) error {
		return u.Run(ctx)
	}, u)
	u.handle.Store(h)
	return h, nil
}

// Run is the user's entry point inside its goroutine.
//
// It runs OnStart, then the task loop. A termination signal (a graceful stop,
// ErrStopUser or cancellation of ctx) runs OnStop and makes Run return nil.
// Any other task failure is returned as a *TaskError without running OnStop.
// If ctx is already done on entry, Run returns nil without calling any hook.
func (u *VirtualUser) Run(ctx context.Context) error {
	defer u.state.Store(int32(StateTerminated))

	if ctx.Err() != nil {
		return nil
	}
	if !u.state.CompareAndSwap(int32(StateUnstarted), int32(StateRunning)) {
		return nil
	}

	if hook := u.Class.onStart(); hook != nil {
		err := u.call(ctx, "on_start", hook)
		switch outcome := classify(ctx, err); {
		case outcome.Terminal():
			u.teardown(ctx, "on_stop", u.Class.onStop())
			return nil
		case err != nil:
			return wrapTaskError("on_start", err)
		}
	}

	root := &taskLoop{user: u, tasks: u.tasks, wait: u.waitTime}
	res, err := root.run(ctx)
	if err != nil {
		return err
	}

	u.logger.Debug("user terminated", zap.Stringer("outcome", res.outcome))
	u.teardown(ctx, "on_stop", u.Class.onStop())
	return nil
}

// Wait sleeps for a duration drawn from the class wait policy. A task may
// call it to give the user a point where it can be stopped mid-task; it then
// returns ErrStopUser or the context error, which the task should return.
func (u *VirtualUser) Wait(ctx context.Context) error {
	switch u.sleep(ctx, u.waitTime) {
	case OutcomeStopped:
		return ErrStopUser
	case OutcomeKilled:
		return ctx.Err()
	}
	return nil
}

// sleep moves running -> waiting, sleeps, and moves back to running.
func (u *VirtualUser) sleep(ctx context.Context, wait WaitTimeFunc) Outcome {
	if !u.state.CompareAndSwap(int32(StateRunning), int32(StateWaiting)) {
		if u.State() == StateStopping {
			return OutcomeStopped
		}
	}

	var d time.Duration
	if wait != nil {
		d = wait()
	}

	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return OutcomeKilled
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return OutcomeKilled
	}

	if !u.state.CompareAndSwap(int32(StateWaiting), int32(StateRunning)) {
		if u.State() == StateStopping {
			return OutcomeStopped
		}
	}
	return OutcomeNone
}

// Stop asks the user to stop and reports whether it was terminated
// immediately.
//
// With force, or while the user is waiting, the group cancels the user's
// goroutine and Stop returns true; OnStop hooks still run as the loops
// unwind. While the user is running a task, Stop marks it stopping and
// returns false: the task finishes and the loop exits before the next one.
// Otherwise a graceful stop is a no-op returning false, including for a user
// that is spawned but has not entered Run yet. A forced stop before Run keeps
// the user from running at all.
func (u *VirtualUser) Stop(g *Group, force bool) bool {
	for {
		h := u.handle.Load()
		st := u.State()
		if h == nil || st == StateTerminated {
			return false
		}

		if force || st == StateWaiting {
			g.Terminate(h)
			return true
		}

		switch st {
		case StateRunning:
			if u.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
				return false
			}
		default:
			return false
		}
	}
}

// call runs a task or hook body, turning a panic into an error.
func (u *VirtualUser) call(ctx context.Context, name string, fn func(context.Context, *VirtualUser) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn(ctx, u)
}

// teardown runs an OnStop hook. A cancelled ctx is detached so the hook can
// still do its own I/O after a forced stop.
func (u *VirtualUser) teardown(ctx context.Context, name string, hook HookFunc) {
	if hook == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := u.call(ctx, name, hook); err != nil && !errors.Is(err, ErrStopUser) {
		u.logger.Warn("teardown hook failed", zap.String("hook", name), zap.Error(err))
	}
}

// SetData stores a value in the user's variable scope.
func (u *VirtualUser) SetData(key, value string) {
	u.dataMu.Lock()
	defer u.dataMu.Unlock()
	u.data[key] = value
}

// GetData retrieves a value from the user's variable scope.
func (u *VirtualUser) GetData(key string) (string, bool) {
	u.dataMu.RLock()
	defer u.dataMu.RUnlock()
	val, ok := u.data[key]
	return val, ok
}

// Data returns a copy of the user's variable scope.
func (u *VirtualUser) Data() map[string]string {
	u.dataMu.RLock()
	defer u.dataMu.RUnlock()
	out := make(map[string]string, len(u.data))
	for k, v := range u.data {
		out[k] = v
	}
	return out
}

// classify maps an error returned by a task or hook to a loop outcome.
// Task failures map to OutcomeNone with a non-nil error.
func classify(ctx context.Context, err error) Outcome {
	if errors.Is(err, ErrStopUser) {
		return OutcomeStopped
	}
	if ctx.Err() != nil {
		return OutcomeKilled
	}
	var ie *InterruptError
	if errors.As(err, &ie) {
		return OutcomeInterrupted
	}
	return OutcomeNone
}

func wrapTaskError(name string, err error) error {
	var te *TaskError
	if errors.As(err, &te) {
		return err
	}
	return &TaskError{Task: name, Err: err}
}
