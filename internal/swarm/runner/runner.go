// Package runner drives a population of virtual users: it spreads the user
// count across classes, spawns users at a fixed rate and stops them
// gracefully, escalating to a forced stop when the budget runs out.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/swarm/internal/swarm"
	"github.com/wesleyorama2/swarm/internal/swarm/client"
	"github.com/wesleyorama2/swarm/internal/swarm/metrics"
)

// DefaultStopTimeout is the graceful stop budget used when Options leaves it
// unset.
const DefaultStopTimeout = 10 * time.Second

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("runner: already started")

var errStopping = errors.New("runner: stopping")

// Options configures a Runner.
type Options struct {
	// Users is the number of users to spawn.
	Users int

	// SpawnRate is the number of users started per second. Zero or less
	// spawns everyone at once.
	SpawnRate float64

	// RunTime bounds Run. Zero runs until the context is done or every
	// user has exited.
	RunTime time.Duration

	// StopTimeout is how long Stop waits for running tasks to finish
	// before killing the remaining users.
	StopTimeout time.Duration

	// RespawnFailed replaces users that exit with a task failure.
	RespawnFailed bool

	// Host overrides every class host.
	Host string

	Logger        *zap.Logger
	Engine        *metrics.Engine
	ClientOptions []client.Option
}

// Result summarizes a finished run.
type Result struct {
	RunID    string            `json:"runId"`
	Started  time.Time         `json:"started"`
	Duration time.Duration     `json:"duration"`
	Users    int               `json:"users"`
	Failed   int               `json:"failed"`
	Metrics  *metrics.Snapshot `json:"metrics"`
}

// Runner spawns and stops the users of a set of classes.
type Runner struct {
	classes []*swarm.UserClass
	opts    Options
	runID   string
	logger  *zap.Logger
	engine  *metrics.Engine

	resolver *swarm.Resolver
	group    *swarm.Group

	mu       sync.Mutex
	live     map[*swarm.VirtualUser]struct{}
	perClass map[string]int
	nextID   int

	spawned  atomic.Int64
	failed   atomic.Int64
	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once

	startTime   time.Time
	cancelSpawn context.CancelFunc
	spawnDone   chan struct{}
	idle        chan struct{}
	idleOnce    sync.Once
}

// New creates a runner for classes. Abstract classes are skipped.
func New(classes []*swarm.UserClass, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Engine == nil {
		opts.Engine = metrics.NewEngine()
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	var runnable []*swarm.UserClass
	for _, c := range classes {
		if c != nil && !c.Abstract {
			runnable = append(runnable, c)
		}
	}

	runID := uuid.NewString()
	return &Runner{
		classes:   runnable,
		opts:      opts,
		runID:     runID,
		logger:    opts.Logger.With(zap.String("run_id", runID)),
		engine:    opts.Engine,
		resolver:  swarm.NewResolver(),
		live:      make(map[*swarm.VirtualUser]struct{}),
		perClass:  make(map[string]int),
		spawnDone: make(chan struct{}),
		idle:      make(chan struct{}),
	}
}

// RunID identifies this run in logs and results.
func (r *Runner) RunID() string {
	return r.runID
}

// Engine returns the metrics engine fed by the users.
func (r *Runner) Engine() *metrics.Engine {
	return r.engine
}

// ActiveUsers returns the number of users currently running.
func (r *Runner) ActiveUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// ClassCounts returns the number of running users per class.
func (r *Runner) ClassCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.perClass))
	for k, v := range r.perClass {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// Start checks every class can be instantiated and begins spawning users in
// the background. Configuration problems are returned before any user runs.
func (r *Runner) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if len(r.classes) == 0 {
		return &swarm.ConfigurationError{Reason: "no runnable user classes"}
	}
	if r.opts.Users < 1 {
		return &swarm.ConfigurationError{Reason: fmt.Sprintf("user count must be at least 1, got %d", r.opts.Users)}
	}
	for _, c := range r.classes {
		if _, err := swarm.NewVirtualUser(0, c, r.userOptions()...); err != nil {
			return err
		}
	}

	r.group = swarm.NewGroup(context.WithoutCancel(ctx),
		swarm.WithGroupLogger(r.logger),
		swarm.WithExitHook(r.onExit))
	r.startTime = time.Now()

	counts := Distribute(r.classes, r.opts.Users)
	fields := []zap.Field{
		zap.Int("users", r.opts.Users),
		zap.Float64("spawn_rate", r.opts.SpawnRate),
	}
	for i, c := range r.classes {
		fields = append(fields, zap.Int("class."+c.Name, counts[i]))
	}
	r.logger.Info("starting run", fields...)

	spawnCtx, cancel := context.WithCancel(ctx)
	r.cancelSpawn = cancel
	go r.spawnLoop(spawnCtx, spawnOrder(counts))
	return nil
}

func (r *Runner) spawnLoop(ctx context.Context, order []int) {
	defer r.checkIdle()
	defer close(r.spawnDone)

	var limiter *rate.Limiter
	if r.opts.SpawnRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.opts.SpawnRate), 1)
	}

	for _, idx := range order {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		} else if ctx.Err() != nil {
			return
		}
		if r.stopping.Load() {
			return
		}
		if err := r.spawn(r.classes[idx]); errors.Is(err, errStopping) {
			return
		} else if err != nil {
			r.logger.Error("failed to spawn user", zap.String("class", r.classes[idx].Name), zap.Error(err))
		}
	}
	r.logger.Debug("all users spawned", zap.Int64("spawned", r.spawned.Load()))
}

func (r *Runner) userOptions() []swarm.Option {
	clientOpts := append([]client.Option{}, r.opts.ClientOptions...)
	clientOpts = append(clientOpts, client.WithHooks(r.engine.RequestHooks()))

	opts := []swarm.Option{
		swarm.WithResolver(r.resolver),
		swarm.WithReporter(r.engine),
		swarm.WithLogger(r.logger),
		swarm.WithClientOptions(clientOpts...),
	}
	if r.opts.Host != "" {
		opts = append(opts, swarm.WithHost(r.opts.Host))
	}
	return opts
}

func (r *Runner) spawn(class *swarm.UserClass) error {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()

	u, err := swarm.NewVirtualUser(id, class, r.userOptions()...)
	if err != nil {
		return err
	}

	// Registration and Start happen under r.mu so Stop either sees the user
	// in the group or keeps it from starting.
	r.mu.Lock()
	if r.stopping.Load() {
		r.mu.Unlock()
		return errStopping
	}
	r.live[u] = struct{}{}
	r.perClass[class.Name]++
	active := len(r.live)
	_, err = u.Start(r.group)
	if err != nil {
		delete(r.live, u)
		r.perClass[class.Name]--
		active--
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.engine.SetActiveUsers(active)
	r.spawned.Add(1)
	r.logger.Debug("user spawned", zap.Int("user_id", id), zap.String("class", class.Name))
	return nil
}

func (r *Runner) forget(u *swarm.VirtualUser) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[u]; ok {
		delete(r.live, u)
		r.perClass[u.Class.Name]--
	}
	return len(r.live)
}

// onExit runs in the goroutine of every user that ends.
func (r *Runner) onExit(h *swarm.Handle, err error) {
	u := h.User()
	if u == nil {
		return
	}
	active := r.forget(u)

	if err != nil {
		r.failed.Add(1)
		r.logger.Warn("user exited with task failure",
			zap.Int("user_id", u.ID),
			zap.String("class", u.Class.Name),
			zap.Error(err))

		if r.opts.RespawnFailed && !r.stopping.Load() {
			switch err := r.spawn(u.Class); {
			case err == nil:
				return
			case !errors.Is(err, errStopping):
				r.logger.Error("failed to respawn user", zap.String("class", u.Class.Name), zap.Error(err))
			}
		}
	}

	r.engine.SetActiveUsers(active)
	r.checkIdle()
}

// checkIdle closes idle once spawning has finished and no user is left.
func (r *Runner) checkIdle() {
	select {
	case <-r.spawnDone:
	default:
		return
	}
	if r.ActiveUsers() == 0 {
		r.idleOnce.Do(func() { close(r.idle) })
	}
}

// Stop ends the run. Every user is asked to stop gracefully; users still
// running after StopTimeout, or when ctx is done, are killed. Stop waits for
// every user to exit and is safe to call more than once.
func (r *Runner) Stop(ctx context.Context) {
	if !r.started.Load() || r.group == nil {
		return
	}
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopping.Store(true)
		r.mu.Unlock()
		r.cancelSpawn()
		<-r.spawnDone

		handles := r.group.Handles()
		r.logger.Info("stopping users", zap.Int("users", len(handles)))
		for _, h := range handles {
			r.stopUser(h.User())
		}

		if !r.drain(ctx, r.opts.StopTimeout) {
			remaining := r.group.Handles()
			r.logger.Warn("graceful stop timed out, killing remaining users",
				zap.Int("remaining", len(remaining)),
				zap.Duration("stop_timeout", r.opts.StopTimeout))
			for _, h := range remaining {
				h.User().Stop(r.group, true)
			}
		}
		r.group.Close()
		r.engine.SetActiveUsers(0)
	})
}

// stopUser stops u gracefully. A user spawned but not yet in Run ignores a
// graceful stop, so it is killed before it runs anything.
func (r *Runner) stopUser(u *swarm.VirtualUser) {
	for !u.Stop(r.group, false) {
		switch u.State() {
		case swarm.StateUnstarted:
			u.Stop(r.group, true)
			return
		case swarm.StateRunning, swarm.StateWaiting:
			// Entered Run since the last attempt.
			continue
		default:
			return
		}
	}
}

func (r *Runner) drain(ctx context.Context, timeout time.Duration) bool {
	if timeout < 0 {
		timeout = 0
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.group.JoinContext(ctx)
}

// Run starts the population, waits for RunTime, ctx or every user to exit,
// then stops it. The stop is graceful even when ctx is what ended the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.Start(ctx); err != nil {
		return nil, err
	}

	var deadline <-chan time.Time
	if r.opts.RunTime > 0 {
		timer := time.NewTimer(r.opts.RunTime)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
		r.logger.Info("run interrupted")
	case <-deadline:
		r.logger.Info("run time elapsed", zap.Duration("run_time", r.opts.RunTime))
	case <-r.idle:
		r.logger.Info("all users exited")
	}

	r.Stop(context.WithoutCancel(ctx))
	return r.Result(), nil
}

// Result returns the run summary so far.
func (r *Runner) Result() *Result {
	return &Result{
		RunID:    r.runID,
		Started:  r.startTime,
		Duration: time.Since(r.startTime),
		Users:    int(r.spawned.Load()),
		Failed:   int(r.failed.Load()),
		Metrics:  r.engine.Snapshot(),
	}
}
