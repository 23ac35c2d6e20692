package swarm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EntryFunc is the function an execution context runs for its user.
type EntryFunc func(ctx context.Context, u *VirtualUser) error

// Handle identifies one execution context spawned by a Group.
type Handle struct {
	id     uint64
	user   *VirtualUser
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ID returns the handle's identifier within its group.
func (h *Handle) ID() uint64 {
	return h.id
}

// User returns the user running in this context.
func (h *Handle) User() *VirtualUser {
	return h.user
}

// Done is closed when the context's goroutine has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the error the entry function ended with. It is only valid
// after Done is closed; termination signals yield nil.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Group hosts the goroutines of many virtual users.
//
// It keeps a registry of live execution contexts so any goroutine can
// terminate any user. Group is safe for concurrent use.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handles map[uint64]*Handle
	running int
	drained chan struct{} // closed while running is zero
	nextID  atomic.Uint64
	wg      sync.WaitGroup

	logger *zap.Logger
	onExit func(*Handle, error)
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithGroupLogger sets the group's logger.
func WithGroupLogger(l *zap.Logger) GroupOption {
	return func(g *Group) {
		g.logger = l
	}
}

// WithExitHook registers fn to be called, from the exiting goroutine, after
// each execution context ends and before its Done channel is closed. err is
// the value Err will report.
func WithExitHook(fn func(h *Handle, err error)) GroupOption {
	return func(g *Group) {
		g.onExit = fn
	}
}

// NewGroup creates a group whose contexts derive from parent. Cancelling
// parent terminates every user in the group.
func NewGroup(parent context.Context, options ...GroupOption) *Group {
	ctx, cancel := context.WithCancel(parent)
	g := &Group{
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[uint64]*Handle),
		drained: make(chan struct{}),
		logger:  zap.NewNop(),
	}
	close(g.drained)
	for _, option := range options {
		option(g)
	}
	return g
}

// Spawn starts a goroutine running entry(ctx, u) and returns its handle.
func (g *Group) Spawn(entry EntryFunc, u *VirtualUser) *Handle {
	ctx, cancel := context.WithCancel(g.ctx)
	h := &Handle{
		id:     g.nextID.Add(1),
		user:   u,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	g.mu.Lock()
	g.handles[h.id] = h
	if g.running == 0 {
		g.drained = make(chan struct{})
	}
	g.running++
	g.mu.Unlock()

	g.wg.Add(1)
	go g.run(ctx, h, entry)
	return h
}

func (g *Group) run(ctx context.Context, h *Handle, entry EntryFunc) {
	defer g.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			h.err = fmt.Errorf("swarm: execution context %d panicked: %v", h.id, r)
		}
		h.cancel()

		g.mu.Lock()
		delete(g.handles, h.id)
		g.mu.Unlock()

		if h.err != nil {
			g.logger.Debug("execution context ended with error", zap.Uint64("handle", h.id), zap.Error(h.err))
		}
		if g.onExit != nil {
			g.onExit(h, h.err)
		}
		close(h.done)

		g.mu.Lock()
		g.running--
		if g.running == 0 {
			close(g.drained)
		}
		g.mu.Unlock()
	}()

	h.err = entry(ctx, h.user)
}

// Terminate cancels the identified context, unblocking it from whatever it
// is waiting on. It reports false, and does nothing, if the context has
// already ended or does not belong to this group.
func (g *Group) Terminate(h *Handle) bool {
	if h == nil {
		return false
	}

	g.mu.Lock()
	_, live := g.handles[h.id]
	g.mu.Unlock()

	if !live {
		return false
	}
	h.cancel()
	return true
}

// KillAll terminates every live context in the group.
func (g *Group) KillAll() {
	for _, h := range g.Handles() {
		h.cancel()
	}
}

// Handles returns a snapshot of the live contexts.
func (g *Group) Handles() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Handle, 0, len(g.handles))
	for _, h := range g.handles {
		out = append(out, h)
	}
	return out
}

// Len returns the number of live contexts.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// Join waits for every context to end, up to timeout. It reports whether
// the group drained in time.
func (g *Group) Join(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.JoinContext(ctx)
}

// JoinContext waits until every context has ended or ctx is done. It reports
// whether the group drained. Contexts spawned while it waits, for instance
// from an exit hook, are waited for too.
func (g *Group) JoinContext(ctx context.Context) bool {
	for {
		g.mu.Lock()
		idle := g.running == 0
		drained := g.drained
		g.mu.Unlock()
		if idle {
			return true
		}

		select {
		case <-drained:
		case <-ctx.Done():
			return false
		}
	}
}

// Close terminates all contexts and waits for them to end.
func (g *Group) Close() {
	g.cancel()
	g.wg.Wait()
}
