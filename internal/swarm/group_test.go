package swarm_test

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/swarm/internal/swarm"
)

func TestGroup_SpawnAndDone(t *testing.T) {
	g := swarm.NewGroup(context.Background())
	defer g.Close()

	boom := errors.New("boom")
	h := g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error {
		return boom
	}, nil)

	waitDone(t, h)
	if !errors.Is(h.Err(), boom) {
		t.Errorf("Err() = %v, want %v", h.Err(), boom)
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after exit", g.Len())
	}
	if g.Terminate(h) {
		t.Error("Terminate() on an ended context = true, want false")
	}
}

func TestGroup_TerminateIsIdempotent(t *testing.T) {
	g := swarm.NewGroup(context.Background())
	defer g.Close()

	h := g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error {
		<-ctx.Done()
		return nil
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Terminate(h)
		}()
	}
	wg.Wait()
	waitDone(t, h)

	if err := h.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestGroup_RecoversPanics(t *testing.T) {
	g := swarm.NewGroup(context.Background())
	defer g.Close()

	var other atomic.Bool
	survivor := g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error {
		<-ctx.Done()
		other.Store(true)
		return nil
	}, nil)

	h := g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error {
		panic("kaboom")
	}, nil)
	waitDone(t, h)

	if h.Err() == nil || !strings.Contains(h.Err().Error(), "kaboom") {
		t.Errorf("Err() = %v, want panic error", h.Err())
	}
	if other.Load() {
		t.Error("panic in one context ended another")
	}

	g.Terminate(survivor)
	waitDone(t, survivor)
}

func TestGroup_ExitHook(t *testing.T) {
	var exited, failed atomic.Int32
	g := swarm.NewGroup(context.Background(), swarm.WithExitHook(func(h *swarm.Handle, err error) {
		exited.Add(1)
		if err != nil {
			failed.Add(1)
		}
	}))
	defer g.Close()

	handles := make([]*swarm.Handle, 3)
	for i := range handles {
		fail := i == 0
		handles[i] = g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error {
			if fail {
				return errors.New("boom")
			}
			return nil
		}, nil)
	}
	for _, h := range handles {
		waitDone(t, h)
	}

	if got := exited.Load(); got != 3 {
		t.Errorf("exit hook ran %d times, want 3", got)
	}
	if got := failed.Load(); got != 1 {
		t.Errorf("exit hook saw %d errors, want 1", got)
	}
}

func TestGroup_KillAllAndJoin(t *testing.T) {
	g := swarm.NewGroup(context.Background())
	defer g.Close()

	for i := 0; i < 5; i++ {
		g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error {
			<-ctx.Done()
			return nil
		}, nil)
	}
	if got := g.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
	if g.Join(10 * time.Millisecond) {
		t.Error("Join() = true with live contexts, want false")
	}

	g.KillAll()
	if !g.Join(2 * time.Second) {
		t.Fatal("Join() after KillAll = false, want true")
	}
	if got := g.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestGroup_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := swarm.NewGroup(ctx)
	defer g.Close()

	h := g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	cancel()
	waitDone(t, h)
	if !errors.Is(h.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", h.Err())
	}
}

func TestGroup_JoinContextWaitsForRespawns(t *testing.T) {
	var respawned atomic.Bool
	release := make(chan struct{})

	var g *swarm.Group
	g = swarm.NewGroup(context.Background(), swarm.WithExitHook(func(h *swarm.Handle, err error) {
		if respawned.CompareAndSwap(false, true) {
			g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error {
				<-release
				return nil
			}, nil)
		}
	}))
	defer g.Close()

	g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error { return nil }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if g.JoinContext(ctx) {
		t.Fatal("JoinContext() = true while a respawned context runs, want false")
	}

	close(release)
	if !g.Join(2 * time.Second) {
		t.Fatal("Join() = false after release, want true")
	}
	if !respawned.Load() {
		t.Error("exit hook did not respawn")
	}
}

func TestGroup_JoinTimeoutLeavesNoGoroutines(t *testing.T) {
	g := swarm.NewGroup(context.Background())
	defer g.Close()

	g.Spawn(func(ctx context.Context, u *swarm.VirtualUser) error {
		<-ctx.Done()
		return nil
	}, nil)

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		if g.Join(time.Millisecond) {
			t.Fatal("Join() = true with a live context, want false")
		}
	}
	if after := runtime.NumGoroutine(); after > before+5 {
		t.Errorf("goroutines grew from %d to %d across timed-out joins", before, after)
	}
}

func TestGroup_JoinEmpty(t *testing.T) {
	g := swarm.NewGroup(context.Background())
	defer g.Close()

	if !g.Join(0) {
		t.Error("Join(0) on an empty group = false, want true")
	}
}
