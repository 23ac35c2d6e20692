package swarm

import "context"

// StartGated starts u in g like Start, but its goroutine blocks on gate
// before entering Run.
func StartGated(u *VirtualUser, g *Group, gate <-chan struct{}) *Handle {
	u.started.Store(true)
	h := g.Spawn(func(ctx context.Context, u *VirtualUser) error {
		<-gate
		return u.Run(ctx)
	}, u)
	u.handle.Store(h)
	return h
}
