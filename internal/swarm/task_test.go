package swarm_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/wesleyorama2/swarm/internal/swarm"
)

func noop(ctx context.Context, u *swarm.VirtualUser) error { return nil }

func TestWeightedTaskList_Convergence(t *testing.T) {
	a := swarm.NewTask("a", noop)
	b := swarm.NewTask("b", noop)
	class := &swarm.UserClass{
		Name:  "convergence",
		Tasks: []swarm.TaskEntry{swarm.Weighted(a, 3), swarm.Weighted(b, 1)},
	}

	list, err := swarm.NewResolver().Class(class)
	if err != nil {
		t.Fatalf("Class() error = %v", err)
	}
	if list.TotalWeight() != 4 {
		t.Fatalf("TotalWeight() = %d, want 4", list.TotalWeight())
	}

	rng := rand.New(rand.NewSource(42))
	const draws = 4000
	hitsA := 0
	for i := 0; i < draws; i++ {
		if list.Pick(rng).Task == a {
			hitsA++
		}
	}

	freq := float64(hitsA) / draws
	if freq < 0.70 || freq > 0.80 {
		t.Errorf("frequency of a = %.3f, want 0.75 +/- 0.05", freq)
	}
}

func TestWeightedTaskList_SingleEntry(t *testing.T) {
	only := swarm.NewTask("only", noop)

	for _, weight := range []int{1, 7, 1000} {
		class := &swarm.UserClass{Name: "single", Tasks: []swarm.TaskEntry{swarm.Weighted(only, weight)}}
		list, err := swarm.NewResolver().Class(class)
		if err != nil {
			t.Fatalf("Class() error = %v", err)
		}
		if list.TotalWeight() != weight {
			t.Errorf("TotalWeight() = %d, want %d", list.TotalWeight(), weight)
		}
		for i := 0; i < 200; i++ {
			if got := list.Pick(nil).Task; got != only {
				t.Fatalf("Pick() = %s, want only", got.Name)
			}
		}
	}
}

func TestWeightedTaskList_EntriesIsACopy(t *testing.T) {
	a := swarm.NewTask("a", noop)
	class := &swarm.UserClass{Name: "copy", Tasks: []swarm.TaskEntry{swarm.Weighted(a, 2)}}
	list, err := swarm.NewResolver().Class(class)
	if err != nil {
		t.Fatalf("Class() error = %v", err)
	}

	entries := list.Entries()
	entries[0].Weight = 100

	if got := list.Entries()[0].Weight; got != 2 {
		t.Errorf("resolved weight = %d after mutating a copy, want 2", got)
	}
}
