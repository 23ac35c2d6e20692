package runner

import (
	"sort"

	"github.com/wesleyorama2/swarm/internal/swarm"
)

// Distribute splits users across classes in proportion to their weights.
//
// Shares are rounded down and the users left over go to the classes with
// the largest remainders, earlier classes first on ties, so the counts
// always add up to users.
func Distribute(classes []*swarm.UserClass, users int) []int {
	counts := make([]int, len(classes))
	if len(classes) == 0 || users <= 0 {
		return counts
	}

	total := 0
	for _, c := range classes {
		total += c.EffectiveWeight()
	}

	type share struct {
		index     int
		remainder int
	}
	shares := make([]share, len(classes))
	assigned := 0
	for i, c := range classes {
		exact := users * c.EffectiveWeight()
		counts[i] = exact / total
		assigned += counts[i]
		shares[i] = share{index: i, remainder: exact % total}
	}

	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].remainder > shares[j].remainder
	})
	for i := 0; assigned < users; i++ {
		counts[shares[i%len(shares)].index]++
		assigned++
	}
	return counts
}

// spawnOrder interleaves class indexes round-robin so a partially spawned
// population keeps the configured mix.
func spawnOrder(counts []int) []int {
	remaining := make([]int, len(counts))
	copy(remaining, counts)

	var order []int
	for {
		added := false
		for i := range remaining {
			if remaining[i] > 0 {
				order = append(order, i)
				remaining[i]--
				added = true
			}
		}
		if !added {
			return order
		}
	}
}
