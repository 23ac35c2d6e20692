package swarm

import (
	"math/rand"
	"time"
)

// WaitTimeFunc returns how long a user sleeps between two tasks.
// Any function works as a custom policy; negative results are treated as zero.
type WaitTimeFunc func() time.Duration

// Constant waits the same duration every time.
func Constant(d time.Duration) WaitTimeFunc {
	return func() time.Duration {
		return d
	}
}

// Between waits a uniformly random duration in [min, max].
func Between(min, max time.Duration) WaitTimeFunc {
	if max < min {
		min, max = max, min
	}
	return func() time.Duration {
		diff := max - min
		if diff <= 0 {
			return min
		}
		return min + time.Duration(rand.Int63n(int64(diff)+1))
	}
}

// NoWait makes users pick their next task immediately.
func NoWait() WaitTimeFunc {
	return Constant(0)
}
