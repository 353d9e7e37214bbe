package core

import "fmt"

// RoundLimiter caps the model rounds of a single turn. Each tool batch
// triggers one more round. It is owned by the turn's goroutine.
type RoundLimiter struct {
	max   int
	round int
}

// NewRoundLimiter creates a limiter. If max == 0, rounds are unlimited.
func NewRoundLimiter(max int) *RoundLimiter {
	return &RoundLimiter{max: max}
}

// Next starts the next round and returns its 1-based number. It fails once
// more than max rounds were requested.
func (rl *RoundLimiter) Next() (int, error) {
	rl.round++
	if rl.max > 0 && rl.round > rl.max {
		return rl.round, fmt.Errorf("%w: %d rounds", ErrToolRoundLimitReached, rl.max)
	}
	return rl.round, nil
}
