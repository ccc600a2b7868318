package core

import (
	"fmt"
	"sync"
)

// StepLimiter enforces the hard step budget of one turn. Every reasoning
// pass increments it; exceeding the budget terminates the turn with a
// "could not complete" answer instead of looping forever.
type StepLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewStepLimiter creates a limiter allowing max steps. If max == 0,
// unlimited steps are allowed.
func NewStepLimiter(max int) *StepLimiter {
	return &StepLimiter{max: max}
}

// Increment increases the step counter and returns ErrStepLimit (wrapped)
// once the budget is exhausted.
func (sl *StepLimiter) Increment() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.count++
	if sl.max > 0 && sl.count > sl.max {
		return fmt.Errorf("%w: %d steps", ErrStepLimit, sl.max)
	}

	return nil
}

// Count returns the number of steps taken so far.
func (sl *StepLimiter) Count() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.count
}

// Remaining returns how many steps are left, or -1 when unlimited.
func (sl *StepLimiter) Remaining() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.max == 0 {
		return -1
	}

	return sl.max - sl.count
}
