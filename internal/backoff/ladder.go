// Package backoff implements the reconnect delay ladder of spec.md
// §4.1: 250ms, 500ms, 1s, 2s, 5s, capped at 10s, with jitter, reset to
// the first delay on success. It satisfies github.com/cenkalti/backoff's
// BackOff interface; the connection machine calls NextBackOff and Reset
// directly from its own reconnect loop rather than through
// backoff.Retry.
package backoff

import (
	"math/rand"
	"sync"
	"time"

	cenkalti "github.com/cenkalti/backoff"
)

var steps = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

const cap_ = 10 * time.Second

// Jitter is the fraction of each delay randomized away, matching the
// "exponential with jitter" wording of spec.md §4.1.
const Jitter = 0.2

// Ladder is a stateful BackOff whose methods are guarded by a mutex, so
// it is safe for concurrent use. The connection machine owns one per
// room.
type Ladder struct {
	mu    sync.Mutex
	index int
	rand  *rand.Rand
}

var _ cenkalti.BackOff = (*Ladder)(nil)

// New returns a Ladder reset to its first step.
func New() *Ladder {
	return &Ladder{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NextBackOff returns the next delay and advances the ladder. It never
// returns cenkalti.Stop — the spec has no terminal backoff state short
// of the connection machine's own `failed` state, which stops calling
// NextBackOff altogether rather than relying on the BackOff to say so.
func (l *Ladder) NextBackOff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	var base time.Duration
	if l.index < len(steps) {
		base = steps[l.index]
	} else {
		base = cap_
	}
	l.index++

	jitter := time.Duration(float64(base) * Jitter * (l.rand.Float64()*2 - 1))
	delay := base + jitter
	if delay > cap_ {
		delay = cap_
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Reset returns the ladder to its first step, per "reset to the first
// delay on any successful open".
func (l *Ladder) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = 0
}
