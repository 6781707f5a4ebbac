// Package algorithms holds the retry delay schedules used by pool.Retry.
package algorithms

import (
	"math/rand"
	"sync"
	"time"
)

// maxShift keeps 1<<n from overflowing a time.Duration multiplier.
const maxShift = 62

// Kind selects a delay schedule.
type Kind int

const (
	// Constant waits the initial delay before every retry.
	Constant Kind = iota
	// Exponential doubles the delay on every retry.
	Exponential
	// Jittered is Exponential with a random ±factor spread.
	Jittered
	// Decorrelated picks a random delay between the initial delay and three
	// times the previous one.
	Decorrelated
)

func (k Kind) String() string {
	switch k {
	case Constant:
		return "constant"
	case Exponential:
		return "exponential"
	case Jittered:
		return "jittered"
	case Decorrelated:
		return "decorrelated"
	default:
		return "unknown"
	}
}

// ParseKind maps a config string to a Kind. ok is false for unknown names.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "", "constant":
		return Constant, true
	case "exponential":
		return Exponential, true
	case "jittered":
		return Jittered, true
	case "decorrelated":
		return Decorrelated, true
	}
	return Constant, false
}

// Backoff returns the wait before a retry.
// retry is 0-indexed: 0 is the wait after the first failed attempt.
// Stateful schedules restart when asked for retry 0.
type Backoff interface {
	Delay(retry int) time.Duration
}

// New builds the schedule for kind. maxDelay <= 0 means no cap.
// jitter is clamped to [0, 1] and only used by Jittered.
func New(kind Kind, initial, maxDelay time.Duration, jitter float64) Backoff {
	if maxDelay <= 0 {
		maxDelay = time.Duration(1<<63 - 1)
	}
	initial = max(initial, 0)

	switch kind {
	case Exponential:
		return exponential{initial: initial, max: maxDelay}
	case Jittered:
		return &jittered{
			exponential: exponential{initial: initial, max: maxDelay},
			factor:      clamp(jitter, 0, 1),
			rng:         rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter does not need crypto rand
		}
	case Decorrelated:
		return &decorrelated{
			initial: initial,
			max:     maxDelay,
			prev:    initial,
			rng:     rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter does not need crypto rand
		}
	default:
		return constant{delay: min(initial, maxDelay)}
	}
}

type constant struct {
	delay time.Duration
}

func (c constant) Delay(retry int) time.Duration {
	if retry < 0 {
		return 0
	}
	return c.delay
}

type exponential struct {
	initial, max time.Duration
}

// Delay is initial * 2^retry, capped at max.
func (e exponential) Delay(retry int) time.Duration {
	if retry < 0 {
		return 0
	}
	if retry >= maxShift {
		return e.max
	}

	factor := time.Duration(int64(1) << uint(retry))
	if e.initial > e.max/factor {
		return e.max
	}
	return factor * e.initial
}

type jittered struct {
	exponential
	factor float64

	mu  sync.Mutex
	rng *rand.Rand
}

func (j *jittered) Delay(retry int) time.Duration {
	if retry < 0 {
		return 0
	}
	base := j.exponential.Delay(retry)

	j.mu.Lock()
	spread := 1 + (j.rng.Float64()*2-1)*j.factor
	j.mu.Unlock()

	// clamp before converting: a base near MaxInt64 times spread > 1 does
	// not fit in a Duration
	d := float64(base) * spread
	if d >= float64(j.max) {
		return j.max
	}
	return max(time.Duration(d), 0)
}

type decorrelated struct {
	initial, max time.Duration

	mu   sync.Mutex
	prev time.Duration
	rng  *rand.Rand
}

// Delay is random(initial, prev*3), capped at max. The first retry always
// waits the initial delay.
func (d *decorrelated) Delay(retry int) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if retry <= 0 {
		d.prev = d.initial
		return d.initial
	}

	upper := d.max
	if d.prev <= d.max/3 {
		upper = d.prev * 3
	}
	span := upper - d.initial
	if span <= 0 {
		d.prev = d.initial
		return d.initial
	}

	next := d.initial + time.Duration(d.rng.Int63n(int64(span)))
	d.prev = next
	return next
}

func clamp[T ~int64 | ~float64](v, lo, hi T) T {
	return max(lo, min(v, hi))
}
