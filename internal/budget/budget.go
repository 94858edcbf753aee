// Package budget implements RetryBudget (spec §4.5, component C5): a
// per-fingerprint retry counter with exponential eligibility spacing, plus
// the two global caps (max iterations, max wall clock) that end the
// orchestrator's loop with Stop:Budget.
package budget

import (
	"sync"
	"time"
)

const (
	defaultMaxRetries   = 5
	defaultBase         = 30 * time.Second
	defaultStepCap      = 10 * time.Minute
	defaultMaxIterations = 50
	defaultMaxWallClock  = 2 * time.Hour
)

// entry tracks one fingerprint's retry state.
type entry struct {
	attempts      int
	lastAttemptAt time.Time
	exhausted     bool
}

// Options configures a Budget. Zero values fall back to the spec defaults.
type Options struct {
	MaxRetries   int
	Base         time.Duration
	StepCap      time.Duration
	MaxIterations int
	MaxWallClock  time.Duration
}

// Budget is the orchestrator's owned RetryBudget instance. Safe for use
// from a single goroutine (the orchestrator never calls it concurrently).
type Budget struct {
	mu sync.Mutex

	maxRetries    int
	base          time.Duration
	stepCap       time.Duration
	maxIterations int
	maxWallClock  time.Duration

	entries    map[string]*entry
	startedAt  time.Time
	iterations int

	// now is overridden in tests.
	now func() time.Time
}

// New creates a Budget, starting its wall-clock from the current time.
func New(opts Options) *Budget {
	b := &Budget{
		maxRetries:    opts.MaxRetries,
		base:          opts.Base,
		stepCap:       opts.StepCap,
		maxIterations: opts.MaxIterations,
		maxWallClock:  opts.MaxWallClock,
		entries:       make(map[string]*entry),
		now:           time.Now,
	}
	if b.maxRetries <= 0 {
		b.maxRetries = defaultMaxRetries
	}
	if b.base <= 0 {
		b.base = defaultBase
	}
	if b.stepCap <= 0 {
		b.stepCap = defaultStepCap
	}
	if b.maxIterations <= 0 {
		b.maxIterations = defaultMaxIterations
	}
	if b.maxWallClock <= 0 {
		b.maxWallClock = defaultMaxWallClock
	}
	b.startedAt = b.now()
	return b
}

// EligibleNow reports whether fingerprint may be retried right now: it has
// never been attempted, or enough time has elapsed since its last attempt
// per the exponential spacing formula, and it has not hit maxRetries.
func (b *Budget) EligibleNow(fingerprint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[fingerprint]
	if !ok || e.attempts == 0 {
		return true
	}
	if e.exhausted {
		return false
	}
	return !b.now().Before(e.lastAttemptAt.Add(b.spacing(e.attempts)))
}

// Exhausted reports whether fingerprint has hit maxRetries.
func (b *Budget) Exhausted(fingerprint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[fingerprint]
	return ok && e.exhausted
}

// RecordAttempt increments fingerprint's retry counter regardless of the
// fixer's outcome (spec §4.6 step 6), marking it Exhausted once the cap is
// reached.
func (b *Budget) RecordAttempt(fingerprint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[fingerprint]
	if !ok {
		e = &entry{}
		b.entries[fingerprint] = e
	}
	e.attempts++
	e.lastAttemptAt = b.now()
	if e.attempts >= b.maxRetries {
		e.exhausted = true
	}
}

// spacing returns the eligibility delay before the (attempts+1)-th retry:
// base * 2^(attempts-1), capped at stepCap.
func (b *Budget) spacing(attempts int) time.Duration {
	d := b.base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.stepCap {
			return b.stepCap
		}
	}
	if d > b.stepCap {
		d = b.stepCap
	}
	return d
}

// AdvanceIteration records the completion of one orchestrator tick.
func (b *Budget) AdvanceIteration() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.iterations++
}

// Exceeded reports whether either global cap (maxIterations, maxWallClock)
// has been reached, meaning the orchestrator must stop with Stop:Budget.
func (b *Budget) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.iterations >= b.maxIterations {
		return true
	}
	return b.now().Sub(b.startedAt) >= b.maxWallClock
}

// Iterations returns the number of completed ticks.
func (b *Budget) Iterations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.iterations
}
