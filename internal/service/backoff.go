package service

import (
	"math"
	"sync"
	"time"
)

// Backoff suppresses adapters whose executable could not be spawned.
// Each consecutive spawn failure doubles the suppression window up to
// MaxDelay; a success resets it.
type Backoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	mu    sync.Mutex
	state map[string]*backoffState
	now   func() time.Time
}

type backoffState struct {
	failures int
	until    time.Time
}

// BackoffOption configures a Backoff.
type BackoffOption func(*Backoff)

// WithBaseDelay sets the first suppression window.
func WithBaseDelay(d time.Duration) BackoffOption {
	return func(b *Backoff) {
		b.BaseDelay = d
	}
}

// WithMaxDelay caps the suppression window.
func WithMaxDelay(d time.Duration) BackoffOption {
	return func(b *Backoff) {
		b.MaxDelay = d
	}
}

// WithMultiplier sets the exponential factor.
func WithMultiplier(m float64) BackoffOption {
	return func(b *Backoff) {
		b.Multiplier = m
	}
}

// NewBackoff creates a backoff tracker. Defaults: 1s base, 5m cap, factor 2.
func NewBackoff(opts ...BackoffOption) *Backoff {
	b := &Backoff{
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Minute,
		Multiplier: 2.0,
		state:      make(map[string]*backoffState),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.MaxDelay < b.BaseDelay {
		b.MaxDelay = b.BaseDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	return b
}

// CalculateDelay computes the window after the given number of consecutive
// failures.
func (b *Backoff) CalculateDelay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	// baseDelay * multiplier^(failures-1), capped
	delay := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(failures-1))
	if delay > float64(b.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(b.MaxDelay)
	}
	return time.Duration(delay)
}

// RecordFailure registers a spawn failure and returns the new window.
func (b *Backoff) RecordFailure(adapter string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[adapter]
	if !ok {
		st = &backoffState{}
		b.state[adapter] = st
	}
	st.failures++
	delay := b.CalculateDelay(st.failures)
	st.until = b.now().Add(delay)
	return delay
}

// Suppressed reports whether adapter is inside its window and when the
// window ends.
func (b *Backoff) Suppressed(adapter string) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[adapter]
	if !ok || !b.now().Before(st.until) {
		return false, time.Time{}
	}
	return true, st.until
}

// Failures returns the consecutive spawn failure count of adapter.
func (b *Backoff) Failures(adapter string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.state[adapter]; ok {
		return st.failures
	}
	return 0
}

// Reset clears adapter's state.
func (b *Backoff) Reset(adapter string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, adapter)
}
