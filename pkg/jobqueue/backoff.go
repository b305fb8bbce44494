package jobqueue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy selects which delay curve a BackoffPolicy computes.
type Strategy int

const (
	Exponential Strategy = iota
	Linear
	Fixed
)

// BackoffPolicy computes the next-retry delay from an attempt number.
// The queue itself produces deterministic values; callers add jitter if
// they want it.
type BackoffPolicy struct {
	Strategy   Strategy
	InitialMs  int64
	MaxMs      int64
	Multiplier float64 // Exponential only, default 2
	IncrementMs int64   // Linear only, default 5000
}

// DefaultExponential is the default exponential curve:
// delay = min(initial * multiplier^(attempt-1), max), initial=1s, mult=2, max=60s.
func DefaultExponential() BackoffPolicy {
	return BackoffPolicy{Strategy: Exponential, InitialMs: 1000, MaxMs: 60_000, Multiplier: 2}
}

// DefaultLinear is the default linear curve: delay = min(increment*attempt, max),
// increment=5s, max=30s.
func DefaultLinear() BackoffPolicy {
	return BackoffPolicy{Strategy: Linear, IncrementMs: 5000, MaxMs: 30_000}
}

// NextDelay computes the delay before the given attempt (1-indexed)
// should be retried.
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Strategy {
	case Exponential:
		return p.exponentialDelay(attempt)
	case Linear:
		return p.linearDelay(attempt)
	default:
		return time.Duration(p.initialMs()) * time.Millisecond
	}
}

// exponentialDelay uses cenkalti/backoff's ExponentialBackOff as the
// curve generator, configured to match the policy's parameters, rather
// than hand-rolling the power computation.
func (p BackoffPolicy) exponentialDelay(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(p.initialMs()) * time.Millisecond
	eb.Multiplier = p.multiplier()
	eb.MaxInterval = time.Duration(p.maxMs()) * time.Millisecond
	eb.RandomizationFactor = 0 // queue produces deterministic values
	eb.Reset()

	// NextBackOff's k-th call returns initial*multiplier^(k-1); calling it
	// attempt times and keeping the last value gives the target
	// initial*multiplier^(attempt-1).
	delay := eb.InitialInterval
	for i := 0; i < attempt; i++ {
		next := eb.NextBackOff()
		if next == backoff.Stop {
			break
		}
		delay = next
	}
	if max := time.Duration(p.maxMs()) * time.Millisecond; delay > max {
		delay = max
	}
	return delay
}

func (p BackoffPolicy) linearDelay(attempt int) time.Duration {
	increment := p.IncrementMs
	if increment <= 0 {
		increment = 5000
	}
	delay := time.Duration(increment*int64(attempt)) * time.Millisecond
	if max := time.Duration(p.maxMs()) * time.Millisecond; delay > max {
		delay = max
	}
	return delay
}

func (p BackoffPolicy) initialMs() int64 {
	if p.InitialMs > 0 {
		return p.InitialMs
	}
	return 1000
}

func (p BackoffPolicy) maxMs() int64 {
	if p.MaxMs > 0 {
		return p.MaxMs
	}
	return 60_000
}

func (p BackoffPolicy) multiplier() float64 {
	if p.Multiplier > 0 {
		return p.Multiplier
	}
	return 2
}
