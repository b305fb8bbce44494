package observer

import (
	"sync"
	"time"

	"github.com/dataview/dataview/pkg/dataerr"
)

// BreakerState is one of the three states a CircuitBreaker cycles
// through, mirroring the enum-plus-mutex shape used for connection
// state elsewhere in this module.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// DegradationLevel is the coarse capacity signal callers use to decide
// whether to skip noncritical work.
type DegradationLevel int

const (
	Normal DegradationLevel = iota
	Degraded
	Critical
)

func (l DegradationLevel) String() string {
	switch l {
	case Degraded:
		return "degraded"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// degradationFor maps a single breaker's state to a capacity level:
// Closed is full capacity, HalfOpen is degraded (probing, not yet
// trusted), Open is critical.
func degradationFor(s BreakerState) DegradationLevel {
	switch s {
	case Open:
		return Critical
	case HalfOpen:
		return Degraded
	default:
		return Normal
	}
}

// BreakerConfig parameterizes a CircuitBreaker: how many recent calls
// it samples, the failure ratio that trips it open, how long it stays
// open before probing again, and how many half-open probes it allows.
type BreakerConfig struct {
	SampleSize       int
	FailureThreshold float64
	OpenTimeout      time.Duration
	HalfOpenMax      int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.SampleSize <= 0 {
		c.SampleSize = 20
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 0.5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 5
	}
	return c
}

// CircuitBreaker is a per-endpoint breaker over a sliding window of the
// last SampleSize outcomes.
type CircuitBreaker struct {
	endpoint string
	cfg      BreakerConfig

	mu               sync.Mutex
	state            BreakerState
	openedAt         time.Time
	window           []bool // ring buffer of recent outcomes, true = success
	halfOpenAttempts int
	halfOpenSuccess  int
}

// NewCircuitBreaker returns a Closed breaker for endpoint.
func NewCircuitBreaker(endpoint string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{endpoint: endpoint, cfg: cfg.withDefaults(), state: Closed}
}

// Allow reports whether a call against the endpoint may proceed,
// transitioning Open→HalfOpen if the open timeout has elapsed. Open
// calls that are not yet eligible for a probe fail fast.
func (b *CircuitBreaker) Allow(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if now.Sub(b.openedAt) < b.cfg.OpenTimeout {
			return &dataerr.CircuitOpenError{
				Error:    dataerr.Error{Op: "observer.CircuitBreaker.Allow", Kind: dataerr.KindCircuitOpen},
				Endpoint: b.endpoint,
			}
		}
		b.state = HalfOpen
		b.halfOpenAttempts = 0
		b.halfOpenSuccess = 0
		fallthrough
	case HalfOpen:
		if b.halfOpenAttempts >= b.cfg.HalfOpenMax {
			return &dataerr.CircuitOpenError{
				Error:    dataerr.Error{Op: "observer.CircuitBreaker.Allow", Kind: dataerr.KindCircuitOpen},
				Endpoint: b.endpoint,
			}
		}
		b.halfOpenAttempts++
		return nil
	}
	return nil
}

// RecordResult registers the outcome of a call that Allow admitted.
func (b *CircuitBreaker) RecordResult(success bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		if success {
			b.halfOpenSuccess++
		}
		if b.halfOpenAttempts < b.cfg.HalfOpenMax {
			return
		}
		ratio := float64(b.halfOpenSuccess) / float64(b.halfOpenAttempts)
		if ratio >= 1-b.cfg.FailureThreshold {
			b.state = Closed
			b.window = nil
		} else {
			b.state = Open
			b.openedAt = now
		}
	default:
		b.window = append(b.window, success)
		if len(b.window) > b.cfg.SampleSize {
			b.window = b.window[len(b.window)-b.cfg.SampleSize:]
		}
		if len(b.window) < b.cfg.SampleSize {
			return
		}
		failures := 0
		for _, ok := range b.window {
			if !ok {
				failures++
			}
		}
		if float64(failures)/float64(len(b.window)) > b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = now
			b.window = nil
		}
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Degradation returns the capacity level implied by the breaker's
// current state.
func (b *CircuitBreaker) Degradation() DegradationLevel {
	return degradationFor(b.State())
}

// DegradationMonitor aggregates multiple breakers into one overall
// capacity signal: the worst level among all tracked breakers.
type DegradationMonitor struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewDegradationMonitor returns an empty monitor.
func NewDegradationMonitor() *DegradationMonitor {
	return &DegradationMonitor{breakers: make(map[string]*CircuitBreaker)}
}

// Track registers b under its endpoint name.
func (m *DegradationMonitor) Track(b *CircuitBreaker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[b.endpoint] = b
}

// Overall returns the worst DegradationLevel across all tracked
// breakers, or Normal if none are tracked.
func (m *DegradationMonitor) Overall() DegradationLevel {
	m.mu.Lock()
	defer m.mu.Unlock()

	worst := Normal
	for _, b := range m.breakers {
		if lvl := b.Degradation(); lvl > worst {
			worst = lvl
		}
	}
	return worst
}
