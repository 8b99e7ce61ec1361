// Package breaker implements a per-key circuit breaker for translation
// backends. The breaker decides admission only; callers report outcomes.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the circuit position for one key.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes the breaker.
type Config struct {
	// FailureThreshold opens the circuit after this many consecutive failures.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is admitted.
	Cooldown time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         5 * time.Minute,
	}
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks independent circuits per key. The mutex guards map access
// and state transitions only, never I/O.
type Breaker struct {
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New creates a breaker with the given configuration.
func New(config Config, logger zerolog.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{
		config:   config,
		logger:   logger.With().Str("component", "breaker").Logger(),
		circuits: make(map[string]*circuit),
	}
}

// AllowRequest reports whether a call for key may proceed. In the open state
// one probing call is admitted once the cooldown has elapsed, moving the
// circuit to half_open.
func (b *Breaker) AllowRequest(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.getOrCreate(key)
	switch c.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(c.openedAt) >= b.config.Cooldown {
			c.state = StateHalfOpen
			b.logger.Info().Str("key", key).Msg("Circuit half-open, admitting probe")
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the circuit and zeroes the failure counter.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.getOrCreate(key)
	if c.state != StateClosed {
		b.logger.Info().Str("key", key).Msg("Circuit closed")
	}
	c.state = StateClosed
	c.failures = 0
}

// RecordFailure counts a failure. In closed the circuit opens on threshold;
// in half_open the probe failed and the circuit reopens with a fresh cooldown.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.getOrCreate(key)
	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures >= b.config.FailureThreshold {
			c.state = StateOpen
			c.openedAt = time.Now()
			b.logger.Warn().
				Str("key", key).
				Int("failures", c.failures).
				Msg("Circuit opened")
		}
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = time.Now()
		b.logger.Warn().Str("key", key).Msg("Probe failed, circuit reopened")
	case StateOpen:
		// Late failure from a call admitted before the circuit opened.
		c.openedAt = time.Now()
	}
}

// StateOf returns the current state for a key without mutating it.
func (b *Breaker) StateOf(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return StateClosed
	}
	return c.state
}

// Failures returns the consecutive failure count for a key.
func (b *Breaker) Failures(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return 0
	}
	return c.failures
}

// Reset manually closes the circuit for a key.
func (b *Breaker) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.circuits, key)
	b.logger.Info().Str("key", key).Msg("Circuit reset")
}

// ResetAll clears every circuit, used on configuration reload.
func (b *Breaker) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.circuits = make(map[string]*circuit)
}

func (b *Breaker) getOrCreate(key string) *circuit {
	if c, ok := b.circuits[key]; ok {
		return c
	}
	c := &circuit{state: StateClosed}
	b.circuits[key] = c
	return c
}
