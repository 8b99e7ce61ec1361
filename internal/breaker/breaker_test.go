package breaker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestBreaker(threshold int, cooldown time.Duration) *Breaker {
	return New(Config{FailureThreshold: threshold, Cooldown: cooldown}, zerolog.Nop())
}

func TestOpensOnThreshold(t *testing.T) {
	b := newTestBreaker(3, time.Hour)

	for i := 0; i < 2; i++ {
		b.RecordFailure("deepl")
		assert.True(t, b.AllowRequest("deepl"))
	}

	b.RecordFailure("deepl")
	assert.Equal(t, StateOpen, b.StateOf("deepl"))
	assert.False(t, b.AllowRequest("deepl"))
}

func TestHalfOpenProbeAfterCooldown(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)

	b.RecordFailure("openai")
	assert.False(t, b.AllowRequest("openai"))

	time.Sleep(30 * time.Millisecond)

	// One probe is admitted and the circuit moves to half_open.
	assert.True(t, b.AllowRequest("openai"))
	assert.Equal(t, StateHalfOpen, b.StateOf("openai"))

	// Probe success closes the circuit.
	b.RecordSuccess("openai")
	assert.Equal(t, StateClosed, b.StateOf("openai"))
	assert.Zero(t, b.Failures("openai"))
}

func TestProbeFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)

	b.RecordFailure("google")
	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.AllowRequest("google"))

	b.RecordFailure("google")
	assert.Equal(t, StateOpen, b.StateOf("google"))
	// Fresh cooldown, still refused immediately after.
	assert.False(t, b.AllowRequest("google"))
}

func TestSuccessAlwaysCloses(t *testing.T) {
	b := newTestBreaker(2, time.Hour)

	b.RecordFailure("libretranslate")
	b.RecordFailure("libretranslate")
	assert.Equal(t, StateOpen, b.StateOf("libretranslate"))

	b.RecordSuccess("libretranslate")
	assert.Equal(t, StateClosed, b.StateOf("libretranslate"))
	assert.True(t, b.AllowRequest("libretranslate"))
}

func TestKeysAreIndependent(t *testing.T) {
	b := newTestBreaker(1, time.Hour)

	b.RecordFailure("deepl")
	assert.False(t, b.AllowRequest("deepl"))
	assert.True(t, b.AllowRequest("openai"))
}

func TestReset(t *testing.T) {
	b := newTestBreaker(1, time.Hour)

	b.RecordFailure("deepl")
	assert.False(t, b.AllowRequest("deepl"))

	b.Reset("deepl")
	assert.True(t, b.AllowRequest("deepl"))
	assert.Equal(t, StateClosed, b.StateOf("deepl"))
}
