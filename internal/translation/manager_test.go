package translation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublarr/sublarr/internal/breaker"
	"github.com/sublarr/sublarr/internal/database"
	"github.com/sublarr/sublarr/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()

	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	st := store.New(db.Conn(), zerolog.Nop())
	brk := breaker.New(breaker.Config{FailureThreshold: 3, Cooldown: 50 * time.Millisecond}, zerolog.Nop())
	return NewManager(st, brk, zerolog.Nop()), st
}

func TestTranslateFallsBackOnFailure(t *testing.T) {
	m, _ := newTestManager(t)

	broken := NewMockBackend("broken")
	broken.Err = errors.New("boom")
	working := NewMockBackend("working")
	m.Register(broken)
	m.Register(working)

	result := m.Translate(context.Background(), []string{"hello", "world"}, "en", "de", []string{"broken", "working"}, nil)
	require.True(t, result.Success)
	assert.Equal(t, "working", result.Backend)
	assert.Equal(t, []string{"de:hello", "de:world"}, result.Lines)
	assert.Equal(t, 1, broken.Calls())
}

func TestTranslateOpenCircuitSkipsBackend(t *testing.T) {
	m, _ := newTestManager(t)

	flaky := NewMockBackend("flaky")
	flaky.Err = errors.New("down")
	backup := NewMockBackend("backup")
	m.Register(flaky)
	m.Register(backup)

	chain := []string{"flaky", "backup"}
	for i := 0; i < 3; i++ {
		m.Translate(context.Background(), []string{"line"}, "en", "de", chain, nil)
	}
	require.Equal(t, breaker.StateOpen, m.BreakerState("flaky"))

	calls := flaky.Calls()
	result := m.Translate(context.Background(), []string{"another"}, "en", "de", chain, nil)
	require.True(t, result.Success)
	assert.Equal(t, "backup", result.Backend)
	assert.Equal(t, calls, flaky.Calls(), "open circuit must not reach the backend")
}

func TestTranslateAllBackendsFail(t *testing.T) {
	m, _ := newTestManager(t)

	a := NewMockBackend("a")
	a.Err = errors.New("first down")
	b := NewMockBackend("b")
	b.Err = errors.New("second down")
	m.Register(a)
	m.Register(b)

	result := m.Translate(context.Background(), []string{"line"}, "en", "de", []string{"a", "b"}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "second down")
}

func TestTranslateMemoryHit(t *testing.T) {
	m, _ := newTestManager(t)

	backend := NewMockBackend("primary")
	m.Register(backend)
	chain := []string{"primary"}

	first := m.Translate(context.Background(), []string{"Hello there"}, "en", "de", chain, nil)
	require.True(t, first.Success)
	assert.Zero(t, first.MemoryHits)
	require.Equal(t, 1, backend.Calls())

	// Same line with different spacing hits the cache without a request.
	second := m.Translate(context.Background(), []string{"hello   THERE"}, "en", "de", chain, nil)
	require.True(t, second.Success)
	assert.Equal(t, 1, second.MemoryHits)
	assert.Equal(t, []string{"de:Hello there"}, second.Lines)
	assert.Equal(t, 1, backend.Calls())
	assert.Equal(t, "memory", second.Backend)
}

func TestTranslateEmptyAndBlankLines(t *testing.T) {
	m, _ := newTestManager(t)
	backend := NewMockBackend("only")
	m.Register(backend)

	result := m.Translate(context.Background(), nil, "en", "de", []string{"only"}, nil)
	require.True(t, result.Success)
	assert.Empty(t, result.Lines)
	assert.Zero(t, backend.Calls())

	result = m.Translate(context.Background(), []string{"", "  ", "text"}, "en", "de", []string{"only"}, nil)
	require.True(t, result.Success)
	assert.Equal(t, []string{"", "  ", "de:text"}, result.Lines)
	assert.Equal(t, []string{"text"}, backend.LastLines(), "blank lines stay local")
}

func TestTranslateChunksToBatchLimit(t *testing.T) {
	m, _ := newTestManager(t)
	backend := NewMockBackend("small")
	backend.MaxBatch = 2
	m.Register(backend)

	lines := []string{"one", "two", "three", "four", "five"}
	result := m.Translate(context.Background(), lines, "en", "de", []string{"small"}, nil)
	require.True(t, result.Success)
	require.Len(t, result.Lines, 5)
	assert.Equal(t, 3, backend.Calls())
	assert.Equal(t, "de:five", result.Lines[4])
}

func TestTranslateRejectsShortBackendReply(t *testing.T) {
	m, _ := newTestManager(t)
	short := NewMockBackend("short")
	short.TranslateFn = func(lines []string, _, _ string, _ []Term) ([]string, error) {
		return lines[:1], nil
	}
	m.Register(short)

	result := m.Translate(context.Background(), []string{"one", "two"}, "en", "de", []string{"short"}, nil)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "1 lines for 2 inputs")
}

func TestConfigHash(t *testing.T) {
	m, _ := newTestManager(t)

	a := NewMockBackend("a")
	a.FingerprintValue = "svc|model-1|prompt-1"
	m.Register(a)

	chain := []string{"a"}
	base := m.ConfigHash(chain, "de", nil)
	assert.NotEmpty(t, base)
	assert.Equal(t, base, m.ConfigHash(chain, "de", nil), "same inputs must hash the same")

	// A different target language changes the hash.
	assert.NotEqual(t, base, m.ConfigHash(chain, "fr", nil))

	// Glossary terms change the hash.
	withTerms := m.ConfigHash(chain, "de", []Term{{Source: "Captain", Target: "Kapitän"}})
	assert.NotEqual(t, base, withTerms)

	// A model swap on the backend changes its fingerprint, and the hash.
	a.FingerprintValue = "svc|model-2|prompt-1"
	assert.NotEqual(t, base, m.ConfigHash(chain, "de", nil))

	// Unregistered chain entries still contribute by name.
	assert.NotEqual(t, base, m.ConfigHash([]string{"a", "ghost"}, "de", nil))
}

func TestTranslateNoChain(t *testing.T) {
	m, _ := newTestManager(t)

	result := m.Translate(context.Background(), []string{"line"}, "en", "de", nil, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no translation backends")
}

func TestTranslateRecordsBackendStats(t *testing.T) {
	m, st := newTestManager(t)
	backend := NewMockBackend("tracked")
	m.Register(backend)

	result := m.Translate(context.Background(), []string{"hello"}, "en", "de", []string{"tracked"}, nil)
	require.True(t, result.Success)

	stats, err := st.GetBackendStats(context.Background(), "tracked")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
	assert.Equal(t, int64(5), stats.TotalCharacters)
}

func TestEvaluateQuality(t *testing.T) {
	m, _ := newTestManager(t)

	plain := NewMockBackend("plain")
	eval := NewMockEvaluator("rated")
	eval.EvalScore = 88
	m.Register(plain)
	m.Register(eval)

	// First evaluation-capable backend in the chain wins.
	score := m.EvaluateQuality(context.Background(), "hello", "hallo", "en", "de", []string{"plain", "rated"})
	assert.Equal(t, 88, score)

	// Evaluation errors fall back to the neutral default.
	eval.EvalErr = errors.New("model offline")
	score = m.EvaluateQuality(context.Background(), "hello", "hallo", "en", "de", []string{"rated"})
	assert.Equal(t, 50, score)

	// No evaluator in the chain at all.
	score = m.EvaluateQuality(context.Background(), "hello", "hallo", "en", "de", []string{"plain"})
	assert.Equal(t, 50, score)
}

func TestValidateOutput(t *testing.T) {
	input := []string{"one", "two", "three"}

	ok, _ := ValidateOutput(input, []string{"eins", "zwei", "drei"})
	assert.True(t, ok)

	ok, reason := ValidateOutput(input, []string{"eins", "zwei"})
	assert.False(t, ok)
	assert.Equal(t, "line count mismatch", reason)

	ok, reason = ValidateOutput(input, []string{strings.Repeat("x", 100), "zwei", "drei"})
	assert.False(t, ok)
	assert.Equal(t, "output too long", reason)

	ok, reason = ValidateOutput(input, []string{"eins", "", ""})
	assert.False(t, ok)
	assert.Equal(t, "too many empty lines", reason)
}

func TestParseNumberedReply(t *testing.T) {
	out, err := parseNumberedReply("1. eins\n2: zwei\n\n3. drei", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"eins", "zwei", "drei"}, out)

	_, err = parseNumberedReply("1. eins", 2)
	assert.Error(t, err)
}

func TestParseScore(t *testing.T) {
	score, err := parseScore("Score: 85/100")
	require.NoError(t, err)
	assert.Equal(t, 85, score)

	_, err = parseScore("no digits here")
	assert.Error(t, err)
}
