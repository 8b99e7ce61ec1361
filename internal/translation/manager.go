package translation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/breaker"
	"github.com/sublarr/sublarr/internal/store"
)

// Manager runs translations through a fallback chain of backends. Each
// backend has its own circuit; an open circuit skips the backend until its
// cooldown elapses.
type Manager struct {
	store   *store.Store
	breaker *breaker.Breaker
	logger  zerolog.Logger

	mu            sync.RWMutex
	backends      map[string]Backend
	memoryEnabled bool
}

// NewManager creates a backend manager with translation memory enabled.
func NewManager(st *store.Store, brk *breaker.Breaker, logger zerolog.Logger) *Manager {
	return &Manager{
		store:         st,
		breaker:       brk,
		logger:        logger.With().Str("component", "translation").Logger(),
		backends:      make(map[string]Backend),
		memoryEnabled: true,
	}
}

// SetMemoryEnabled toggles the translation-memory cache.
func (m *Manager) SetMemoryEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoryEnabled = enabled
}

// Register adds or replaces a backend.
func (m *Manager) Register(b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[b.Name()] = b
	m.logger.Debug().Str("backend", b.Name()).Msg("Registered translation backend")
}

// Unregister removes a backend.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backends, name)
}

// Get returns a registered backend by name.
func (m *Manager) Get(name string) (Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[name]
	return b, ok
}

// Names returns the registered backend names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigHash fingerprints everything that can change the text of a
// translation: the chain's backend fingerprints in order, the target
// language, and the glossary terms. Completed jobs store it; re-translation
// compares stored hashes against the current one.
func (m *Manager) ConfigHash(chain []string, targetLang string, glossary []Term) string {
	h := sha256.New()
	for _, name := range chain {
		if b, ok := m.Get(name); ok {
			io.WriteString(h, b.Fingerprint())
		} else {
			io.WriteString(h, name)
		}
		io.WriteString(h, "\n")
	}
	io.WriteString(h, targetLang)
	for _, term := range glossary {
		io.WriteString(h, "\n"+term.Source+"="+term.Target)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BreakerState reports the circuit state for a backend.
func (m *Manager) BreakerState(name string) breaker.State {
	return m.breaker.StateOf(name)
}

// ResetBreaker force-closes a backend's circuit.
func (m *Manager) ResetBreaker(name string) {
	m.breaker.Reset(name)
}

// Translate runs lines through the fallback chain. Translation-memory hits
// are served without contacting any backend; only misses are sent out. The
// returned Result always has Success set; errors never escape.
func (m *Manager) Translate(ctx context.Context, lines []string, sourceLang, targetLang string, chain []string, glossary []Term) *Result {
	if len(lines) == 0 {
		return &Result{Success: true, Lines: []string{}}
	}

	out := make([]string, len(lines))
	missIdx := make([]int, 0, len(lines))
	missLines := make([]string, 0, len(lines))
	hits := 0

	if m.memoryLookup(ctx) {
		for i, line := range lines {
			if strings.TrimSpace(line) == "" {
				out[i] = line
				continue
			}
			if entry, err := m.store.LookupMemory(ctx, sourceLang, targetLang, line); err == nil {
				out[i] = entry.TargetText
				hits++
				continue
			}
			missIdx = append(missIdx, i)
			missLines = append(missLines, line)
		}
	} else {
		for i, line := range lines {
			if strings.TrimSpace(line) == "" {
				out[i] = line
				continue
			}
			missIdx = append(missIdx, i)
			missLines = append(missLines, line)
		}
	}

	if len(missLines) == 0 {
		return &Result{Success: true, Lines: out, MemoryHits: hits, Backend: "memory"}
	}

	translated, backendName, chars, err := m.translateChain(ctx, missLines, sourceLang, targetLang, chain, glossary)
	if err != nil {
		return &Result{Success: false, MemoryHits: hits, Error: err.Error()}
	}

	for j, idx := range missIdx {
		out[idx] = translated[j]
	}
	if m.memoryLookup(ctx) {
		for j, idx := range missIdx {
			if strings.TrimSpace(translated[j]) == "" {
				continue
			}
			if err := m.store.StoreMemory(ctx, sourceLang, targetLang, lines[idx], translated[j]); err != nil {
				m.logger.Debug().Err(err).Msg("Failed to store translation memory entry")
			}
		}
	}

	return &Result{Success: true, Lines: out, Backend: backendName, Characters: chars, MemoryHits: hits}
}

func (m *Manager) memoryLookup(_ context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryEnabled
}

// translateChain tries each backend in order, honoring circuits and batch
// limits. Returns the translated lines and the backend that produced them.
func (m *Manager) translateChain(ctx context.Context, lines []string, sourceLang, targetLang string, chain []string, glossary []Term) ([]string, string, int64, error) {
	if len(chain) == 0 {
		return nil, "", 0, fmt.Errorf("no translation backends configured")
	}

	var lastErr error
	for _, name := range chain {
		backend, ok := m.Get(name)
		if !ok {
			m.logger.Warn().Str("backend", name).Msg("Fallback chain references unknown backend")
			continue
		}
		if !m.breaker.AllowRequest(name) {
			m.logger.Debug().Str("backend", name).Msg("Circuit open, skipping backend")
			continue
		}

		start := time.Now()
		translated, err := m.translateWith(ctx, backend, lines, sourceLang, targetLang, glossary)
		elapsed := time.Since(start)

		if err != nil {
			lastErr = fmt.Errorf("%s: %w", name, err)
			m.breaker.RecordFailure(name)
			if recErr := m.store.RecordBackendFailure(ctx, name); recErr != nil {
				m.logger.Debug().Err(recErr).Str("backend", name).Msg("Failed to record backend failure")
			}
			m.logger.Warn().Err(err).Str("backend", name).Msg("Backend failed, trying next in chain")
			continue
		}

		chars := int64(0)
		for _, line := range lines {
			chars += int64(len(line))
		}
		m.breaker.RecordSuccess(name)
		if recErr := m.store.RecordBackendSuccess(ctx, name, elapsed.Milliseconds(), chars); recErr != nil {
			m.logger.Debug().Err(recErr).Str("backend", name).Msg("Failed to record backend success")
		}
		return translated, name, chars, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all backends in chain unavailable")
	}
	return nil, "", 0, lastErr
}

// translateWith sends lines to one backend, chunking to its batch limit.
func (m *Manager) translateWith(ctx context.Context, backend Backend, lines []string, sourceLang, targetLang string, glossary []Term) ([]string, error) {
	if !backend.SupportsGlossary() {
		glossary = nil
	}

	batchSize := backend.MaxBatchSize()
	if !backend.SupportsBatch() {
		batchSize = 1
	}
	if batchSize <= 0 || batchSize >= len(lines) {
		out, err := backend.TranslateBatch(ctx, lines, sourceLang, targetLang, glossary)
		if err != nil {
			return nil, err
		}
		if len(out) != len(lines) {
			return nil, fmt.Errorf("backend returned %d lines for %d inputs", len(out), len(lines))
		}
		return out, nil
	}

	out := make([]string, 0, len(lines))
	for start := 0; start < len(lines); start += batchSize {
		end := start + batchSize
		if end > len(lines) {
			end = len(lines)
		}
		chunk, err := backend.TranslateBatch(ctx, lines[start:end], sourceLang, targetLang, glossary)
		if err != nil {
			return nil, err
		}
		if len(chunk) != end-start {
			return nil, fmt.Errorf("backend returned %d lines for %d inputs", len(chunk), end-start)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// EvaluateQuality asks the first evaluation-capable backend in the chain to
// rate a translation 0-100. The score is advisory: any failure yields the
// neutral default of 50.
func (m *Manager) EvaluateQuality(ctx context.Context, source, translated, sourceLang, targetLang string, chain []string) int {
	const defaultScore = 50

	for _, name := range chain {
		backend, ok := m.Get(name)
		if !ok {
			continue
		}
		eval, ok := backend.(Evaluator)
		if !ok {
			continue
		}
		if !m.breaker.AllowRequest(name) {
			continue
		}

		score, err := eval.Evaluate(ctx, source, translated, sourceLang, targetLang)
		if err != nil {
			m.logger.Debug().Err(err).Str("backend", name).Msg("Quality evaluation failed, using default")
			return defaultScore
		}
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
		return score
	}
	return defaultScore
}

// HealthCheck probes every registered backend and returns a map of
// backend name to error string, empty string meaning healthy.
func (m *Manager) HealthCheck(ctx context.Context) map[string]string {
	results := make(map[string]string)
	for _, name := range m.Names() {
		backend, _ := m.Get(name)
		if err := backend.HealthCheck(ctx); err != nil {
			results[name] = err.Error()
		} else {
			results[name] = ""
		}
	}
	return results
}

// parseScore extracts the first integer from a model reply like "Score: 85".
func parseScore(reply string) (int, error) {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if len(fields) == 0 {
		return 0, fmt.Errorf("no score in reply %q", reply)
	}
	score, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("unparseable score in reply %q", reply)
	}
	return score, nil
}
