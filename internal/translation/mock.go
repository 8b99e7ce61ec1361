package translation

import (
	"context"
	"strings"
	"sync"
)

// MockBackend is a scriptable backend used by tests.
type MockBackend struct {
	NameValue        string
	Err              error
	EvalScore        int
	EvalErr          error
	Glossary         bool
	Batch            bool
	MaxBatch         int
	FingerprintValue string
	TranslateFn      func(lines []string, sourceLang, targetLang string, glossary []Term) ([]string, error)
	HealthErr        error

	mu        sync.Mutex
	calls     int
	lastLines []string
}

// NewMockBackend returns a backend that prefixes every line with the target
// language, e.g. "de:hello".
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{NameValue: name, Batch: true, Glossary: true, EvalScore: 75}
}

func (b *MockBackend) Name() string           { return b.NameValue }
func (b *MockBackend) DisplayName() string    { return "Mock " + b.NameValue }
func (b *MockBackend) SupportsGlossary() bool { return b.Glossary }
func (b *MockBackend) SupportsBatch() bool    { return b.Batch }
func (b *MockBackend) MaxBatchSize() int      { return b.MaxBatch }

func (b *MockBackend) Fingerprint() string {
	if b.FingerprintValue != "" {
		return b.FingerprintValue
	}
	return "mock|" + b.NameValue
}

func (b *MockBackend) TranslateBatch(_ context.Context, lines []string, sourceLang, targetLang string, glossary []Term) ([]string, error) {
	b.mu.Lock()
	b.calls++
	b.lastLines = append([]string(nil), lines...)
	b.mu.Unlock()

	if b.Err != nil {
		return nil, b.Err
	}
	if b.TranslateFn != nil {
		return b.TranslateFn(lines, sourceLang, targetLang, glossary)
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = targetLang + ":" + strings.TrimSpace(line)
	}
	return out, nil
}

func (b *MockBackend) HealthCheck(context.Context) error { return b.HealthErr }

// Calls returns how many times TranslateBatch ran.
func (b *MockBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// LastLines returns the lines of the most recent batch.
func (b *MockBackend) LastLines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastLines
}

// MockEvaluator wraps MockBackend with an Evaluate method.
type MockEvaluator struct {
	*MockBackend
}

// NewMockEvaluator returns a mock backend that also rates translations.
func NewMockEvaluator(name string) *MockEvaluator {
	return &MockEvaluator{MockBackend: NewMockBackend(name)}
}

func (b *MockEvaluator) Evaluate(context.Context, string, string, string, string) (int, error) {
	if b.EvalErr != nil {
		return 0, b.EvalErr
	}
	return b.EvalScore, nil
}
