// Package translation provides the translation-backend registry with a
// circuit-broken fallback chain and a translation-memory cache.
package translation

import (
	"context"
)

// Term is one glossary entry handed to a backend.
type Term struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Backend is implemented by every translation service.
type Backend interface {
	// Name is the stable identifier used in fallback chains and stats.
	Name() string
	// DisplayName is the human-readable name.
	DisplayName() string
	// SupportsGlossary reports whether glossary terms can be enforced.
	SupportsGlossary() bool
	// SupportsBatch reports whether multiple lines go in one request.
	SupportsBatch() bool
	// MaxBatchSize is the largest line count per request, 0 for unbounded.
	MaxBatchSize() int
	// Fingerprint identifies the configuration that shapes the output
	// text: service, model, and prompt revision. It feeds the
	// translation-config hash stored on completed jobs.
	Fingerprint() string
	// TranslateBatch translates lines in order. The output slice must have
	// the same length as the input.
	TranslateBatch(ctx context.Context, lines []string, sourceLang, targetLang string, glossary []Term) ([]string, error)
	// HealthCheck verifies the backend is reachable and configured.
	HealthCheck(ctx context.Context) error
}

// Evaluator is implemented by generative backends that can rate a
// translation. Rule-based backends cannot.
type Evaluator interface {
	// Evaluate rates a translation 0-100.
	Evaluate(ctx context.Context, source, translated, sourceLang, targetLang string) (int, error)
}

// Result is the outcome of a fallback-chain translation. The manager never
// returns an error; callers read Success.
type Result struct {
	Success    bool     `json:"success"`
	Lines      []string `json:"lines,omitempty"`
	Backend    string   `json:"backend,omitempty"`
	Characters int64    `json:"characters"`
	MemoryHits int      `json:"memoryHits"`
	Error      string   `json:"error,omitempty"`
}

// ValidateOutput checks a translated batch against its input: equal line
// count, total length at most 1.5x the input, and no more than 30% empty
// outputs. Returns a reason string when invalid.
func ValidateOutput(input, output []string) (bool, string) {
	if len(output) != len(input) {
		return false, "line count mismatch"
	}
	if len(input) == 0 {
		return true, ""
	}

	inputLen, outputLen, empty := 0, 0, 0
	for i := range input {
		inputLen += len([]rune(input[i]))
		outputLen += len([]rune(output[i]))
		if len(output[i]) == 0 {
			empty++
		}
	}
	if inputLen > 0 && float64(outputLen) > 1.5*float64(inputLen) {
		return false, "output too long"
	}
	if float64(empty) > 0.3*float64(len(output)) {
		return false, "too many empty lines"
	}
	return true, ""
}
