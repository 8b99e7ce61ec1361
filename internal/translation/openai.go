package translation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible chat backend. BaseURL makes
// the same client talk to local servers (Ollama, LM Studio, vLLM).
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxBatchSize int
	Temperature  float32
}

// OpenAIBackend translates via an OpenAI-compatible chat completion API.
type OpenAIBackend struct {
	name        string
	displayName string
	client      *openai.Client
	model       string
	maxBatch    int
	temperature float32
}

// NewOpenAI creates the hosted OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAIBackend {
	return newOpenAICompatible("openai", "OpenAI", cfg)
}

// NewLocalLLM creates a backend for a local OpenAI-compatible server.
func NewLocalLLM(cfg OpenAIConfig) *OpenAIBackend {
	if cfg.APIKey == "" {
		cfg.APIKey = "local"
	}
	return newOpenAICompatible("local_llm", "Local LLM", cfg)
}

func newOpenAICompatible(name, displayName string, cfg OpenAIConfig) *OpenAIBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 50
	}
	return &OpenAIBackend{
		name:        name,
		displayName: displayName,
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		maxBatch:    maxBatch,
		temperature: cfg.Temperature,
	}
}

func (b *OpenAIBackend) Name() string           { return b.name }
func (b *OpenAIBackend) DisplayName() string    { return b.displayName }
func (b *OpenAIBackend) SupportsGlossary() bool { return true }
func (b *OpenAIBackend) SupportsBatch() bool    { return true }
func (b *OpenAIBackend) MaxBatchSize() int      { return b.maxBatch }

// chatPromptRevision bumps whenever the translation prompt wording changes,
// so completed jobs become eligible for re-translation.
const chatPromptRevision = "numbered-v1"

func (b *OpenAIBackend) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%g|%s", b.name, b.model, b.temperature, chatPromptRevision)
}

func (b *OpenAIBackend) TranslateBatch(ctx context.Context, lines []string, sourceLang, targetLang string, glossary []Term) ([]string, error) {
	if len(lines) == 0 {
		return []string{}, nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Translate the following %d subtitle lines from %s to %s.\n", len(lines), sourceLang, targetLang)
	prompt.WriteString("Keep the tone natural for spoken dialogue. Do not merge, split, or reorder lines.\n")
	if len(glossary) > 0 {
		prompt.WriteString("Use these exact term translations:\n")
		for _, term := range glossary {
			fmt.Fprintf(&prompt, "- %s => %s\n", term.Source, term.Target)
		}
	}
	prompt.WriteString("Reply with one numbered line per input, nothing else.\n\n")
	for i, line := range lines {
		fmt.Fprintf(&prompt, "%d. %s\n", i+1, line)
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a professional subtitle translator."},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	out, err := parseNumberedReply(resp.Choices[0].Message.Content, len(lines))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Evaluate rates a translation 0-100 via a single chat request.
func (b *OpenAIBackend) Evaluate(ctx context.Context, source, translated, sourceLang, targetLang string) (int, error) {
	prompt := fmt.Sprintf(
		"Rate this %s to %s subtitle translation from 0 to 100 for accuracy and fluency. Reply with the number only.\n\nSource:\n%s\n\nTranslation:\n%s",
		sourceLang, targetLang, source, translated)

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("evaluation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("evaluation returned no choices")
	}
	return parseScore(resp.Choices[0].Message.Content)
}

func (b *OpenAIBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	return nil
}

// parseNumberedReply parses "1. text" style model output back into a slice
// aligned with the input order.
func parseNumberedReply(reply string, want int) ([]string, error) {
	out := make([]string, want)
	seen := 0
	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		dot := strings.IndexAny(line, ".:")
		if dot <= 0 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[:dot]))
		if err != nil || n < 1 || n > want {
			continue
		}
		text := strings.TrimSpace(line[dot+1:])
		if out[n-1] == "" {
			seen++
		}
		out[n-1] = text
	}
	if seen != want {
		return nil, fmt.Errorf("model returned %d of %d lines", seen, want)
	}
	return out, nil
}
