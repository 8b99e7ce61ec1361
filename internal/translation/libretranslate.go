package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LibreTranslateConfig configures a LibreTranslate instance, typically
// self-hosted.
type LibreTranslateConfig struct {
	BaseURL string
	APIKey  string
}

// LibreTranslateBackend translates via a LibreTranslate server.
type LibreTranslateBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewLibreTranslate creates the LibreTranslate backend.
func NewLibreTranslate(cfg LibreTranslateConfig) *LibreTranslateBackend {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	return &LibreTranslateBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *LibreTranslateBackend) Name() string           { return "libretranslate" }
func (b *LibreTranslateBackend) DisplayName() string    { return "LibreTranslate" }
func (b *LibreTranslateBackend) SupportsGlossary() bool { return false }

// SupportsBatch is false: LibreTranslate's array form is unreliable across
// versions, so lines go one request at a time.
func (b *LibreTranslateBackend) SupportsBatch() bool { return false }
func (b *LibreTranslateBackend) MaxBatchSize() int   { return 1 }

// Fingerprint includes the base URL: different LibreTranslate instances run
// different models.
func (b *LibreTranslateBackend) Fingerprint() string { return "libretranslate|" + b.baseURL }

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

func (b *LibreTranslateBackend) TranslateBatch(ctx context.Context, lines []string, sourceLang, targetLang string, _ []Term) ([]string, error) {
	out := make([]string, len(lines))
	for i, line := range lines {
		translated, err := b.translateOne(ctx, line, sourceLang, targetLang)
		if err != nil {
			return nil, err
		}
		out[i] = translated
	}
	return out, nil
}

func (b *LibreTranslateBackend) translateOne(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	body, err := json.Marshal(libreRequest{Q: text, Source: sourceLang, Target: targetLang, Format: "text", APIKey: b.apiKey})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("libretranslate returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed libreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("libretranslate error: %s", parsed.Error)
	}
	return parsed.TranslatedText, nil
}

func (b *LibreTranslateBackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/languages", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("libretranslate returned %d", resp.StatusCode)
	}
	return nil
}
