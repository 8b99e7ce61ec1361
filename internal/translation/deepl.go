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

// DeepLConfig configures the DeepL backend. Free-tier keys end in ":fx" and
// route to the free API host automatically.
type DeepLConfig struct {
	APIKey  string
	BaseURL string
}

// DeepLBackend translates via the DeepL v2 REST API.
type DeepLBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewDeepL creates the DeepL backend.
func NewDeepL(cfg DeepLConfig) *DeepLBackend {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if strings.HasSuffix(cfg.APIKey, ":fx") {
			baseURL = "https://api-free.deepl.com"
		} else {
			baseURL = "https://api.deepl.com"
		}
	}
	return &DeepLBackend{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *DeepLBackend) Name() string           { return "deepl" }
func (b *DeepLBackend) DisplayName() string    { return "DeepL" }
func (b *DeepLBackend) SupportsGlossary() bool { return false }
func (b *DeepLBackend) SupportsBatch() bool    { return true }
func (b *DeepLBackend) MaxBatchSize() int      { return 50 }
func (b *DeepLBackend) Fingerprint() string    { return "deepl|v2" }

type deeplRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
}

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

func (b *DeepLBackend) TranslateBatch(ctx context.Context, lines []string, sourceLang, targetLang string, _ []Term) ([]string, error) {
	if len(lines) == 0 {
		return []string{}, nil
	}

	body, err := json.Marshal(deeplRequest{
		Text:       lines,
		SourceLang: strings.ToUpper(sourceLang),
		TargetLang: strings.ToUpper(targetLang),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v2/translate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepl returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed deeplResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Translations) != len(lines) {
		return nil, fmt.Errorf("deepl returned %d translations for %d lines", len(parsed.Translations), len(lines))
	}

	out := make([]string, len(lines))
	for i, tr := range parsed.Translations {
		out[i] = tr.Text
	}
	return out, nil
}

func (b *DeepLBackend) HealthCheck(ctx context.Context) error {
	if b.apiKey == "" {
		return fmt.Errorf("api key not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v2/usage", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deepl returned %d", resp.StatusCode)
	}
	return nil
}
