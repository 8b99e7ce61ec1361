package translation

import (
	"context"
	"fmt"

	"github.com/sublarr/sublarr/internal/store"
)

// BackendNames lists every backend the factory can build, in default chain
// order.
var BackendNames = []string{"openai", "local_llm", "deepl", "google", "libretranslate"}

// BuildBackend constructs a backend from its persisted settings. Settings
// live under backend.<name>.<key>.
func BuildBackend(ctx context.Context, st *store.Store, name string) (Backend, error) {
	key := func(k string) string { return fmt.Sprintf("backend.%s.%s", name, k) }

	switch name {
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:       st.GetSettingString(ctx, key("api_key"), ""),
			BaseURL:      st.GetSettingString(ctx, key("base_url"), ""),
			Model:        st.GetSettingString(ctx, key("model"), ""),
			MaxBatchSize: st.GetSettingInt(ctx, key("max_batch_size"), 0),
		}), nil
	case "local_llm":
		return NewLocalLLM(OpenAIConfig{
			APIKey:       st.GetSettingString(ctx, key("api_key"), ""),
			BaseURL:      st.GetSettingString(ctx, key("base_url"), "http://localhost:11434/v1"),
			Model:        st.GetSettingString(ctx, key("model"), "llama3"),
			MaxBatchSize: st.GetSettingInt(ctx, key("max_batch_size"), 0),
		}), nil
	case "deepl":
		return NewDeepL(DeepLConfig{
			APIKey:  st.GetSettingString(ctx, key("api_key"), ""),
			BaseURL: st.GetSettingString(ctx, key("base_url"), ""),
		}), nil
	case "google":
		return NewGoogle(GoogleConfig{
			APIKey:  st.GetSettingString(ctx, key("api_key"), ""),
			BaseURL: st.GetSettingString(ctx, key("base_url"), ""),
		}), nil
	case "libretranslate":
		return NewLibreTranslate(LibreTranslateConfig{
			BaseURL: st.GetSettingString(ctx, key("base_url"), ""),
			APIKey:  st.GetSettingString(ctx, key("api_key"), ""),
		}), nil
	default:
		return nil, fmt.Errorf("unknown translation backend %q", name)
	}
}

// RegisterConfigured builds and registers every backend that has settings
// enabling it. A backend is enabled via backend.<name>.enabled.
func RegisterConfigured(ctx context.Context, st *store.Store, m *Manager) error {
	for _, name := range BackendNames {
		if !st.GetSettingBool(ctx, fmt.Sprintf("backend.%s.enabled", name), false) {
			continue
		}
		backend, err := BuildBackend(ctx, st, name)
		if err != nil {
			return err
		}
		m.Register(backend)
	}
	return nil
}
