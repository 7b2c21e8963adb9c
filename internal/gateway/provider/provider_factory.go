package provider

import (
	"time"

	"papertrader/internal/config"
	"papertrader/internal/logger"
)

// BuildProvidersFromConfig returns one client per enabled model, in
// configuration order.
func BuildProvidersFromConfig(cfg config.AIConfig) []ModelProvider {
	models := cfg.EnabledModels()
	out := make([]ModelProvider, 0, len(models))
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	for _, m := range models {
		out = append(out, NewOpenAIChatClient(OpenAIOptions{
			ID:           m.ID,
			BaseURL:      m.APIURL,
			APIKey:       m.APIKey,
			Model:        m.Model,
			ExtraHeaders: m.Headers,
			Timeout:      timeout,
			MaxRetries:   1,
		}))
	}
	logger.Infof("AI models configured: %d", len(out))
	return out
}
