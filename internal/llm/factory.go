package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/growthdesk/internal/config"
)

var openAICompatibleBaseURLs = map[string]string{
	config.ProviderOpenAI:   "",
	config.ProviderDeepSeek: "https://api.deepseek.com/v1",
	config.ProviderGroq:     "https://api.groq.com/openai/v1",
	config.ProviderOllama:   "http://localhost:11434/v1",
}

// NewFromConfig builds the configured backend wrapped with rate-limit retries.
// The returned close function releases backend resources.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (Client, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequiresAPIKey() && cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("API key is required for provider %q", cfg.Provider)
	}

	opts := Options{Model: cfg.Model, Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}
	noop := func() error { return nil }

	var (
		client Client
		closer = noop
		err    error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		client, err = NewGeminiClient(ctx, cfg.APIKey, opts)
	case config.ProviderAnthropic:
		client, err = NewAnthropicClient(cfg.APIKey, opts)
	case config.ProviderOpenAI, config.ProviderDeepSeek, config.ProviderGroq, config.ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = openAICompatibleBaseURLs[cfg.Provider]
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama" // Ollama ignores the key but the SDK requires one.
		}
		client, err = NewOpenAIClient(cfg.Provider, apiKey, baseURL, opts)
	case config.ProviderGRPC:
		var gc *GRPCClient
		gc, err = NewGRPCClient(DefaultGRPCClientConfig(cfg.GeneratorAddr), opts, logger)
		if err == nil {
			client, closer = gc, gc.Close
		}
	default:
		return nil, nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	logger.Info("Generator backend ready", "provider", cfg.Provider, "model", cfg.Model)
	return WithRetry(client, PolicyFromConfig(cfg.Retry), logger), closer, nil
}
