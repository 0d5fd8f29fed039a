package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zhouzirui/pipbot/internal/config"
)

// New 根据 cfg.Provider 创建对应的 Completer。
func New(ctx context.Context, cfg config.AIConfig) (Completer, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("ai provider %s is not configured", cfg.Provider)
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	sampling := Sampling{Temperature: cfg.Temperature, TopP: cfg.TopP, MaxTokens: cfg.MaxTokens}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAICompleter(OpenAIOptions{
			APIKey:       cfg.OpenAIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			Model:        cfg.Model,
			Sampling:     sampling,
			HTTPClient:   httpClient,
		})
	case config.ProviderOllama:
		return NewOllamaCompleter(cfg.OllamaHost, cfg.Model, sampling, httpClient)
	default:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewChatModelCompleter(chatModel)
	}
}
