package ai

import (
	"context"
	"fmt"

	"persona-ritual/backend/pkg/config"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Configured reports whether enough Ark credentials are present to build a model
func Configured(cfg *config.Config) bool {
	if cfg.AI.Model == "" {
		return false
	}
	return cfg.AI.APIKey != "" || (cfg.AI.AccessKey != "" && cfg.AI.SecretKey != "")
}

// NewChatModel builds the Ark chat model described by the AI configuration
func NewChatModel(ctx context.Context, cfg *config.Config) (model.ChatModel, error) {
	if !Configured(cfg) {
		return nil, fmt.Errorf("%w: ARK_MODEL and ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY) are required", ErrUnavailable)
	}

	temperature := float32(cfg.AI.Temperature)
	maxTokens := cfg.AI.MaxTokens
	timeout := cfg.AI.RequestTimeout

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.AI.BaseURL,
		Region:      cfg.AI.Region,
		APIKey:      cfg.AI.APIKey,
		AccessKey:   cfg.AI.AccessKey,
		SecretKey:   cfg.AI.SecretKey,
		Model:       cfg.AI.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Timeout:     &timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ark chat model: %w", err)
	}
	return chatModel, nil
}
