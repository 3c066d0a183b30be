package provider

import (
	"context"
	"fmt"

	"github.com/screenvault/screenvault/internal/config"
	"github.com/screenvault/screenvault/internal/observability"
)

// New builds the configured provider wrapped with the circuit breaker
// and the embed memo cache. The provider choice is fixed here; nothing
// downstream ever branches on provider identity.
func New(ctx context.Context, cfg config.ProviderConfig, logger observability.Logger) (Provider, error) {
	if logger == nil {
		logger = observability.NewLogger("provider")
	}

	var (
		base Provider
		err  error
	)
	switch cfg.Active {
	case "openai":
		base, err = NewOpenAIProvider(cfg)
	case "gemini":
		base, err = NewGeminiProvider(cfg)
	case "bedrock":
		base, err = NewBedrockProvider(ctx, cfg)
	case "mock":
		base = NewMockProvider(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Active)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Active, err)
	}

	logger.Info("Analysis provider configured", map[string]interface{}{
		"provider":        base.Name(),
		"embedding_model": base.EmbeddingModel(),
		"dimensions":      base.Dimensions(),
	})

	withBreaker := NewBreakerProvider(base, logger)
	return NewCachingProvider(withBreaker, defaultEmbedCacheSize)
}
