package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/osscout/scout/internal/config"
)

// BuildChain constructs the completion fallback chain from configuration.
// Providers appear in configured order; entries without an API key are
// skipped. An empty chain is not an error, just a loudly logged warning;
// the assistant then degrades to keyword-only behavior.
func BuildChain(ctx context.Context, cfg config.LLMConfig) ([]Client, error) {
	var chain []Client

	for _, name := range cfg.ProviderOrder {
		switch name {
		case ProviderGroq:
			if cfg.GroqAPIKey == "" {
				slog.Debug("Skipping provider without API key", "provider", ProviderGroq)
				continue
			}
			chain = append(chain, NewGroqClient(cfg.GroqAPIKey, cfg.GroqModel))

		case ProviderOpenAI:
			if cfg.OpenAIAPIKey == "" {
				slog.Debug("Skipping provider without API key", "provider", ProviderOpenAI)
				continue
			}
			chain = append(chain, NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel))

		case ProviderGemini:
			if cfg.GeminiAPIKey == "" {
				slog.Debug("Skipping provider without API key", "provider", ProviderGemini)
				continue
			}
			client, err := NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
			if err != nil {
				return nil, fmt.Errorf("build gemini client: %w", err)
			}
			chain = append(chain, client)

		default:
			return nil, fmt.Errorf("unknown provider %q in order", name)
		}
	}

	if len(chain) == 0 {
		slog.Warn("No LLM providers configured; assistant will use keyword fallbacks only")
	} else {
		names := make([]string, len(chain))
		for i, c := range chain {
			names[i] = c.Name()
		}
		slog.Info("LLM provider chain ready", "providers", names)
	}

	return chain, nil
}
