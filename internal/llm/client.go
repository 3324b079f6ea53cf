// Package llm provides completion clients for the hosted model providers.
package llm

import "context"

// Client defines the minimal interface the assistant uses to call a model.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
}

// Provider names recognized in the configured fallback order.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)
