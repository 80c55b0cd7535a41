package ai

import "strings"

// NormalizeProvider maps aliases and casing to a registered provider name.
func NormalizeProvider(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "", ProviderGemini, ProviderGoogle:
		return ProviderGemini
	case ProviderOllama, ProviderLocal:
		return ProviderOllama
	default:
		return strings.ToLower(strings.TrimSpace(p))
	}
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch NormalizeProvider(provider) {
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderOpenRouter:
		return "google/gemini-2.5-flash"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderOllama:
		return "llama3.1:8b"
	default:
		return ""
	}
}

// APIKeyEnv lists the environment variables consulted for a provider's
// credential, in priority order. Ollama needs none.
func APIKeyEnv(provider string) []string {
	switch NormalizeProvider(provider) {
	case ProviderGemini:
		return []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	case ProviderOpenRouter:
		return []string{"OPENROUTER_API_KEY"}
	case ProviderOpenAI:
		return []string{"OPENAI_API_KEY"}
	case ProviderAnthropic:
		return []string{"ANTHROPIC_API_KEY"}
	default:
		return nil
	}
}

// NeedsAPIKey reports whether the provider is a hosted service.
func NeedsAPIKey(provider string) bool {
	return NormalizeProvider(provider) != ProviderOllama
}
