package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/edaloom/internal/ai"
	"github.com/KaramelBytes/edaloom/internal/app"
	"github.com/KaramelBytes/edaloom/internal/chat"
	cfgpkg "github.com/KaramelBytes/edaloom/internal/config"
	"github.com/KaramelBytes/edaloom/internal/dataset"
	"go.uber.org/zap"
)

// buildRuntime resolves the provider, its credential and the HTTP/retry
// knobs from cfg and returns the AI runtime with the provider name.
func buildRuntime(cfg *cfgpkg.Global) (ai.Runtime, string, error) {
	httpTimeout := 60 * time.Second
	retryMax := 3
	baseDelay := 500 * time.Millisecond
	maxDelay := 4 * time.Second
	if cfg.HTTPTimeoutSec > 0 {
		httpTimeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
	}
	if cfg.RetryMaxAttempts > 0 {
		retryMax = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelayMs > 0 {
		baseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	}
	if cfg.RetryMaxDelayMs > 0 {
		maxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
	}

	providerName := ai.NormalizeProvider(cfg.Provider)
	rc := ai.RuntimeConfig{
		HTTPTimeout: httpTimeout,
		RetryMax:    retryMax,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		APIKey:      cfg.ResolveAPIKey(providerName),
	}
	if ai.NeedsAPIKey(providerName) && rc.APIKey == "" {
		return nil, providerName, fmt.Errorf("no API key for %s: set %s or run 'edaloom config set api_key <key>'",
			providerName, strings.Join(append(ai.APIKeyEnv(providerName), "API_KEY"), ", "))
	}

	if providerName == ai.ProviderOllama {
		host := strings.TrimSpace(os.Getenv("EDALOOM_OLLAMA_HOST"))
		if host == "" {
			host = cfg.OllamaHost
		}
		if host == "" {
			host = "http://127.0.0.1:11434"
		}
		rc.Host = host
		if v := os.Getenv("EDALOOM_OLLAMA_TIMEOUT_SEC"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				rc.HTTPTimeout = time.Duration(n) * time.Second
			}
		}
	}

	client, ok := ai.GetRuntime(providerName, rc)
	if !ok {
		return nil, providerName, fmt.Errorf("provider not supported: %s (use one of %s)", providerName, strings.Join(ai.Providers(), ", "))
	}
	return client, providerName, nil
}

// newApp wires the loader, the analysis controller and the app core from
// the loaded configuration.
func newApp(cfg *cfgpkg.Global, log *zap.Logger) (*app.App, string, error) {
	rt, providerName, err := buildRuntime(cfg)
	if err != nil {
		return nil, providerName, err
	}
	model := cfg.ResolveModel()
	loader := dataset.NewLoader(cfg.MaxUploadBytes(), dataset.Options{SampleRows: cfg.SampleRows})
	ctrl := chat.NewController(rt, chat.Options{
		Model:       model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, log.Named("chat"))
	log.Debug("runtime ready", zap.String("provider", providerName), zap.String("model", model))
	return app.New(loader, ctrl, log.Named("app")), providerName, nil
}

// explainOracleError returns an actionable hint for a failed exchange, or ""
// when the plain message already says enough.
func explainOracleError(err error, providerName, model string) string {
	var (
		unreach *ai.UnreachableError
		authErr *ai.AuthError
		rlErr   *ai.RateLimitError
		nfErr   *ai.ModelNotFoundError
		qErr    *ai.QuotaExceededError
		sErr    *ai.ServerError
	)
	switch {
	case errors.As(err, &unreach):
		if providerName == ai.ProviderOllama {
			return fmt.Sprintf("Ollama not reachable at %s. Ensure Ollama is running and the host is correct; set EDALOOM_OLLAMA_HOST or config 'ollama_host'.", unreach.Host)
		}
		return "Endpoint unreachable. Check your network and provider settings."
	case errors.As(err, &authErr):
		return fmt.Sprintf("Authentication failed: set %s or add api_key in config (~/.edaloom/config.yaml).", strings.Join(ai.APIKeyEnv(providerName), " or "))
	case errors.As(err, &rlErr):
		if rlErr.RetryAfter > 0 {
			return fmt.Sprintf("Rate limited, try again in ~%ds.", int(rlErr.RetryAfter.Seconds()))
		}
		return "Rate limited by provider, please retry."
	case errors.As(err, &nfErr):
		if providerName == ai.ProviderOllama {
			return fmt.Sprintf("Local model not available (%s). Install it with 'ollama pull %s' or choose another model.", model, model)
		}
		return fmt.Sprintf("Model not found (%s). Verify the model name with --model or 'edaloom config set model <name>'.", model)
	case errors.As(err, &qErr):
		return "Quota/billing issue. Check your provider account."
	case errors.As(err, &sErr):
		return "Provider appears unavailable (server error). Please retry later."
	}
	return ""
}
